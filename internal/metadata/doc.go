// Package metadata reads the provenance document and file manifest of a DVE
// into a Record.
//
// The OAI-ORE document is expanded with json-gold and flattened into a small
// statement graph. Property lookups follow two rules: a scalar yields nothing,
// exactly one distinct literal, or an AmbiguousValueError; an embedded value
// (one level through a nested object) is collected into a sorted set that is
// either strict or joined with "; ". Identity fields are always strict and
// required. Every extraction failure is a ValidationError carrying a
// machine-readable code.
package metadata
