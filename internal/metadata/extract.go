package metadata

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"strings"

	"dvetransfer/internal/dve"
)

// Extract opens d and reads its Record.
func Extract(d dve.DVE) (*Record, error) {
	bag, err := d.Open()
	if err != nil {
		switch {
		case errors.Is(err, zip.ErrFormat):
			return nil, invalid(CodeInvalidDocument, "", "export is not a readable zip", err)
		case errors.Is(err, dve.ErrNoBag):
			return nil, invalid(CodeMissingDocument, dve.ProvenancePath, "no bag with a provenance document", err)
		default:
			return nil, err
		}
	}
	defer bag.Close()

	rec, err := FromBag(bag)
	if err != nil {
		return nil, err
	}
	rec.DVEName = d.Name
	rec.Created = d.Created
	rec.ObjectVersion = d.ObjectVersion()
	return rec, nil
}

// FromBag reads the provenance document and manifest of an opened bag.
func FromBag(bag *dve.Bag) (*Record, error) {
	raw, err := bag.ReadFile(dve.ProvenancePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, invalid(CodeMissingDocument, dve.ProvenancePath, "provenance document missing", nil)
		}
		return nil, err
	}
	if !json.Valid(raw) {
		return nil, invalid(CodeInvalidDocument, dve.ProvenancePath, "provenance document is not valid JSON", nil)
	}
	graph, err := ParseGraph(bytes.NewReader(raw))
	if err != nil {
		return nil, invalid(CodeInvalidDocument, dve.ProvenancePath, "provenance document cannot be expanded", err)
	}

	rec := &Record{BagBase: bag.Base, Provenance: json.RawMessage(raw)}
	maps, err := readIdentity(graph, rec)
	if err != nil {
		return nil, err
	}
	if err := readInformational(graph, maps, rec); err != nil {
		return nil, err
	}
	if rec.Files, err = readManifest(bag); err != nil {
		return nil, err
	}
	return rec, nil
}

// readIdentity fills the strict, required identifiers and returns the
// resource map subjects.
func readIdentity(g *Graph, rec *Record) ([]string, error) {
	maps := g.SubjectsWith(PropDescribes)
	seen := make(map[string]struct{})
	var aggregations []string
	for _, subject := range maps {
		for _, v := range g.Values(subject, PropDescribes) {
			if v.Kind == Literal {
				continue
			}
			if _, dup := seen[v.Value]; !dup {
				seen[v.Value] = struct{}{}
				aggregations = append(aggregations, v.Value)
			}
		}
	}
	switch {
	case len(aggregations) == 0:
		return nil, invalid(CodeMissingProperty, PropDescribes, "no described aggregation", nil)
	case len(aggregations) > 1:
		return nil, invalid(CodeAmbiguousValue, PropDescribes, "more than one aggregation",
			&AmbiguousValueError{Subject: strings.Join(maps, ","), Property: PropDescribes, Values: aggregations})
	}
	aggregation := aggregations[0]
	if strings.HasPrefix(aggregation, "_:") {
		return nil, invalid(CodeMissingProperty, "@id", "aggregation has no dataset identifier", nil)
	}
	rec.DatasetPID = aggregation

	required := []struct {
		property string
		target   *string
	}{
		{PropBagID, &rec.BagID},
		{PropNbn, &rec.NBN},
	}
	for _, field := range required {
		value, err := scalar(g, aggregation, field.property)
		if err != nil {
			return nil, err
		}
		if value == "" {
			return nil, invalid(CodeMissingProperty, field.property, "required property missing", nil)
		}
		*field.target = value
	}
	return maps, nil
}

func readInformational(g *Graph, maps []string, rec *Record) error {
	subject := rec.DatasetPID
	fields := []struct {
		property string
		target   *string
	}{
		{PropTitle, &rec.Title},
		{PropVersion, &rec.DatasetVersion},
		{PropOtherID, &rec.OtherID},
		{PropOtherIDVersion, &rec.OtherIDVersion},
		{PropSwordToken, &rec.SwordToken},
		{PropDataSupplier, &rec.DataSupplier},
	}
	for _, field := range fields {
		value, err := scalar(g, subject, field.property)
		if err != nil {
			return err
		}
		*field.target = value
	}

	var err error
	if rec.Exporter, err = embedded(g, maps, PropName); err != nil {
		return err
	}
	if rec.ExporterVersion, err = embedded(g, maps, PropVersion); err != nil {
		return err
	}
	return nil
}

func scalar(g *Graph, subject, property string) (string, error) {
	value, _, err := g.Scalar(subject, property)
	if err != nil {
		return "", invalid(CodeAmbiguousValue, property, "more than one distinct value", err)
	}
	return strings.TrimSpace(value), nil
}

func embedded(g *Graph, subjects []string, property string) (string, error) {
	value, _, err := g.embedded(subjects, PropGeneratedBy, property, Joined)
	if err != nil {
		return "", invalid(CodeAmbiguousValue, property, "more than one distinct value", err)
	}
	return value, nil
}
