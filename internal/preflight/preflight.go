package preflight

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"

	"dvetransfer/internal/config"
	"dvetransfer/internal/logging"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// RunAll executes the directory, filesystem and service checks for cfg.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := CheckDirectories(cfg)
	results = append(results, CheckMoveChains(cfg)...)
	results = append(results, CheckServices(ctx, cfg)...)
	return results
}

// CheckDirectories checks every pipeline directory plus the archive batch root.
func CheckDirectories(cfg *config.Config) []Result {
	dirs := append(cfg.PipelineDirectories(), cfg.Archive.BatchRoot)
	results := make([]Result, 0, len(dirs))
	for _, dir := range dirs {
		results = append(results, CheckDirectoryAccess("Directory "+filepath.Base(filepath.Dir(dir))+"/"+filepath.Base(dir), dir))
	}
	return results
}

// CheckMoveChains checks that each rename chain stays on one filesystem.
func CheckMoveChains(cfg *config.Config) []Result {
	chains := cfg.MoveChains()
	results := make([]Result, 0, len(chains))
	for _, name := range sortedKeys(chains) {
		results = append(results, CheckSameFilesystem("Move chain "+name, chains[name]))
	}
	return results
}

// CheckServices checks the remote services the pipeline calls.
func CheckServices(ctx context.Context, cfg *config.Config) []Result {
	results := []Result{
		CheckService(ctx, "Archive", cfg.Archive.URL),
		CheckService(ctx, "Resolver", cfg.Resolver.URL),
	}
	if cfg.UsesEmbeddedCatalog() {
		results = append(results, CheckDirectoryAccess("Catalog (embedded)", filepath.Dir(cfg.CatalogDatabasePath())))
	} else {
		results = append(results, CheckService(ctx, "Catalog", cfg.Catalog.URL))
	}
	return results
}

// Passed reports whether every result passed.
func Passed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// Failures returns the results that did not pass.
func Failures(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// LogResults writes one line per result; failures are warnings.
func LogResults(logger *slog.Logger, results []Result) {
	for _, r := range results {
		if r.Passed {
			logger.Debug("preflight check passed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
			)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "fix the directory or service and restart"),
			logging.String(logging.FieldImpact, "items routed through this path will fail"),
		)
	}
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
