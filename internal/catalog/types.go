package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dvetransfer/internal/services"
)

var (
	// ErrNotFound reports an unknown dataset (HTTP 404).
	ErrNotFound = fmt.Errorf("catalog: dataset %w", services.ErrNotFound)
	// ErrNotSkeleton reports an attempt to replace a finalized version export.
	ErrNotSkeleton = errors.New("catalog: version export is not a skeleton")
	// ErrDatasetExists reports a create for an NBN that is already present.
	ErrDatasetExists = errors.New("catalog: dataset already exists")
	// ErrVersionGap reports a version number that does not follow the latest.
	ErrVersionGap = errors.New("catalog: version numbers must be contiguous")
)

// FileMeta is one stored manifest entry, relative to the bag root.
type FileMeta struct {
	Path string `json:"path"`
	URI  string `json:"uri,omitempty"`
	Size int64  `json:"size"`
	SHA1 string `json:"sha1"`
}

// VersionExport is one object version of a dataset.
type VersionExport struct {
	DatasetNBN      string          `json:"datasetNbn"`
	ObjectVersion   int             `json:"objectVersion"`
	Created         time.Time       `json:"createdTimestamp"`
	BagID           string          `json:"bagId"`
	DatasetVersion  string          `json:"datasetVersion,omitempty"`
	Title           string          `json:"title,omitempty"`
	Exporter        string          `json:"exporter,omitempty"`
	ExporterVersion string          `json:"exporterVersion,omitempty"`
	OtherID         string          `json:"otherId,omitempty"`
	OtherIDVersion  string          `json:"otherIdVersion,omitempty"`
	Skeleton        bool            `json:"skeletonRecord"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	Files           []FileMeta      `json:"fileMetas"`
}

// Dataset is the catalog record of one dataset, keyed by NBN.
type Dataset struct {
	NBN          string          `json:"nbn"`
	Datastation  string          `json:"datastation"`
	DatasetPID   string          `json:"datasetPid"`
	SwordToken   string          `json:"swordToken,omitempty"`
	DataSupplier string          `json:"dataSupplier,omitempty"`
	Versions     []VersionExport `json:"versionExports"`
}

// Latest returns the export with the highest object version, or nil.
func (d *Dataset) Latest() *VersionExport {
	var latest *VersionExport
	for i := range d.Versions {
		if latest == nil || d.Versions[i].ObjectVersion > latest.ObjectVersion {
			latest = &d.Versions[i]
		}
	}
	return latest
}

// ByBagID returns the export registered for bagID, or nil.
func (d *Dataset) ByBagID(bagID string) *VersionExport {
	for i := range d.Versions {
		if d.Versions[i].BagID == bagID {
			return &d.Versions[i]
		}
	}
	return nil
}

// Skeletons returns every export still flagged as skeleton.
func (d *Dataset) Skeletons() []*VersionExport {
	var out []*VersionExport
	for i := range d.Versions {
		if d.Versions[i].Skeleton {
			out = append(out, &d.Versions[i])
		}
	}
	return out
}

// Service is the catalog contract used by the Reconciler.
type Service interface {
	GetDataset(ctx context.Context, nbn string) (*Dataset, error)
	CreateDataset(ctx context.Context, dataset Dataset) error
	SetVersionExport(ctx context.Context, nbn string, export VersionExport) error
}

// ConsistencyError is a lineage violation for one dataset. It carries the
// identifiers needed to diagnose it without reprocessing.
type ConsistencyError struct {
	NBN     string
	Version int
	BagID   string
	Reason  string
	Err     error
}

func (e *ConsistencyError) Error() string {
	msg := fmt.Sprintf("catalog consistency violation (nbn=%s version=%d bag=%s): %s", e.NBN, e.Version, e.BagID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap marks the error as a consistency violation.
func (e *ConsistencyError) Unwrap() []error {
	if e.Err == nil {
		return []error{services.ErrConsistency}
	}
	return []error{services.ErrConsistency, e.Err}
}
