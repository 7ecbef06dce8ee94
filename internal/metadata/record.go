package metadata

import (
	"encoding/json"
	"time"
)

// FileMeta is one manifest entry. Path keeps the bag base folder.
type FileMeta struct {
	Path string `json:"path"`
	URI  string `json:"uri,omitempty"`
	Size int64  `json:"size"`
	SHA1 string `json:"sha1"`
}

// Record is everything the pipeline needs to know about one DVE.
type Record struct {
	DVEName string    `json:"dveName"`
	Created time.Time `json:"created"`
	// ObjectVersion is the version carried by the -ttv<N> name suffix; 0
	// means not yet registered.
	ObjectVersion int `json:"objectVersion,omitempty"`

	BagID      string `json:"bagId"`
	NBN        string `json:"nbn"`
	DatasetPID string `json:"datasetPid"`

	Title           string `json:"title,omitempty"`
	DatasetVersion  string `json:"datasetVersion,omitempty"`
	OtherID         string `json:"otherId,omitempty"`
	OtherIDVersion  string `json:"otherIdVersion,omitempty"`
	SwordToken      string `json:"swordToken,omitempty"`
	DataSupplier    string `json:"dataSupplier,omitempty"`
	Exporter        string `json:"exporter,omitempty"`
	ExporterVersion string `json:"exporterVersion,omitempty"`

	BagBase    string          `json:"bagBase"`
	Files      []FileMeta      `json:"files"`
	Provenance json.RawMessage `json:"provenance"`
}

// TotalSize sums the manifest file sizes.
func (r *Record) TotalSize() int64 {
	var total int64
	for _, f := range r.Files {
		total += f.Size
	}
	return total
}
