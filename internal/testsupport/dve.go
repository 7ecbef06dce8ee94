package testsupport

import (
	"archive/zip"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"
)

// Bag describes a DVE fixture. Zero values get sensible defaults so most
// tests set only the fields they care about.
type Bag struct {
	Base            string
	BagID           string
	NBN             string
	PID             string
	Title           string
	Version         string
	OtherID         string
	OtherIDVersion  string
	SwordToken      string
	DataSupplier    string
	ExporterName    string
	ExporterVersion string
	// Files maps bag-relative paths (under data/) to content.
	Files map[string]string
	// Extra is merged into the aggregation node of the provenance document.
	Extra map[string]any
	// Provenance replaces the generated document when non-nil.
	Provenance []byte
	// OmitProvenance leaves metadata/oai-ore.jsonld out of the bag.
	OmitProvenance bool
}

func (b Bag) withDefaults() Bag {
	if b.Base == "" {
		b.Base = "bag"
	}
	if b.BagID == "" {
		b.BagID = "urn:uuid:3f0b19e8-6d0d-4ac3-9a5c-6b8d2f7b9a01"
	}
	if b.NBN == "" {
		b.NBN = "urn:nbn:nl:ui:13-test-0001"
	}
	if b.PID == "" {
		b.PID = "doi:10.5072/FK2/TEST01"
	}
	if b.Title == "" {
		b.Title = "Test dataset"
	}
	if b.Version == "" {
		b.Version = "1.0"
	}
	if b.ExporterName == "" {
		b.ExporterName = "Dataverse"
	}
	if b.ExporterVersion == "" {
		b.ExporterVersion = "6.3"
	}
	if b.Files == nil {
		b.Files = map[string]string{"data/readme.txt": "hello"}
	}
	return b
}

// ProvenanceDocument renders the OAI-ORE JSON-LD for the fixture.
func (b Bag) ProvenanceDocument() []byte {
	b = b.withDefaults()
	if b.Provenance != nil {
		return b.Provenance
	}
	aggregation := map[string]any{
		"@id":                             b.PID,
		"@type":                           "ore:Aggregation",
		"dcterms:title":                   b.Title,
		"schema:version":                  b.Version,
		"dansDataVaultMetadata:dansBagId": b.BagID,
		"dansDataVaultMetadata:dansNbn":   b.NBN,
	}
	optional := map[string]string{
		"dansDataVaultMetadata:dansOtherId":        b.OtherID,
		"dansDataVaultMetadata:dansOtherIdVersion": b.OtherIDVersion,
		"dansDataVaultMetadata:dansSwordToken":     b.SwordToken,
		"dansDataVaultMetadata:dansDataSupplier":   b.DataSupplier,
	}
	for key, value := range optional {
		if value != "" {
			aggregation[key] = value
		}
	}
	for key, value := range b.Extra {
		aggregation[key] = value
	}
	doc := map[string]any{
		"@context": map[string]any{
			"ore":                   "http://www.openarchives.org/ore/terms/",
			"dcterms":               "http://purl.org/dc/terms/",
			"schema":                "http://schema.org/",
			"dvcore":                "https://dataverse.org/schema/core#",
			"dansDataVaultMetadata": "https://dar.dans.knaw.nl/schema/dansDataVaultMetadata#",
		},
		"@id":           "urn:uuid:resource-map-" + b.BagID,
		"@type":         "ore:ResourceMap",
		"ore:describes": aggregation,
		"dvcore:generatedBy": map[string]any{
			"@type":          "schema:SoftwareApplication",
			"schema:name":    b.ExporterName,
			"schema:version": b.ExporterVersion,
		},
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		panic(err)
	}
	return data
}

// Contents returns every bag-relative file of the fixture.
func (b Bag) Contents() map[string][]byte {
	b = b.withDefaults()
	files := make(map[string][]byte, len(b.Files)+4)
	names := make([]string, 0, len(b.Files))
	for name := range b.Files {
		names = append(names, name)
	}
	sort.Strings(names)

	var manifest, pidMapping strings.Builder
	for _, name := range names {
		content := []byte(b.Files[name])
		files[name] = content
		sum := sha1.Sum(content)
		fmt.Fprintf(&manifest, "%s  %s\n", hex.EncodeToString(sum[:]), name)
		fmt.Fprintf(&pidMapping, "%s/%s %s\n", b.PID, path.Base(name), name)
	}
	files["bagit.txt"] = []byte("BagIt-Version: 0.97\nTag-File-Character-Encoding: UTF-8\n")
	files["bag-info.txt"] = []byte("Payload-Oxum: 0.0\n")
	files["manifest-sha1.txt"] = []byte(manifest.String())
	files["metadata/pid-mapping.txt"] = []byte(pidMapping.String())
	if !b.OmitProvenance {
		files["metadata/oai-ore.jsonld"] = b.ProvenanceDocument()
	}
	return files
}

// WriteZipDVE writes the fixture as dir/name (a zip with the bag under its
// base folder) and sets its modification time.
func WriteZipDVE(t testing.TB, dir, name string, bag Bag, created time.Time) string {
	t.Helper()
	bag = bag.withDefaults()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	// Build next to the target and rename, so polling stages never see a partial zip.
	target := filepath.Join(dir, name)
	tmp := filepath.Join(dir, "."+name+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	zw := zip.NewWriter(f)
	contents := bag.Contents()
	keys := make([]string, 0, len(contents))
	for key := range contents {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		w, err := zw.Create(path.Join(bag.Base, key))
		if err != nil {
			t.Fatalf("zip entry %s: %v", key, err)
		}
		if _, err := w.Write(contents[key]); err != nil {
			t.Fatalf("zip write %s: %v", key, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	if err := os.Chtimes(tmp, created, created); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		t.Fatalf("rename zip: %v", err)
	}
	return target
}

// WriteDirDVE writes the fixture as a bag directory dir/name.
func WriteDirDVE(t testing.TB, dir, name string, bag Bag, created time.Time) string {
	t.Helper()
	root := filepath.Join(dir, name)
	for key, content := range bag.Contents() {
		target := filepath.Join(root, filepath.FromSlash(key))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(target, content, 0o644); err != nil {
			t.Fatalf("write %s: %v", key, err)
		}
	}
	if err := os.Chtimes(root, created, created); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	return root
}

// WaitFor polls cond until it holds or the timeout expires.
func WaitFor(t testing.TB, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
