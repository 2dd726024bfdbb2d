package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGeneratorWritesManifestAndMetadata(t *testing.T) {
	dir := t.TempDir()
	gen, err := NewGenerator(dir, "RS01SBPS", "s3://bucket/profile-index/RS01SBPS")
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	files := []DataFile{
		{Path: "s3://bucket/profile-index/RS01SBPS/RS01SBPS_profiles.csv", Format: "csv", FileSize: 120, RecordCount: 3},
		{Path: "s3://bucket/profile-index/RS01SBPS/RS01SBPS_profiles.parquet", Format: "parquet", FileSize: 900, RecordCount: 3,
			Partition: map[string]any{"profiler": "RS01SBPS"}},
	}
	at := time.Date(2022, 1, 15, 6, 0, 0, 0, time.UTC)
	snap, err := gen.AddSnapshot(files, at, map[string]string{"run-id": "abc"})
	if err != nil {
		t.Fatalf("AddSnapshot: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "metadata", snap.Manifest))
	if err != nil {
		t.Fatalf("manifest not written: %v", err)
	}
	var entries []ManifestEntry
	if err := json.Unmarshal(b, &entries); err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if len(entries) != 2 || entries[1].DataFile.Format != "parquet" {
		t.Fatalf("unexpected manifest entries: %+v", entries)
	}

	tm, err := readTableMetadata(gen.MetadataPath())
	if err != nil {
		t.Fatalf("metadata not written: %v", err)
	}
	if tm.CurrentSnapshotID != snap.SnapshotID || tm.Location != "s3://bucket/profile-index/RS01SBPS" {
		t.Fatalf("unexpected metadata: %+v", tm)
	}

	catalogDir := filepath.Join(dir, "catalog")
	if err := gen.WriteCatalogEntry(catalogDir); err != nil {
		t.Fatalf("catalog entry: %v", err)
	}
	if _, err := os.Stat(filepath.Join(catalogDir, "RS01SBPS.json")); err != nil {
		t.Fatalf("catalog entry not written: %v", err)
	}
}

func TestGeneratorResumesHistory(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2022, 1, 15, 6, 0, 0, 0, time.UTC)

	first, err := NewGenerator(dir, "RS03AXPS", "s3://bucket/RS03AXPS")
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	s1, err := first.AddSnapshot(nil, at, nil)
	if err != nil {
		t.Fatalf("AddSnapshot: %v", err)
	}

	second, err := NewGenerator(dir, "RS03AXPS", "s3://bucket/RS03AXPS")
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	if second.tableUUID != first.tableUUID {
		t.Fatalf("table uuid changed: %s != %s", second.tableUUID, first.tableUUID)
	}
	// Same timestamp: the id must still move forward.
	s2, err := second.AddSnapshot(nil, at, nil)
	if err != nil {
		t.Fatalf("AddSnapshot: %v", err)
	}
	if s2.SnapshotID <= s1.SnapshotID {
		t.Fatalf("snapshot id did not advance: %d then %d", s1.SnapshotID, s2.SnapshotID)
	}
	if got := len(second.Snapshots()); got != 2 {
		t.Fatalf("expected 2 snapshots, got %d", got)
	}
}

func TestGeneratorRejectsCorruptMetadata(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "metadata"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata", "metadata.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewGenerator(dir, "x", "s3://b/x"); err == nil {
		t.Fatal("expected an error for corrupt metadata")
	}
}
