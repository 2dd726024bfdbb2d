// Package metadata keeps a table-style history of published profile index
// snapshots: one manifest per publication and a metadata.json listing them.
package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// DataFile describes a single object written by a publication.
type DataFile struct {
	Path        string         `json:"path"`
	Format      string         `json:"format"`
	FileSize    int64          `json:"file_size_in_bytes"`
	RecordCount int64          `json:"record_count"`
	Partition   map[string]any `json:"partition"`
}

// ManifestEntry is one line of a manifest file.
type ManifestEntry struct {
	Status   int      `json:"status"`
	DataFile DataFile `json:"data_file"`
}

// Snapshot points at the manifest of one publication.
type Snapshot struct {
	SnapshotID  int64             `json:"snapshot-id"`
	TimestampMs int64             `json:"timestamp-ms"`
	Manifest    string            `json:"manifest-list"`
	Summary     map[string]string `json:"summary,omitempty"`
}

// TableMetadata is the metadata.json document of a table.
type TableMetadata struct {
	FormatVersion     int        `json:"format-version"`
	TableUUID         string     `json:"table-uuid"`
	Location          string     `json:"location"`
	LastUpdatedMs     int64      `json:"last-updated-ms"`
	CurrentSnapshotID int64      `json:"current-snapshot-id"`
	Snapshots         []Snapshot `json:"snapshots"`
}

// Generator appends snapshots to a table's metadata. History from earlier
// runs is picked up from an existing metadata.json under basePath.
type Generator struct {
	basePath  string
	tableName string
	location  string
	tableUUID string
	snapshots []Snapshot
}

// NewGenerator returns a generator rooted at basePath for the table stored
// at location (for example s3://bucket/prefix/RS01SBPS).
func NewGenerator(basePath, tableName, location string) (*Generator, error) {
	g := &Generator{
		basePath:  basePath,
		tableName: tableName,
		location:  location,
	}
	tm, err := readTableMetadata(g.MetadataPath())
	switch {
	case errors.Is(err, os.ErrNotExist):
		g.tableUUID = uuid.NewString()
	case err != nil:
		return nil, err
	default:
		g.tableUUID = tm.TableUUID
		g.snapshots = tm.Snapshots
	}
	return g, nil
}

// MetadataPath is where metadata.json lives.
func (g *Generator) MetadataPath() string {
	return filepath.Join(g.basePath, "metadata", "metadata.json")
}

// Snapshots returns the recorded snapshots, oldest first.
func (g *Generator) Snapshots() []Snapshot {
	return append([]Snapshot(nil), g.snapshots...)
}

// AddSnapshot writes a manifest listing files and makes it the current
// snapshot.
func (g *Generator) AddSnapshot(files []DataFile, at time.Time, summary map[string]string) (Snapshot, error) {
	snapID := at.UnixNano()
	if n := len(g.snapshots); n > 0 && snapID <= g.snapshots[n-1].SnapshotID {
		snapID = g.snapshots[n-1].SnapshotID + 1
	}
	manifestFile := fmt.Sprintf("manifest-%d.json", snapID)
	manifestPath := filepath.Join(g.basePath, "metadata", manifestFile)
	if err := os.MkdirAll(filepath.Dir(manifestPath), 0o755); err != nil {
		return Snapshot{}, err
	}

	entries := make([]ManifestEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, ManifestEntry{Status: 1, DataFile: f})
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return Snapshot{}, err
	}
	if err := os.WriteFile(manifestPath, b, 0o644); err != nil {
		return Snapshot{}, err
	}

	snapshot := Snapshot{
		SnapshotID:  snapID,
		TimestampMs: at.UnixMilli(),
		Manifest:    manifestFile,
		Summary:     summary,
	}
	g.snapshots = append(g.snapshots, snapshot)
	return snapshot, g.writeTableMetadata(at)
}

func (g *Generator) writeTableMetadata(at time.Time) error {
	if len(g.snapshots) == 0 {
		return nil
	}
	tm := TableMetadata{
		FormatVersion:     2,
		TableUUID:         g.tableUUID,
		Location:          g.location,
		LastUpdatedMs:     at.UnixMilli(),
		CurrentSnapshotID: g.snapshots[len(g.snapshots)-1].SnapshotID,
		Snapshots:         g.snapshots,
	}
	b, err := json.MarshalIndent(tm, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(g.MetadataPath(), b, 0o644)
}

func readTableMetadata(path string) (*TableMetadata, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tm TableMetadata
	if err := json.Unmarshal(b, &tm); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &tm, nil
}

// WriteCatalogEntry creates a catalog entry pointing at the table metadata.
func (g *Generator) WriteCatalogEntry(catalogDir string) error {
	entry := map[string]string{
		"name":              g.tableName,
		"location":          g.location,
		"metadata_location": g.MetadataPath(),
	}
	if err := os.MkdirAll(catalogDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(catalogDir, fmt.Sprintf("%s.json", g.tableName))
	b, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
