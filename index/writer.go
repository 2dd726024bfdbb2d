package index

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"profileindexer/models"
)

// Encode writes records as CSV, preceded by the header when header is set.
func Encode(w io.Writer, header bool, records []models.ProfileRecord) error {
	cw := csv.NewWriter(w)
	if header {
		if err := cw.Write(Header); err != nil {
			return err
		}
	}
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return err
		}
		if err := cw.Write(FormatRecord(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Replace writes a new index holding the header and records. The file is
// written next to path and renamed over it, so readers never observe a
// partial index.
func Replace(path string, records []models.ProfileRecord) error {
	var buf bytes.Buffer
	if err := Encode(&buf, true, records); err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp index: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp index: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod temp index: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace index: %w", err)
	}
	return nil
}

// Append adds records to the end of the index at path in a single write.
// A missing index is created with a header. If the write fails the file
// is truncated back to its previous length.
func Append(path string, records []models.ProfileRecord) error {
	if len(records) == 0 {
		return nil
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer f.Close()

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seek index: %w", err)
	}

	var buf bytes.Buffer
	if size > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, size-1); err != nil {
			return fmt.Errorf("read index: %w", err)
		}
		if last[0] != '\n' {
			buf.WriteByte('\n')
		}
	}
	if err := Encode(&buf, size == 0, records); err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		if terr := f.Truncate(size); terr != nil {
			return fmt.Errorf("append index: %w (rollback failed: %v)", err, terr)
		}
		return fmt.Errorf("append index: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync index: %w", err)
	}
	return nil
}

// ReadAll loads every record of the index at path. It is meant for tools
// and tests; runs only ever need LastState.
func ReadAll(path string) ([]models.ProfileRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", path, err)
	}
	var out []models.ProfileRecord
	for i, row := range rows {
		if i == 0 && isHeader(row) {
			continue
		}
		rec, err := ParseRecord(row)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+1, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
