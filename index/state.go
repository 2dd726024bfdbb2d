package index

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"profileindexer/models"
)

// tailChunk is how many bytes are read per step when scanning backwards.
const tailChunk = 4096

// State is what an append run needs from an existing index.
type State struct {
	// NextProfile is the number the next detected profile gets.
	NextProfile int
	// Resume is where the next run's window starts: the peak of the last
	// recorded profile.
	Resume time.Time
	// Last is the final record of the index.
	Last models.ProfileRecord
}

// LastState reads the final row of the index at path without loading the
// whole file.
func LastState(path string) (State, error) {
	f, err := os.Open(path)
	if err != nil {
		return State{}, fmt.Errorf("%w: %v", models.ErrUnresumableIndex, err)
	}
	defer f.Close()

	line, err := lastLine(f)
	if err != nil {
		return State{}, fmt.Errorf("%w: read %s: %v", models.ErrUnresumableIndex, path, err)
	}
	if len(line) == 0 {
		return State{}, fmt.Errorf("%w: %s has no data rows", models.ErrUnresumableIndex, path)
	}

	fields, err := parseLine(string(line))
	if err != nil {
		return State{}, fmt.Errorf("%w: %s: %v", models.ErrUnresumableIndex, path, err)
	}
	if isHeader(fields) {
		return State{}, fmt.Errorf("%w: %s has no data rows", models.ErrUnresumableIndex, path)
	}

	rec, err := ParseRecord(fields)
	if err != nil {
		return State{}, fmt.Errorf("%s: %w", path, err)
	}
	return State{
		NextProfile: rec.Profile + 1,
		Resume:      rec.Peak,
		Last:        rec,
	}, nil
}

// lastLine returns the last non-blank line of r, scanning backwards from
// the end in tailChunk steps.
func lastLine(r io.ReadSeeker) ([]byte, error) {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}

	var tail []byte
	buf := make([]byte, tailChunk)
	for pos := size; pos > 0; {
		n := int64(tailChunk)
		if pos < n {
			n = pos
		}
		pos -= n
		if _, err := r.Seek(pos, io.SeekStart); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(r, buf[:n]); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, err
		}
		tail = append(append([]byte(nil), buf[:n]...), tail...)

		trimmed := bytes.TrimRight(tail, "\r\n \t")
		if i := bytes.LastIndexByte(trimmed, '\n'); i >= 0 {
			return bytes.TrimSpace(trimmed[i+1:]), nil
		}
		if pos == 0 {
			return bytes.TrimSpace(trimmed), nil
		}
	}
	return nil, nil
}
