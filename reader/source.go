// Package reader provides the series sources a run can fetch pressure data
// from: an S3 object store, local parquet files and a remote HTTP catalog.
package reader

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	preader "github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"

	"profileindexer/config"
	"profileindexer/models"
)

// Source fetches the pressure series of one profiler.
type Source interface {
	// Fetch returns the series restricted to w, sorted by time. Failures
	// wrap models.ErrSourceUnavailable.
	Fetch(ctx context.Context, w models.Window) (*models.TimeSeries, error)
	Name() string
}

// SeriesRow is one row of a series parquet file. Files use a long layout so
// a single file can carry several variables.
type SeriesRow struct {
	Time     int64   `parquet:"name=time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Variable string  `parquet:"name=variable, type=BYTE_ARRAY, convertedtype=UTF8"`
	Value    float64 `parquet:"name=value, type=DOUBLE"`
}

// New builds the source of the given kind for one profiler. dataPath
// overrides the configured local path.
func New(cfg *config.Config, profiler string, kind config.SourceKind, dataPath string) (Source, error) {
	p, err := cfg.Profiler(profiler)
	if err != nil {
		return nil, err
	}
	switch kind {
	case config.SourceObjectStore:
		return NewObjectStore(context.Background(), cfg.Storage.S3, p)
	case config.SourceLocal:
		if dataPath == "" {
			dataPath = cfg.Source.LocalPath
		}
		if dataPath == "" {
			return nil, fmt.Errorf("local source needs a data path")
		}
		return NewLocal(dataPath, p.PressureVariable), nil
	case config.SourceCatalog:
		return NewCatalog(cfg.Catalog, p)
	default:
		return nil, fmt.Errorf("unsupported source kind %q", kind)
	}
}

// decodeParquet reads every row of pf that belongs to variable into ts. The
// file's footer key/value metadata entries named "<variable>.<attr>" become
// series attributes.
func decodeParquet(pf source.ParquetFile, variable string, ts *models.TimeSeries) (int, error) {
	pr, err := preader.NewParquetReader(pf, new(SeriesRow), 1)
	if err != nil {
		return 0, fmt.Errorf("open parquet reader: %w", err)
	}
	defer pr.ReadStop()

	if ts.Attrs == nil {
		ts.Attrs = map[string]string{}
	}
	for k, v := range variableAttrs(pr.Footer.GetKeyValueMetadata(), variable) {
		ts.Attrs[k] = v
	}

	num := int(pr.GetNumRows())
	if num == 0 {
		return 0, nil
	}
	rows := make([]SeriesRow, num)
	if err := pr.Read(&rows); err != nil {
		return 0, fmt.Errorf("read parquet rows: %w", err)
	}

	kept := 0
	for _, r := range rows {
		if r.Variable != variable {
			continue
		}
		ts.Append(time.UnixMilli(r.Time).UTC(), r.Value)
		kept++
	}
	return kept, nil
}

// decodeParquetBytes decodes an in-memory parquet file.
func decodeParquetBytes(data []byte, variable string, ts *models.TimeSeries) (int, error) {
	pf, err := buffer.NewBufferFile(data)
	if err != nil {
		return 0, err
	}
	return decodeParquet(pf, variable, ts)
}

func variableAttrs(kvs []*parquet.KeyValue, variable string) map[string]string {
	prefix := variable + "."
	out := map[string]string{}
	for _, kv := range kvs {
		if kv == nil || !strings.HasPrefix(kv.Key, prefix) {
			continue
		}
		v := ""
		if kv.Value != nil {
			v = *kv.Value
		}
		out[strings.TrimPrefix(kv.Key, prefix)] = v
	}
	return out
}

// finish sorts a fetched series and cuts it to w.
func finish(ts *models.TimeSeries, w models.Window) *models.TimeSeries {
	ts.Sort()
	return ts.Slice(w)
}

// fileRangeRe matches the "<start>-<end>" stamp used in archive file names,
// e.g. deployment0008_..._20210601T000000-20210630T235959.parquet.
var fileRangeRe = regexp.MustCompile(`(\d{8}T\d{6})(?:\.\d+)?-(\d{8}T\d{6})(?:\.\d+)?`)

const fileStampLayout = "20060102T150405"

// fileRange extracts the time span encoded in a file name.
func fileRange(name string) (start, end time.Time, ok bool) {
	m := fileRangeRe.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, time.Time{}, false
	}
	start, err := time.ParseInLocation(fileStampLayout, m[1], time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err = time.ParseInLocation(fileStampLayout, m[2], time.UTC)
	if err != nil || end.Before(start) {
		return time.Time{}, time.Time{}, false
	}
	return start, end.Add(time.Second - time.Nanosecond), true
}

// wanted reports whether a file named name may hold samples inside w. Files
// without a recognisable time stamp are always wanted.
func wanted(name string, w models.Window) bool {
	start, end, ok := fileRange(name)
	if !ok {
		return true
	}
	return w.Overlaps(start, end)
}

func unavailable(name string, err error) error {
	return fmt.Errorf("%w: %s: %v", models.ErrSourceUnavailable, name, err)
}
