package reader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/xitongsys/parquet-go-source/local"

	"profileindexer/logger"
	"profileindexer/models"
)

// Local reads a single parquet file or every *.parquet file of a
// directory. Samples from several files are merged and sorted by time.
type Local struct {
	path     string
	variable string
	log      *logger.Log
}

// NewLocal returns a source for the file or directory at path.
func NewLocal(path, variable string) *Local {
	return &Local{path: path, variable: variable, log: logger.GetLogger()}
}

// Name identifies the source in logs.
func (l *Local) Name() string { return l.path }

func (l *Local) files(w models.Window) ([]string, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{l.path}, nil
	}
	matches, err := filepath.Glob(filepath.Join(l.path, "*.parquet"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no parquet files in %s", l.path)
	}
	var files []string
	for _, m := range matches {
		if wanted(filepath.Base(m), w) {
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

// Fetch decodes the pressure variable from the local files.
func (l *Local) Fetch(ctx context.Context, w models.Window) (*models.TimeSeries, error) {
	log := l.log.WithComponent("local_source").WithFields(logger.Fields{
		"path":      l.path,
		"operation": "fetch",
	})
	start := time.Now()

	files, err := l.files(w)
	if err != nil {
		return nil, unavailable(l.path, err)
	}

	ts := models.NewTimeSeries(l.variable, nil)
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return nil, unavailable(l.path, err)
		}
		n, err := l.decodeFile(name, ts)
		if err != nil {
			return nil, unavailable(name, err)
		}
		log.WithFields(logger.Fields{"file": name, "samples": n}).Debug("file decoded")
	}

	out := finish(ts, w)
	logger.LogPerformanceEntry(log, "local_source", "fetch", time.Since(start), logger.Fields{
		"files":   len(files),
		"samples": out.Len(),
	})
	return out, nil
}

func (l *Local) decodeFile(name string, ts *models.TimeSeries) (int, error) {
	fr, err := local.NewLocalFileReader(name)
	if err != nil {
		return 0, err
	}
	defer fr.Close()
	return decodeParquet(fr, l.variable, ts)
}
