package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"profileindexer/config"
	"profileindexer/logger"
	"profileindexer/models"
)

// CatalogFile is one downloadable file listed by a remote catalog.
type CatalogFile struct {
	URL   string    `json:"url"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CatalogListing is the catalog.json document of one dataset.
type CatalogListing struct {
	Dataset string        `json:"dataset"`
	Files   []CatalogFile `json:"files"`
}

// Catalog fetches series files listed by a remote HTTP catalog. Only files
// overlapping the requested window are downloaded, and requests are paced
// by a rate limiter.
type Catalog struct {
	base     *url.URL
	dataset  string
	variable string
	client   *http.Client
	limiter  *rate.Limiter
	log      *logger.Log
}

// NewCatalog returns a catalog source for the profiler's dataset.
func NewCatalog(cfg config.CatalogConfig, p config.ProfilerConfig) (*Catalog, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("catalog source needs catalog.base_url")
	}
	if p.CatalogDataset == "" {
		return nil, fmt.Errorf("catalog source needs a catalog_dataset for the profiler")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse catalog base url: %w", err)
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	c := &Catalog{
		base:     base,
		dataset:  p.CatalogDataset,
		variable: p.PressureVariable,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		log:      logger.GetLogger(),
	}
	c.log.WithComponent("catalog").WithFields(logger.Fields{
		"base_url":            base.String(),
		"dataset":             c.dataset,
		"requests_per_second": rps,
		"timeout":             cfg.Timeout,
	}).Debug("catalog source initialized")
	return c, nil
}

// Name identifies the source in logs.
func (c *Catalog) Name() string {
	return c.listingURL()
}

func (c *Catalog) listingURL() string {
	ref := &url.URL{Path: c.dataset + "/catalog.json"}
	return c.base.ResolveReference(ref).String()
}

// Fetch downloads the listing, then every overlapping file, and decodes the
// pressure variable from them.
func (c *Catalog) Fetch(ctx context.Context, w models.Window) (*models.TimeSeries, error) {
	log := c.log.WithComponent("catalog").WithFields(logger.Fields{
		"dataset":   c.dataset,
		"operation": "fetch",
	})
	start := time.Now()

	listing, err := c.listing(ctx)
	if err != nil {
		return nil, unavailable(c.Name(), err)
	}

	var files []CatalogFile
	for _, f := range listing.Files {
		if w.Overlaps(f.Start, f.End) {
			files = append(files, f)
		}
	}
	log.WithFields(logger.Fields{
		"listed":   len(listing.Files),
		"selected": len(files),
	}).Info("catalog listing loaded")

	ts := models.NewTimeSeries(c.variable, nil)
	for _, f := range files {
		u, err := c.resolve(f.URL)
		if err != nil {
			return nil, unavailable(f.URL, err)
		}
		data, err := c.get(ctx, u)
		if err != nil {
			return nil, unavailable(u, err)
		}
		n, err := decodeParquetBytes(data, c.variable, ts)
		if err != nil {
			return nil, unavailable(u, err)
		}
		log.WithFields(logger.Fields{"url": u, "bytes": len(data), "samples": n}).Debug("catalog file decoded")
	}

	out := finish(ts, w)
	logger.LogPerformanceEntry(log, "catalog", "fetch", time.Since(start), logger.Fields{
		"files":   len(files),
		"samples": out.Len(),
	})
	return out, nil
}

func (c *Catalog) listing(ctx context.Context) (*CatalogListing, error) {
	data, err := c.get(ctx, c.listingURL())
	if err != nil {
		return nil, err
	}
	var listing CatalogListing
	if err := json.Unmarshal(data, &listing); err != nil {
		return nil, fmt.Errorf("decode catalog listing: %w", err)
	}
	return &listing, nil
}

// resolve makes file URLs relative to the dataset directory absolute.
func (c *Catalog) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	dir := c.base.ResolveReference(&url.URL{Path: c.dataset + "/"})
	return dir.ResolveReference(u).String(), nil
}

func (c *Catalog) get(ctx context.Context, u string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("GET %s: %s: %s", u, resp.Status, strings.TrimSpace(string(body)))
	}
	return io.ReadAll(resp.Body)
}
