// Package writer publishes a profile index to S3 as CSV plus a parquet
// rendition, and records each publication in a metadata manifest.
package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "profileindexer/config"
	"profileindexer/index"
	"profileindexer/internal/metadata"
	"profileindexer/logger"
	"profileindexer/models"
)

// ProfileRow is the parquet layout of one index record.
type ProfileRow struct {
	Profiler string `parquet:"name=profiler, type=BYTE_ARRAY, convertedtype=UTF8"`
	Profile  int64  `parquet:"name=profile, type=INT64"`
	Start    int64  `parquet:"name=start, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Peak     int64  `parquet:"name=peak, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	End      int64  `parquet:"name=end, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Publisher uploads index files to the publish bucket.
type Publisher struct {
	cfg     appconfig.PublishConfig
	version string
	client  objectPutter
	log     *logger.Log
}

// Publication is what one Publish call wrote.
type Publication struct {
	Files    []metadata.DataFile
	Snapshot metadata.Snapshot
}

// NewPublisher configures an S3 client for the publish bucket. Publishing
// needs real credentials even when the data bucket is read anonymously.
func NewPublisher(ctx context.Context, cfg *appconfig.Config) (*Publisher, error) {
	log := logger.GetLogger()

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Storage.S3.Region),
	}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("publisher").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	log.WithComponent("publisher").WithFields(logger.Fields{
		"bucket":      cfg.Publish.Bucket,
		"prefix":      cfg.Publish.Prefix,
		"compression": cfg.Publish.Compression,
		"region":      cfg.Storage.S3.Region,
	}).Info("publisher initialized")

	return newPublisher(cfg.Publish, cfg.App.Version, client), nil
}

func newPublisher(cfg appconfig.PublishConfig, version string, client objectPutter) *Publisher {
	return &Publisher{cfg: cfg, version: version, client: client, log: logger.GetLogger()}
}

// Publish uploads the index at indexPath and its parquet rendition under
// <prefix>/<profiler>/, then adds a snapshot to the profiler's manifest.
func (p *Publisher) Publish(ctx context.Context, profiler, indexPath, runID string) (Publication, error) {
	log := p.log.WithComponent("publisher").WithFields(logger.Fields{
		"profiler":  profiler,
		"index":     indexPath,
		"run_id":    runID,
		"operation": "publish",
	})
	start := time.Now()

	csvData, err := os.ReadFile(indexPath)
	if err != nil {
		return Publication{}, fmt.Errorf("read index: %w", err)
	}
	records, err := index.ReadAll(indexPath)
	if err != nil {
		return Publication{}, err
	}
	parquetData, err := p.createParquetFile(profiler, records)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return Publication{}, err
	}

	base := strings.TrimSuffix(filepath.Base(indexPath), filepath.Ext(indexPath))
	dir := p.tableKey(profiler)
	uploads := []struct {
		key, format, contentType string
		data                     []byte
	}{
		{path.Join(dir, base+".csv"), "csv", "text/csv", csvData},
		{path.Join(dir, base+".parquet"), "parquet", "application/octet-stream", parquetData},
	}

	var files []metadata.DataFile
	for _, u := range uploads {
		if err := p.uploadToS3(ctx, u.key, u.contentType, u.format, u.data); err != nil {
			log.WithError(err).
				WithEnv("S3_BUCKET").
				WithFields(logger.Fields{"bucket": p.cfg.Bucket, "s3_key": u.key}).
				Error("failed to upload to S3")
			return Publication{}, err
		}
		files = append(files, metadata.DataFile{
			Path:        fmt.Sprintf("s3://%s/%s", p.cfg.Bucket, u.key),
			Format:      u.format,
			FileSize:    int64(len(u.data)),
			RecordCount: int64(len(records)),
			Partition:   map[string]any{"profiler": profiler},
		})
	}

	pub := Publication{Files: files}
	if p.cfg.ManifestDir != "" {
		snap, err := p.recordSnapshot(ctx, profiler, runID, files, len(records))
		if err != nil {
			log.WithError(err).Warn("failed to update metadata")
		} else {
			pub.Snapshot = snap
		}
	}

	logger.LogPerformanceEntry(log, "publisher", "publish", time.Since(start), logger.Fields{
		"records":      len(records),
		"csv_bytes":    len(csvData),
		"parquet_size": len(parquetData),
	})
	return pub, nil
}

func (p *Publisher) tableKey(profiler string) string {
	return path.Join(strings.Trim(p.cfg.Prefix, "/"), profiler)
}

func (p *Publisher) recordSnapshot(ctx context.Context, profiler, runID string, files []metadata.DataFile, records int) (metadata.Snapshot, error) {
	location := fmt.Sprintf("s3://%s/%s", p.cfg.Bucket, p.tableKey(profiler))
	gen, err := metadata.NewGenerator(filepath.Join(p.cfg.ManifestDir, profiler), profiler, location)
	if err != nil {
		return metadata.Snapshot{}, err
	}
	snap, err := gen.AddSnapshot(files, time.Now().UTC(), map[string]string{
		"run-id":  runID,
		"records": fmt.Sprint(records),
	})
	if err != nil {
		return metadata.Snapshot{}, err
	}
	if err := gen.WriteCatalogEntry(filepath.Join(p.cfg.ManifestDir, "catalog")); err != nil {
		return metadata.Snapshot{}, err
	}
	meta, err := os.ReadFile(gen.MetadataPath())
	if err != nil {
		return metadata.Snapshot{}, err
	}
	key := path.Join(p.tableKey(profiler), "metadata", "metadata.json")
	if err := p.uploadToS3(ctx, key, "application/json", "json", meta); err != nil {
		return metadata.Snapshot{}, err
	}
	return snap, nil
}

func (p *Publisher) compression() parquet.CompressionCodec {
	switch p.cfg.Compression {
	case "snappy", "":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

func (p *Publisher) createParquetFile(profiler string, records []models.ProfileRecord) ([]byte, error) {
	var buf bytes.Buffer
	pw, err := writer.NewParquetWriterFromWriter(&buf, new(ProfileRow), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = p.compression()

	for _, r := range records {
		row := ProfileRow{
			Profiler: profiler,
			Profile:  int64(r.Profile),
			Start:    r.Start.UnixMilli(),
			Peak:     r.Peak.UnixMilli(),
			End:      r.End.UnixMilli(),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return buf.Bytes(), nil
}

func (p *Publisher) uploadToS3(ctx context.Context, key, contentType, format string, data []byte) error {
	p.log.WithComponent("publisher").WithFields(logger.Fields{
		"operation": "upload_to_s3",
		"s3_key":    key,
		"data_size": len(data),
	}).Debug("uploading to S3")

	input := &s3.PutObjectInput{
		Bucket:      aws.String(p.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"content-type":           format,
			"compression":            p.cfg.Compression,
			"profileindexer-version": p.version,
		},
	}

	if _, err := p.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", p.cfg.Bucket, err)
	}
	return nil
}
