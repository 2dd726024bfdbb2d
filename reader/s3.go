package reader

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"profileindexer/config"
	"profileindexer/logger"
	"profileindexer/models"
)

// objectAPI is the part of the S3 client the object store source uses.
type objectAPI interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ObjectStore reads series parquet files from an S3 bucket under the
// profiler's object prefix.
type ObjectStore struct {
	client   objectAPI
	bucket   string
	prefix   string
	variable string
	log      *logger.Log
}

// NewS3Client configures an S3 client from the storage settings. Anonymous
// access skips request signing, which public archives require.
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	switch {
	case cfg.Anonymous:
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}))
	case cfg.AccessKeyID != "" && cfg.SecretAccessKey != "":
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

// NewObjectStore returns a source reading the profiler's objects from the
// configured bucket.
func NewObjectStore(ctx context.Context, cfg config.S3Config, p config.ProfilerConfig) (*ObjectStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object store source needs storage.s3.bucket")
	}
	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := newObjectStore(client, cfg.Bucket, p.ObjectPrefix, p.PressureVariable)
	store.log.WithComponent("object_store").WithFields(logger.Fields{
		"bucket":     cfg.Bucket,
		"prefix":     p.ObjectPrefix,
		"region":     cfg.Region,
		"endpoint":   cfg.Endpoint,
		"path_style": cfg.PathStyle,
		"anonymous":  cfg.Anonymous,
	}).Debug("object store source initialized")
	return store, nil
}

func newObjectStore(client objectAPI, bucket, prefix, variable string) *ObjectStore {
	return &ObjectStore{
		client:   client,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		variable: variable,
		log:      logger.GetLogger(),
	}
}

// Name identifies the source in logs.
func (o *ObjectStore) Name() string {
	return fmt.Sprintf("s3://%s/%s", o.bucket, o.prefix)
}

// Fetch lists the parquet objects under the prefix, downloads those that
// may overlap w and decodes the pressure variable from them.
func (o *ObjectStore) Fetch(ctx context.Context, w models.Window) (*models.TimeSeries, error) {
	log := o.log.WithComponent("object_store").WithFields(logger.Fields{
		"bucket":    o.bucket,
		"prefix":    o.prefix,
		"operation": "fetch",
	})
	start := time.Now()

	keys, listed, err := o.list(ctx, w)
	if err != nil {
		return nil, unavailable(o.Name(), err)
	}
	if listed == 0 {
		return nil, unavailable(o.Name(), fmt.Errorf("no parquet objects found"))
	}

	ts := models.NewTimeSeries(o.variable, nil)
	if len(keys) == 0 {
		log.WithFields(logger.Fields{"listed": listed}).Info("no objects overlap the window")
		return ts, nil
	}
	for _, key := range keys {
		data, err := o.get(ctx, key)
		if err != nil {
			return nil, unavailable(o.Name(), err)
		}
		n, err := decodeParquetBytes(data, o.variable, ts)
		if err != nil {
			return nil, unavailable(key, err)
		}
		log.WithFields(logger.Fields{"key": key, "bytes": len(data), "samples": n}).Debug("object decoded")
	}

	out := finish(ts, w)
	logger.LogPerformanceEntry(log, "object_store", "fetch", time.Since(start), logger.Fields{
		"objects": len(keys),
		"samples": out.Len(),
	})
	return out, nil
}

// list returns the parquet keys that may overlap w, and how many parquet
// objects the prefix holds in total.
func (o *ObjectStore) list(ctx context.Context, w models.Window) ([]string, int, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(o.bucket)}
	if o.prefix != "" {
		input.Prefix = aws.String(o.prefix + "/")
	}

	var keys []string
	listed := 0
	p := s3.NewListObjectsV2Paginator(o.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".parquet") {
				continue
			}
			listed++
			if wanted(key, w) {
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)
	return keys, listed, nil
}

func (o *ObjectStore) get(ctx context.Context, key string) ([]byte, error) {
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}
