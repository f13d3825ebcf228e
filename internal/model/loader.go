package model

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// maxArtifactSize caps how much of an artifact is read.
const maxArtifactSize = 64 << 20

// ObjectGetter is the subset of the S3 client the loader needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Loader reads model artifacts from local files or S3.
type Loader struct {
	cfg    domain.ModelConfig
	client ObjectGetter
}

// NewLoader creates a loader. The S3 client is created on first use.
func NewLoader(cfg domain.ModelConfig) *Loader {
	return &Loader{cfg: cfg}
}

// WithObjectGetter sets the S3 client used for s3:// sources.
func (l *Loader) WithObjectGetter(client ObjectGetter) *Loader {
	l.client = client
	return l
}

// Load fetches and parses the artifact at source: a local path, a
// file:// URL or an s3://bucket/key URL.
func (l *Loader) Load(ctx context.Context, source string) (*Model, error) {
	if strings.TrimSpace(source) == "" {
		return nil, ErrUnavailable
	}

	var (
		data []byte
		err  error
	)
	switch {
	case strings.HasPrefix(source, "s3://"):
		data, err = l.readS3(ctx, source)
	case strings.HasPrefix(source, "file://"):
		data, err = readFile(strings.TrimPrefix(source, "file://"))
	default:
		data, err = readFile(source)
	}
	if err != nil {
		return nil, err
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse model %s: %w", source, err)
	}
	return m, nil
}

// LoadClassifier loads the configured artifact and falls back to
// Unavailable on any failure.
func (l *Loader) LoadClassifier(ctx context.Context) Classifier {
	if l.cfg.Source == "" {
		slog.Info("no model configured, classifier disabled")
		return Unavailable
	}

	m, err := l.Load(ctx, l.cfg.Source)
	if err != nil {
		slog.Warn("failed to load model, classifier disabled",
			"source", l.cfg.Source,
			"error", err,
		)
		return Unavailable
	}

	slog.Info("model loaded", "source", l.cfg.Source, "version", m.Version)
	return m
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open model %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxArtifactSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", path, err)
	}
	return data, nil
}

func (l *Loader) readS3(ctx context.Context, source string) ([]byte, error) {
	u, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("invalid model url %s: %w", source, err)
	}
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("invalid model url %s: bucket and key are required", source)
	}

	if l.client == nil {
		client, err := newS3Client(ctx, l.cfg)
		if err != nil {
			return nil, err
		}
		l.client = client
	}

	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch model from s3: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxArtifactSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read model from s3: %w", err)
	}
	return data, nil
}

func newS3Client(ctx context.Context, cfg domain.ModelConfig) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, config.WithRegion(cfg.S3Region))
	}

	// Use explicit credentials if provided
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.S3Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = cfg.S3UsePathStyle
		})
	}

	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}
