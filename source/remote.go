// S3 object fetch support for s3:// data sources.
package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config carries optional S3 authentication overrides; zero values fall
// back to the default AWS credential chain and region.
type S3Config struct {
	AccessKey string
	SecretKey string
	Region    string

	// Endpoint points at an S3-compatible service; path-style addressing
	// is used when set.
	Endpoint string
}

// parseS3URL parses s3://bucket/key into bucket and key parts.
func parseS3URL(rawURL string) (bucket, key string, err error) {
	path := strings.TrimPrefix(rawURL, "s3://")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid S3 URL: %s", rawURL)
	}
	return parts[0], parts[1], nil
}

// newS3Client creates an S3 client with the given configuration.
func newS3Client(ctx context.Context, cfg *S3Config) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error

	if cfg != nil && cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg != nil && cfg.AccessKey != "" && cfg.SecretKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		opts = append(opts, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if cfg != nil && cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // For S3-compatible services
		})
	}

	return s3.NewFromConfig(awsCfg, clientOpts...), nil
}

// FetchS3Object downloads s3://bucket/key to a temp file, preserving the
// object's extension so format detection still applies, and returns the
// local path plus a cleanup function removing the file.
func FetchS3Object(rawURL string, cfg *S3Config) (string, func(), error) {
	bucket, key, err := parseS3URL(rawURL)
	if err != nil {
		return "", nil, err
	}

	ctx := context.Background()
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return "", nil, err
	}

	resp, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to get S3 object: %w", err)
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp("", "rdsai-s3-*"+filepath.Ext(key))
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("failed to download S3 object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, err
	}

	path := tmp.Name()
	return path, func() { os.Remove(path) }, nil
}
