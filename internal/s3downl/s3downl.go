// Package s3downl downloads submission inputs stored in S3. Objects with a
// .zst extension or an application/zstd content type are decompressed.
package s3downl

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
)

type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type Fetcher struct {
	client objectGetter
	// maxBytes caps the decoded size of a fetched object.
	maxBytes int64
	log      *slog.Logger
}

func New(ctx context.Context, region string, maxBytes int64, log *slog.Logger) (*Fetcher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return &Fetcher{client: s3.NewFromConfig(cfg), maxBytes: maxBytes, log: log}, nil
}

type location struct {
	bucket string
	key    string
}

// parseS3Url accepts https://bucket.s3.region.amazonaws.com/key and
// s3://bucket/key.
func parseS3Url(s3Url string) (location, error) {
	u, err := url.Parse(s3Url)
	if err != nil {
		return location{}, fmt.Errorf("failed to parse s3 url %s: %w", s3Url, err)
	}

	key := strings.TrimPrefix(u.Path, "/")
	switch u.Scheme {
	case "s3":
		if u.Host == "" || key == "" {
			return location{}, fmt.Errorf("invalid s3 url: %s", s3Url)
		}
		return location{bucket: u.Host, key: key}, nil
	case "https":
		// bucket.s3.region.amazonaws.com
		hostParts := strings.Split(u.Host, ".")
		if len(hostParts) < 3 || hostParts[1] != "s3" || key == "" {
			return location{}, fmt.Errorf("invalid s3 url host format: %s", u.Host)
		}
		return location{bucket: hostParts[0], key: key}, nil
	}
	return location{}, fmt.Errorf("invalid s3 url scheme: %s", u.Scheme)
}

// Fetch downloads the object at s3Url and returns its (decompressed) content.
func (f *Fetcher) Fetch(ctx context.Context, s3Url string) (string, error) {
	loc, err := parseS3Url(s3Url)
	if err != nil {
		return "", err
	}

	f.log.Debug("downloading file from s3", "url", s3Url)
	obj, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.bucket),
		Key:    aws.String(loc.key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to download file %s from s3: %w (bucket: %s, key: %s)", s3Url, err, loc.bucket, loc.key)
	}
	defer obj.Body.Close()

	var body io.Reader = obj.Body
	if (obj.ContentType != nil && *obj.ContentType == "application/zstd") ||
		filepath.Ext(loc.key) == ".zst" {
		d, err := zstd.NewReader(obj.Body)
		if err != nil {
			return "", fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer d.Close()
		body = d
	}

	var b strings.Builder
	n, err := io.Copy(&b, io.LimitReader(body, f.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", s3Url, err)
	}
	if n > f.maxBytes {
		return "", fmt.Errorf("file %s is larger than %d bytes", s3Url, f.maxBytes)
	}
	return b.String(), nil
}
