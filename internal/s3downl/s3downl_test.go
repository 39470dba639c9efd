package s3downl

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseS3Url(t *testing.T) {
	loc, err := parseS3Url("https://proglv-tests.s3.eu-central-1.amazonaws.com/inputs/1.in.zst")
	require.NoError(t, err)
	assert.Equal(t, location{bucket: "proglv-tests", key: "inputs/1.in.zst"}, loc)

	loc, err = parseS3Url("s3://proglv-tests/inputs/2.in")
	require.NoError(t, err)
	assert.Equal(t, location{bucket: "proglv-tests", key: "inputs/2.in"}, loc)

	for _, bad := range []string{
		"http://proglv-tests.s3.amazonaws.com/x",
		"https://example.com/x",
		"s3://bucket-only",
		"::",
	} {
		_, err := parseS3Url(bad)
		assert.Error(t, err, bad)
	}
}

type fakeGetter struct {
	body        []byte
	contentType *string
	input       *s3.GetObjectInput
}

func (f *fakeGetter) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.input = params
	return &s3.GetObjectOutput{
		Body:        io.NopCloser(bytes.NewReader(f.body)),
		ContentType: f.contentType,
	}, nil
}

func newTestFetcher(g objectGetter, maxBytes int64) *Fetcher {
	return &Fetcher{client: g, maxBytes: maxBytes, log: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestFetchZstd(t *testing.T) {
	var compressed bytes.Buffer
	w, err := zstd.NewWriter(&compressed)
	require.NoError(t, err)
	_, err = w.Write([]byte("1 2\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	g := &fakeGetter{body: compressed.Bytes()}
	f := newTestFetcher(g, 1024)

	got, err := f.Fetch(context.Background(), "s3://tests/sum/1.in.zst")
	require.NoError(t, err)
	assert.Equal(t, "1 2\n", got)
	assert.Equal(t, "tests", *g.input.Bucket)
	assert.Equal(t, "sum/1.in.zst", *g.input.Key)

	g.contentType = aws.String("application/zstd")
	got, err = f.Fetch(context.Background(), "s3://tests/sum/1.in")
	require.NoError(t, err)
	assert.Equal(t, "1 2\n", got)
}

func TestFetchPlainAndLimit(t *testing.T) {
	f := newTestFetcher(&fakeGetter{body: []byte("hello")}, 5)
	got, err := f.Fetch(context.Background(), "s3://tests/a.in")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	f = newTestFetcher(&fakeGetter{body: []byte("hello!")}, 5)
	_, err = f.Fetch(context.Background(), "s3://tests/a.in")
	assert.ErrorContains(t, err, "larger than 5 bytes")
}
