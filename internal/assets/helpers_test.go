package assets

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

const (
	testBucket = "insightdash-client"
	testPrefix = "releases"
	testParam  = "/insightdash/client/sha256"
)

func sha256hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// makeTarGz builds a gzipped tarball from path -> content pairs.
func makeTarGz(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for name, body := range entries {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatalf("write header %q: %v", name, err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("write %q: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

func makeTarGzEntry(t *testing.T, hdr *tar.Header) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatalf("write header: %v", err)
	}
	// oversized entries are written header only; the size check fires
	// before the body is read
	if hdr.Typeflag == tar.TypeReg && hdr.Size > 0 && hdr.Size <= maxSingleFile {
		if _, err := tw.Write(bytes.Repeat([]byte("x"), int(hdr.Size))); err != nil {
			t.Fatalf("write body: %v", err)
		}
	}
	_ = tw.Flush()
	_ = gw.Close()
	return buf.Bytes()
}

type fakeSSM struct {
	mu    sync.Mutex
	value string
	err   error
	calls int
}

func (f *fakeSSM) set(v string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value, f.err = v, err
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Name: in.Name, Value: aws.String(f.value)}}, nil
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	keys    []string
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) put(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	f.keys = append(f.keys, key)
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("NoSuchKey: " + key)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func newTestLoader(t *testing.T, ssmc *fakeSSM, s3c *fakeS3) *Loader {
	t.Helper()
	l, err := NewLoader(t.Context(), LoaderOptions{
		SSMParam:  testParam,
		S3Bucket:  testBucket,
		S3Prefix:  testPrefix,
		SSMClient: ssmc,
		S3Client:  s3c,
	})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	return l
}

// publish stores a bundle built from files and returns its hash.
func publish(t *testing.T, s3c *fakeS3, files map[string]string) string {
	t.Helper()
	data := makeTarGz(t, files)
	hash := sha256hex(data)
	s3c.put(testPrefix+"/"+hash+".tar.gz", data)
	return hash
}

type fakeWatcherMetrics struct {
	polls, swaps int
	errors       map[string]int
	stale        []bool
	loads        int
	bundleSHA    string
	bundleAt     time.Time
}

func newFakeWatcherMetrics() *fakeWatcherMetrics {
	return &fakeWatcherMetrics{errors: map[string]int{}}
}

func (m *fakeWatcherMetrics) IncWatcherPolls()                { m.polls++ }
func (m *fakeWatcherMetrics) IncWatcherSwaps()                { m.swaps++ }
func (m *fakeWatcherMetrics) IncWatcherError(stage string)    { m.errors[stage]++ }
func (m *fakeWatcherMetrics) SetWatcherStale(stale bool)      { m.stale = append(m.stale, stale) }
func (m *fakeWatcherMetrics) ObserveBundleLoad(time.Duration) { m.loads++ }
func (m *fakeWatcherMetrics) SetBundle(sha string, at time.Time) {
	m.bundleSHA, m.bundleAt = sha, at
}
