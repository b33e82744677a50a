package backup

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/golang/snappy"
	"golang.org/x/crypto/blake2b"

	"github.com/dd0wney/cluso-rollover/pkg/consistency"
	"github.com/dd0wney/cluso-rollover/pkg/graph"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// sourceStore opens a store holding n nodes in a chain
func sourceStore(t *testing.T, n int) *graph.Store {
	t.Helper()
	s, err := graph.Open(graph.Options{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	err = s.Update(func(tx graph.Tx) error {
		var prev uint64
		for i := 0; i < n; i++ {
			id, err := tx.CreateNode(map[string]string{"i": strconv.Itoa(i)})
			if err != nil {
				return err
			}
			if prev != 0 {
				if _, err := tx.CreateEdge(prev, id, "next"); err != nil {
					return err
				}
			}
			prev = id
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	return s
}

func serve(t *testing.T, h http.Handler) string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func newTestClient(t *testing.T, cfg ClientConfig) *Client {
	t.Helper()
	if cfg.Validator == nil {
		cfg.Validator = consistency.NewChecker(nil)
	}
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

// TestTransfer tests a full snapshot copy between two directories
func TestTransfer(t *testing.T) {
	src := sourceStore(t, 50)
	addr := serve(t, NewHandler(src, nil, nil, nil))
	dest := filepath.Join(t.TempDir(), "member-1")

	consistent, err := newTestClient(t, ClientConfig{}).Transfer(context.Background(), addr, dest)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if !consistent {
		t.Fatal("Expected consistent transfer")
	}
	if _, err := os.Stat(graph.StoreFile(dest) + ".partial"); !os.IsNotExist(err) {
		t.Errorf("Expected partial file to be gone, got %v", err)
	}

	copied, err := graph.Open(graph.Options{Path: dest})
	if err != nil {
		t.Fatalf("Open copy: %v", err)
	}
	defer copied.Close()

	want, _ := src.Stats()
	got, err := copied.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}

type fakeValidator struct {
	err  error
	path string
}

func (v *fakeValidator) Check(_ context.Context, path string) error {
	v.path = path
	return v.err
}

// TestTransferInconsistent tests that a failed self check is reported as consistent=false
func TestTransferInconsistent(t *testing.T) {
	src := sourceStore(t, 3)
	addr := serve(t, NewHandler(src, nil, nil, nil))
	dest := t.TempDir()

	v := &fakeValidator{err: &consistency.Report{Path: dest, Problems: []consistency.Problem{{Check: "log", Detail: "gap"}}}}
	archiver := &fakeArchiver{}
	consistent, err := newTestClient(t, ClientConfig{Validator: v, Archiver: archiver}).Transfer(context.Background(), addr, dest)

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if consistent {
		t.Error("Expected consistent=false")
	}
	if v.path != dest {
		t.Errorf("Expected validator to check %s, got %s", dest, v.path)
	}
	if archiver.calls != 0 {
		t.Error("Inconsistent snapshot was archived")
	}
}

// TestTransferValidatorError tests that a validator that cannot run is a hard error
func TestTransferValidatorError(t *testing.T) {
	src := sourceStore(t, 3)
	addr := serve(t, NewHandler(src, nil, nil, nil))

	v := &fakeValidator{err: errors.New("disk gone")}
	_, err := newTestClient(t, ClientConfig{Validator: v}).Transfer(context.Background(), addr, t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "disk gone") {
		t.Errorf("Expected validator error, got %v", err)
	}
}

// rawHandler streams body and then sets the given trailers
func rawHandler(body []byte, trailers map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names := make([]string, 0, len(trailers))
		for k := range trailers {
			names = append(names, k)
		}
		if len(names) > 0 {
			w.Header().Set("Trailer", strings.Join(names, ", "))
		}
		w.WriteHeader(http.StatusOK)
		sw := snappy.NewBufferedWriter(w)
		_, _ = sw.Write(body)
		_ = sw.Close()
		for k, v := range trailers {
			w.Header().Set(k, v)
		}
	}
}

func checksum(b []byte) string {
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// TestTransferRejectsTornStream tests trailer verification
func TestTransferRejectsTornStream(t *testing.T) {
	body := []byte("not really a store but long enough to matter")

	tests := []struct {
		name     string
		trailers map[string]string
		wantErr  error
	}{
		{"no trailer", nil, ErrTornTransfer},
		{"bad checksum", map[string]string{TrailerChecksum: checksum([]byte("other")), TrailerSize: strconv.Itoa(len(body))}, ErrChecksumMismatch},
		{"bad size", map[string]string{TrailerChecksum: checksum(body), TrailerSize: "7"}, ErrSizeMismatch},
		{"source error", map[string]string{TrailerError: "disk read failed"}, ErrSourceFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := serve(t, rawHandler(body, tt.trailers))
			dest := t.TempDir()

			v := &fakeValidator{}
			consistent, err := newTestClient(t, ClientConfig{Validator: v}).Transfer(context.Background(), addr, dest)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got %v", tt.wantErr, err)
			}
			if consistent {
				t.Error("Expected consistent=false")
			}
			if v.path != "" {
				t.Error("Validator ran on a rejected snapshot")
			}
			entries, _ := os.ReadDir(dest)
			if len(entries) != 0 {
				t.Errorf("Expected empty destination, found %d entries", len(entries))
			}
		})
	}
}

type failingSnapshot struct{}

func (failingSnapshot) WriteSnapshot(w io.Writer) (int64, error) {
	n, _ := w.Write(bytes.Repeat([]byte{1}, 1024))
	return int64(n), errors.New("read error")
}

// TestHandlerSourceFailure tests that a failed snapshot is flagged in the trailer
func TestHandlerSourceFailure(t *testing.T) {
	addr := serve(t, NewHandler(failingSnapshot{}, nil, nil, nil))

	_, err := newTestClient(t, ClientConfig{Validator: &fakeValidator{}}).Transfer(context.Background(), addr, t.TempDir())
	if !errors.Is(err, ErrSourceFailed) {
		t.Errorf("Expected ErrSourceFailed, got %v", err)
	}
}

// TestHandlerMethod tests that only GET is served
func TestHandlerMethod(t *testing.T) {
	h := NewHandler(failingSnapshot{}, nil, nil, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, Path, nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

// TestTransferAuth tests bearer token enforcement
func TestTransferAuth(t *testing.T) {
	src := sourceStore(t, 3)
	tokens, err := NewTokens(testSecret)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	addr := serve(t, NewHandler(src, tokens, nil, nil))

	tests := []struct {
		name    string
		secret  string
		wantErr bool
	}{
		{"matching secret", testSecret, false},
		{"no token", "", true},
		{"wrong secret", strings.Repeat("x", 32), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, ClientConfig{Secret: tt.secret})
			consistent, err := c.Transfer(context.Background(), addr, t.TempDir())
			if tt.wantErr {
				if !errors.Is(err, ErrBadStatus) || !strings.Contains(err.Error(), "401") {
					t.Errorf("Expected 401, got %v", err)
				}
				return
			}
			if err != nil || !consistent {
				t.Errorf("Expected consistent transfer, got %v, %v", consistent, err)
			}
		})
	}
}

// TestTokens tests token issue and verification
func TestTokens(t *testing.T) {
	if _, err := NewTokens("short"); !errors.Is(err, ErrShortSecret) {
		t.Fatalf("Expected ErrShortSecret, got %v", err)
	}

	tokens, _ := NewTokens(testSecret)
	token, err := tokens.Issue("coordinator")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	subject, err := tokens.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if subject != "coordinator" {
		t.Errorf("Expected subject coordinator, got %q", subject)
	}

	if _, err := tokens.Verify(""); !errors.Is(err, ErrMissingToken) {
		t.Errorf("Expected ErrMissingToken, got %v", err)
	}
	if _, err := tokens.Verify(token + "x"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for tampered token, got %v", err)
	}

	tokens.now = func() time.Time { return time.Now().Add(2 * TokenTTL) }
	if _, err := tokens.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for expired token, got %v", err)
	}
}

// TestBearer tests Authorization header parsing
func TestBearer(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"":             "",
		"Bearer":       "",
	}
	for header, want := range tests {
		if got := bearer(header); got != want {
			t.Errorf("bearer(%q) = %q, want %q", header, got, want)
		}
	}
}

type fakeArchiver struct {
	calls int
	path  string
	err   error
}

func (a *fakeArchiver) Archive(_ context.Context, path string) error {
	a.calls++
	a.path = path
	return a.err
}

// TestTransferArchives tests that consistent snapshots are archived and archive errors are not fatal
func TestTransferArchives(t *testing.T) {
	src := sourceStore(t, 3)
	addr := serve(t, NewHandler(src, nil, nil, nil))

	for _, archiveErr := range []error{nil, errors.New("bucket missing")} {
		dest := t.TempDir()
		a := &fakeArchiver{err: archiveErr}
		consistent, err := newTestClient(t, ClientConfig{Archiver: a}).Transfer(context.Background(), addr, dest)
		if err != nil || !consistent {
			t.Fatalf("Expected consistent transfer, got %v, %v", consistent, err)
		}
		if a.calls != 1 || a.path != dest {
			t.Errorf("Expected one archive of %s, got %d of %s", dest, a.calls, a.path)
		}
	}
}

type fakeS3 struct {
	mu     sync.Mutex
	bucket string
	key    string
	body   []byte
	err    error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.bucket, f.key, f.body = *in.Bucket, *in.Key, body
	return &s3.PutObjectOutput{}, nil
}

// TestS3Archiver tests object naming and upload
func TestS3Archiver(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "member-2")
	if err := os.MkdirAll(dir, 0750); err != nil {
		t.Fatal(err)
	}
	content := []byte("store bytes")
	if err := os.WriteFile(graph.StoreFile(dir), content, 0600); err != nil {
		t.Fatal(err)
	}

	api := &fakeS3{}
	a := NewArchiver(api, ArchiveConfig{Bucket: "snapshots", Prefix: "rollover"}, "run-1", nil, nil)

	if got := a.Key(dir + "/"); got != "rollover/run-1/member-2.db" {
		t.Errorf("Unexpected key %q", got)
	}
	if err := a.Archive(context.Background(), dir); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if api.bucket != "snapshots" || api.key != "rollover/run-1/member-2.db" {
		t.Errorf("Unexpected object s3://%s/%s", api.bucket, api.key)
	}
	if !bytes.Equal(api.body, content) {
		t.Errorf("Uploaded %q, want %q", api.body, content)
	}

	api.err = fmt.Errorf("access denied")
	if err := a.Archive(context.Background(), dir); err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Errorf("Expected upload error, got %v", err)
	}
}

// TestNewS3ArchiverRequiresBucket tests the archive config guard
func TestNewS3ArchiverRequiresBucket(t *testing.T) {
	if _, err := NewS3Archiver(context.Background(), ArchiveConfig{}, "run", nil, nil); !errors.Is(err, ErrBucketRequired) {
		t.Errorf("Expected ErrBucketRequired, got %v", err)
	}
}
