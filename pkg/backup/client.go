package backup

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang/snappy"
	"golang.org/x/crypto/blake2b"

	"github.com/dd0wney/cluso-rollover/pkg/consistency"
	"github.com/dd0wney/cluso-rollover/pkg/graph"
	"github.com/dd0wney/cluso-rollover/pkg/logging"
	"github.com/dd0wney/cluso-rollover/pkg/metrics"
)

// Archiver keeps a copy of a received store
type Archiver interface {
	Archive(ctx context.Context, storagePath string) error
}

// ClientConfig configures a transfer client
type ClientConfig struct {
	// Secret signs bearer tokens; empty sends unauthenticated requests
	Secret string

	// Subject names the requester inside tokens
	Subject string

	// Validator checks every received store. Required.
	Validator Validator

	// Archiver, when set, uploads every consistent store
	Archiver Archiver

	HTTPClient *http.Client
	Logger     logging.Logger
	Metrics    *metrics.Registry
}

// Client pulls snapshots from a member's backup endpoint
type Client struct {
	http      *http.Client
	tokens    *Tokens
	subject   string
	validator Validator
	archiver  Archiver
	logger    logging.Logger
	metrics   *metrics.Registry
}

// NewClient creates a transfer client
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Validator == nil {
		return nil, errors.New("backup client requires a validator")
	}
	c := &Client{
		http:      cfg.HTTPClient,
		subject:   cfg.Subject,
		validator: cfg.Validator,
		archiver:  cfg.Archiver,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
	if cfg.Secret != "" {
		tokens, err := NewTokens(cfg.Secret)
		if err != nil {
			return nil, err
		}
		c.tokens = tokens
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.subject == "" {
		c.subject = "graphdb-rollover"
	}
	if c.logger == nil {
		c.logger = logging.NewNopLogger()
	}
	c.logger = c.logger.With(logging.Component("backup"))
	if c.metrics == nil {
		c.metrics = metrics.NewRegistry()
	}
	return c, nil
}

// Transfer copies the store served at sourceAddr into destDir. It returns
// an error when the copy could not be made and consistent=false when the
// copy was made but failed validation.
func (c *Client) Transfer(ctx context.Context, sourceAddr, destDir string) (bool, error) {
	start := time.Now()
	logger := c.logger.With(logging.Addr(sourceAddr), logging.Path(destDir))

	n, err := c.fetch(ctx, sourceAddr, destDir)
	c.metrics.RecordTransfer(DirectionReceived, n, time.Since(start), err)
	if err != nil {
		logger.Error("snapshot transfer failed", logging.Error(err))
		return false, err
	}

	if err := c.validator.Check(ctx, destDir); err != nil {
		if errors.Is(err, consistency.ErrInconsistent) {
			logger.Error("received snapshot is inconsistent", logging.Error(err))
			return false, nil
		}
		return false, fmt.Errorf("validate %s: %w", destDir, err)
	}
	logger.Info("snapshot received", logging.Int64("bytes", n), logging.Latency(time.Since(start)))

	if c.archiver != nil {
		if err := c.archiver.Archive(ctx, destDir); err != nil {
			logger.Warn("snapshot archive failed", logging.Error(err))
		}
	}
	return true, nil
}

// fetch downloads, verifies and installs the snapshot
func (c *Client) fetch(ctx context.Context, sourceAddr, destDir string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+sourceAddr+Path, nil)
	if err != nil {
		return 0, err
	}
	if c.tokens != nil {
		token, err := c.tokens.Issue(c.subject)
		if err != nil {
			return 0, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request snapshot from %s: %w", sourceAddr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("%w: %s: %s", ErrBadStatus, resp.Status, strings.TrimSpace(string(body)))
	}

	if err := os.MkdirAll(destDir, 0750); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", destDir, err)
	}
	final := graph.StoreFile(destDir)
	partial := final + ".partial"

	n, sum, err := receive(resp.Body, partial)
	if err != nil {
		_ = os.Remove(partial)
		return n, err
	}
	if err := verifyTrailer(resp.Trailer, n, sum); err != nil {
		_ = os.Remove(partial)
		return n, err
	}
	if err := os.Rename(partial, final); err != nil {
		_ = os.Remove(partial)
		return n, fmt.Errorf("failed to install snapshot: %w", err)
	}
	return n, syncDir(destDir)
}

// receive decodes body into path and returns the raw size and checksum
func receive(body io.Reader, path string) (int64, []byte, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	hasher, _ := blake2b.New256(nil)
	n, err := io.Copy(io.MultiWriter(f, hasher), snappy.NewReader(body))
	if err == nil {
		// drain so the trailers arrive
		_, err = io.Copy(io.Discard, body)
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, nil, fmt.Errorf("failed to receive snapshot: %w", err)
	}
	return n, hasher.Sum(nil), nil
}

func verifyTrailer(trailer http.Header, n int64, sum []byte) error {
	if msg := trailer.Get(TrailerError); msg != "" {
		return fmt.Errorf("%w: %s", ErrSourceFailed, msg)
	}
	wantSum := trailer.Get(TrailerChecksum)
	wantSize := trailer.Get(TrailerSize)
	if wantSum == "" || wantSize == "" {
		return ErrTornTransfer
	}
	size, err := strconv.ParseInt(wantSize, 10, 64)
	if err != nil || size != n {
		return fmt.Errorf("%w: received %d, source sent %s", ErrSizeMismatch, n, wantSize)
	}
	if got := hex.EncodeToString(sum); got != wantSum {
		return fmt.Errorf("%w: received %s, source sent %s", ErrChecksumMismatch, got, wantSum)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(filepath.Clean(dir))
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
