package backup

import (
	"encoding/hex"
	"hash"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/golang/snappy"
	"golang.org/x/crypto/blake2b"

	"github.com/dd0wney/cluso-rollover/pkg/logging"
	"github.com/dd0wney/cluso-rollover/pkg/metrics"
)

// Handler serves store snapshots
type Handler struct {
	source  Snapshotter
	tokens  *Tokens // nil disables auth
	logger  logging.Logger
	metrics *metrics.Registry
}

// NewHandler creates a snapshot handler for source. tokens may be nil to
// serve without authentication.
func NewHandler(source Snapshotter, tokens *Tokens, logger logging.Logger, reg *metrics.Registry) *Handler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	return &Handler{
		source:  source,
		tokens:  tokens,
		logger:  logger.With(logging.Component("backup")),
		metrics: reg,
	}
}

// Register mounts the handler on mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle(Path, h)
}

// ServeHTTP streams one snapshot
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requester := r.RemoteAddr
	if h.tokens != nil {
		subject, err := h.tokens.Verify(bearer(r.Header.Get("Authorization")))
		if err != nil {
			h.logger.Warn("backup request rejected", logging.Addr(r.RemoteAddr), logging.Error(err))
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		requester = subject
	}

	start := time.Now()
	hasher, _ := blake2b.New256(nil)

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Trailer", TrailerChecksum+", "+TrailerSize+", "+TrailerError)
	w.WriteHeader(http.StatusOK)

	sw := snappy.NewBufferedWriter(w)
	n, err := h.source.WriteSnapshot(&teeWriter{w: sw, h: hasher})
	if cerr := sw.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		w.Header().Set(TrailerError, err.Error())
		h.metrics.RecordTransfer(DirectionSent, n, time.Since(start), err)
		h.logger.Error("snapshot stream failed", logging.String("requester", requester), logging.Error(err))
		return
	}

	w.Header().Set(TrailerChecksum, hex.EncodeToString(hasher.Sum(nil)))
	w.Header().Set(TrailerSize, strconv.FormatInt(n, 10))

	h.metrics.RecordTransfer(DirectionSent, n, time.Since(start), nil)
	h.logger.Info("snapshot sent",
		logging.String("requester", requester),
		logging.Int64("bytes", n),
		logging.Latency(time.Since(start)))
}

// teeWriter hashes exactly the bytes accepted by w
type teeWriter struct {
	w io.Writer
	h hash.Hash
}

func (t *teeWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	_, _ = t.h.Write(p[:n])
	return n, err
}
