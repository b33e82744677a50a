package journal

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dd0wney/cluso-rollover/pkg/logging"
	"github.com/dd0wney/cluso-rollover/pkg/rollover"
)

// ErrChainBroken is returned when a journal line does not follow its
// predecessor
var ErrChainBroken = errors.New("journal hash chain broken")

// Entry is one journal line. Each line carries the hash of the line before
// it, so edits and deletions show up on Verify.
type Entry struct {
	rollover.Event
	PrevHash string `json:"prev_hash,omitempty"`
	Hash     string `json:"hash,omitempty"`
}

// seal computes the entry hash over the entry without it
func (e *Entry) seal() error {
	e.Hash = ""
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(data)
	e.Hash = hex.EncodeToString(sum[:])
	return nil
}

// FileRecorder appends events to a JSON lines file
type FileRecorder struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	lastHash string
	count    int
	logger   logging.Logger
	err      error
}

// OpenFile opens path for appending, continuing the hash chain of any
// events already in it
func OpenFile(path string, logger logging.Logger) (*FileRecorder, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	entries, err := ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	r := &FileRecorder{
		file:   f,
		writer: bufio.NewWriter(f),
		logger: logger.With(logging.Component("journal"), logging.Path(path)),
	}
	if n := len(entries); n > 0 {
		r.lastHash = entries[n-1].Hash
	}
	return r, nil
}

// Observe appends e. A write failure is logged once and kept for Close;
// later events are dropped.
func (r *FileRecorder) Observe(e rollover.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	if err := r.write(e); err != nil {
		r.err = err
		r.logger.Error("journal write failed, dropping further events", logging.Error(err))
	}
}

func (r *FileRecorder) write(e rollover.Event) error {
	entry := Entry{Event: e, PrevHash: r.lastHash}
	if err := entry.seal(); err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := r.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := r.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush event: %w", err)
	}
	if err := r.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	r.lastHash = entry.Hash
	r.count++
	return nil
}

// Count returns the number of events written since open
func (r *FileRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Close closes the file and returns the first write error, if any
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.err, r.writer.Flush(), r.file.Close())
}

// ReadFile returns every entry in a journal file
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	return entries, nil
}

// Verify checks the hash chain of a journal file
func Verify(path string) error {
	entries, err := ReadFile(path)
	if err != nil {
		return err
	}
	prev := ""
	for i, e := range entries {
		if e.PrevHash != prev {
			return fmt.Errorf("%w: entry %d does not follow entry %d", ErrChainBroken, i+1, i)
		}
		want := e.Hash
		if err := e.seal(); err != nil {
			return err
		}
		if e.Hash != want {
			return fmt.Errorf("%w: entry %d was modified", ErrChainBroken, i+1)
		}
		prev = want
	}
	return nil
}

// Runs groups entries by run id
func Runs(entries []Entry) map[string][]rollover.Event {
	runs := make(map[string][]rollover.Event)
	for _, e := range entries {
		runs[e.RunID] = append(runs[e.RunID], e.Event)
	}
	return runs
}
