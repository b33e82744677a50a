package member

import (
	"errors"
	"testing"

	"github.com/dd0wney/cluso-rollover/pkg/logging"
)

// recordingCloser appends its name to a shared slice when closed
type recordingCloser struct {
	name  string
	order *[]string
	err   error
}

func (r *recordingCloser) Close() error {
	*r.order = append(*r.order, r.name)
	return r.err
}

// TestClosersReverseOrder tests that resources close last-in first-out
func TestClosersReverseOrder(t *testing.T) {
	var order []string
	c := newClosers(logging.NewNopLogger())
	for _, name := range []string{"store", "cluster socket", "replication socket"} {
		c.add(name, &recordingCloser{name: name, order: &order})
	}
	if c.len() != 3 {
		t.Fatalf("Expected 3 resources, got %d", c.len())
	}

	c.release()

	want := []string{"replication socket", "cluster socket", "store"}
	if len(order) != len(want) {
		t.Fatalf("Expected %d closes, got %v", len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("Close %d: expected %s, got %s", i, want[i], order[i])
		}
	}
	if c.len() != 0 {
		t.Errorf("Expected empty stack after release, got %d", c.len())
	}
}

// TestClosersKeep tests that kept resources survive release
func TestClosersKeep(t *testing.T) {
	var order []string
	c := newClosers(logging.NewNopLogger())
	c.add("store", &recordingCloser{name: "store", order: &order})
	c.keep()
	c.release()

	if len(order) != 0 {
		t.Errorf("Expected no closes after keep, got %v", order)
	}
	if c.len() != 1 {
		t.Errorf("Expected resource to stay registered, got %d", c.len())
	}
}

// TestClosersFirstError tests that closeAll reports the first failure and
// still closes everything
func TestClosersFirstError(t *testing.T) {
	var order []string
	errSocket := errors.New("socket close failed")
	errStore := errors.New("store close failed")
	logger := logging.NewCaptureLogger()

	c := newClosers(logger)
	c.add("store", &recordingCloser{name: "store", order: &order, err: errStore})
	c.addFunc("listener", func() error {
		order = append(order, "listener")
		return nil
	})
	c.add("socket", &recordingCloser{name: "socket", order: &order, err: errSocket})

	err := c.closeAll()
	if !errors.Is(err, errSocket) {
		t.Errorf("Expected first error %v, got %v", errSocket, err)
	}
	if len(order) != 3 {
		t.Errorf("Expected all resources closed, got %v", order)
	}
	if n := logger.Count(logging.WarnLevel); n != 2 {
		t.Errorf("Expected 2 warnings, got %d", n)
	}
}
