package member

import (
	"io"

	"github.com/dd0wney/cluso-rollover/pkg/logging"
)

// closers is a LIFO stack of resources opened while a member starts.
// On a failed start everything opened so far is released in reverse
// order; on success the stack is handed to Close.
//
//	c := newClosers(logger)
//	defer c.release() // no-op once kept
//
//	store, err := graph.Open(opts)
//	if err != nil {
//	    return nil, err
//	}
//	c.add("store", store)
//	...
//	c.keep()
type closers struct {
	logger    logging.Logger
	resources []namedCloser
	kept      bool
}

// namedCloser wraps a closer with a descriptive name for logging
type namedCloser struct {
	name   string
	closer io.Closer
}

// closeFunc adapts a plain function to io.Closer
type closeFunc func() error

func (f closeFunc) Close() error { return f() }

func newClosers(logger logging.Logger) *closers {
	return &closers{logger: logger, resources: make([]namedCloser, 0, 8)}
}

// add registers a resource; later resources are closed first
func (c *closers) add(name string, closer io.Closer) {
	c.resources = append(c.resources, namedCloser{name: name, closer: closer})
}

// addFunc registers a close function
func (c *closers) addFunc(name string, fn func() error) {
	c.add(name, closeFunc(fn))
}

// keep stops release from closing anything
func (c *closers) keep() {
	c.kept = true
}

// release closes everything unless keep was called
func (c *closers) release() {
	if c.kept {
		return
	}
	_ = c.closeAll()
}

// closeAll closes every resource in reverse order and returns the first
// error. Failures are logged and do not stop the remaining closes.
func (c *closers) closeAll() error {
	var firstErr error
	for i := len(c.resources) - 1; i >= 0; i-- {
		r := c.resources[i]
		if r.closer == nil {
			continue
		}
		if err := r.closer.Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			c.logger.Warn("failed to close resource", logging.String("resource", r.name), logging.Error(err))
		}
	}
	c.resources = c.resources[:0]
	return firstErr
}

// len returns the number of registered resources
func (c *closers) len() int {
	return len(c.resources)
}
