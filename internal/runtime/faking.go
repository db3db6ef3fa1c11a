package runtime

import (
	"github.com/stretchr/testify/assert"

	errspkg "github.com/drblury/herald/internal/runtime/errors"
	"github.com/drblury/herald/internal/runtime/messages"
	"github.com/drblury/herald/transport/fake"
)

// Fake swaps every connection for an in-memory recorder and returns it.
// Calling Fake again returns the same recorder.
func (h *Herald) Fake() *fake.Connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fake == nil {
		h.fake = fake.New()
	}
	return h.fake
}

// StopFaking restores the configured connections.
func (h *Herald) StopFaking() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fake = nil
}

// Faking reports whether Fake is active.
func (h *Herald) Faking() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fake != nil
}

func (h *Herald) recorder() *fake.Connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fake
}

// Published returns the recorded messages of eventType matching every filter.
// It returns nil when not faking.
func (h *Herald) Published(eventType string, filters ...func(*messages.Message) bool) []*messages.Message {
	rec := h.recorder()
	if rec == nil {
		return nil
	}
	return rec.Published(eventType, filters...)
}

// AssertPublished asserts that a message of eventType matching every filter
// was published while faking.
func (h *Herald) AssertPublished(t assert.TestingT, eventType string, filters ...func(*messages.Message) bool) bool {
	rec, ok := h.requireFake(t)
	if !ok {
		return false
	}
	return rec.AssertPublished(t, eventType, filters...)
}

// AssertPublishedTimes asserts that exactly n messages of eventType were
// published while faking.
func (h *Herald) AssertPublishedTimes(t assert.TestingT, eventType string, n int) bool {
	rec, ok := h.requireFake(t)
	if !ok {
		return false
	}
	return rec.AssertPublishedTimes(t, eventType, n)
}

// AssertNothingPublished asserts that nothing was published while faking.
func (h *Herald) AssertNothingPublished(t assert.TestingT) bool {
	rec, ok := h.requireFake(t)
	if !ok {
		return false
	}
	return rec.AssertNothingPublished(t)
}

func (h *Herald) requireFake(t assert.TestingT) (*fake.Connection, bool) {
	if th, ok := t.(interface{ Helper() }); ok {
		th.Helper()
	}
	rec := h.recorder()
	if rec == nil {
		return nil, assert.Fail(t, errspkg.ErrNotFaking.Error())
	}
	return rec, true
}
