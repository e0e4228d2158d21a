package lsp

import (
	"encoding/json"
	"sync"
	"time"
)

// response is what a waiting caller receives.
type response struct {
	result json.RawMessage
	err    error
}

type pendingRequest struct {
	method   string
	started  time.Time
	done     chan response // buffered, receives at most once
	timedOut bool
}

// resolution describes what happened to an incoming response.
type resolution int

const (
	resolvedUnknown resolution = iota // no entry for the id
	resolvedDelivered
	resolvedLate // entry had timed out and was waiting out its grace window
)

// pendingTable correlates request ids with waiting callers.
// It is owned by exactly one Client.
type pendingTable struct {
	mu      sync.Mutex
	nextID  int64
	entries map[int64]*pendingRequest
	grace   time.Duration
}

func newPendingTable(grace time.Duration) *pendingTable {
	return &pendingTable{
		entries: make(map[int64]*pendingRequest),
		grace:   grace,
	}
}

// add registers a request and returns its id and completion channel.
func (t *pendingTable) add(method string) (int64, <-chan response) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	p := &pendingRequest{
		method:  method,
		started: time.Now(),
		done:    make(chan response, 1),
	}
	t.entries[t.nextID] = p
	return t.nextID, p.done
}

// resolve delivers a response to the caller waiting on id.
// The returned method and start time are set for delivered and late responses.
func (t *pendingTable) resolve(id int64, resp response) (resolution, string, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.entries[id]
	if !ok {
		return resolvedUnknown, "", time.Time{}
	}
	delete(t.entries, id)
	if p.timedOut {
		return resolvedLate, p.method, p.started
	}
	p.done <- resp
	return resolvedDelivered, p.method, p.started
}

// expire marks id as timed out and keeps a placeholder for the grace window.
// If a response won the race it is returned with ok=true.
func (t *pendingTable) expire(id int64, done <-chan response) (response, bool) {
	t.mu.Lock()
	p, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		// Removed by resolve or failAll, both of which deliver first.
		return <-done, true
	}
	p.timedOut = true
	t.mu.Unlock()

	time.AfterFunc(t.grace, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.entries[id] == p {
			delete(t.entries, id)
		}
	})
	return response{}, false
}

// remove drops id without delivering, for requests that were never sent.
func (t *pendingTable) remove(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

// failAll rejects every waiting caller with err and clears the table.
func (t *pendingTable) failAll(err error) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for id, p := range t.entries {
		delete(t.entries, id)
		if p.timedOut {
			continue
		}
		p.done <- response{err: err}
		n++
	}
	return n
}

// len returns the number of entries, including timed-out placeholders.
func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
