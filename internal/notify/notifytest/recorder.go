// Package notifytest provides a recording notify.Notifier for tests.
package notifytest

import (
	"context"
	"sync"
)

type Sent struct {
	Destination string
	Text        string
}

type Recorder struct {
	mu   sync.Mutex
	sent []Sent
	fail map[string]error
}

func NewRecorder() *Recorder {
	return &Recorder{fail: make(map[string]error)}
}

// FailFor makes every send to destination return err.
func (r *Recorder) FailFor(destination string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[destination] = err
}

func (r *Recorder) Send(_ context.Context, destination, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.fail[destination]; ok {
		return err
	}
	r.sent = append(r.sent, Sent{Destination: destination, Text: text})
	return nil
}

func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}
