package display

import (
	"strconv"
	"sync"
)

// State is what a Recorder currently shows.
type State struct {
	Loading bool   `json:"loading,omitempty"`
	Value   *int64 `json:"value,omitempty"`
	Text    string `json:"text"`
	Reason  string `json:"reason,omitempty"`
}

// Recorder is a Renderer that remembers its last state, for JSON output.
type Recorder struct {
	mu    sync.Mutex
	state State
	calls []string
}

// Compile-time check that Recorder implements Renderer.
var _ Renderer = (*Recorder)(nil)

func (r *Recorder) SetLoading() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = State{Loading: true}
	r.calls = append(r.calls, "loading")
}

func (r *Recorder) SetTotal(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = State{Value: &n, Text: strconv.FormatInt(n, 10)}
	r.calls = append(r.calls, "total")
}

func (r *Recorder) SetFailure(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = State{Text: Failure, Reason: reason}
	r.calls = append(r.calls, "failure")
}

// State returns the current state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Calls lists the transitions seen so far: "loading", "total" or "failure".
func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}
