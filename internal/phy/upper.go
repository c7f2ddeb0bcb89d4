package phy

import (
	"context"
	"sync"

	"github.com/signalsfoundry/snr-decider/core"
)

// Reception is a decoded signal as seen by the upper layer.
type Reception struct {
	Signal *core.Signal
	Result core.Result
}

// Recorder is an Upper that keeps everything it is handed, in order.
type Recorder struct {
	mu        sync.Mutex
	decoded   []Reception
	answered  []*core.SenseRequest
	onDecoded func(Reception)
}

var _ Upper = (*Recorder)(nil)

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// OnDecoded registers a hook invoked for every decoded signal.
func (r *Recorder) OnDecoded(fn func(Reception)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDecoded = fn
}

// Decoded implements Upper.
func (r *Recorder) Decoded(_ context.Context, sig *core.Signal, res core.Result) {
	rec := Reception{Signal: sig, Result: res}
	r.mu.Lock()
	r.decoded = append(r.decoded, rec)
	hook := r.onDecoded
	r.mu.Unlock()
	if hook != nil {
		hook(rec)
	}
}

// SenseAnswered implements Upper.
func (r *Recorder) SenseAnswered(_ context.Context, req *core.SenseRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answered = append(r.answered, req)
}

// Receptions returns a copy of the decoded signals.
func (r *Recorder) Receptions() []Reception {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Reception, len(r.decoded))
	copy(out, r.decoded)
	return out
}

// SenseAnswers returns a copy of the answered sense requests.
func (r *Recorder) SenseAnswers() []*core.SenseRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*core.SenseRequest, len(r.answered))
	copy(out, r.answered)
	return out
}
