package worker

import (
	"sync"
	"testing"
	"time"

	"flexalert/internal/alert"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	seen []string
}

func (d *recordingDispatcher) Dispatch(env alert.Envelope) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = append(d.seen, env.RuleName)
}

type panickingDispatcher struct{}

func (panickingDispatcher) Dispatch(env alert.Envelope) { panic("boom") }

func TestPoolDispatchesAllJobs(t *testing.T) {
	jobs := make(chan alert.Envelope, 4)
	d := &recordingDispatcher{}
	p := NewPool(Config{Dispatcher: d, Jobs: jobs, Workers: 2})
	p.Start()

	for i := 0; i < 4; i++ {
		jobs <- alert.Envelope{RuleName: "r"}
	}
	close(jobs)
	p.Stop()

	if p.Stats().Processed != 4 {
		t.Fatalf("Processed = %d, want 4", p.Stats().Processed)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.seen) != 4 {
		t.Fatalf("seen = %v, want 4 entries", d.seen)
	}
}

func TestPoolRecoversFromPanickingDispatcher(t *testing.T) {
	jobs := make(chan alert.Envelope, 1)
	p := NewPool(Config{Dispatcher: panickingDispatcher{}, Jobs: jobs, Workers: 1})
	p.Start()

	jobs <- alert.Envelope{RuleName: "r"}
	// Give the worker a moment to process before stopping.
	time.Sleep(20 * time.Millisecond)
	close(jobs)
	p.Stop()

	if p.Stats().Failed != 1 {
		t.Fatalf("Failed = %d, want 1", p.Stats().Failed)
	}
}

func TestPoolDefaultsWorkerCount(t *testing.T) {
	p := NewPool(Config{Dispatcher: &recordingDispatcher{}, Jobs: make(chan alert.Envelope)})
	if p.workers != 4 {
		t.Fatalf("workers = %d, want default 4", p.workers)
	}
}
