package testutils

import (
	"errors"
	"sync"
	"time"
)

// ErrInjected is the default error returned by a planned fault.
var ErrInjected = errors.New("injected failure")

type fault struct {
	remaining int // < 0 fails forever
	err       error
}

// Faults plans failures per operation name. The zero value injects nothing.
type Faults struct {
	mu    sync.Mutex
	plan  map[string]*fault
	delay map[string]time.Duration
	calls map[string]int
}

// FailNext makes the next n calls of op return err (ErrInjected if nil).
func (f *Faults) FailNext(op string, n int, err error) {
	f.set(op, &fault{remaining: n, err: err})
}

// FailAlways makes every call of op fail until Clear.
func (f *Faults) FailAlways(op string, err error) {
	f.set(op, &fault{remaining: -1, err: err})
}

// Delay makes op sleep for d (or until its context ends) before running.
func (f *Faults) Delay(op string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delay == nil {
		f.delay = make(map[string]time.Duration)
	}
	f.delay[op] = d
}

func (f *Faults) Clear(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.plan, op)
	delete(f.delay, op)
}

// Calls reports how many times op was invoked.
func (f *Faults) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Faults) set(op string, ft *fault) {
	if ft.err == nil {
		ft.err = ErrInjected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.plan == nil {
		f.plan = make(map[string]*fault)
	}
	f.plan[op] = ft
}

// check records a call of op and returns the planned error, if any.
func (f *Faults) check(op string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
	d := f.delay[op]

	ft, ok := f.plan[op]
	if !ok || ft.remaining == 0 {
		return d, nil
	}
	if ft.remaining > 0 {
		ft.remaining--
	}
	return d, ft.err
}
