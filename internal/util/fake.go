package util

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/berfenger/battexec/internal/core/domain"
)

var ErrFakeDevice = errors.New("fake device failure")

type FakeCall struct {
	Kind      domain.CommandKind
	Handle    string
	Value     string
	Procedure string
	Params    map[string]any
}

// FakeCommander records every device call. Handles or procedures listed in
// Fail fail the given number of times (-1 means always).
type FakeCommander struct {
	mu     sync.Mutex
	calls  []FakeCall
	reads  int
	Fail   map[string]int
	States map[string]string
}

func NewFakeCommander() *FakeCommander {
	return &FakeCommander{
		Fail:   map[string]int{},
		States: map[string]string{},
	}
}

func (f *FakeCommander) FailAlways(key string) *FakeCommander {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Fail[key] = -1
	return f
}

func (f *FakeCommander) FailTimes(key string, n int) *FakeCommander {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Fail[key] = n
	return f
}

func (f *FakeCommander) SetState(handle, value string) *FakeCommander {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.States[handle] = value
	return f
}

func (f *FakeCommander) ReadState(_ context.Context, handle string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	value, ok := f.States[handle]
	if !ok {
		return "", fmt.Errorf("unknown entity %s", handle)
	}
	return value, nil
}

func (f *FakeCommander) WriteValue(_ context.Context, handle string, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, FakeCall{Kind: domain.COMMAND_WRITE, Handle: handle, Value: value})
	if err := f.failure(handle); err != nil {
		return err
	}
	f.States[handle] = value
	return nil
}

func (f *FakeCommander) Invoke(_ context.Context, procedure string, params map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, FakeCall{Kind: domain.COMMAND_INVOKE, Procedure: procedure, Params: params})
	return f.failure(procedure)
}

func (f *FakeCommander) failure(key string) error {
	n, ok := f.Fail[key]
	if !ok || n == 0 {
		return nil
	}
	if n > 0 {
		f.Fail[key] = n - 1
	}
	return ErrFakeDevice
}

func (f *FakeCommander) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeCall(nil), f.calls...)
}

// CallCount counts writes and invocations, reads excluded.
func (f *FakeCommander) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *FakeCommander) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// FakeFeed serves a fixed plan, or Err when set.
type FakeFeed struct {
	mu      sync.Mutex
	plan    *domain.Plan
	err     error
	fetches int
}

func NewFakeFeed(plan *domain.Plan) *FakeFeed {
	return &FakeFeed{plan: plan}
}

func (f *FakeFeed) SetPlan(plan *domain.Plan) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plan = plan
	f.err = nil
}

func (f *FakeFeed) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *FakeFeed) Fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *FakeFeed) FetchPlan(_ context.Context) (*domain.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	if f.plan == nil {
		return &domain.Plan{}, nil
	}
	plan := *f.plan
	plan.Decisions = append([]domain.ControlDecision(nil), f.plan.Decisions...)
	return &plan, nil
}

// FakeSink collects feedback reports.
type FakeSink struct {
	mu       sync.Mutex
	reports  []domain.Feedback
	failures int
	attempts int
}

func NewFakeSink(failures int) *FakeSink {
	return &FakeSink{failures: failures}
}

func (s *FakeSink) SendFeedback(_ context.Context, feedback domain.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failures != 0 {
		if s.failures > 0 {
			s.failures--
		}
		return &domain.ConnectivityError{Endpoint: "feedback", Err: ErrFakeDevice}
	}
	s.reports = append(s.reports, feedback)
	return nil
}

func (s *FakeSink) Reports() []domain.Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Feedback(nil), s.reports...)
}

func (s *FakeSink) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}
