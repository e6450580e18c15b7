package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"bayou/internal/errs"
)

// changeSignal is the broadcast primitive design note §9(ii) calls for:
// a signal per file used by WhenChanged waiters, supporting deadline
// and cancellation. It's shared by memFile and boltFile so both
// backends implement WhenChanged identically.
type changeSignal struct {
	mu  sync.Mutex
	rev int64
	ch  chan struct{}
}

func newChangeSignal() *changeSignal {
	return &changeSignal{ch: make(chan struct{})}
}

func (s *changeSignal) bump() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rev++
	close(s.ch)
	s.ch = make(chan struct{})
}

func (s *changeSignal) current() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rev
}

func (s *changeSignal) wait(ctx context.Context, timeout time.Duration, after int64, path string) error {
	s.mu.Lock()
	if s.rev > after {
		s.mu.Unlock()
		return nil
	}
	ch := s.ch
	s.mu.Unlock()

	var timerCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerCh = timer.C
	}
	select {
	case <-ch:
		return nil
	case <-timerCh:
		return errs.New(errs.TimedOut, "WhenChanged: timed out waiting on %s", path)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errs.New(errs.TimedOut, "WhenChanged: deadline exceeded waiting on %s", path)
		}
		return errs.New(errs.Aborted, "WhenChanged: cancelled waiting on %s", path)
	}
}
