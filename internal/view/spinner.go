package view

import (
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

const spinnerTick = 100 * time.Millisecond

// Spinner shows an indeterminate progress indicator while the view is loading
type Spinner struct {
	w           io.Writer
	description string

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewSpinner creates a spinner writing to w
func NewSpinner(w io.Writer, description string) *Spinner {
	return &Spinner{w: w, description: description}
}

// Update starts or stops the spinner to follow v.Loading. It is meant to be
// registered with Controller.Subscribe.
func (s *Spinner) Update(v View) {
	if v.Loading {
		s.Start()
	} else {
		s.Stop()
	}
}

// Running reports whether the spinner is currently shown
func (s *Spinner) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

// Start shows the spinner. It is a no-op when already running.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(s.w),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetDescription(s.description),
		progressbar.OptionClearOnFinish(),
	)
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop, s.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(spinnerTick)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				_ = bar.Finish()
				return
			case <-ticker.C:
				_ = bar.Add(1)
			}
		}
	}()
}

// Stop hides the spinner and waits for it to clear. It is a no-op when not running.
func (s *Spinner) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}
