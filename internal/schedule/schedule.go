package schedule

import (
	"sync"
	"time"
)

// Schedule runs a task right away and then on every tick of a fixed interval
// until it is stopped. Each start opens a new generation. Work started for an
// older generation keeps running but its results must be dropped, see Current.
type Schedule struct {
	interval time.Duration

	m      sync.Mutex
	gen    uint64
	closeC chan struct{}
	wg     sync.WaitGroup
}

func New(interval time.Duration) *Schedule {
	return &Schedule{interval: interval}
}

// Start stops the running generation, if any, and starts a new one.
// Each tick runs task in its own goroutine so a slow call never delays the next tick.
func (s *Schedule) Start(task func(gen uint64)) uint64 {
	s.m.Lock()
	defer s.m.Unlock()
	s.stopLocked()
	s.gen++
	closeC := make(chan struct{})
	s.closeC = closeC
	s.wg.Add(1)
	go s.loop(s.gen, closeC, task)
	return s.gen
}

// Stop cancels the ticker. It is safe to call when not running.
func (s *Schedule) Stop() {
	s.m.Lock()
	s.stopLocked()
	s.m.Unlock()
}

func (s *Schedule) stopLocked() {
	if s.closeC == nil {
		return
	}
	close(s.closeC)
	s.closeC = nil
	s.gen++
	s.wg.Wait()
}

// Generation returns the current generation and whether the schedule is running.
func (s *Schedule) Generation() (uint64, bool) {
	s.m.Lock()
	defer s.m.Unlock()
	return s.gen, s.closeC != nil
}

// Current reports whether gen is the running generation.
func (s *Schedule) Current(gen uint64) bool {
	s.m.Lock()
	defer s.m.Unlock()
	return s.closeC != nil && s.gen == gen
}

func (s *Schedule) loop(gen uint64, closeC chan struct{}, task func(uint64)) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	go task(gen)
	for {
		select {
		case <-ticker.C:
			go task(gen)
		case <-closeC:
			return
		}
	}
}
