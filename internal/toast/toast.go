package toast

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultDuration = 4 * time.Second

type Kind int

const (
	Success Kind = iota + 1
	Error
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	switch k {
	case Success, Error:
		return []byte(k.String()), nil
	default:
		return nil, fmt.Errorf("invalid toast kind: %d", int(k))
	}
}

func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "success":
		*k = Success
	case "error":
		*k = Error
	default:
		return fmt.Errorf("invalid toast kind: %q", b)
	}
	return nil
}

type Toast struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}

// Presenter holds at most one toast. A new toast replaces the visible one
// and every toast expires after a fixed duration unless dismissed earlier.
type Presenter struct {
	duration time.Duration
	onChange func(*Toast)

	m       sync.Mutex
	current *Toast
	timer   *time.Timer
	seq     uint64
}

func New(duration time.Duration) *Presenter {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &Presenter{duration: duration}
}

// OnChange registers f to be called with the visible toast, or nil when it goes away.
// Must be set before the first Show.
func (p *Presenter) OnChange(f func(*Toast)) {
	p.onChange = f
}

func (p *Presenter) Show(message string, kind Kind) {
	t := &Toast{
		ID:        uuid.New().String(),
		Message:   message,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
	p.m.Lock()
	p.stopTimerLocked()
	p.seq++
	seq := p.seq
	p.current = t
	p.timer = time.AfterFunc(p.duration, func() { p.expire(seq) })
	p.m.Unlock()
	p.notify(t)
}

// Dismiss hides the visible toast and cancels its expiry.
func (p *Presenter) Dismiss() {
	p.m.Lock()
	if p.current == nil {
		p.m.Unlock()
		return
	}
	p.stopTimerLocked()
	p.seq++
	p.current = nil
	p.m.Unlock()
	p.notify(nil)
}

// Current returns a copy of the visible toast.
func (p *Presenter) Current() (Toast, bool) {
	p.m.Lock()
	defer p.m.Unlock()
	if p.current == nil {
		return Toast{}, false
	}
	return *p.current, true
}

// Close drops the visible toast without notifying.
func (p *Presenter) Close() {
	p.m.Lock()
	p.stopTimerLocked()
	p.seq++
	p.current = nil
	p.m.Unlock()
}

func (p *Presenter) expire(seq uint64) {
	p.m.Lock()
	if seq != p.seq || p.current == nil {
		p.m.Unlock()
		return
	}
	p.current = nil
	p.timer = nil
	p.m.Unlock()
	p.notify(nil)
}

func (p *Presenter) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Presenter) notify(t *Toast) {
	if p.onChange == nil {
		return
	}
	if t != nil {
		c := *t
		t = &c
	}
	p.onChange(t)
}
