package event

import (
	"sync"

	"github.com/go-kit/kit/log"
)

// LogWriter records events by writing them to a logger, which is
// enough of a history for installs that don't care to keep one.
type LogWriter struct {
	Logger log.Logger
}

func (w LogWriter) LogEvent(e Event) error {
	return w.Logger.Log("event", e.Type, "branch", e.Branch, "runID", e.RunID, "msg", e.String())
}

// MultiWriter sends each event to all the writers, stopping at the
// first that fails.
type MultiWriter []EventWriter

func (ws MultiWriter) LogEvent(e Event) error {
	for _, w := range ws {
		if err := w.LogEvent(e); err != nil {
			return err
		}
	}
	return nil
}

const (
	defaultKeep      = 256
	defaultSubBuffer = 16
)

// Broadcaster keeps the most recent events and fans new ones out to
// subscribers. Slow subscribers miss events rather than hold anything
// up; the retained history lets them catch up out of band.
type Broadcaster struct {
	mu     sync.Mutex
	nextID EventID
	keep   int
	recent []Event
	subs   map[chan Event]struct{}
}

var _ EventWriter = &Broadcaster{}

func NewBroadcaster(keep int) *Broadcaster {
	if keep <= 0 {
		keep = defaultKeep
	}
	return &Broadcaster{
		keep: keep,
		subs: map[chan Event]struct{}{},
	}
}

func (b *Broadcaster) LogEvent(e Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	if e.ID == 0 {
		e.ID = b.nextID
	}
	b.recent = append(b.recent, e)
	if len(b.recent) > b.keep {
		b.recent = b.recent[len(b.recent)-b.keep:]
	}
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
	return nil
}

// Recent returns the retained events, oldest first.
func (b *Broadcaster) Recent() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.recent))
	copy(out, b.recent)
	return out
}

// Subscribe registers a listener for subsequent events. The returned
// cancel function must be called when done; it closes the channel.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, defaultSubBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, cancel
}
