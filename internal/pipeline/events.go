package pipeline

import (
	"sync"
	"time"

	"github.com/trendscout/backend/internal/storage/models"
)

type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventTaskFinished EventType = "task_finished"
	EventRunFinished  EventType = "run_finished"
)

type Event struct {
	Type    EventType         `json:"type"`
	RunID   string            `json:"runId"`
	RunDate string            `json:"runDate"`
	Task    string            `json:"task,omitempty"`
	Status  models.TaskStatus `json:"status,omitempty"`
	Error   string            `json:"error,omitempty"`
	Time    time.Time         `json:"time"`
}

type Publisher interface {
	Publish(e Event)
}

// Broadcaster fans events out to subscribers. A subscriber that is not
// keeping up loses events instead of stalling the run.
type Broadcaster struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
	buffer int
}

func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broadcaster{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe returns a channel of future events and a function that closes it.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broadcaster) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}
