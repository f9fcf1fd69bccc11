package engine

import (
	"sync"

	"github.com/seantiz/depotjobs/internal/model"
)

// subscriberBufferSize is the channel buffer for each status subscriber.
// Updates are dropped if a subscriber falls this far behind; the final
// close is never dropped.
const subscriberBufferSize = 16

// StatusBroker fans out snapshot updates per job to subscribers.
// It is safe for concurrent use.
//
// Finished topics are kept as closed markers so that a late subscriber gets
// a closed channel instead of waiting forever. Markers are dropped by Forget
// when the job itself is removed.
type StatusBroker struct {
	mu     sync.Mutex
	topics map[string]*statusTopic
}

type statusTopic struct {
	subs   map[int]chan model.Snapshot
	nextID int
	closed bool
}

// NewStatusBroker creates a new status broker.
func NewStatusBroker() *StatusBroker {
	return &StatusBroker{
		topics: make(map[string]*statusTopic),
	}
}

// Subscribe returns a channel of snapshots for the job and an unsubscribe
// function. If the job has already finished the channel is closed.
func (b *StatusBroker) Subscribe(guid string) (<-chan model.Snapshot, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[guid]
	if !ok {
		t = &statusTopic{subs: make(map[int]chan model.Snapshot)}
		b.topics[guid] = t
	}

	ch := make(chan model.Snapshot, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends snap to every subscriber of the job.
func (b *StatusBroker) Publish(guid string, snap model.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[guid]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- snap:
		default:
			// Slow subscriber; it will still see the close.
		}
	}
}

// Close signals that the job is terminal. All subscriber channels are
// closed and future Subscribe calls return a closed channel.
func (b *StatusBroker) Close(guid string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[guid]
	if !ok {
		b.topics[guid] = &statusTopic{subs: make(map[int]chan model.Snapshot), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// Forget drops all state for the job, closing any remaining subscribers.
func (b *StatusBroker) Forget(guid string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[guid]
	if !ok {
		return
	}
	if !t.closed {
		for _, ch := range t.subs {
			close(ch)
		}
	}
	delete(b.topics, guid)
}

// Topics returns the number of tracked jobs.
func (b *StatusBroker) Topics() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}
