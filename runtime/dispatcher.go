package runtime

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/randalmurphal/threadrelay/event"
)

// Handler receives canonical events.
type Handler func(event.Event)

type subscription struct {
	id       uint64
	threadID string // empty for global subscribers
	handler  Handler
}

// Dispatcher hands each event to the live subscribers and then to the
// recorder, in that order.
type Dispatcher struct {
	log      *zap.Logger
	recorder *Recorder

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]subscription
}

// NewDispatcher creates a dispatcher. A nil recorder records nothing.
func NewDispatcher(recorder *Recorder, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		log:      log,
		recorder: recorder,
		subs:     make(map[uint64]subscription),
	}
}

// Subscribe registers h for every thread.
func (d *Dispatcher) Subscribe(h Handler) (unsubscribe func()) {
	return d.add("", h)
}

// SubscribeThread registers h for the events of threadID.
func (d *Dispatcher) SubscribeThread(threadID string, h Handler) (unsubscribe func()) {
	return d.add(threadID, h)
}

func (d *Dispatcher) add(threadID string, h Handler) func() {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.subs[id] = subscription{id: id, threadID: threadID, handler: h}
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subs, id)
			d.mu.Unlock()
		})
	}
}

// Dispatch delivers ev to subscribers in registration order, then records it.
func (d *Dispatcher) Dispatch(ev event.Event) {
	for _, sub := range d.matching(ev.ThreadID) {
		d.deliver(sub, ev)
	}
	if d.recorder != nil {
		d.recorder.Record(ev)
	}
}

func (d *Dispatcher) matching(threadID string) []subscription {
	d.mu.RLock()
	out := make([]subscription, 0, len(d.subs))
	for _, sub := range d.subs {
		if sub.threadID == "" || sub.threadID == threadID {
			out = append(out, sub)
		}
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (d *Dispatcher) deliver(sub subscription, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("event subscriber panicked",
				zap.Any("panic", r),
				zap.String("thread_id", ev.ThreadID),
				zap.String("kind", string(ev.Kind)))
		}
	}()
	sub.handler(ev)
}
