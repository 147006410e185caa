package runtime

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/randalmurphal/threadrelay/agentcli"
)

// activeSession is the registry entry of one thread.
type activeSession struct {
	session agentcli.Session
	// model is the model the session was opened with.
	model string
}

// matches reports whether the session can serve requestedModel.
func (a *activeSession) matches(requestedModel string) bool {
	if requestedModel == "" {
		return true
	}
	if m := a.session.Model(); m != "" {
		return m == requestedModel
	}
	return a.model == requestedModel
}

// registry maps thread ids to their live session. Opens are serialized per
// thread and shared between callers asking for the same thing; sends are
// serialized per thread.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*activeSession

	turns  keyedLock
	opens  keyedLock
	flight singleflight.Group
}

func newRegistry() *registry {
	return &registry{
		sessions: make(map[string]*activeSession),
	}
}

func (r *registry) get(threadID string) (*activeSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.sessions[threadID]
	return a, ok
}

// put publishes a for threadID.
func (r *registry) put(threadID string, a *activeSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[threadID] = a
}

// remove deletes the entry of threadID if it still holds s.
func (r *registry) remove(threadID string, s agentcli.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.sessions[threadID]; ok && a.session == s {
		delete(r.sessions, threadID)
		return true
	}
	return false
}

// take deletes and returns the entry of threadID.
func (r *registry) take(threadID string) (*activeSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.sessions[threadID]
	delete(r.sessions, threadID)
	return a, ok
}

// clear empties the registry and returns what it held.
func (r *registry) clear() []*activeSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*activeSession, 0, len(r.sessions))
	for _, a := range r.sessions {
		out = append(out, a)
	}
	r.sessions = make(map[string]*activeSession)
	return out
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// lockTurn waits until threadID has no send in flight and claims it.
func (r *registry) lockTurn(ctx context.Context, threadID string) (func(), error) {
	return r.turns.lock(ctx, threadID)
}

// openKey names a shared open. Callers only share an open when they asked
// for the same model and the same resume behavior.
func openKey(threadID, requestedModel string, forceResume bool) string {
	return fmt.Sprintf("%s\x00%s\x00%t", threadID, requestedModel, forceResume)
}

// keyedLock is a set of per-key mutexes that can be waited on with a
// context. Entries are dropped once nobody holds or waits for them.
type keyedLock struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	sem  chan struct{}
	refs int
}

func (k *keyedLock) lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	if k.slots == nil {
		k.slots = make(map[string]*lockSlot)
	}
	slot, ok := k.slots[key]
	if !ok {
		slot = &lockSlot{sem: make(chan struct{}, 1)}
		k.slots[key] = slot
	}
	slot.refs++
	k.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-slot.sem
				k.release(key, slot)
			})
		}, nil
	case <-ctx.Done():
		k.release(key, slot)
		return nil, ctx.Err()
	}
}

func (k *keyedLock) release(key string, slot *lockSlot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(k.slots, key)
	}
}

func (k *keyedLock) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}
