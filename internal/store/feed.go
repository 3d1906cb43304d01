package store

import (
	"sync"
)

// Subscription is the handle returned by a Subscribe call.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Cancel stops further callbacks. Calling it more than once is a no-op.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Feed fans a snapshot out to subscribers. New subscribers receive the
// latest snapshot immediately when one has been published.
type Feed[T any] struct {
	mu      sync.Mutex
	deliver sync.Mutex // serializes callbacks so snapshots arrive in publish order
	next    int
	subs    map[int]func(T)
	last    T
	has     bool
}

// Subscribe registers fn. fn must not call Subscribe or Publish on the same feed.
func (f *Feed[T]) Subscribe(fn func(T)) *Subscription {
	f.deliver.Lock()
	defer f.deliver.Unlock()

	f.mu.Lock()
	if f.subs == nil {
		f.subs = make(map[int]func(T))
	}
	id := f.next
	f.next++
	f.subs[id] = fn
	last, has := f.last, f.has
	f.mu.Unlock()

	if has {
		fn(last)
	}
	return &Subscription{cancel: func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}}
}

// Publish records v as the latest snapshot and delivers it to every subscriber.
func (f *Feed[T]) Publish(v T) {
	f.deliver.Lock()
	defer f.deliver.Unlock()

	f.mu.Lock()
	f.last, f.has = v, true
	ids := make([]int, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	f.mu.Unlock()

	for _, id := range ids {
		f.mu.Lock()
		fn, ok := f.subs[id]
		f.mu.Unlock()
		if ok {
			fn(v)
		}
	}
}

// Latest returns the most recent snapshot, if any.
func (f *Feed[T]) Latest() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, f.has
}

// Len returns the number of active subscribers.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
