package events

import (
	"context"
	"sync"
	"time"
)

// Source is a readable journal. Events returns up to limit events with
// Seq >= from in ascending order.
type Source interface {
	Events(ctx context.Context, from uint64, limit int) ([]Event, error)
}

// Feed delivers journal events to subscribers in journal order. The journal is
// the source of truth: subscribers read through the Source, and Notify only cuts
// short the wait for new entries. A Feed therefore also picks up events
// committed by other processes sharing the same store, within PollInterval.
type Feed struct {
	src          Source
	pollInterval time.Duration
	batch        int

	mu   sync.Mutex
	wake chan struct{}
}

// DefaultPollInterval bounds delivery latency for commits made elsewhere.
const DefaultPollInterval = time.Second

// NewFeed creates a feed over src. A non-positive poll interval uses
// DefaultPollInterval.
func NewFeed(src Source, pollInterval time.Duration) *Feed {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Feed{
		src:          src,
		pollInterval: pollInterval,
		batch:        256,
		wake:         make(chan struct{}),
	}
}

// Notify wakes every waiting subscriber. Called after each commit.
func (f *Feed) Notify() {
	f.mu.Lock()
	close(f.wake)
	f.wake = make(chan struct{})
	f.mu.Unlock()
}

func (f *Feed) waitChan() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wake
}

// Subscribe returns a cursor that yields events with Seq >= from.
func (f *Feed) Subscribe(from uint64, filter Filter) *Subscription {
	if from == 0 {
		from = 1
	}
	return &Subscription{feed: f, next: from, filter: filter}
}

// Subscription is a single reader's position in the journal. It is not safe for
// concurrent use.
type Subscription struct {
	feed    *Feed
	next    uint64
	filter  Filter
	pending []Event
}

// Next blocks until the next matching event is available or ctx is done.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		for len(s.pending) > 0 {
			e := s.pending[0]
			s.pending = s.pending[1:]
			if s.filter.Match(e) {
				return e, nil
			}
		}

		// Grab the wake channel before reading so a commit that lands between
		// the read and the wait is not missed.
		wake := s.feed.waitChan()
		evs, err := s.feed.src.Events(ctx, s.next, s.feed.batch)
		if err != nil {
			return Event{}, err
		}
		if len(evs) > 0 {
			s.pending = evs
			s.next = evs[len(evs)-1].Seq + 1
			continue
		}

		timer := time.NewTimer(s.feed.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Event{}, ctx.Err()
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Cursor returns the sequence number the subscription will read next.
func (s *Subscription) Cursor() uint64 {
	return s.next - uint64(len(s.pending))
}
