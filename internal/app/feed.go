package app

import (
	"sync"

	"xp-integrity-service/internal/domain"
)

// LeaderboardFeed fans merged leaderboard documents out to live subscribers
// of the same actor.
type LeaderboardFeed struct {
	mu          sync.Mutex
	subscribers map[string]map[chan domain.LeaderboardDocument]struct{}
}

func NewLeaderboardFeed() *LeaderboardFeed {
	return &LeaderboardFeed{subscribers: make(map[string]map[chan domain.LeaderboardDocument]struct{})}
}

// Subscribe returns a channel that receives the actor's document updates.
// The caller must invoke the returned cancel function to avoid leaks.
func (f *LeaderboardFeed) Subscribe(actorID string) (<-chan domain.LeaderboardDocument, func()) {
	ch := make(chan domain.LeaderboardDocument, 8)

	f.mu.Lock()
	subs, ok := f.subscribers[actorID]
	if !ok {
		subs = make(map[chan domain.LeaderboardDocument]struct{})
		f.subscribers[actorID] = subs
	}
	subs[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		subs, ok := f.subscribers[actorID]
		if !ok {
			return
		}
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(f.subscribers, actorID)
		}
	}
	return ch, cancel
}

// Publish delivers doc to every subscriber of its actor. A slow subscriber
// loses its oldest pending update rather than blocking the publisher.
func (f *LeaderboardFeed) Publish(doc domain.LeaderboardDocument) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for ch := range f.subscribers[doc.ActorID] {
		select {
		case ch <- doc:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- doc
		}
	}
}

// Subscribers reports how many live subscriptions an actor has.
func (f *LeaderboardFeed) Subscribers(actorID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers[actorID])
}
