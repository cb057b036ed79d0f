package realtime

import (
	"sync"
	"time"

	"github.com/mkhodary/chat-gateway/internal/models"
)

// Transition is one presence state change for a user
type Transition struct {
	UserID   string
	Previous models.PresenceState
	Current  models.PresenceState
	At       time.Time
}

// PresenceTracker derives each user's presence from registry occupancy and
// activity timestamps.
//
// State machine per user: Offline -> Online on the first admitted
// connection; Online -> Away after AwayAfter without inbound frames (the
// connection stays open); Away -> Online on any inbound frame; Online or
// Away -> Offline only when the connection count reaches zero. An unknown
// user is Offline.
type PresenceTracker struct {
	awayAfter time.Duration

	mu          sync.Mutex
	entries     map[string]*presenceEntry
	subscribers []func(Transition)
}

type presenceEntry struct {
	state        models.PresenceState
	lastSeen     time.Time
	lastActivity time.Time
}

// NewPresenceTracker creates a presence tracker with the given away timeout
func NewPresenceTracker(awayAfter time.Duration) *PresenceTracker {
	return &PresenceTracker{
		awayAfter: awayAfter,
		entries:   make(map[string]*presenceEntry),
	}
}

// Subscribe registers a callback invoked on every transition. Subscribers
// must not call back into the tracker.
func (p *PresenceTracker) Subscribe(fn func(Transition)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, fn)
}

// MarkOnline transitions a user to Online on connection admission
func (p *PresenceTracker) MarkOnline(userID string) {
	now := time.Now()

	p.mu.Lock()
	entry := p.entry(userID)
	transition, changed := p.setStateLocked(userID, entry, models.PresenceOnline, now)
	entry.lastActivity = now
	subs := p.subscribers
	p.mu.Unlock()

	if changed {
		notify(subs, transition)
	}
}

// MarkActivity records an inbound frame and restores Away users to Online
func (p *PresenceTracker) MarkActivity(userID string) {
	now := time.Now()

	p.mu.Lock()
	entry, exists := p.entries[userID]
	if !exists || entry.state == models.PresenceOffline {
		// Activity without a live connection is ignored; admission owns
		// the Offline -> Online edge.
		p.mu.Unlock()
		return
	}
	entry.lastActivity = now
	transition, changed := p.setStateLocked(userID, entry, models.PresenceOnline, now)
	subs := p.subscribers
	p.mu.Unlock()

	if changed {
		notify(subs, transition)
	}
}

// MarkOffline transitions a user to Offline when their last connection is gone
func (p *PresenceTracker) MarkOffline(userID string) {
	now := time.Now()

	p.mu.Lock()
	entry, exists := p.entries[userID]
	if !exists {
		p.mu.Unlock()
		return
	}
	transition, changed := p.setStateLocked(userID, entry, models.PresenceOffline, now)
	subs := p.subscribers
	p.mu.Unlock()

	if changed {
		notify(subs, transition)
	}
}

// Sweep moves idle Online users to Away and returns the transitions. It is
// driven by the hub on a configurable interval.
func (p *PresenceTracker) Sweep(now time.Time) []Transition {
	p.mu.Lock()
	var transitions []Transition
	for userID, entry := range p.entries {
		if entry.state != models.PresenceOnline {
			continue
		}
		if now.Sub(entry.lastActivity) < p.awayAfter {
			continue
		}
		if transition, changed := p.setStateLocked(userID, entry, models.PresenceAway, now); changed {
			transitions = append(transitions, transition)
		}
	}
	subs := p.subscribers
	p.mu.Unlock()

	for _, transition := range transitions {
		notify(subs, transition)
	}
	return transitions
}

// Status returns the tracked presence for a user; unknown users are Offline
func (p *PresenceTracker) Status(userID string) models.Presence {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, exists := p.entries[userID]
	if !exists {
		return models.Presence{UserID: userID, State: models.PresenceOffline}
	}
	return models.Presence{
		UserID:     userID,
		State:      entry.state,
		LastSeenAt: entry.lastSeen,
	}
}

// Snapshot returns the presence of every tracked user
func (p *PresenceTracker) Snapshot() []models.Presence {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := make([]models.Presence, 0, len(p.entries))
	for userID, entry := range p.entries {
		result = append(result, models.Presence{
			UserID:     userID,
			State:      entry.state,
			LastSeenAt: entry.lastSeen,
		})
	}
	return result
}

func (p *PresenceTracker) entry(userID string) *presenceEntry {
	entry, exists := p.entries[userID]
	if !exists {
		entry = &presenceEntry{state: models.PresenceOffline}
		p.entries[userID] = entry
	}
	return entry
}

// setStateLocked applies a state change and returns the transition. Leaving
// Online or Away updates lastSeen.
func (p *PresenceTracker) setStateLocked(userID string, entry *presenceEntry, next models.PresenceState, now time.Time) (Transition, bool) {
	prev := entry.state
	if prev == next {
		return Transition{}, false
	}
	if prev == models.PresenceOnline || prev == models.PresenceAway {
		entry.lastSeen = now
	}
	entry.state = next
	return Transition{
		UserID:   userID,
		Previous: prev,
		Current:  next,
		At:       now,
	}, true
}

func notify(subs []func(Transition), transition Transition) {
	for _, fn := range subs {
		fn(transition)
	}
}
