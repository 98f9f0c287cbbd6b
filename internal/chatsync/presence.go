package chatsync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/laserpointoman-commits/talebEdu-sub002/internal/models"
	"github.com/rs/zerolog"
)

// PresenceTracker publishes the local user's presence and keeps the presence
// of everyone else as last reported by the presence stream.
type PresenceTracker struct {
	selfID  uint
	backend PresenceBackend
	metrics *Metrics
	log     zerolog.Logger
	expiry  time.Duration
	now     func() time.Time
	ctx     context.Context

	mu      sync.Mutex
	typing  map[uint]time.Time
	cache   map[uint]models.Presence
	desired *models.Presence
	pending *Outcome
	onPeer  func(models.Presence)
	trigger *Trigger
}

func NewPresenceTracker(ctx context.Context, selfID uint, backend PresenceBackend, debounce, expiry time.Duration, metrics *Metrics, log zerolog.Logger) *PresenceTracker {
	p := &PresenceTracker{
		selfID:  selfID,
		backend: backend,
		metrics: metrics,
		log:     log.With().Str("component", "presence").Logger(),
		expiry:  expiry,
		now:     time.Now,
		ctx:     ctx,
		typing:  make(map[uint]time.Time),
		cache:   make(map[uint]models.Presence),
	}
	p.trigger = NewTrigger(debounce, p.flush)
	return p
}

// OnPeerChange registers fn to run after every applied remote presence row.
func (p *PresenceTracker) OnPeerChange(fn func(models.Presence)) {
	p.mu.Lock()
	p.onPeer = fn
	p.mu.Unlock()
}

// SetTyping records that the local user is (or stops) composing to target.
// Calls within the debounce window collapse into one write carrying the last
// state; they all share the returned Outcome.
func (p *PresenceTracker) SetTyping(target uint, isTyping bool) *Outcome {
	now := p.now().UTC()
	row := &models.Presence{UserID: p.selfID, IsOnline: true, LastSeen: &now}
	if isTyping && target != 0 {
		row.TypingTo = &target
		row.TypingStartedAt = &now
	}

	p.mu.Lock()
	p.desired = row
	if p.pending == nil {
		p.pending = newOutcome()
	}
	out := p.pending
	p.mu.Unlock()

	p.trigger.Schedule()
	return out
}

// SetOnline writes online state immediately. Going offline also clears any
// typing target; going online leaves typing columns alone.
func (p *PresenceTracker) SetOnline(ctx context.Context, online bool) *Outcome {
	now := p.now().UTC()
	row := &models.Presence{UserID: p.selfID, IsOnline: online, LastSeen: &now}
	err := p.backend.UpsertPresence(ctx, row, !online)
	if err != nil {
		p.log.Warn().Err(err).Bool("online", online).Msg("presence write failed")
		p.metrics.writeFailed("presence_online")
	}
	return resolvedOutcome(err)
}

// FlushTyping sends a pending typing state now.
func (p *PresenceTracker) FlushTyping() {
	p.trigger.Flush()
}

func (p *PresenceTracker) flush() {
	p.mu.Lock()
	row, out := p.desired, p.pending
	p.desired, p.pending = nil, nil
	p.mu.Unlock()
	if row == nil {
		return
	}

	err := p.backend.UpsertPresence(p.ctx, row, true)
	if err != nil {
		p.log.Warn().Err(err).Msg("typing write failed")
		p.metrics.writeFailed("presence_typing")
	}
	if out != nil {
		out.resolve(err)
	}
}

// Apply consumes a presence row from the stream. Rows about the local user
// are ignored.
func (p *PresenceTracker) Apply(row models.Presence) bool {
	if row.UserID == p.selfID {
		return false
	}

	p.mu.Lock()
	p.cache[row.UserID] = row
	if row.TypingTo != nil && *row.TypingTo == p.selfID {
		started := p.now()
		if row.TypingStartedAt != nil {
			started = *row.TypingStartedAt
		}
		p.typing[row.UserID] = started
	} else {
		delete(p.typing, row.UserID)
	}
	fn := p.onPeer
	p.mu.Unlock()

	if fn != nil {
		fn(row)
	}
	return true
}

// Forget drops everything known about userID.
func (p *PresenceTracker) Forget(userID uint) {
	p.mu.Lock()
	delete(p.cache, userID)
	delete(p.typing, userID)
	fn := p.onPeer
	p.mu.Unlock()
	if fn != nil {
		fn(models.Presence{UserID: userID})
	}
}

// IsTyping reports whether userID is currently composing to the local user.
func (p *PresenceTracker) IsTyping(userID uint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typingLocked(userID)
}

func (p *PresenceTracker) typingLocked(userID uint) bool {
	started, ok := p.typing[userID]
	if !ok {
		return false
	}
	return p.expiry <= 0 || p.now().Sub(started) < p.expiry
}

// TypingUsers lists everyone currently typing to the local user.
func (p *PresenceTracker) TypingUsers() []uint {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]uint, 0, len(p.typing))
	for id := range p.typing {
		if p.typingLocked(id) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Lookup returns the last presence row seen on the stream for userID.
func (p *PresenceTracker) Lookup(userID uint) (models.Presence, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	row, ok := p.cache[userID]
	return row, ok
}

// Reset drops the typing set and presence cache and cancels a pending write.
func (p *PresenceTracker) Reset() {
	p.trigger.Stop()
	p.mu.Lock()
	p.typing = make(map[uint]time.Time)
	p.cache = make(map[uint]models.Presence)
	out := p.pending
	p.desired, p.pending = nil, nil
	p.mu.Unlock()
	if out != nil {
		out.resolve(ErrSessionClosed)
	}
}
