package chatsync

import (
	"context"
	"sync"
	"time"

	"github.com/laserpointoman-commits/talebEdu-sub002/internal/models"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/realtime"
	"github.com/rs/zerolog"
)

type UpdateKind string

const (
	ConversationsUpdated UpdateKind = "conversations"
	MessagesUpdated      UpdateKind = "messages"
	GroupMessagesUpdated UpdateKind = "group_messages"
	GroupsUpdated        UpdateKind = "groups"
	TypingUpdated        UpdateKind = "typing"
)

// Update is a view change pushed to session listeners. Only the fields that
// belong to Kind are set.
type Update struct {
	Kind          UpdateKind             `json:"kind"`
	PeerID        uint                   `json:"peer_id,omitempty"`
	GroupID       uint                   `json:"group_id,omitempty"`
	Conversations []models.Conversation  `json:"conversations,omitempty"`
	Messages      []models.DirectMessage `json:"messages,omitempty"`
	GroupMessages []models.GroupMessage  `json:"group_messages,omitempty"`
	Groups        []models.GroupSummary  `json:"groups,omitempty"`
	Typing        []uint                 `json:"typing,omitempty"`
}

// Session is one viewer's live sync state: both message stores, presence,
// the conversation list, chat organization and the event router feeding
// them.
type Session struct {
	UserID        uint
	Messages      *MessageStore
	Groups        *GroupMessageStore
	Presence      *PresenceTracker
	Conversations *ConversationAggregator
	Organization  *ChatOrganization
	Router        *EventRouter
	Attachments   *AttachmentPipeline

	metrics *Metrics
	log     zerolog.Logger
	ctx     context.Context
	cancel  context.CancelFunc

	mu        sync.RWMutex
	listeners map[int]func(Update)
	nextID    int
	closeOnce sync.Once
}

func NewSession(ctx context.Context, userID uint, deps Deps) *Session {
	cfg := deps.Config.withDefaults()
	log := deps.Log.With().Uint("user_id", userID).Logger()
	sctx, cancel := context.WithCancel(ctx)

	pipeline := NewAttachmentPipeline(deps.Backend, deps.Objects, deps.Previews, cfg.AttachmentURLTTL, log)
	ledger := NewReactionLedger(deps.Backend, log)
	presence := NewPresenceTracker(sctx, userID, deps.Backend, cfg.PresenceDebounce, cfg.TypingExpiry, deps.Metrics, log)
	org := NewChatOrganization(userID, deps.Backend, deps.Metrics, log)

	s := &Session{
		UserID:        userID,
		Messages:      NewMessageStore(sctx, userID, deps.Backend, pipeline, ledger, deps.Notifier, deps.Metrics, log),
		Groups:        NewGroupMessageStore(sctx, userID, deps.Backend, pipeline, ledger, deps.Profiles, deps.Notifier, deps.Metrics, cfg.RebuildDebounce, log),
		Presence:      presence,
		Conversations: NewConversationAggregator(sctx, userID, deps.Backend, deps.Profiles, presence, org, deps.Metrics, cfg.RebuildDebounce, log),
		Organization:  org,
		Router:        NewEventRouter(deps.Bus, deps.Metrics, log),
		Attachments:   pipeline,
		metrics:       deps.Metrics,
		log:           log.With().Str("component", "session").Logger(),
		ctx:           sctx,
		cancel:        cancel,
		listeners:     make(map[int]func(Update)),
	}
	s.wire()
	return s
}

func (s *Session) wire() {
	s.Router.OnLost(func(stream realtime.Stream) {
		if err := s.Resubscribe(s.ctx); err != nil && s.ctx.Err() == nil {
			s.log.Error().Err(err).Str("stream", string(stream)).Msg("resync after lost stream failed")
		}
	})
	s.Messages.OnChange(func(peerID uint) {
		s.emit(Update{Kind: MessagesUpdated, PeerID: peerID, Messages: s.Messages.Messages(peerID)})
		s.Conversations.Schedule()
	})
	s.Groups.OnChange(
		func(groupID uint) {
			s.emit(Update{Kind: GroupMessagesUpdated, GroupID: groupID, GroupMessages: s.Groups.Messages()})
		},
		func() {
			s.emit(Update{Kind: GroupsUpdated, Groups: s.Groups.Groups()})
		},
	)
	s.Presence.OnPeerChange(func(row models.Presence) {
		s.Conversations.ApplyPresence(row)
		s.emit(Update{Kind: TypingUpdated, Typing: s.Presence.TypingUsers()})
	})
	s.Conversations.OnChange(func(convs []models.Conversation) {
		s.emit(Update{Kind: ConversationsUpdated, Conversations: convs})
	})
	s.Organization.OnChange(func() {
		s.Conversations.Schedule()
	})

	r := s.Router
	for _, op := range []realtime.Op{realtime.OpInsert, realtime.OpUpdate, realtime.OpDelete} {
		op := op
		r.Handle(realtime.DirectMessages, op, func(e Event) {
			row := e.Entity.(*models.DirectMessage)
			switch op {
			case realtime.OpInsert:
				s.Messages.ApplyInsert(row)
			case realtime.OpUpdate:
				s.Messages.ApplyUpdate(row)
			default:
				s.Messages.ApplyDelete(row)
			}
		})
		r.Handle(realtime.GroupMessages, op, func(e Event) {
			row := e.Entity.(*models.GroupMessage)
			switch op {
			case realtime.OpInsert:
				s.Groups.ApplyInsert(row)
			case realtime.OpUpdate:
				s.Groups.ApplyUpdate(row)
			default:
				s.Groups.ApplyDelete(row)
			}
		})
		r.Handle(realtime.DirectReactions, op, func(e Event) {
			row := e.Entity.(*models.Reaction)
			if op == realtime.OpDelete {
				s.Messages.ApplyReactionDelete(row)
				return
			}
			s.Messages.ApplyReaction(row)
		})
		r.Handle(realtime.GroupReactions, op, func(e Event) {
			row := e.Entity.(*models.Reaction)
			if op == realtime.OpDelete {
				s.Groups.ApplyReactionDelete(row)
				return
			}
			s.Groups.ApplyReaction(row)
		})
		r.Handle(realtime.Presence, op, func(e Event) {
			row := e.Entity.(*models.Presence)
			if op == realtime.OpDelete {
				s.Presence.Forget(row.UserID)
				return
			}
			s.Presence.Apply(*row)
		})
	}
}

// OnUpdate registers fn for every view update and returns a func that
// removes it.
func (s *Session) OnUpdate(fn func(Update)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Session) emit(u Update) {
	s.mu.RLock()
	fns := make([]func(Update), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(u)
	}
}

// Start loads the chat organization and group list, marks the viewer online,
// builds the conversation list and subscribes to every stream.
func (s *Session) Start(ctx context.Context) error {
	if err := s.Organization.Load(ctx); err != nil {
		s.log.Warn().Err(err).Msg("chat state load failed")
	}
	s.Presence.SetOnline(ctx, true)
	if _, err := s.Groups.LoadGroups(ctx); err != nil {
		s.log.Warn().Err(err).Msg("group list load failed")
	}
	if err := s.Router.Start(s.ctx); err != nil {
		return err
	}
	if _, err := s.Conversations.Rebuild(ctx); err != nil {
		s.log.Warn().Err(err).Msg("initial conversation build failed")
	}
	s.Messages.MarkDelivered(ctx)
	s.metrics.sessionDelta(1)
	s.log.Info().Msg("session started")
	return nil
}

// Resubscribe reopens every stream after a transport reconnect and rebuilds
// the conversation list to cover anything missed in between.
func (s *Session) Resubscribe(ctx context.Context) error {
	if err := s.Router.Resubscribe(s.ctx); err != nil {
		return err
	}
	if _, err := s.Conversations.Rebuild(ctx); err != nil {
		s.log.Warn().Err(err).Msg("rebuild after resubscribe failed")
	}
	if _, err := s.Groups.LoadGroups(ctx); err != nil {
		s.log.Warn().Err(err).Msg("group list reload failed")
	}
	return nil
}

// Close tears the session down: subscriptions first, then timers, presence
// and the stores. Uploads in flight finish against the backend only.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.Router.Stop()
		s.Conversations.stop()
		s.Presence.Reset()
		s.Messages.close()
		s.Groups.close()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), 5*time.Second)
		s.Presence.SetOnline(ctx, false)
		cancel()
		s.cancel()

		s.mu.Lock()
		s.listeners = make(map[int]func(Update))
		s.mu.Unlock()
		s.metrics.sessionDelta(-1)
		s.log.Info().Msg("session closed")
	})
}

// settle waits for background work of both stores.
func (s *Session) settle() {
	s.Messages.settle()
	s.Groups.settle()
}

// Manager shares one Session per user between that user's connections and
// requests. A session with no holders lingers for idle before closing.
type Manager struct {
	deps Deps
	idle time.Duration
	ctx  context.Context
	log  zerolog.Logger

	mu       sync.Mutex
	sessions map[uint]*managed
}

type managed struct {
	session *Session
	refs    int
	timer   *time.Timer

	// ready is closed once Start returns; err holds its result.
	ready chan struct{}
	err   error
}

func NewManager(ctx context.Context, deps Deps, idle time.Duration) *Manager {
	return &Manager{
		deps:     deps,
		idle:     idle,
		ctx:      ctx,
		log:      deps.Log.With().Str("component", "sessions").Logger(),
		sessions: make(map[uint]*managed),
	}
}

// Acquire returns userID's session, starting one if needed. A caller that
// finds a session still starting waits for the start to finish and gets its
// error if it failed. The caller must call release exactly once.
func (m *Manager) Acquire(ctx context.Context, userID uint) (*Session, func(), error) {
	m.mu.Lock()
	entry, ok := m.sessions[userID]
	if ok {
		entry.refs++
		if entry.timer != nil {
			entry.timer.Stop()
			entry.timer = nil
		}
		m.mu.Unlock()

		select {
		case <-entry.ready:
		case <-ctx.Done():
			m.release(userID, entry)
			return nil, nil, ctx.Err()
		}
		if entry.err != nil {
			return nil, nil, entry.err
		}
		return entry.session, m.releaser(userID, entry), nil
	}
	session := NewSession(m.ctx, userID, m.deps)
	entry = &managed{session: session, refs: 1, ready: make(chan struct{})}
	m.sessions[userID] = entry
	m.mu.Unlock()

	if err := session.Start(ctx); err != nil {
		m.mu.Lock()
		if m.sessions[userID] == entry {
			delete(m.sessions, userID)
		}
		entry.err = err
		m.mu.Unlock()
		close(entry.ready)
		session.Close()
		return nil, nil, err
	}
	close(entry.ready)
	return session, m.releaser(userID, entry), nil
}

func (m *Manager) releaser(userID uint, entry *managed) func() {
	var once sync.Once
	return func() {
		once.Do(func() { m.release(userID, entry) })
	}
}

func (m *Manager) release(userID uint, entry *managed) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.refs--
	if entry.refs > 0 {
		return
	}
	if m.sessions[userID] != entry {
		return
	}
	if m.idle <= 0 {
		delete(m.sessions, userID)
		go entry.session.Close()
		return
	}
	entry.timer = time.AfterFunc(m.idle, func() {
		m.mu.Lock()
		if entry.refs > 0 || m.sessions[userID] != entry {
			m.mu.Unlock()
			return
		}
		delete(m.sessions, userID)
		m.mu.Unlock()
		entry.session.Close()
	})
}

// Active is the number of open sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll closes every session regardless of holders.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	entries := make([]*managed, 0, len(m.sessions))
	for id, e := range m.sessions {
		if e.timer != nil {
			e.timer.Stop()
		}
		entries = append(entries, e)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close()
		}(e.session)
	}
	wg.Wait()
	m.log.Info().Int("sessions", len(entries)).Msg("all sessions closed")
}
