package chatsync

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/laserpointoman-commits/talebEdu-sub002/internal/models"
	"github.com/rs/zerolog"
)

// SendInput describes one outgoing message. PeerID is the recipient for
// direct messages and the group id for group messages.
type SendInput struct {
	PeerID          uint
	Content         string
	Files           []LocalFile
	ReplyToID       *uint
	ForwardedFromID *uint
	Kind            models.MessageKind
	VoiceDuration   *int
}

func (in SendInput) validate() error {
	if strings.TrimSpace(in.Content) == "" && len(in.Files) == 0 {
		return ErrEmptyMessage
	}
	return nil
}

func (in SendInput) content() *string {
	text := strings.TrimSpace(in.Content)
	if text == "" {
		return nil
	}
	return &text
}

func (in SendInput) kind() models.MessageKind {
	if in.Kind == "" {
		return models.TextMessage
	}
	return in.Kind
}

// MessageStore holds the viewer's direct-message threads, one ordered list
// per correspondent, and merges optimistic writes with pushed row changes.
type MessageStore struct {
	selfID   uint
	backend  DirectMessageBackend
	pipeline *AttachmentPipeline
	ledger   *ReactionLedger
	notifier Notifier
	metrics  *Metrics
	log      zerolog.Logger
	ctx      context.Context

	mu       sync.RWMutex
	threads  map[uint]*timeline[models.DirectMessage]
	owner    map[uint]uint
	gone     map[uint]struct{}
	closed   bool
	onChange func(peerID uint)

	wg sync.WaitGroup
}

func NewMessageStore(ctx context.Context, selfID uint, backend DirectMessageBackend, pipeline *AttachmentPipeline, ledger *ReactionLedger, notifier Notifier, metrics *Metrics, log zerolog.Logger) *MessageStore {
	return &MessageStore{
		selfID:   selfID,
		backend:  backend,
		pipeline: pipeline,
		ledger:   ledger,
		notifier: notifier,
		metrics:  metrics,
		log:      log.With().Str("component", "direct_messages").Uint("user_id", selfID).Logger(),
		ctx:      ctx,
		threads:  make(map[uint]*timeline[models.DirectMessage]),
		owner:    make(map[uint]uint),
		gone:     make(map[uint]struct{}),
	}
}

// OnChange registers fn to run after any change to a thread.
func (s *MessageStore) OnChange(fn func(peerID uint)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *MessageStore) changed(peerID uint) {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn(peerID)
	}
}

// threadLocked returns the thread for peerID, creating it if needed.
func (s *MessageStore) threadLocked(peerID uint) *timeline[models.DirectMessage] {
	tl, ok := s.threads[peerID]
	if !ok {
		tl = newDirectTimeline()
		s.threads[peerID] = tl
	}
	return tl
}

// Load fetches the full history with peerID, resolves replies, attachments
// and reactions, and replaces the local thread with the visible result.
func (s *MessageStore) Load(ctx context.Context, peerID uint) ([]models.DirectMessage, error) {
	rows, err := s.backend.ListDirectConversation(ctx, s.selfID, peerID)
	if err != nil {
		return nil, err
	}

	visible := make([]models.DirectMessage, 0, len(rows))
	ids := make([]uint, 0, len(rows))
	for _, m := range rows {
		if m.VisibleTo(s.selfID) {
			visible = append(visible, m)
			ids = append(ids, m.ID)
		}
	}
	s.resolveReplies(ctx, rows, visible)
	atts := s.pipeline.Resolve(ctx, models.DirectScope, ids)
	reactions := s.ledger.Resolve(ctx, models.DirectScope, ids)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	tl := s.threadLocked(peerID)
	merged := make([]models.DirectMessage, 0, len(visible))
	for _, m := range visible {
		if _, removed := s.gone[m.ID]; removed {
			continue
		}
		m.Attachments = atts[m.ID]
		m.Reactions = reactions[m.ID]
		if local, ok := tl.get(m.ID); ok {
			local.MergeFrom(&m)
			local.Reactions = m.Reactions
			if !hasTransient(local.Attachments) {
				local.Attachments = m.Attachments
			}
			if local.ReplyTo == nil {
				local.ReplyTo = m.ReplyTo
			}
			m = local
		}
		merged = append(merged, m)
	}
	for _, old := range tl.items {
		delete(s.owner, old.ID)
	}
	tl.reset(merged)
	for _, m := range tl.items {
		s.owner[m.ID] = peerID
	}
	out := tl.snapshot(models.DirectMessage.Clone)
	s.mu.Unlock()

	s.changed(peerID)
	return out, nil
}

// resolveReplies attaches reply snapshots, looking up targets that are not
// part of the fetched history in one batch.
func (s *MessageStore) resolveReplies(ctx context.Context, all, visible []models.DirectMessage) {
	byID := make(map[uint]models.DirectMessage, len(all))
	for _, m := range all {
		byID[m.ID] = m
	}
	var missing []uint
	for _, m := range visible {
		if m.ReplyToID == nil {
			continue
		}
		if _, ok := byID[*m.ReplyToID]; !ok {
			missing = append(missing, *m.ReplyToID)
		}
	}
	if len(missing) > 0 {
		found, err := s.backend.FindDirectByIDs(ctx, missing)
		if err != nil {
			s.log.Warn().Err(err).Msg("reply lookup failed")
		}
		for _, m := range found {
			byID[m.ID] = m
		}
	}
	for i := range visible {
		if visible[i].ReplyToID == nil {
			continue
		}
		if target, ok := byID[*visible[i].ReplyToID]; ok && target.VisibleTo(s.selfID) {
			visible[i].ReplyTo = replySnapshot(target)
		}
	}
}

func replySnapshot(m models.DirectMessage) *models.DirectMessage {
	m.ReplyTo = nil
	m.Attachments = nil
	m.Reactions = nil
	if m.DeletedForEveryone {
		m.Content = nil
	}
	return &m
}

// Send writes the message row first so its id is known, then projects it
// locally with transient attachments. Uploads continue in the background and
// the returned Outcome resolves when they finish.
func (s *MessageStore) Send(ctx context.Context, in SendInput) (*models.DirectMessage, *Outcome, error) {
	if err := in.validate(); err != nil {
		return nil, nil, err
	}
	if in.PeerID == 0 || in.PeerID == s.selfID {
		return nil, nil, ErrInvalidRecipient
	}
	var reply *models.DirectMessage
	if in.ReplyToID != nil {
		target, err := s.visibleMessage(ctx, *in.ReplyToID)
		if err != nil || !target.Involves(in.PeerID) {
			return nil, nil, ErrMessageNotFound
		}
		reply = replySnapshot(target)
	}
	if in.ForwardedFromID != nil {
		if _, err := s.visibleMessage(ctx, *in.ForwardedFromID); err != nil {
			return nil, nil, ErrMessageNotFound
		}
	}

	msg := &models.DirectMessage{
		SenderID:        s.selfID,
		RecipientID:     in.PeerID,
		Content:         in.content(),
		Kind:            in.kind(),
		VoiceDuration:   in.VoiceDuration,
		ReplyToID:       in.ReplyToID,
		ForwardedFromID: in.ForwardedFromID,
	}
	if err := s.backend.InsertDirect(ctx, msg); err != nil {
		s.metrics.writeFailed("direct_send")
		return nil, nil, err
	}

	local := msg.Clone()
	local.Attachments = s.pipeline.Stage(models.DirectScope, msg.ID, in.Files)
	local.ReplyTo = reply

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.pipeline.Release(local.Attachments)
		return msg, resolvedOutcome(ErrSessionClosed), nil
	}
	tl := s.threadLocked(in.PeerID)
	if !tl.insert(local) {
		// The pushed row got here first; only lend it the previews.
		tl.update(msg.ID, func(m *models.DirectMessage) {
			if len(m.Attachments) == 0 {
				m.Attachments = local.Attachments
			}
		})
	}
	s.owner[msg.ID] = in.PeerID
	snapshot, _ := tl.get(msg.ID)
	snapshot = snapshot.Clone()
	s.mu.Unlock()
	s.changed(in.PeerID)

	s.notify(in.PeerID, msg)

	if len(in.Files) == 0 {
		return &snapshot, resolvedOutcome(nil), nil
	}

	out := newOutcome()
	staged := local.Attachments
	uploadCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		durable := s.pipeline.Upload(uploadCtx, models.DirectScope, s.selfID, msg.ID, in.Files)
		s.swapAttachments(in.PeerID, msg.ID, durable)
		s.pipeline.Release(staged)
		var err error
		if len(durable) < len(in.Files) {
			err = ErrPartialUpload
		}
		out.resolve(err)
	}()
	return &snapshot, out, nil
}

// swapAttachments replaces the transient attachments of id with durable. It
// does nothing once the store is closed or the message is gone.
func (s *MessageStore) swapAttachments(peerID, id uint, durable []models.Attachment) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	tl, ok := s.threads[peerID]
	updated := ok && tl.update(id, func(m *models.DirectMessage) {
		m.Attachments = replaceTransient(m.Attachments, durable)
	})
	s.mu.Unlock()
	if updated {
		s.changed(peerID)
	}
}

func replaceTransient(current, durable []models.Attachment) []models.Attachment {
	out := make([]models.Attachment, 0, len(durable)+len(current))
	seen := make(map[string]struct{}, len(durable))
	for _, a := range current {
		if a.IsTransient() {
			continue
		}
		seen[a.ID] = struct{}{}
		out = append(out, a)
	}
	for _, a := range durable {
		if _, ok := seen[a.ID]; !ok {
			out = append(out, a)
		}
	}
	return out
}

func hasTransient(atts []models.Attachment) bool {
	for i := range atts {
		if atts[i].IsTransient() {
			return true
		}
	}
	return false
}

// visibleMessage returns id if the viewer takes part in it and has not
// deleted it from their side.
func (s *MessageStore) visibleMessage(ctx context.Context, id uint) (models.DirectMessage, error) {
	if m, ok := s.Message(id); ok {
		return m, nil
	}
	m, err := s.backend.FindDirectByID(ctx, id)
	if err != nil {
		return models.DirectMessage{}, err
	}
	if !m.VisibleTo(s.selfID) {
		return models.DirectMessage{}, ErrMessageNotFound
	}
	return *m, nil
}

func (s *MessageStore) lookupReply(ctx context.Context, id uint) *models.DirectMessage {
	m, err := s.visibleMessage(ctx, id)
	if err != nil {
		s.log.Debug().Err(err).Uint("message_id", id).Msg("reply target not found")
		return nil
	}
	return replySnapshot(m)
}

func (s *MessageStore) notify(peerID uint, msg *models.DirectMessage) {
	if s.notifier == nil {
		return
	}
	n := Notification{
		Kind:      "direct_message",
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		Preview:   models.Preview(msg.Content, msg.Kind, false),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.notifier.Notify(s.ctx, []uint{peerID}, n); err != nil {
			s.log.Debug().Err(err).Uint("message_id", msg.ID).Msg("notification dropped")
		}
	}()
}

// Remove takes the message out of the local projection immediately, then
// deletes it for everyone (sender only) or for the viewer's side. A failed
// write is reported on the Outcome; the local removal stands.
func (s *MessageStore) Remove(ctx context.Context, id uint, forEveryone bool) *Outcome {
	msg, ok := s.Message(id)
	if !ok {
		row, err := s.backend.FindDirectByID(ctx, id)
		if err != nil || !row.Involves(s.selfID) {
			return resolvedOutcome(ErrMessageNotFound)
		}
		msg = *row
	}
	peerID := msg.PeerOf(s.selfID)
	s.dropLocal(peerID, id)

	var err error
	if forEveryone && msg.SenderID == s.selfID {
		err = s.backend.DeleteDirectForEveryone(ctx, id, s.selfID)
	} else {
		err = s.backend.DeleteDirectForUser(ctx, id, s.selfID)
	}
	if err != nil {
		s.log.Warn().Err(err).Uint("message_id", id).Bool("for_everyone", forEveryone).Msg("delete failed")
		s.metrics.writeFailed("direct_delete")
	}
	return resolvedOutcome(err)
}

func (s *MessageStore) dropLocal(peerID, id uint) {
	s.mu.Lock()
	s.gone[id] = struct{}{}
	delete(s.owner, id)
	removed := false
	if tl, ok := s.threads[peerID]; ok {
		removed = tl.remove(id)
	}
	s.mu.Unlock()
	if removed {
		s.changed(peerID)
	}
}

// MarkRead marks every unread message from peerID as read (and delivered).
func (s *MessageStore) MarkRead(ctx context.Context, peerID uint) (int64, error) {
	n, err := s.backend.MarkDirectRead(ctx, s.selfID, peerID)
	if err != nil {
		s.log.Warn().Err(err).Uint("peer_id", peerID).Msg("mark read failed")
		s.metrics.writeFailed("direct_read")
	}
	return n, err
}

// MarkDelivered marks every undelivered message to the viewer as delivered.
func (s *MessageStore) MarkDelivered(ctx context.Context) (int64, error) {
	n, err := s.backend.MarkDirectDelivered(ctx, s.selfID)
	if err != nil {
		s.log.Warn().Err(err).Msg("mark delivered failed")
		s.metrics.writeFailed("direct_delivered")
	}
	return n, err
}

// React replaces the viewer's reaction on id locally, then upserts it.
func (s *MessageStore) React(ctx context.Context, id uint, emoji string) *Outcome {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return resolvedOutcome(ErrEmptyEmoji)
	}
	if _, err := s.visibleMessage(ctx, id); err != nil {
		return resolvedOutcome(ErrMessageNotFound)
	}
	r := models.Reaction{MessageID: id, UserID: s.selfID, Emoji: emoji, CreatedAt: time.Now().UTC()}
	s.ApplyReaction(&r)

	err := s.ledger.Upsert(ctx, models.DirectScope, r)
	if err != nil {
		s.log.Warn().Err(err).Uint("message_id", id).Msg("reaction upsert failed")
		s.metrics.writeFailed("direct_react")
	}
	return resolvedOutcome(err)
}

// Unreact removes the viewer's reaction on id locally, then on the backend.
func (s *MessageStore) Unreact(ctx context.Context, id uint) *Outcome {
	if _, err := s.visibleMessage(ctx, id); err != nil {
		return resolvedOutcome(ErrMessageNotFound)
	}
	s.ApplyReactionDelete(&models.Reaction{MessageID: id, UserID: s.selfID})

	err := s.ledger.Remove(ctx, models.DirectScope, id, s.selfID)
	if err != nil {
		s.log.Warn().Err(err).Uint("message_id", id).Msg("reaction removal failed")
		s.metrics.writeFailed("direct_unreact")
	}
	return resolvedOutcome(err)
}

// ApplyInsert merges a pushed message row. A row already present is merged
// by id; a new visible row is added and hydrated in the background.
func (s *MessageStore) ApplyInsert(row *models.DirectMessage) bool {
	if !row.Involves(s.selfID) {
		return false
	}
	peerID := row.PeerOf(s.selfID)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if _, removed := s.gone[row.ID]; removed {
		s.mu.Unlock()
		return false
	}
	tl := s.threadLocked(peerID)
	if tl.has(row.ID) {
		s.mergeLocked(tl, peerID, row)
		s.mu.Unlock()
		s.changed(peerID)
		return true
	}
	if !row.VisibleTo(s.selfID) {
		s.gone[row.ID] = struct{}{}
		s.mu.Unlock()
		return false
	}
	entry := row.Clone()
	entry.ReplyTo = nil
	tl.insert(entry)
	s.owner[row.ID] = peerID
	s.mu.Unlock()

	s.hydrate(peerID, *row)
	if row.RecipientID == s.selfID && !row.IsDelivered {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_, _ = s.MarkDelivered(s.ctx)
		}()
	}
	s.changed(peerID)
	return true
}

// ApplyUpdate merges a pushed row change. An update for an unknown message
// is treated as its insert so arrival order does not matter.
func (s *MessageStore) ApplyUpdate(row *models.DirectMessage) bool {
	if !row.Involves(s.selfID) {
		return false
	}
	peerID := row.PeerOf(s.selfID)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	tl, ok := s.threads[peerID]
	if !ok || !tl.has(row.ID) {
		s.mu.Unlock()
		return s.ApplyInsert(row)
	}
	s.mergeLocked(tl, peerID, row)
	s.mu.Unlock()
	s.changed(peerID)
	return true
}

// mergeLocked folds row into the existing entry and drops the entry once it
// is no longer visible.
func (s *MessageStore) mergeLocked(tl *timeline[models.DirectMessage], peerID uint, row *models.DirectMessage) {
	visible := true
	tl.update(row.ID, func(m *models.DirectMessage) {
		m.MergeFrom(row)
		visible = m.VisibleTo(s.selfID)
	})
	if !visible {
		tl.remove(row.ID)
		delete(s.owner, row.ID)
		s.gone[row.ID] = struct{}{}
	}
}

// ApplyDelete removes a message whose row was deleted.
func (s *MessageStore) ApplyDelete(row *models.DirectMessage) bool {
	if !row.Involves(s.selfID) {
		return false
	}
	s.dropLocal(row.PeerOf(s.selfID), row.ID)
	return true
}

// ApplyReaction sets r as its user's only reaction on the message.
func (s *MessageStore) ApplyReaction(r *models.Reaction) bool {
	return s.patchReactions(r.MessageID, func(list []models.Reaction) []models.Reaction {
		return ApplyReaction(list, *r)
	})
}

func (s *MessageStore) ApplyReactionDelete(r *models.Reaction) bool {
	return s.patchReactions(r.MessageID, func(list []models.Reaction) []models.Reaction {
		return WithoutReaction(list, r.UserID)
	})
}

func (s *MessageStore) patchReactions(messageID uint, fn func([]models.Reaction) []models.Reaction) bool {
	s.mu.Lock()
	peerID, ok := s.owner[messageID]
	if !ok || s.closed {
		s.mu.Unlock()
		return false
	}
	tl := s.threads[peerID]
	tl.update(messageID, func(m *models.DirectMessage) {
		m.Reactions = fn(m.Reactions)
	})
	s.mu.Unlock()
	s.changed(peerID)
	return true
}

// hydrate resolves attachments, reactions and the reply target of a pushed
// message in the background.
func (s *MessageStore) hydrate(peerID uint, row models.DirectMessage) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ids := []uint{row.ID}
		atts := s.pipeline.Resolve(s.ctx, models.DirectScope, ids)[row.ID]
		reactions := s.ledger.Resolve(s.ctx, models.DirectScope, ids)[row.ID]
		var reply *models.DirectMessage
		if row.ReplyToID != nil {
			reply = s.lookupReply(s.ctx, *row.ReplyToID)
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		updated := false
		if tl, ok := s.threads[peerID]; ok {
			updated = tl.update(row.ID, func(m *models.DirectMessage) {
				if len(m.Attachments) == 0 {
					m.Attachments = atts
				}
				m.Reactions = mergeReactions(m.Reactions, reactions)
				if m.ReplyTo == nil {
					m.ReplyTo = reply
				}
			})
		}
		s.mu.Unlock()
		if updated {
			s.changed(peerID)
		}
	}()
}

// Messages returns a copy of the visible thread with peerID.
func (s *MessageStore) Messages(peerID uint) []models.DirectMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tl, ok := s.threads[peerID]
	if !ok {
		return []models.DirectMessage{}
	}
	return tl.snapshot(models.DirectMessage.Clone)
}

// Message returns a copy of the local entry for id.
func (s *MessageStore) Message(id uint) (models.DirectMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	peerID, ok := s.owner[id]
	if !ok {
		return models.DirectMessage{}, false
	}
	m, ok := s.threads[peerID].get(id)
	if !ok {
		return models.DirectMessage{}, false
	}
	return m.Clone(), true
}

// close discards every thread. Uploads still running finish against the
// backend but no longer touch local state.
func (s *MessageStore) close() {
	s.mu.Lock()
	s.closed = true
	s.threads = make(map[uint]*timeline[models.DirectMessage])
	s.owner = make(map[uint]uint)
	s.mu.Unlock()
}

// settle waits for background uploads, hydration and notifications.
func (s *MessageStore) settle() {
	s.wg.Wait()
}
