package chatsync

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/laserpointoman-commits/talebEdu-sub002/internal/models"
	"github.com/rs/zerolog"
)

// GroupMessageStore holds the open group's timeline and the viewer's group
// list. Only the open group keeps messages in memory; every other group is
// tracked through its summary row.
type GroupMessageStore struct {
	selfID   uint
	backend  GroupMessageBackend
	pipeline *AttachmentPipeline
	ledger   *ReactionLedger
	profiles ProfileDirectory
	notifier Notifier
	metrics  *Metrics
	log      zerolog.Logger
	ctx      context.Context

	mu       sync.RWMutex
	activeID uint
	tl       *timeline[models.GroupMessage]
	gone     map[uint]struct{}
	groups   map[uint]*models.GroupSummary
	readUpTo map[uint]uint
	senders  map[uint]models.Profile
	probing  map[uint]struct{}
	outside  map[uint]struct{}
	closed   bool

	onMessages func(groupID uint)
	onGroups   func()
	refresh    *Trigger

	wg sync.WaitGroup
}

func NewGroupMessageStore(ctx context.Context, selfID uint, backend GroupMessageBackend, pipeline *AttachmentPipeline, ledger *ReactionLedger, profiles ProfileDirectory, notifier Notifier, metrics *Metrics, debounce time.Duration, log zerolog.Logger) *GroupMessageStore {
	s := &GroupMessageStore{
		selfID:   selfID,
		backend:  backend,
		pipeline: pipeline,
		ledger:   ledger,
		profiles: profiles,
		notifier: notifier,
		metrics:  metrics,
		log:      log.With().Str("component", "group_messages").Uint("user_id", selfID).Logger(),
		ctx:      ctx,
		tl:       newGroupTimeline(),
		gone:     make(map[uint]struct{}),
		groups:   make(map[uint]*models.GroupSummary),
		readUpTo: make(map[uint]uint),
		senders:  make(map[uint]models.Profile),
		probing:  make(map[uint]struct{}),
		outside:  make(map[uint]struct{}),
	}
	s.refresh = NewTrigger(debounce, func() {
		if _, err := s.LoadGroups(s.ctx); err != nil {
			s.log.Warn().Err(err).Msg("group list refresh failed")
		}
	})
	return s
}

// OnChange registers listeners for timeline changes of the open group and for
// group list changes.
func (s *GroupMessageStore) OnChange(messages func(groupID uint), groups func()) {
	s.mu.Lock()
	s.onMessages = messages
	s.onGroups = groups
	s.mu.Unlock()
}

func (s *GroupMessageStore) messagesChanged(groupID uint) {
	s.mu.RLock()
	fn := s.onMessages
	s.mu.RUnlock()
	if fn != nil {
		fn(groupID)
	}
}

func (s *GroupMessageStore) groupsChanged() {
	s.mu.RLock()
	fn := s.onGroups
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// ActiveGroup is the open group's id, or zero.
func (s *GroupMessageStore) ActiveGroup() uint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// Open makes groupID the active group and loads its history.
func (s *GroupMessageStore) Open(ctx context.Context, groupID uint) ([]models.GroupMessage, error) {
	if err := s.requireMember(ctx, groupID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.activeID != groupID {
		s.activeID = groupID
		s.tl.reset(nil)
	}
	s.mu.Unlock()
	return s.load(ctx, groupID)
}

func (s *GroupMessageStore) requireMember(ctx context.Context, groupID uint) error {
	ok, err := s.backend.IsGroupMember(ctx, groupID, s.selfID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

// CloseGroup clears the active group.
func (s *GroupMessageStore) CloseGroup() {
	s.mu.Lock()
	s.activeID = 0
	s.tl.reset(nil)
	s.mu.Unlock()
}

// Load fetches the visible history of groupID with sender identity, replies,
// attachments and reactions resolved. The local timeline is replaced only
// when groupID is the open group.
func (s *GroupMessageStore) Load(ctx context.Context, groupID uint) ([]models.GroupMessage, error) {
	if err := s.requireMember(ctx, groupID); err != nil {
		return nil, err
	}
	return s.load(ctx, groupID)
}

func (s *GroupMessageStore) load(ctx context.Context, groupID uint) ([]models.GroupMessage, error) {
	rows, err := s.backend.ListGroupMessages(ctx, groupID)
	if err != nil {
		return nil, err
	}

	visible := make([]models.GroupMessage, 0, len(rows))
	ids := make([]uint, 0, len(rows))
	senderIDs := make([]uint, 0, len(rows))
	for _, m := range rows {
		if m.VisibleTo(s.selfID) {
			visible = append(visible, m)
			ids = append(ids, m.ID)
			senderIDs = append(senderIDs, m.SenderID)
		}
	}
	s.resolveReplies(ctx, rows, visible)
	for i := range visible {
		if visible[i].ReplyTo != nil {
			senderIDs = append(senderIDs, visible[i].ReplyTo.SenderID)
		}
	}
	people := s.senderProfiles(ctx, senderIDs)
	atts := s.pipeline.Resolve(ctx, models.GroupScope, ids)
	reactions := s.ledger.Resolve(ctx, models.GroupScope, ids)

	for i := range visible {
		m := &visible[i]
		applySender(m, people)
		if m.ReplyTo != nil {
			applySender(m.ReplyTo, people)
		}
		m.Attachments = atts[m.ID]
		m.Reactions = reactions[m.ID]
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	active := s.activeID == groupID
	var out []models.GroupMessage
	if active {
		merged := make([]models.GroupMessage, 0, len(visible))
		for _, m := range visible {
			if _, removed := s.gone[m.ID]; removed {
				continue
			}
			if local, ok := s.tl.get(m.ID); ok && hasTransient(local.Attachments) {
				m.Attachments = local.Attachments
			}
			merged = append(merged, m)
		}
		s.tl.reset(merged)
		out = s.tl.snapshot(models.GroupMessage.Clone)
	} else {
		out = visible
	}
	s.mu.Unlock()

	if active {
		s.messagesChanged(groupID)
	}
	return out, nil
}

func (s *GroupMessageStore) resolveReplies(ctx context.Context, all, visible []models.GroupMessage) {
	byID := make(map[uint]models.GroupMessage, len(all))
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
		found, err := s.backend.FindGroupMessagesByIDs(ctx, missing)
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
		target, ok := byID[*visible[i].ReplyToID]
		if ok && target.GroupID == visible[i].GroupID && target.VisibleTo(s.selfID) {
			visible[i].ReplyTo = groupReplySnapshot(target)
		}
	}
}

func groupReplySnapshot(m models.GroupMessage) *models.GroupMessage {
	m.ReplyTo = nil
	m.Attachments = nil
	m.Reactions = nil
	if m.DeletedForEveryone {
		m.Content = nil
	}
	return &m
}

func applySender(m *models.GroupMessage, people map[uint]models.Profile) {
	p, ok := people[m.SenderID]
	if !ok {
		p = models.PlaceholderProfile(m.SenderID)
	}
	m.SenderName = p.DisplayName
	m.SenderAvatar = p.AvatarURL
}

// senderProfiles resolves display identity for ids, serving repeats from the
// store's cache. Lookup failures fall back to placeholders.
func (s *GroupMessageStore) senderProfiles(ctx context.Context, ids []uint) map[uint]models.Profile {
	out := make(map[uint]models.Profile, len(ids))
	var missing []uint
	s.mu.RLock()
	for _, id := range ids {
		if _, done := out[id]; done {
			continue
		}
		if p, ok := s.senders[id]; ok {
			out[id] = p
			continue
		}
		out[id] = models.PlaceholderProfile(id)
		missing = append(missing, id)
	}
	s.mu.RUnlock()
	if len(missing) == 0 || s.profiles == nil {
		return out
	}

	found, err := s.profiles.Profiles(ctx, missing)
	if err != nil {
		s.log.Warn().Err(err).Int("count", len(missing)).Msg("sender lookup failed")
		return out
	}
	s.mu.Lock()
	for id, p := range found {
		s.senders[id] = p
		out[id] = p
	}
	s.mu.Unlock()
	return out
}

// Send writes a group message and projects it into the open group's timeline.
// Uploads continue in the background; the Outcome resolves when they finish.
func (s *GroupMessageStore) Send(ctx context.Context, in SendInput) (*models.GroupMessage, *Outcome, error) {
	if err := in.validate(); err != nil {
		return nil, nil, err
	}
	groupID := in.PeerID
	if groupID == 0 {
		return nil, nil, ErrNoGroupSelected
	}
	if err := s.requireMember(ctx, groupID); err != nil {
		return nil, nil, err
	}
	var reply *models.GroupMessage
	if in.ReplyToID != nil {
		target, err := s.visibleMessage(ctx, groupID, *in.ReplyToID)
		if err != nil {
			return nil, nil, err
		}
		reply = s.replyFor(ctx, target)
	}
	if in.ForwardedFromID != nil {
		if _, err := s.visibleMessage(ctx, 0, *in.ForwardedFromID); err != nil {
			return nil, nil, err
		}
	}

	msg := &models.GroupMessage{
		GroupID:         groupID,
		SenderID:        s.selfID,
		Content:         in.content(),
		Kind:            in.kind(),
		VoiceDuration:   in.VoiceDuration,
		ReplyToID:       in.ReplyToID,
		ForwardedFromID: in.ForwardedFromID,
	}
	if err := s.backend.InsertGroupMessage(ctx, msg); err != nil {
		s.metrics.writeFailed("group_send")
		return nil, nil, err
	}

	local := msg.Clone()
	applySender(&local, s.senderProfiles(ctx, []uint{s.selfID}))
	local.Attachments = s.pipeline.Stage(models.GroupScope, msg.ID, in.Files)
	local.ReplyTo = reply

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.pipeline.Release(local.Attachments)
		return msg, resolvedOutcome(ErrSessionClosed), nil
	}
	active := s.activeID == groupID
	if active && !s.tl.insert(local) {
		s.tl.update(msg.ID, func(m *models.GroupMessage) {
			if len(m.Attachments) == 0 {
				m.Attachments = local.Attachments
			}
		})
	}
	s.touchLocked(msg)
	s.mu.Unlock()
	if active {
		s.messagesChanged(groupID)
	}
	s.groupsChanged()

	s.notify(msg)

	snapshot := local.Clone()
	if len(in.Files) == 0 {
		return &snapshot, resolvedOutcome(nil), nil
	}

	out := newOutcome()
	staged := local.Attachments
	uploadCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		durable := s.pipeline.Upload(uploadCtx, models.GroupScope, groupID, msg.ID, in.Files)
		s.swapAttachments(groupID, msg.ID, durable)
		s.pipeline.Release(staged)
		var err error
		if len(durable) < len(in.Files) {
			err = ErrPartialUpload
		}
		out.resolve(err)
	}()
	return &snapshot, out, nil
}

func (s *GroupMessageStore) swapAttachments(groupID, id uint, durable []models.Attachment) {
	s.mu.Lock()
	if s.closed || s.activeID != groupID {
		s.mu.Unlock()
		return
	}
	updated := s.tl.update(id, func(m *models.GroupMessage) {
		m.Attachments = replaceTransient(m.Attachments, durable)
	})
	s.mu.Unlock()
	if updated {
		s.messagesChanged(groupID)
	}
}

// visibleMessage returns id when it is visible to the viewer in a group they
// belong to. A non-zero groupID also requires the message to be in that group.
// Anything else is reported as ErrMessageNotFound.
func (s *GroupMessageStore) visibleMessage(ctx context.Context, groupID, id uint) (models.GroupMessage, error) {
	s.mu.RLock()
	local, ok := s.tl.get(id)
	s.mu.RUnlock()
	if ok {
		if groupID != 0 && local.GroupID != groupID {
			return models.GroupMessage{}, ErrMessageNotFound
		}
		return local, nil
	}

	row, err := s.backend.FindGroupMessageByID(ctx, id)
	if err != nil {
		return models.GroupMessage{}, ErrMessageNotFound
	}
	if (groupID != 0 && row.GroupID != groupID) || !row.VisibleTo(s.selfID) {
		return models.GroupMessage{}, ErrMessageNotFound
	}
	if err := s.requireMember(ctx, row.GroupID); err != nil {
		if errors.Is(err, ErrNotMember) {
			return models.GroupMessage{}, ErrMessageNotFound
		}
		return models.GroupMessage{}, err
	}
	return *row, nil
}

func (s *GroupMessageStore) replyFor(ctx context.Context, target models.GroupMessage) *models.GroupMessage {
	reply := groupReplySnapshot(target)
	applySender(reply, s.senderProfiles(ctx, []uint{reply.SenderID}))
	return reply
}

func (s *GroupMessageStore) lookupReply(ctx context.Context, groupID, id uint) *models.GroupMessage {
	target, err := s.visibleMessage(ctx, groupID, id)
	if err != nil {
		s.log.Debug().Err(err).Uint("message_id", id).Msg("reply target not found")
		return nil
	}
	return s.replyFor(ctx, target)
}

func (s *GroupMessageStore) notify(msg *models.GroupMessage) {
	if s.notifier == nil {
		return
	}
	n := Notification{
		Kind:      "group_message",
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		GroupID:   msg.GroupID,
		Preview:   models.Preview(msg.Content, msg.Kind, false),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		members, err := s.backend.ListGroupMemberIDs(s.ctx, msg.GroupID)
		if err != nil {
			s.log.Debug().Err(err).Uint("group_id", msg.GroupID).Msg("member lookup for notification failed")
			return
		}
		recipients := make([]uint, 0, len(members))
		for _, id := range members {
			if id != s.selfID {
				recipients = append(recipients, id)
			}
		}
		if len(recipients) == 0 {
			return
		}
		if err := s.notifier.Notify(s.ctx, recipients, n); err != nil {
			s.log.Debug().Err(err).Uint("message_id", msg.ID).Msg("notification dropped")
		}
	}()
}

// Remove drops the message from the open timeline, then deletes it for
// everyone or for the sender's side. Members who did not write the message
// have no side flag in groups, so their removal stays local and the Outcome
// reports ErrNotAuthor.
func (s *GroupMessageStore) Remove(ctx context.Context, groupID, id uint, forEveryone bool) *Outcome {
	msg, err := s.visibleMessage(ctx, groupID, id)
	if err != nil {
		return resolvedOutcome(err)
	}
	s.dropLocal(msg.GroupID, id)

	if msg.SenderID != s.selfID {
		return resolvedOutcome(ErrNotAuthor)
	}
	if forEveryone {
		err = s.backend.DeleteGroupMessageForEveryone(ctx, id, s.selfID)
	} else {
		err = s.backend.DeleteGroupMessageForSender(ctx, id, s.selfID)
	}
	if err != nil {
		s.log.Warn().Err(err).Uint("message_id", id).Bool("for_everyone", forEveryone).Msg("delete failed")
		s.metrics.writeFailed("group_delete")
	}
	return resolvedOutcome(err)
}

func (s *GroupMessageStore) dropLocal(groupID, id uint) {
	s.mu.Lock()
	s.gone[id] = struct{}{}
	removed := s.activeID == groupID && s.tl.remove(id)
	s.mu.Unlock()
	if removed {
		s.messagesChanged(groupID)
	}
}

// React replaces the viewer's reaction on message id of groupID.
func (s *GroupMessageStore) React(ctx context.Context, groupID, id uint, emoji string) *Outcome {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return resolvedOutcome(ErrEmptyEmoji)
	}
	if _, err := s.visibleMessage(ctx, groupID, id); err != nil {
		return resolvedOutcome(err)
	}
	r := models.Reaction{MessageID: id, UserID: s.selfID, Emoji: emoji, CreatedAt: time.Now().UTC()}
	s.ApplyReaction(&r)

	err := s.ledger.Upsert(ctx, models.GroupScope, r)
	if err != nil {
		s.log.Warn().Err(err).Uint("message_id", id).Msg("reaction upsert failed")
		s.metrics.writeFailed("group_react")
	}
	return resolvedOutcome(err)
}

func (s *GroupMessageStore) Unreact(ctx context.Context, groupID, id uint) *Outcome {
	if _, err := s.visibleMessage(ctx, groupID, id); err != nil {
		return resolvedOutcome(err)
	}
	s.ApplyReactionDelete(&models.Reaction{MessageID: id, UserID: s.selfID})

	err := s.ledger.Remove(ctx, models.GroupScope, id, s.selfID)
	if err != nil {
		s.log.Warn().Err(err).Uint("message_id", id).Msg("reaction removal failed")
		s.metrics.writeFailed("group_unreact")
	}
	return resolvedOutcome(err)
}

// MarkRead moves the viewer's read mark in groupID up to the newest message
// known locally. The mark never moves backwards.
func (s *GroupMessageStore) MarkRead(ctx context.Context, groupID uint) error {
	if err := s.requireMember(ctx, groupID); err != nil {
		return err
	}
	s.mu.RLock()
	var upTo uint
	if g, ok := s.groups[groupID]; ok {
		upTo = g.LastMessageID
	}
	if s.activeID == groupID {
		if last, ok := s.tl.last(); ok && last.ID > upTo {
			upTo = last.ID
		}
	}
	already := s.readUpTo[groupID]
	s.mu.RUnlock()
	if upTo == 0 || upTo <= already {
		return nil
	}

	if err := s.backend.MarkGroupRead(ctx, groupID, s.selfID, upTo); err != nil {
		s.log.Warn().Err(err).Uint("group_id", groupID).Msg("mark read failed")
		s.metrics.writeFailed("group_read")
		return err
	}

	s.mu.Lock()
	if upTo > s.readUpTo[groupID] {
		s.readUpTo[groupID] = upTo
	}
	if g, ok := s.groups[groupID]; ok {
		g.UnreadCount = 0
	}
	s.mu.Unlock()
	s.groupsChanged()
	return nil
}

// LoadGroups replaces the group list with the backend's summaries.
func (s *GroupMessageStore) LoadGroups(ctx context.Context) ([]models.GroupSummary, error) {
	rows, err := s.backend.ListGroupSummaries(ctx, s.selfID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.groups = make(map[uint]*models.GroupSummary, len(rows))
	for i := range rows {
		row := rows[i]
		s.groups[row.GroupID] = &row
		delete(s.outside, row.GroupID)
	}
	for id := range s.probing {
		if _, ok := s.groups[id]; !ok {
			s.outside[id] = struct{}{}
		}
	}
	s.probing = make(map[uint]struct{})
	s.mu.Unlock()
	s.groupsChanged()
	return s.Groups(), nil
}

// Groups returns the group list, most recent activity first.
func (s *GroupMessageStore) Groups() []models.GroupSummary {
	s.mu.RLock()
	out := make([]models.GroupSummary, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, *g)
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastMessageAt, out[j].LastMessageAt
		switch {
		case a == nil && b == nil:
			return out[i].GroupID < out[j].GroupID
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.After(*b)
	})
	return out
}

// touchLocked advances a group's preview to msg. Older or repeated messages
// leave the summary alone, so redelivery does not inflate the unread count.
// A group missing from the list triggers one refresh; if the refresh does not
// bring it in, later messages for it are ignored.
func (s *GroupMessageStore) touchLocked(msg *models.GroupMessage) bool {
	g, ok := s.groups[msg.GroupID]
	if !ok {
		if _, skip := s.outside[msg.GroupID]; !skip {
			s.probing[msg.GroupID] = struct{}{}
			s.refresh.Schedule()
		}
		return false
	}
	if msg.ID <= g.LastMessageID {
		return false
	}
	g.LastMessageID = msg.ID
	at := msg.CreatedAt
	g.LastMessageAt = &at
	g.LastMessage = models.Preview(msg.Content, msg.Kind, msg.DeletedForEveryone)
	if msg.SenderID != s.selfID && msg.VisibleTo(s.selfID) && msg.ID > s.readUpTo[msg.GroupID] {
		g.UnreadCount++
	}
	return true
}

// ApplyInsert merges a pushed group message. The group list preview moves
// for every group; the timeline only takes messages of the open group that
// someone else wrote.
func (s *GroupMessageStore) ApplyInsert(row *models.GroupMessage) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	touched := s.touchLocked(row)
	appended := false
	if s.activeID == row.GroupID {
		if s.tl.has(row.ID) {
			appended = s.mergeLocked(row)
		} else if _, removed := s.gone[row.ID]; !removed && row.SenderID != s.selfID && row.VisibleTo(s.selfID) {
			entry := row.Clone()
			entry.ReplyTo = nil
			appended = s.tl.insert(entry)
		}
	}
	s.mu.Unlock()

	if touched {
		s.groupsChanged()
	}
	if appended {
		s.hydrate(*row)
		s.messagesChanged(row.GroupID)
	}
	return touched || appended
}

// ApplyUpdate merges a pushed row change into the open timeline. Visibility
// changes also refresh the group list so previews and counts follow.
func (s *GroupMessageStore) ApplyUpdate(row *models.GroupMessage) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if s.activeID != row.GroupID || !s.tl.has(row.ID) {
		visible := row.VisibleTo(s.selfID)
		_, known := s.groups[row.GroupID]
		if !visible {
			s.gone[row.ID] = struct{}{}
		}
		s.mu.Unlock()
		if !visible {
			if known {
				s.refresh.Schedule()
			}
			return false
		}
		return s.ApplyInsert(row)
	}
	s.mergeLocked(row)
	s.mu.Unlock()

	if !row.VisibleTo(s.selfID) {
		s.refresh.Schedule()
	}
	s.messagesChanged(row.GroupID)
	return true
}

func (s *GroupMessageStore) mergeLocked(row *models.GroupMessage) bool {
	visible := true
	updated := s.tl.update(row.ID, func(m *models.GroupMessage) {
		m.MergeFrom(row)
		visible = m.VisibleTo(s.selfID)
	})
	if !visible {
		s.tl.remove(row.ID)
		s.gone[row.ID] = struct{}{}
	}
	return updated
}

func (s *GroupMessageStore) ApplyDelete(row *models.GroupMessage) bool {
	s.dropLocal(row.GroupID, row.ID)
	s.mu.RLock()
	_, known := s.groups[row.GroupID]
	s.mu.RUnlock()
	if known {
		s.refresh.Schedule()
	}
	return known
}

func (s *GroupMessageStore) ApplyReaction(r *models.Reaction) bool {
	return s.patchReactions(r.MessageID, func(list []models.Reaction) []models.Reaction {
		return ApplyReaction(list, *r)
	})
}

func (s *GroupMessageStore) ApplyReactionDelete(r *models.Reaction) bool {
	return s.patchReactions(r.MessageID, func(list []models.Reaction) []models.Reaction {
		return WithoutReaction(list, r.UserID)
	})
}

func (s *GroupMessageStore) patchReactions(messageID uint, fn func([]models.Reaction) []models.Reaction) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	groupID := s.activeID
	updated := s.tl.update(messageID, func(m *models.GroupMessage) {
		m.Reactions = fn(m.Reactions)
	})
	s.mu.Unlock()
	if updated {
		s.messagesChanged(groupID)
	}
	return updated
}

func (s *GroupMessageStore) hydrate(row models.GroupMessage) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ids := []uint{row.ID}
		people := s.senderProfiles(s.ctx, []uint{row.SenderID})
		atts := s.pipeline.Resolve(s.ctx, models.GroupScope, ids)[row.ID]
		reactions := s.ledger.Resolve(s.ctx, models.GroupScope, ids)[row.ID]
		var reply *models.GroupMessage
		if row.ReplyToID != nil {
			reply = s.lookupReply(s.ctx, row.GroupID, *row.ReplyToID)
		}

		s.mu.Lock()
		if s.closed || s.activeID != row.GroupID {
			s.mu.Unlock()
			return
		}
		updated := s.tl.update(row.ID, func(m *models.GroupMessage) {
			applySender(m, people)
			if len(m.Attachments) == 0 {
				m.Attachments = atts
			}
			m.Reactions = mergeReactions(m.Reactions, reactions)
			if m.ReplyTo == nil {
				m.ReplyTo = reply
			}
		})
		s.mu.Unlock()
		if updated {
			s.messagesChanged(row.GroupID)
		}
	}()
}

// Messages returns a copy of the open group's timeline.
func (s *GroupMessageStore) Messages() []models.GroupMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tl.snapshot(models.GroupMessage.Clone)
}

func (s *GroupMessageStore) close() {
	s.refresh.Stop()
	s.mu.Lock()
	s.closed = true
	s.activeID = 0
	s.tl.reset(nil)
	s.mu.Unlock()
}

func (s *GroupMessageStore) settle() {
	s.wg.Wait()
}
