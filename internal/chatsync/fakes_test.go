package chatsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/laserpointoman-commits/talebEdu-sub002/internal/models"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/realtime"
	"github.com/rs/zerolog"
)

var errBackendDown = errors.New("backend unavailable")

// fakeBackend is a map-backed Backend. When bus is set, every write
// announces its row the way the repository layer does.
type fakeBackend struct {
	mu  sync.Mutex
	bus realtime.Publisher
	now time.Time

	nextID      uint
	direct      map[uint]*models.DirectMessage
	group       map[uint]*models.GroupMessage
	members     map[uint][]uint
	groupNames  map[uint]string
	readMarks   map[[2]uint]uint
	attachments []models.Attachment
	reactions   map[models.Scope]map[[2]uint]models.Reaction
	presence    map[uint]models.Presence
	states      map[[2]uint]models.ChatState

	presenceWrites int
	failDeletes    bool
	failReactions  bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		now:        time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		direct:     make(map[uint]*models.DirectMessage),
		group:      make(map[uint]*models.GroupMessage),
		members:    make(map[uint][]uint),
		groupNames: make(map[uint]string),
		readMarks:  make(map[[2]uint]uint),
		reactions: map[models.Scope]map[[2]uint]models.Reaction{
			models.DirectScope: {},
			models.GroupScope:  {},
		},
		presence: make(map[uint]models.Presence),
		states:   make(map[[2]uint]models.ChatState),
	}
}

func (b *fakeBackend) tick() time.Time {
	b.now = b.now.Add(time.Second)
	return b.now
}

func (b *fakeBackend) announce(op realtime.Op, stream realtime.Stream, row interface{}) {
	if b.bus == nil {
		return
	}
	_ = realtime.Announce(context.Background(), b.bus, op, stream, row)
}

func (b *fakeBackend) InsertDirect(ctx context.Context, msg *models.DirectMessage) error {
	b.mu.Lock()
	b.nextID++
	msg.ID = b.nextID
	msg.CreatedAt = b.tick()
	msg.UpdatedAt = msg.CreatedAt
	row := msg.Clone()
	b.direct[msg.ID] = &row
	b.mu.Unlock()
	b.announce(realtime.OpInsert, realtime.DirectMessages, &row)
	return nil
}

func (b *fakeBackend) FindDirectByID(ctx context.Context, id uint) (*models.DirectMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.direct[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	row := m.Clone()
	return &row, nil
}

func (b *fakeBackend) FindDirectByIDs(ctx context.Context, ids []uint) ([]models.DirectMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.DirectMessage
	for _, id := range ids {
		if m, ok := b.direct[id]; ok {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

func (b *fakeBackend) ListDirectConversation(ctx context.Context, userID, peerID uint) ([]models.DirectMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.DirectMessage
	for _, m := range b.direct {
		if (m.SenderID == userID && m.RecipientID == peerID) || (m.SenderID == peerID && m.RecipientID == userID) {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *fakeBackend) ListDirectForUser(ctx context.Context, userID uint) ([]models.DirectMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.DirectMessage
	for _, m := range b.direct {
		if m.Involves(userID) {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *fakeBackend) updateDirect(id uint, fn func(*models.DirectMessage) error) error {
	b.mu.Lock()
	m, ok := b.direct[id]
	if !ok {
		b.mu.Unlock()
		return ErrMessageNotFound
	}
	if err := fn(m); err != nil {
		b.mu.Unlock()
		return err
	}
	m.UpdatedAt = b.tick()
	row := m.Clone()
	b.mu.Unlock()
	b.announce(realtime.OpUpdate, realtime.DirectMessages, &row)
	return nil
}

func (b *fakeBackend) DeleteDirectForEveryone(ctx context.Context, id, senderID uint) error {
	if b.failDeletes {
		return errBackendDown
	}
	return b.updateDirect(id, func(m *models.DirectMessage) error {
		if m.SenderID != senderID {
			return ErrNotAuthor
		}
		m.Content = nil
		m.DeletedForEveryone = true
		return nil
	})
}

func (b *fakeBackend) DeleteDirectForUser(ctx context.Context, id, userID uint) error {
	if b.failDeletes {
		return errBackendDown
	}
	return b.updateDirect(id, func(m *models.DirectMessage) error {
		if m.SenderID == userID {
			m.DeletedForSender = true
		}
		if m.RecipientID == userID {
			m.DeletedForRecipient = true
		}
		return nil
	})
}

func (b *fakeBackend) MarkDirectRead(ctx context.Context, recipientID, senderID uint) (int64, error) {
	return b.bulkDirect(func(m *models.DirectMessage) bool {
		if m.RecipientID != recipientID || m.SenderID != senderID || m.IsRead {
			return false
		}
		at := b.now
		m.IsRead, m.ReadAt = true, &at
		if !m.IsDelivered {
			m.IsDelivered, m.DeliveredAt = true, &at
		}
		return true
	})
}

func (b *fakeBackend) MarkDirectDelivered(ctx context.Context, recipientID uint) (int64, error) {
	return b.bulkDirect(func(m *models.DirectMessage) bool {
		if m.RecipientID != recipientID || m.IsDelivered {
			return false
		}
		at := b.now
		m.IsDelivered, m.DeliveredAt = true, &at
		return true
	})
}

func (b *fakeBackend) bulkDirect(fn func(*models.DirectMessage) bool) (int64, error) {
	b.mu.Lock()
	var changed []models.DirectMessage
	for _, m := range b.direct {
		if fn(m) {
			changed = append(changed, m.Clone())
		}
	}
	b.mu.Unlock()
	for i := range changed {
		b.announce(realtime.OpUpdate, realtime.DirectMessages, &changed[i])
	}
	return int64(len(changed)), nil
}

func (b *fakeBackend) addGroup(id uint, name string, members ...uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.groupNames[id] = name
	b.members[id] = members
}

func (b *fakeBackend) InsertGroupMessage(ctx context.Context, msg *models.GroupMessage) error {
	b.mu.Lock()
	b.nextID++
	msg.ID = b.nextID
	msg.CreatedAt = b.tick()
	msg.UpdatedAt = msg.CreatedAt
	row := msg.Clone()
	b.group[msg.ID] = &row
	b.mu.Unlock()
	b.announce(realtime.OpInsert, realtime.GroupMessages, &row)
	return nil
}

func (b *fakeBackend) FindGroupMessageByID(ctx context.Context, id uint) (*models.GroupMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.group[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	row := m.Clone()
	return &row, nil
}

func (b *fakeBackend) FindGroupMessagesByIDs(ctx context.Context, ids []uint) ([]models.GroupMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.GroupMessage
	for _, id := range ids {
		if m, ok := b.group[id]; ok {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

func (b *fakeBackend) ListGroupMessages(ctx context.Context, groupID uint) ([]models.GroupMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.GroupMessage
	for _, m := range b.group {
		if m.GroupID == groupID {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *fakeBackend) updateGroup(id uint, fn func(*models.GroupMessage) error) error {
	b.mu.Lock()
	m, ok := b.group[id]
	if !ok {
		b.mu.Unlock()
		return ErrMessageNotFound
	}
	if err := fn(m); err != nil {
		b.mu.Unlock()
		return err
	}
	m.UpdatedAt = b.tick()
	row := m.Clone()
	b.mu.Unlock()
	b.announce(realtime.OpUpdate, realtime.GroupMessages, &row)
	return nil
}

func (b *fakeBackend) DeleteGroupMessageForEveryone(ctx context.Context, id, senderID uint) error {
	return b.updateGroup(id, func(m *models.GroupMessage) error {
		if m.SenderID != senderID {
			return ErrNotAuthor
		}
		m.Content = nil
		m.DeletedForEveryone = true
		return nil
	})
}

func (b *fakeBackend) DeleteGroupMessageForSender(ctx context.Context, id, senderID uint) error {
	return b.updateGroup(id, func(m *models.GroupMessage) error {
		if m.SenderID != senderID {
			return ErrNotAuthor
		}
		m.DeletedForSender = true
		return nil
	})
}

func (b *fakeBackend) IsGroupMember(ctx context.Context, groupID, userID uint) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range b.members[groupID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (b *fakeBackend) ListGroupMemberIDs(ctx context.Context, groupID uint) ([]uint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]uint(nil), b.members[groupID]...), nil
}

func (b *fakeBackend) ListGroupSummaries(ctx context.Context, userID uint) ([]models.GroupSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.GroupSummary
	for gid, members := range b.members {
		member := false
		for _, id := range members {
			member = member || id == userID
		}
		if !member {
			continue
		}
		sum := models.GroupSummary{GroupID: gid, Name: b.groupNames[gid]}
		state := models.GroupReadState{GroupID: gid, UserID: userID, LastReadMessageID: b.readMarks[[2]uint{gid, userID}]}
		for _, m := range b.group {
			if m.GroupID != gid {
				continue
			}
			if m.ID > sum.LastMessageID {
				sum.LastMessageID = m.ID
				at := m.CreatedAt
				sum.LastMessageAt = &at
				sum.LastMessage = models.Preview(m.Content, m.Kind, m.DeletedForEveryone)
			}
			if state.Unread(m) {
				sum.UnreadCount++
			}
		}
		out = append(out, sum)
	}
	return out, nil
}

func (b *fakeBackend) MarkGroupRead(ctx context.Context, groupID, userID, lastReadMessageID uint) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := [2]uint{groupID, userID}
	if lastReadMessageID > b.readMarks[key] {
		b.readMarks[key] = lastReadMessageID
	}
	return nil
}

func (b *fakeBackend) InsertAttachment(ctx context.Context, att *models.Attachment) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	att.CreatedAt = b.now
	b.attachments = append(b.attachments, *att)
	return nil
}

func (b *fakeBackend) ListAttachments(ctx context.Context, scope models.Scope, messageIDs []uint) ([]models.Attachment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	want := make(map[uint]bool, len(messageIDs))
	for _, id := range messageIDs {
		want[id] = true
	}
	var out []models.Attachment
	for _, a := range b.attachments {
		if a.Scope == scope && want[a.MessageID] {
			out = append(out, a)
		}
	}
	return out, nil
}

func reactionStream(scope models.Scope) realtime.Stream {
	if scope == models.GroupScope {
		return realtime.GroupReactions
	}
	return realtime.DirectReactions
}

func (b *fakeBackend) UpsertReaction(ctx context.Context, scope models.Scope, r *models.Reaction) error {
	if b.failReactions {
		return errBackendDown
	}
	b.mu.Lock()
	key := [2]uint{r.MessageID, r.UserID}
	op := realtime.OpUpdate
	existing, ok := b.reactions[scope][key]
	if !ok {
		b.nextID++
		existing = models.Reaction{ID: b.nextID, MessageID: r.MessageID, UserID: r.UserID, CreatedAt: b.tick()}
		op = realtime.OpInsert
	}
	existing.Emoji = r.Emoji
	b.reactions[scope][key] = existing
	*r = existing
	b.mu.Unlock()
	b.announce(op, reactionStream(scope), &existing)
	return nil
}

func (b *fakeBackend) RemoveReaction(ctx context.Context, scope models.Scope, messageID, userID uint) error {
	if b.failReactions {
		return errBackendDown
	}
	b.mu.Lock()
	key := [2]uint{messageID, userID}
	existing, ok := b.reactions[scope][key]
	delete(b.reactions[scope], key)
	b.mu.Unlock()
	if ok {
		b.announce(realtime.OpDelete, reactionStream(scope), &existing)
	}
	return nil
}

func (b *fakeBackend) ListReactions(ctx context.Context, scope models.Scope, messageIDs []uint) ([]models.Reaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	want := make(map[uint]bool, len(messageIDs))
	for _, id := range messageIDs {
		want[id] = true
	}
	var out []models.Reaction
	for _, r := range b.reactions[scope] {
		if want[r.MessageID] {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *fakeBackend) UpsertPresence(ctx context.Context, p *models.Presence, withTyping bool) error {
	b.mu.Lock()
	b.presenceWrites++
	row, ok := b.presence[p.UserID]
	if !ok {
		row = models.Presence{UserID: p.UserID}
	}
	row.IsOnline = p.IsOnline
	row.LastSeen = p.LastSeen
	if withTyping {
		row.TypingTo = p.TypingTo
		row.TypingStartedAt = p.TypingStartedAt
	}
	row.UpdatedAt = b.now
	b.presence[p.UserID] = row
	b.mu.Unlock()
	b.announce(realtime.OpUpdate, realtime.Presence, &row)
	return nil
}

func (b *fakeBackend) ListPresence(ctx context.Context, userIDs []uint) ([]models.Presence, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.Presence
	for _, id := range userIDs {
		if p, ok := b.presence[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (b *fakeBackend) ListChatStates(ctx context.Context, userID uint) ([]models.ChatState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.ChatState
	for key, st := range b.states {
		if key[0] == userID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (b *fakeBackend) SaveChatState(ctx context.Context, state *models.ChatState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states[[2]uint{state.UserID, state.PeerID}] = *state
	return nil
}

func (b *fakeBackend) directRow(id uint) models.DirectMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.direct[id].Clone()
}

func (b *fakeBackend) presenceWriteCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.presenceWrites
}

// fakeObjects is an in-memory ObjectStore. Paths listed in fail are rejected
// by Upload when their file name matches.
type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    map[string]bool
	gate    chan struct{}
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte), fail: make(map[string]bool)}
}

func (o *fakeObjects) Upload(ctx context.Context, path string, body io.Reader, size int64, contentType string) error {
	if o.gate != nil {
		<-o.gate
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for name := range o.fail {
		if len(path) >= len(name) && path[len(path)-len(name):] == name {
			return fmt.Errorf("upload rejected: %s", name)
		}
	}
	o.objects[path] = data
	return nil
}

func (o *fakeObjects) Sign(ctx context.Context, path string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://files.test/%s?ttl=%d", path, int(ttl.Seconds())), nil
}

type fakeProfiles struct {
	profiles map[uint]models.Profile
	err      error
}

func (p *fakeProfiles) Profiles(ctx context.Context, ids []uint) (map[uint]models.Profile, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := make(map[uint]models.Profile)
	for _, id := range ids {
		if pr, ok := p.profiles[id]; ok {
			out[id] = pr
		}
	}
	return out, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []Notification
	to   [][]uint
}

func (n *fakeNotifier) Notify(ctx context.Context, userIDs []uint, note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	n.to = append(n.to, userIDs)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type harness struct {
	backend  *fakeBackend
	objects  *fakeObjects
	profiles *fakeProfiles
	notifier *fakeNotifier
	previews *PreviewRegistry
}

func newHarness() *harness {
	return &harness{
		backend: newFakeBackend(),
		objects: newFakeObjects(),
		profiles: &fakeProfiles{profiles: map[uint]models.Profile{
			1: {ID: 1, DisplayName: "Alice"},
			2: {ID: 2, DisplayName: "Bob"},
			3: {ID: 3, DisplayName: "Carol"},
		}},
		notifier: &fakeNotifier{},
		previews: NewPreviewRegistry(),
	}
}

func (h *harness) messageStore(selfID uint) *MessageStore {
	log := zerolog.Nop()
	pipeline := NewAttachmentPipeline(h.backend, h.objects, h.previews, time.Hour, log)
	return NewMessageStore(context.Background(), selfID, h.backend, pipeline, NewReactionLedger(h.backend, log), h.notifier, nil, log)
}

func (h *harness) groupStore(selfID uint) *GroupMessageStore {
	log := zerolog.Nop()
	pipeline := NewAttachmentPipeline(h.backend, h.objects, h.previews, time.Hour, log)
	return NewGroupMessageStore(context.Background(), selfID, h.backend, pipeline, NewReactionLedger(h.backend, log), h.profiles, h.notifier, nil, time.Hour, log)
}

func (h *harness) deps(bus *realtime.MemoryBus) Deps {
	return Deps{
		Backend:  h.backend,
		Profiles: h.profiles,
		Objects:  h.objects,
		Notifier: h.notifier,
		Bus:      bus,
		Previews: h.previews,
		Log:      zerolog.Nop(),
		Config: Config{
			RebuildDebounce:  20 * time.Millisecond,
			PresenceDebounce: 20 * time.Millisecond,
		},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func strPtr(s string) *string { return &s }

func uintPtr(v uint) *uint { return &v }
