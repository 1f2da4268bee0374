// Package store is the client's single source of truth: per-chat
// ordered message sequences, unread counters, ephemeral typing sets and
// optimistic-send bookkeeping, reconciled against streamed events and
// backfilled history.
//
// Layout is an arena: one flat message table keyed by identity plus a
// per-chat ordered index of identities. Operations commute by design;
// merging is always by identity and sequence number, never by position.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/chatflow/chatflow/pkg/backfill"
	"github.com/chatflow/chatflow/pkg/model"
)

var (
	ErrEmptyContent = errors.New("store: empty message content")
	ErrUnknownChat  = errors.New("store: unknown chat")
)

// Backfiller fetches older history on demand (external collaborator).
type Backfiller interface {
	Messages(ctx context.Context, chatID string, before int64, limit int) (backfill.Page, error)
}

// Sender submits a message and returns the canonical acknowledgment.
type Sender interface {
	SendMessage(ctx context.Context, chatID, content string, replyTo int64) (model.Message, error)
}

// ChatLister fetches the user's chat list (external collaborator).
type ChatLister interface {
	Chats(ctx context.Context) ([]model.Chat, error)
}

// ReadMarker persists the user's read position (best effort).
type ReadMarker interface {
	MarkRead(ctx context.Context, chatID string) error
}

// Subscriber attaches the session channel to a chat's event stream.
type Subscriber interface {
	Subscribe(chatID string) error
}

type chatState struct {
	chat    model.Chat
	order   []int64 // canonical ids, ascending seq
	pending []int64 // optimistic local ids, arrival order
	hasMore bool
	loaded  bool
}

type Store struct {
	log        zerolog.Logger
	backfiller Backfiller
	sender     Sender
	lister     ChatLister
	reader     ReadMarker
	subs       Subscriber

	pageSize  int
	typingTTL time.Duration
	now       func() time.Time

	inflight sync.WaitGroup

	mu       sync.Mutex
	chats    map[string]*chatState
	messages map[int64]*model.Message
	typing   map[string]map[string]time.Time // chat id -> user id -> expiry
	active   string
	nextTmp  int64 // descending negative ids for optimistic messages
}

type Deps struct {
	Backfiller Backfiller
	Sender     Sender
	Lister     ChatLister
	Reader     ReadMarker
	Subscriber Subscriber
}

func New(log zerolog.Logger, deps Deps, pageSize int, typingTTL time.Duration) *Store {
	if pageSize <= 0 {
		pageSize = backfill.DefaultLimit
	}
	if typingTTL <= 0 {
		typingTTL = 5 * time.Second
	}
	return &Store{
		log:        log.With().Str("component", "store").Logger(),
		backfiller: deps.Backfiller,
		sender:     deps.Sender,
		lister:     deps.Lister,
		reader:     deps.Reader,
		subs:       deps.Subscriber,
		pageSize:   pageSize,
		typingTTL:  typingTTL,
		now:        time.Now,
		chats:      make(map[string]*chatState),
		messages:   make(map[int64]*model.Message),
		typing:     make(map[string]map[string]time.Time),
	}
}

// LoadChats replaces the chat list from the external collaborator.
// Cached pages for chats that survive the reload are kept.
func (s *Store) LoadChats(ctx context.Context) error {
	list, err := s.lister.Chats(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, len(list))
	for _, c := range list {
		seen[c.ID] = true
		if cs, ok := s.chats[c.ID]; ok {
			cs.chat = c
			continue
		}
		s.chats[c.ID] = &chatState{chat: c}
	}
	for id := range s.chats {
		if !seen[id] {
			s.dropChatLocked(id)
		}
	}
	return nil
}

// SelectChat makes a chat active: zeroes its unread counter, issues a
// best-effort mark-read, subscribes the session channel, and loads the
// first page only when no cached page exists.
func (s *Store) SelectChat(ctx context.Context, chatID string) error {
	s.mu.Lock()
	cs, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownChat
	}
	s.active = chatID
	cs.chat.UnreadCount = 0
	needLoad := !cs.loaded
	s.mu.Unlock()

	if s.reader != nil {
		go func() {
			if err := s.reader.MarkRead(ctx, chatID); err != nil {
				s.log.Debug().Err(err).Str("chat", chatID).Msg("mark read")
			}
		}()
	}
	if s.subs != nil {
		if err := s.subs.Subscribe(chatID); err != nil {
			s.log.Warn().Err(err).Str("chat", chatID).Msg("subscribe")
		}
	}
	if needLoad {
		return s.LoadMessages(ctx, chatID, false)
	}
	return nil
}

// LoadMessages fetches a history page. With loadMore it prepends the
// page older than the oldest cached message; otherwise it replaces the
// cached page. Messages already present by identity are never
// duplicated, so a live append racing this call is safe.
func (s *Store) LoadMessages(ctx context.Context, chatID string, loadMore bool) error {
	s.mu.Lock()
	cs, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownChat
	}
	var before int64
	if loadMore {
		if len(cs.order) == 0 {
			s.mu.Unlock()
			return nil
		}
		before = s.messages[cs.order[0]].Seq
	}
	s.mu.Unlock()

	// Network fetch happens without the lock; other operations keep
	// mutating the store while this page is in flight.
	page, err := s.backfiller.Messages(ctx, chatID, before, s.pageSize)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok = s.chats[chatID]
	if !ok {
		return ErrUnknownChat
	}
	if !loadMore {
		// Replace the canonical page but keep optimistic sends.
		for _, id := range cs.order {
			delete(s.messages, id)
		}
		cs.order = nil
	}
	for _, m := range page.Messages {
		s.insertLocked(cs, m)
	}
	cs.hasMore = page.HasMore
	cs.loaded = true
	return nil
}

// SendMessage rejects blank content, records an optimistic message with
// status sending, and reconciles it with the server acknowledgment. On
// failure the message stays visible as failed; retry is explicit.
func (s *Store) SendMessage(ctx context.Context, chatID, content string, replyTo int64) (int64, error) {
	if strings.TrimSpace(content) == "" {
		return 0, ErrEmptyContent
	}

	s.mu.Lock()
	cs, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return 0, ErrUnknownChat
	}
	s.nextTmp--
	localID := s.nextTmp
	local := &model.Message{
		ID:        localID,
		ChatID:    chatID,
		Content:   content,
		ReplyToID: replyTo,
		Status:    model.StatusSending,
		Timestamp: s.now().UTC(),
	}
	s.messages[localID] = local
	cs.pending = append(cs.pending, localID)
	s.mu.Unlock()

	// The optimistic entry is visible immediately; the network attempt
	// suspends only itself.
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.deliver(ctx, localID, chatID, content, replyTo)
	}()
	return localID, nil
}

// Wait blocks until in-flight sends and gap fills settle. Used on
// shutdown and in tests.
func (s *Store) Wait() { s.inflight.Wait() }

// RetrySend re-attempts a failed optimistic message. It reuses the
// local entry, so a retry is a fresh attempt rather than a duplicate.
func (s *Store) RetrySend(ctx context.Context, localID int64) error {
	s.mu.Lock()
	m, ok := s.messages[localID]
	if !ok || m.Status != model.StatusFailed {
		s.mu.Unlock()
		return errors.New("store: no failed message to retry")
	}
	m.Status = model.StatusSending
	chatID, content, replyTo := m.ChatID, m.Content, m.ReplyToID
	s.mu.Unlock()

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.deliver(ctx, localID, chatID, content, replyTo)
	}()
	return nil
}

func (s *Store) deliver(ctx context.Context, localID int64, chatID, content string, replyTo int64) {
	canonical, err := s.sender.SendMessage(ctx, chatID, content, replyTo)

	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[localID]
	if !ok {
		return
	}
	if err != nil {
		m.Status = model.StatusFailed
		s.log.Debug().Err(err).Str("chat", chatID).Msg("send failed")
		return
	}

	// Fold the optimistic entry into the canonical stream. The same
	// message may already have arrived as a message.new event.
	cs := s.chats[chatID]
	if cs != nil {
		cs.pending = lo.Without(cs.pending, localID)
	}
	delete(s.messages, localID)
	canonical.Status = model.StatusSent
	if cs != nil {
		s.insertLocked(cs, canonical)
		s.touchPreviewLocked(cs, canonical)
	}
}

// AddNewMessage merges a streamed message.new event. Idempotent by
// identity: redelivery after reconnect is absorbed here. Unknown chats
// are logged and ignored rather than failing the session.
func (s *Store) AddNewMessage(m model.Message) {
	s.mu.Lock()
	cs, ok := s.chats[m.ChatID]
	if !ok {
		s.mu.Unlock()
		s.log.Debug().Str("chat", m.ChatID).Int64("id", m.ID).Msg("event for unknown chat ignored")
		return
	}
	if _, dup := s.messages[m.ID]; dup {
		s.mu.Unlock()
		return
	}

	gapFrom := int64(0)
	if n := len(cs.order); n > 0 {
		if last := s.messages[cs.order[n-1]].Seq; m.Seq > last+1 {
			gapFrom = last
		}
	}

	s.insertLocked(cs, m)
	s.touchPreviewLocked(cs, m)
	if s.active != m.ChatID {
		cs.chat.UnreadCount++
	}
	s.mu.Unlock()

	if gapFrom > 0 {
		// A sequence gap means we missed deliveries; trust the assigned
		// numbers and backfill the hole instead of reordering locally.
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			s.fillGap(context.Background(), m.ChatID, gapFrom, m.Seq)
		}()
	}
}

// fillGap pages backwards until history below before is merged down to
// the known tail. A hole wider than one page takes several fetches.
func (s *Store) fillGap(ctx context.Context, chatID string, tail, before int64) {
	for before > tail+1 {
		page, err := s.backfiller.Messages(ctx, chatID, before, s.pageSize)
		if err != nil {
			s.log.Warn().Err(err).Str("chat", chatID).Msg("gap backfill")
			return
		}
		s.mu.Lock()
		cs, ok := s.chats[chatID]
		if !ok {
			s.mu.Unlock()
			return
		}
		for _, m := range page.Messages {
			s.insertLocked(cs, m)
		}
		s.mu.Unlock()

		if len(page.Messages) == 0 || !page.HasMore {
			return
		}
		before = page.Messages[0].Seq
	}
}

// MessagePatch mutates a cached message in place.
type MessagePatch struct {
	Content  *string
	IsEdited *bool
	IsPinned *bool
	Status   *model.MessageStatus
}

// UpdateMessage locates a message by identity across all cached chats
// and applies the patch. Unknown identities are ignored and logged.
func (s *Store) UpdateMessage(id int64, patch MessagePatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		s.log.Debug().Int64("id", id).Msg("update for unknown message ignored")
		return
	}
	if patch.Content != nil {
		m.Content = *patch.Content
	}
	if patch.IsEdited != nil {
		m.IsEdited = *patch.IsEdited
	}
	if patch.IsPinned != nil {
		m.IsPinned = *patch.IsPinned
	}
	if patch.Status != nil {
		m.Status = *patch.Status
	}
}

// DeleteMessage removes a message from the local view. The sequence
// number stays burned: no renumbering, the index just loses the entry.
func (s *Store) DeleteMessage(chatID string, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.chats[chatID]
	if !ok {
		s.log.Debug().Str("chat", chatID).Int64("id", id).Msg("delete for unknown chat ignored")
		return
	}
	if _, ok := s.messages[id]; !ok {
		return
	}
	delete(s.messages, id)
	cs.order = lo.Without(cs.order, id)
	cs.pending = lo.Without(cs.pending, id)
}

// UpdateOnlineStatus flips the presence flag on every private chat
// whose counterpart is the given user.
func (s *Store) UpdateOnlineStatus(userID string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cs := range s.chats {
		if cs.chat.Kind == model.ChatPrivate && cs.chat.OtherUserID == userID {
			cs.chat.OnlineStatus = online
		}
	}
}

// ApplyChat inserts or refreshes a chat from a chat.new/chat.update
// event without disturbing its cached messages.
func (s *Store) ApplyChat(c model.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cs, ok := s.chats[c.ID]; ok {
		c.UnreadCount = cs.chat.UnreadCount
		cs.chat = c
		return
	}
	s.chats[c.ID] = &chatState{chat: c}
}

// ApplyMember records a roster change from a chat.member.join/leave
// event. Joins are idempotent; a leave of an unknown member is a no-op.
func (s *Store) ApplyMember(chatID, userID string, joined bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.chats[chatID]
	if !ok {
		return
	}
	if joined {
		if !lo.Contains(cs.chat.Members, userID) {
			cs.chat.Members = append(cs.chat.Members, userID)
		}
		return
	}
	cs.chat.Members = lo.Without(cs.chat.Members, userID)
}

// RemoveChat drops a chat and all of its cached state.
func (s *Store) RemoveChat(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropChatLocked(chatID)
}

func (s *Store) dropChatLocked(chatID string) {
	cs, ok := s.chats[chatID]
	if !ok {
		return
	}
	for _, id := range cs.order {
		delete(s.messages, id)
	}
	for _, id := range cs.pending {
		delete(s.messages, id)
	}
	delete(s.chats, chatID)
	delete(s.typing, chatID)
	if s.active == chatID {
		s.active = ""
	}
}

// insertLocked places a canonical message into the chat's index at its
// sequence position. No-op when the identity is already present.
func (s *Store) insertLocked(cs *chatState, m model.Message) {
	if _, ok := s.messages[m.ID]; ok {
		return
	}
	cp := m
	s.messages[m.ID] = &cp
	i := sort.Search(len(cs.order), func(i int) bool {
		return s.messages[cs.order[i]].Seq >= m.Seq
	})
	cs.order = append(cs.order, 0)
	copy(cs.order[i+1:], cs.order[i:])
	cs.order[i] = m.ID
}

func (s *Store) touchPreviewLocked(cs *chatState, m model.Message) {
	if m.Timestamp.After(cs.chat.LastActivity) {
		cs.chat.LastActivity = m.Timestamp
		cs.chat.LastMessage = m.Content
	}
}

// ActiveChat returns the currently selected chat id, if any.
func (s *Store) ActiveChat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Chats snapshots the chat list, most recently active first.
func (s *Store) Chats() []model.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Chat, 0, len(s.chats))
	for _, cs := range s.chats {
		c := cs.chat
		c.HasMorePages = cs.hasMore
		c.PagePopulated = cs.loaded
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// Messages snapshots a chat's view: canonical messages in ascending
// sequence order followed by optimistic sends in submission order.
func (s *Store) Messages(chatID string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.chats[chatID]
	if !ok {
		return nil
	}
	out := make([]model.Message, 0, len(cs.order)+len(cs.pending))
	for _, id := range cs.order {
		out = append(out, *s.messages[id])
	}
	for _, id := range cs.pending {
		out = append(out, *s.messages[id])
	}
	return out
}

// HasMoreMessages reports whether older history remains for a chat.
func (s *Store) HasMoreMessages(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.chats[chatID]
	return ok && cs.hasMore
}

// UnreadCount returns one chat's unread counter.
func (s *Store) UnreadCount(chatID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cs, ok := s.chats[chatID]; ok {
		return cs.chat.UnreadCount
	}
	return 0
}

// TotalUnread is the aggregate unread badge: always the sum of the
// per-chat counters.
func (s *Store) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.SumBy(lo.Values(s.chats), func(cs *chatState) int {
		return cs.chat.UnreadCount
	})
}
