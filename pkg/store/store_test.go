package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/chatflow/chatflow/pkg/backfill"
	"github.com/chatflow/chatflow/pkg/model"
)

// fakeAPI plays the server side for the store: canonical history per
// chat, send acknowledgments and call recording.
type fakeAPI struct {
	mu      sync.Mutex
	chats   []model.Chat
	history map[string][]model.Message // ascending seq
	nextID  int64
	sendErr error
	sendGate chan struct{} // when set, SendMessage blocks until closed

	readCalls []string
	subCalls  []string
}

func newFakeAPI(chats ...model.Chat) *fakeAPI {
	return &fakeAPI{chats: chats, history: make(map[string][]model.Message), nextID: 1000}
}

func (f *fakeAPI) seed(chatID string, seqs ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, seq := range seqs {
		f.nextID++
		f.history[chatID] = append(f.history[chatID], model.Message{
			ID: f.nextID, ChatID: chatID, SenderID: "peer", Content: "m", Seq: seq,
			Status: model.StatusSent, Timestamp: time.Unix(seq, 0),
		})
	}
}

func (f *fakeAPI) at(chatID string, seq int64) model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.history[chatID] {
		if m.Seq == seq {
			return m
		}
	}
	panic("no such seq")
}

func (f *fakeAPI) Chats(context.Context) ([]model.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Chat(nil), f.chats...), nil
}

func (f *fakeAPI) Messages(_ context.Context, chatID string, before int64, limit int) (backfill.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var newestFirst []model.Message
	hist := f.history[chatID]
	for i := len(hist) - 1; i >= 0; i-- {
		if before > 0 && hist[i].Seq >= before {
			continue
		}
		newestFirst = append(newestFirst, hist[i])
		if len(newestFirst) == limit+1 {
			break
		}
	}
	msgs, hasMore := backfill.Window(newestFirst, limit)
	return backfill.Page{Messages: msgs, HasMore: hasMore}, nil
}

func (f *fakeAPI) SendMessage(_ context.Context, chatID, content string, replyTo int64) (model.Message, error) {
	f.mu.Lock()
	gate := f.sendGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return model.Message{}, f.sendErr
	}
	f.nextID++
	var last int64
	if hist := f.history[chatID]; len(hist) > 0 {
		last = hist[len(hist)-1].Seq
	}
	m := model.Message{
		ID: f.nextID, ChatID: chatID, SenderID: "me", Content: content,
		ReplyToID: replyTo, Seq: last + 1, Status: model.StatusSent,
		Timestamp: time.Now().UTC(),
	}
	f.history[chatID] = append(f.history[chatID], m)
	return m, nil
}

func (f *fakeAPI) MarkRead(_ context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls = append(f.readCalls, chatID)
	return nil
}

func (f *fakeAPI) Subscribe(chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subCalls = append(f.subCalls, chatID)
	return nil
}

func (f *fakeAPI) reads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.readCalls...)
}

func newTestStore(t *testing.T, api *fakeAPI, pageSize int) *Store {
	t.Helper()
	s := New(zerolog.Nop(), Deps{
		Backfiller: api,
		Sender:     api,
		Lister:     api,
		Reader:     api,
		Subscriber: api,
	}, pageSize, 0)
	require.NoError(t, s.LoadChats(context.Background()))
	return s
}

func seqsOf(msgs []model.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.Seq
	}
	return out
}

func TestSelectChatLoadsAndSubscribes(t *testing.T) {
	api := newFakeAPI(model.Chat{ID: "general", Kind: model.ChatGroup, UnreadCount: 3})
	api.seed("general", 1, 2, 3)
	s := newTestStore(t, api, 10)

	require.NoError(t, s.SelectChat(context.Background(), "general"))

	require.Equal(t, "general", s.ActiveChat())
	require.Zero(t, s.UnreadCount("general"))
	require.Equal(t, []int64{1, 2, 3}, seqsOf(s.Messages("general")))
	require.Equal(t, []string{"general"}, api.subCalls)
	require.Eventually(t, func() bool {
		return len(api.reads()) == 1
	}, time.Second, 10*time.Millisecond, "mark-read must be issued")

	// Re-selecting a loaded chat does not refetch.
	require.NoError(t, s.SelectChat(context.Background(), "general"))
	require.Equal(t, []int64{1, 2, 3}, seqsOf(s.Messages("general")))
}

func TestSelectUnknownChat(t *testing.T) {
	s := newTestStore(t, newFakeAPI(), 10)
	require.ErrorIs(t, s.SelectChat(context.Background(), "nope"), ErrUnknownChat)
}

func TestAddNewMessageIdempotentByIdentity(t *testing.T) {
	api := newFakeAPI(model.Chat{ID: "general"})
	s := newTestStore(t, api, 10)

	m := model.Message{ID: 7, ChatID: "general", SenderID: "peer", Content: "hi", Seq: 1, Timestamp: time.Unix(1, 0)}
	s.AddNewMessage(m)
	s.AddNewMessage(m)
	s.AddNewMessage(m)

	require.Len(t, s.Messages("general"), 1)
	require.Equal(t, 1, s.UnreadCount("general"), "duplicates never bump the unread counter")
}

func TestUnreadCountersSumInvariant(t *testing.T) {
	api := newFakeAPI(
		model.Chat{ID: "a"},
		model.Chat{ID: "b"},
		model.Chat{ID: "c"},
	)
	api.seed("c", 1)
	s := newTestStore(t, api, 10)
	require.NoError(t, s.SelectChat(context.Background(), "c"))

	s.AddNewMessage(model.Message{ID: 1, ChatID: "a", Seq: 1})
	s.AddNewMessage(model.Message{ID: 2, ChatID: "a", Seq: 2})
	s.AddNewMessage(model.Message{ID: 3, ChatID: "b", Seq: 1})
	// Active chat: merged but never counted as unread.
	s.AddNewMessage(model.Message{ID: 4, ChatID: "c", Seq: 2})

	require.Equal(t, 2, s.UnreadCount("a"))
	require.Equal(t, 1, s.UnreadCount("b"))
	require.Zero(t, s.UnreadCount("c"))
	sum := 0
	for _, c := range s.Chats() {
		sum += c.UnreadCount
	}
	require.Equal(t, sum, s.TotalUnread())
	require.Equal(t, 3, s.TotalUnread())
}

func TestEventForUnknownChatIgnored(t *testing.T) {
	s := newTestStore(t, newFakeAPI(model.Chat{ID: "a"}), 10)
	require.NotPanics(t, func() {
		s.AddNewMessage(model.Message{ID: 1, ChatID: "ghost", Seq: 1})
	})
	require.Zero(t, s.TotalUnread())
}

func TestLiveAppendKeepsAscendingOrder(t *testing.T) {
	api := newFakeAPI(model.Chat{ID: "general"})
	api.seed("general", 3, 4, 5)
	s := newTestStore(t, api, 10)
	require.NoError(t, s.SelectChat(context.Background(), "general"))

	s.AddNewMessage(model.Message{ID: 50, ChatID: "general", Seq: 6, Timestamp: time.Unix(6, 0)})
	require.Equal(t, []int64{3, 4, 5, 6}, seqsOf(s.Messages("general")))
}

func TestSequenceGapTriggersBackfill(t *testing.T) {
	api := newFakeAPI(model.Chat{ID: "general"})
	api.seed("general", 1, 2, 3)
	s := newTestStore(t, api, 10)
	require.NoError(t, s.SelectChat(context.Background(), "general"))

	// 4 and 5 were delivered while this client was away; only 6 arrives
	// as a live event.
	api.seed("general", 4, 5, 6)
	s.AddNewMessage(api.at("general", 6))
	s.Wait()

	require.Equal(t, []int64{1, 2, 3, 4, 5, 6}, seqsOf(s.Messages("general")))
}

func TestLoadMorePrependsOlderPage(t *testing.T) {
	api := newFakeAPI(model.Chat{ID: "general"})
	api.seed("general", 1, 2, 3, 4, 5, 6, 7, 8)
	s := newTestStore(t, api, 3)
	require.NoError(t, s.SelectChat(context.Background(), "general"))

	require.Equal(t, []int64{6, 7, 8}, seqsOf(s.Messages("general")))
	require.True(t, s.HasMoreMessages("general"))

	require.NoError(t, s.LoadMessages(context.Background(), "general", true))
	require.Equal(t, []int64{3, 4, 5, 6, 7, 8}, seqsOf(s.Messages("general")))
	require.True(t, s.HasMoreMessages("general"))

	require.NoError(t, s.LoadMessages(context.Background(), "general", true))
	require.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8}, seqsOf(s.Messages("general")))
	require.False(t, s.HasMoreMessages("general"))
}

func TestWideSequenceGapRepairedAcrossPages(t *testing.T) {
	api := newFakeAPI(model.Chat{ID: "general"})
	api.seed("general", 1)
	s := newTestStore(t, api, 2)
	require.NoError(t, s.SelectChat(context.Background(), "general"))
	require.Equal(t, []int64{1}, seqsOf(s.Messages("general")))

	// 2..5 were delivered while this client was away; the hole spans
	// more than one history page.
	api.seed("general", 2, 3, 4, 5, 6)
	s.AddNewMessage(api.at("general", 6))
	s.Wait()

	require.Equal(t, []int64{1, 2, 3, 4, 5, 6}, seqsOf(s.Messages("general")))
}

func TestLoadMoreInterleavedWithLiveAppend(t *testing.T) {
	api := newFakeAPI(model.Chat{ID: "general"})
	api.seed("general", 3, 4, 5, 6)
	s := newTestStore(t, api, 2)
	require.NoError(t, s.SelectChat(context.Background(), "general"))
	require.Equal(t, []int64{5, 6}, seqsOf(s.Messages("general")))

	// A live message lands while the older page is being fetched.
	api.seed("general", 7)
	s.AddNewMessage(api.at("general", 7))
	require.NoError(t, s.LoadMessages(context.Background(), "general", true))
	s.Wait()

	require.Equal(t, []int64{3, 4, 5, 6, 7}, seqsOf(s.Messages("general")))
	require.False(t, s.HasMoreMessages("general"))
}

func TestSelectChatDecrementsGlobalTotalExactly(t *testing.T) {
	api := newFakeAPI(
		model.Chat{ID: "a", UnreadCount: 4},
		model.Chat{ID: "b", UnreadCount: 2},
	)
	s := newTestStore(t, api, 10)
	require.Equal(t, 6, s.TotalUnread())

	require.NoError(t, s.SelectChat(context.Background(), "a"))

	require.Zero(t, s.UnreadCount("a"))
	require.Equal(t, 2, s.TotalUnread(), "global total drops by exactly the selected chat's count")
}

func TestSendMessageOptimisticThenCanonical(t *testing.T) {
	api := newFakeAPI(model.Chat{ID: "general"})
	api.seed("general", 1)
	gate := make(chan struct{})
	api.sendGate = gate
	s := newTestStore(t, api, 10)
	require.NoError(t, s.SelectChat(context.Background(), "general"))

	localID, err := s.SendMessage(context.Background(), "general", "hello", 0)
	require.NoError(t, err)
	require.Negative(t, localID)

	// Visible immediately with status sending, after the canonical tail.
	msgs := s.Messages("general")
	require.Len(t, msgs, 2)
	require.Equal(t, localID, msgs[1].ID)
	require.Equal(t, model.StatusSending, msgs[1].Status)

	close(gate)
	s.Wait()

	msgs = s.Messages("general")
	require.Len(t, msgs, 2)
	require.Positive(t, msgs[1].ID, "acknowledged message replaces the optimistic entry")
	require.Equal(t, int64(2), msgs[1].Seq)
	require.Equal(t, model.StatusSent, msgs[1].Status)
}

func TestSendMessageRejectsBlankContent(t *testing.T) {
	s := newTestStore(t, newFakeAPI(model.Chat{ID: "general"}), 10)
	_, err := s.SendMessage(context.Background(), "general", "   \t ", 0)
	require.ErrorIs(t, err, ErrEmptyContent)
	require.Empty(t, s.Messages("general"))
}

func TestFailedSendStaysVisibleAndRetries(t *testing.T) {
	api := newFakeAPI(model.Chat{ID: "general"})
	api.sendErr = errors.New("gateway unreachable")
	s := newTestStore(t, api, 10)
	require.NoError(t, s.SelectChat(context.Background(), "general"))

	localID, err := s.SendMessage(context.Background(), "general", "hello", 0)
	require.NoError(t, err)
	s.Wait()

	msgs := s.Messages("general")
	require.Len(t, msgs, 1)
	require.Equal(t, model.StatusFailed, msgs[0].Status)
	require.Equal(t, "hello", msgs[0].Content)

	api.mu.Lock()
	api.sendErr = nil
	api.mu.Unlock()

	require.NoError(t, s.RetrySend(context.Background(), localID))
	s.Wait()

	msgs = s.Messages("general")
	require.Len(t, msgs, 1, "retry reuses the entry, it never duplicates")
	require.Equal(t, model.StatusSent, msgs[0].Status)
	require.Positive(t, msgs[0].ID)

	// Only failed messages can be retried.
	require.Error(t, s.RetrySend(context.Background(), localID))
}

func TestOwnMessageRedeliveredAfterAck(t *testing.T) {
	api := newFakeAPI(model.Chat{ID: "general"})
	s := newTestStore(t, api, 10)
	require.NoError(t, s.SelectChat(context.Background(), "general"))

	_, err := s.SendMessage(context.Background(), "general", "hello", 0)
	require.NoError(t, err)
	s.Wait()

	// The hub also fans the message back as a message.new event; the
	// identity is already present so the merge is a no-op.
	s.AddNewMessage(api.at("general", 1))
	require.Len(t, s.Messages("general"), 1)
	require.Zero(t, s.UnreadCount("general"))
}

func TestUpdateMessagePatch(t *testing.T) {
	s := newTestStore(t, newFakeAPI(model.Chat{ID: "general"}), 10)
	s.AddNewMessage(model.Message{ID: 1, ChatID: "general", Content: "old", Seq: 1})

	content := "new"
	edited := true
	s.UpdateMessage(1, MessagePatch{Content: &content, IsEdited: &edited})

	m := s.Messages("general")[0]
	require.Equal(t, "new", m.Content)
	require.True(t, m.IsEdited)

	// Unknown identity is ignored.
	require.NotPanics(t, func() { s.UpdateMessage(99, MessagePatch{Content: &content}) })
}

func TestDeleteMessageBurnsSequence(t *testing.T) {
	api := newFakeAPI(model.Chat{ID: "general"})
	api.seed("general", 1, 2, 3)
	s := newTestStore(t, api, 10)
	require.NoError(t, s.SelectChat(context.Background(), "general"))

	s.DeleteMessage("general", api.at("general", 2).ID)

	// The remaining messages keep their numbers; 2 is simply gone.
	require.Equal(t, []int64{1, 3}, seqsOf(s.Messages("general")))
}

func TestUpdateOnlineStatusFlipsPrivateChats(t *testing.T) {
	s := newTestStore(t, newFakeAPI(
		model.Chat{ID: "dm1", Kind: model.ChatPrivate, OtherUserID: "u2"},
		model.Chat{ID: "dm2", Kind: model.ChatPrivate, OtherUserID: "u3"},
		model.Chat{ID: "general", Kind: model.ChatGroup},
	), 10)

	s.UpdateOnlineStatus("u2", true)

	byID := make(map[string]model.Chat)
	for _, c := range s.Chats() {
		byID[c.ID] = c
	}
	require.True(t, byID["dm1"].OnlineStatus)
	require.False(t, byID["dm2"].OnlineStatus)
	require.False(t, byID["general"].OnlineStatus)
}

func TestApplyChatPreservesUnreadAndMessages(t *testing.T) {
	api := newFakeAPI(model.Chat{ID: "general", Name: "Old Name"})
	api.seed("general", 1, 2)
	s := newTestStore(t, api, 10)
	require.NoError(t, s.SelectChat(context.Background(), "general"))
	require.NoError(t, s.SelectChat(context.Background(), "general"))
	s.AddNewMessage(model.Message{ID: 100, ChatID: "general", Seq: 3})

	s.ApplyChat(model.Chat{ID: "general", Name: "New Name"})

	require.Len(t, s.Messages("general"), 3)

	// A brand-new chat from a chat.new event starts empty.
	s.ApplyChat(model.Chat{ID: "fresh", Kind: model.ChatGroup})
	require.Empty(t, s.Messages("fresh"))
}

func TestRemoveChatDropsAllState(t *testing.T) {
	api := newFakeAPI(model.Chat{ID: "general"})
	api.seed("general", 1, 2)
	s := newTestStore(t, api, 10)
	require.NoError(t, s.SelectChat(context.Background(), "general"))
	s.SetTyping("general", "u2", true)

	s.RemoveChat("general")

	require.Empty(t, s.Messages("general"))
	require.Empty(t, s.TypingUsers("general"))
	require.Empty(t, s.ActiveChat())
}

func TestLoadChatsKeepsSurvivingPages(t *testing.T) {
	api := newFakeAPI(model.Chat{ID: "keep"}, model.Chat{ID: "drop"})
	api.seed("keep", 1, 2)
	s := newTestStore(t, api, 10)
	require.NoError(t, s.SelectChat(context.Background(), "keep"))

	api.mu.Lock()
	api.chats = []model.Chat{{ID: "keep"}}
	api.mu.Unlock()
	require.NoError(t, s.LoadChats(context.Background()))

	require.Len(t, s.Messages("keep"), 2, "cached page survives the reload")
	require.Len(t, s.Chats(), 1)
}

func TestChatsSortedByRecentActivity(t *testing.T) {
	s := newTestStore(t, newFakeAPI(
		model.Chat{ID: "a"},
		model.Chat{ID: "b"},
	), 10)
	s.AddNewMessage(model.Message{ID: 1, ChatID: "a", Seq: 1, Content: "first", Timestamp: time.Unix(100, 0)})
	s.AddNewMessage(model.Message{ID: 2, ChatID: "b", Seq: 1, Content: "second", Timestamp: time.Unix(200, 0)})

	chats := s.Chats()
	require.Equal(t, "b", chats[0].ID)
	require.Equal(t, "second", chats[0].LastMessage)
	require.Equal(t, "a", chats[1].ID)

	ids := []string{chats[0].ID, chats[1].ID}
	sort.Strings(ids)
	require.Equal(t, []string{"a", "b"}, ids)
}
