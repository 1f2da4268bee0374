package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatflow/chatflow/pkg/dispatch"
	"github.com/chatflow/chatflow/pkg/model"
)

func dispatchEvent(t *testing.T, d *dispatch.Dispatcher, kind model.EventKind, payload any) {
	t.Helper()
	env, err := model.NewEnvelope(kind, payload)
	require.NoError(t, err)
	d.Dispatch(env)
}

func TestBindRoutesStreamedEvents(t *testing.T) {
	s := newTestStore(t, newFakeAPI(
		model.Chat{ID: "general", Kind: model.ChatGroup},
		model.Chat{ID: "dm1", Kind: model.ChatPrivate, OtherUserID: "u2"},
	), 10)
	d := dispatch.New()
	s.Bind(d)

	dispatchEvent(t, d, model.EventMessageNew, model.Message{
		ID: 1, ChatID: "general", SenderID: "u2", Content: "hi", Seq: 1, Timestamp: time.Unix(1, 0),
	})
	require.Equal(t, []int64{1}, seqsOf(s.Messages("general")))
	require.Equal(t, 1, s.UnreadCount("general"))

	dispatchEvent(t, d, model.EventMessageUpdate, model.MessageUpdatePayload{
		ID: 1, ChatID: "general", Seq: 1, Content: "edited", IsEdited: true,
	})
	require.Equal(t, "edited", s.Messages("general")[0].Content)
	require.True(t, s.Messages("general")[0].IsEdited)

	dispatchEvent(t, d, model.EventTypingStart, model.TypingPayload{ChatID: "general", UserID: "u2"})
	require.Equal(t, []string{"u2"}, s.TypingUsers("general"))
	dispatchEvent(t, d, model.EventTypingStop, model.TypingPayload{ChatID: "general", UserID: "u2"})
	require.Empty(t, s.TypingUsers("general"))

	dispatchEvent(t, d, model.EventUserOnline, model.UserStatusPayload{UserID: "u2", Status: "online"})
	for _, c := range s.Chats() {
		if c.ID == "dm1" {
			require.True(t, c.OnlineStatus)
		}
	}

	dispatchEvent(t, d, model.EventMessageDelete, model.MessageDeletePayload{ID: 1, ChatID: "general", Seq: 1})
	require.Empty(t, s.Messages("general"))

	dispatchEvent(t, d, model.EventChatDelete, model.Chat{ID: "general"})
	require.Len(t, s.Chats(), 1)
}

func TestBindAppliesRosterChanges(t *testing.T) {
	s := newTestStore(t, newFakeAPI(
		model.Chat{ID: "general", Kind: model.ChatGroup, Members: []string{"u1"}},
	), 10)
	d := dispatch.New()
	s.Bind(d)

	dispatchEvent(t, d, model.EventChatMemberJoin, model.MemberPayload{
		ChatID: "general", UserID: "u2", Action: "join",
	})
	// A replayed join must not duplicate the member.
	dispatchEvent(t, d, model.EventChatMemberJoin, model.MemberPayload{
		ChatID: "general", UserID: "u2", Action: "join",
	})
	require.Equal(t, []string{"u1", "u2"}, membersOf(s, "general"))

	dispatchEvent(t, d, model.EventChatMemberLeave, model.MemberPayload{
		ChatID: "general", UserID: "u1", Action: "leave",
	})
	require.Equal(t, []string{"u2"}, membersOf(s, "general"))

	// Roster events for chats the client does not hold are dropped.
	dispatchEvent(t, d, model.EventChatMemberJoin, model.MemberPayload{
		ChatID: "nowhere", UserID: "u9", Action: "join",
	})
	require.Len(t, s.Chats(), 1)
}

func membersOf(s *Store, chatID string) []string {
	for _, c := range s.Chats() {
		if c.ID == chatID {
			return c.Members
		}
	}
	return nil
}

func TestBindIgnoresUndecodablePayload(t *testing.T) {
	s := newTestStore(t, newFakeAPI(model.Chat{ID: "general"}), 10)
	d := dispatch.New()
	s.Bind(d)

	env := model.Envelope{Event: model.EventMessageNew, Data: []byte(`{"id": "not a number"}`)}
	require.NotPanics(t, func() { d.Dispatch(env) })
	require.Empty(t, s.Messages("general"))
}
