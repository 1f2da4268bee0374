package store

import (
	"github.com/chatflow/chatflow/pkg/dispatch"
	"github.com/chatflow/chatflow/pkg/model"
)

// Bind wires the store's merge operations to the event dispatcher.
// Undecodable payloads are logged and dropped; a bad event must never
// take the session down.
func (s *Store) Bind(d *dispatch.Dispatcher) {
	d.On(model.EventMessageNew, func(env model.Envelope) {
		var m model.Message
		if !s.decode(env, &m) {
			return
		}
		s.AddNewMessage(m)
	})

	d.On(model.EventMessageUpdate, func(env model.Envelope) {
		var p model.MessageUpdatePayload
		if !s.decode(env, &p) {
			return
		}
		s.UpdateMessage(p.ID, MessagePatch{Content: &p.Content, IsEdited: &p.IsEdited})
	})

	d.On(model.EventMessageDelete, func(env model.Envelope) {
		var p model.MessageDeletePayload
		if !s.decode(env, &p) {
			return
		}
		s.DeleteMessage(p.ChatID, p.ID)
	})

	d.On(model.EventMessageRead, func(env model.Envelope) {
		var p model.ReadPayload
		if !s.decode(env, &p) {
			return
		}
		status := model.StatusRead
		s.UpdateMessage(p.MessageID, MessagePatch{Status: &status})
	})

	d.On(model.EventTypingStart, func(env model.Envelope) {
		var p model.TypingPayload
		if !s.decode(env, &p) {
			return
		}
		s.SetTyping(p.ChatID, p.UserID, true)
	})

	d.On(model.EventTypingStop, func(env model.Envelope) {
		var p model.TypingPayload
		if !s.decode(env, &p) {
			return
		}
		s.SetTyping(p.ChatID, p.UserID, false)
	})

	d.On(model.EventUserOnline, func(env model.Envelope) {
		var p model.UserStatusPayload
		if !s.decode(env, &p) {
			return
		}
		s.UpdateOnlineStatus(p.UserID, true)
	})

	d.On(model.EventUserOffline, func(env model.Envelope) {
		var p model.UserStatusPayload
		if !s.decode(env, &p) {
			return
		}
		s.UpdateOnlineStatus(p.UserID, false)
	})

	d.On(model.EventChatNew, func(env model.Envelope) {
		var c model.Chat
		if !s.decode(env, &c) {
			return
		}
		s.ApplyChat(c)
	})

	d.On(model.EventChatUpdate, func(env model.Envelope) {
		var c model.Chat
		if !s.decode(env, &c) {
			return
		}
		s.ApplyChat(c)
	})

	d.On(model.EventChatMemberJoin, func(env model.Envelope) {
		var p model.MemberPayload
		if !s.decode(env, &p) {
			return
		}
		s.ApplyMember(p.ChatID, p.UserID, true)
	})

	d.On(model.EventChatMemberLeave, func(env model.Envelope) {
		var p model.MemberPayload
		if !s.decode(env, &p) {
			return
		}
		s.ApplyMember(p.ChatID, p.UserID, false)
	})

	d.On(model.EventChatDelete, func(env model.Envelope) {
		var c model.Chat
		if !s.decode(env, &c) {
			return
		}
		s.RemoveChat(c.ID)
	})
}

func (s *Store) decode(env model.Envelope, dst any) bool {
	if err := env.Decode(dst); err != nil {
		s.log.Debug().Err(err).Str("event", string(env.Event)).Msg("undecodable payload ignored")
		return false
	}
	return true
}
