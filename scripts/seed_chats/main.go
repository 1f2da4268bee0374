// Seeds a couple of demo chats so the terminal client has something
// to open: one group chat with three members and one private chat.
package main

import (
	"log"
	"time"

	"github.com/chatflow/chatflow/pkg/db"
)

func main() {
	scyllaHosts := []string{"localhost:9042"}
	keyspace := "chatflow"

	session, err := db.NewSession(scyllaHosts, keyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	now := time.Now().UTC()

	type seed struct {
		chatID  string
		kind    string
		name    string
		members []string
	}
	seeds := []seed{
		{chatID: "general", kind: "group", name: "General", members: []string{"user1", "user2", "user3"}},
		{chatID: "dm:user1:user2", kind: "private", name: "", members: []string{"user1", "user2"}},
	}

	for _, s := range seeds {
		for _, member := range s.members {
			err := session.Query(
				`INSERT INTO chat_members (chat_id, user_id, role, joined_at, last_read_seq) VALUES (?, ?, ?, ?, 0)`,
				s.chatID, member, "member", now,
			).Exec()
			if err != nil {
				log.Fatalf("Failed to insert member %s into %s: %v", member, s.chatID, err)
			}

			other := ""
			if s.kind == "private" {
				for _, m := range s.members {
					if m != member {
						other = m
					}
				}
			}
			err = session.Query(
				`INSERT INTO user_chats (user_id, chat_id, kind, name, other_user_id, last_activity, last_message) VALUES (?, ?, ?, ?, ?, ?, '')`,
				member, s.chatID, s.kind, s.name, other, now,
			).Exec()
			if err != nil {
				log.Fatalf("Failed to insert chat %s for %s: %v", s.chatID, member, err)
			}
		}
		log.Printf("Seeded chat %s with %d members", s.chatID, len(s.members))
	}
}
