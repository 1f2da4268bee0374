package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatflow/chatflow/pkg/dispatch"
	"github.com/chatflow/chatflow/pkg/model"
	"github.com/chatflow/chatflow/pkg/session"
	"github.com/chatflow/chatflow/pkg/store"
)

func main() {
	gatewayAddr := flag.String("gateway", "http://localhost:8080", "gateway service address")
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	userID := flag.String("user", "user1", "user id")
	chatID := flag.String("chat", "", "chat to open on startup")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	api := newAPIClient(*apiAddr, *gatewayAddr)
	log.Info().Str("user", *userID).Msg("logging in")
	token, err := api.login(*userID)
	if err != nil {
		log.Fatal().Err(err).Msg("login failed")
	}

	wsURL := "ws" + strings.TrimPrefix(*gatewayAddr, "http") + "/ws"
	ch := session.NewChannel(log, session.Config{
		URL:    wsURL,
		Token:  token,
		Policy: session.QueueWhileDown,
	})

	d := dispatch.New()
	st := store.New(log, store.Deps{
		Backfiller: api,
		Sender:     api,
		Lister:     api,
		Reader:     api,
		Subscriber: ch,
	}, 0, 0)
	st.Bind(d)

	// Render incoming traffic on top of the store's own bookkeeping.
	d.On(model.EventMessageNew, func(env model.Envelope) {
		var m model.Message
		if err := env.Decode(&m); err != nil {
			return
		}
		if m.SenderID == *userID {
			return
		}
		fmt.Printf("\r%s: %s\n> ", m.SenderID, m.Content)
	})
	d.On(model.EventTypingStart, func(env model.Envelope) {
		var p model.TypingPayload
		if err := env.Decode(&p); err != nil || p.UserID == *userID {
			return
		}
		fmt.Printf("\r%s is typing...      \n> ", p.UserID)
	})
	d.On(model.EventUserOnline, func(env model.Envelope) {
		var p model.UserStatusPayload
		if err := env.Decode(&p); err != nil || p.UserID == *userID {
			return
		}
		fmt.Printf("\r%s is online\n> ", p.UserID)
	})
	d.On(model.EventUserOffline, func(env model.Envelope) {
		var p model.UserStatusPayload
		if err := env.Decode(&p); err != nil || p.UserID == *userID {
			return
		}
		fmt.Printf("\r%s went offline\n> ", p.UserID)
	})
	d.On(model.EventError, func(env model.Envelope) {
		var p model.ErrorPayload
		if err := env.Decode(&p); err != nil {
			return
		}
		fmt.Printf("\rserver error [%s]: %s\n> ", p.Code, p.Message)
	})

	ch.OnEvent(d.Dispatch)
	ch.OnStateChange(func(s session.State) {
		fmt.Printf("\r[%s]\n> ", s)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := ch.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("connect failed")
	}
	defer ch.Disconnect()

	if err := st.LoadChats(ctx); err != nil {
		log.Fatal().Err(err).Msg("chat list failed")
	}
	go st.RunTypingSweeper(ctx, time.Second)

	if *chatID != "" {
		if err := st.SelectChat(ctx, *chatID); err != nil {
			log.Error().Err(err).Str("chat", *chatID).Msg("open chat failed")
		} else {
			printHistory(st, *chatID)
		}
	}

	input := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			input <- scanner.Text()
		}
		close(input)
	}()

	for {
		select {
		case <-ctx.Done():
			st.Wait()
			return
		case text, ok := <-input:
			if !ok {
				st.Wait()
				return
			}
			if !handleLine(ctx, log, st, ch, text) {
				st.Wait()
				return
			}
			fmt.Print("> ")
		}
	}
}

// handleLine runs one line of input. Returns false on /quit.
func handleLine(ctx context.Context, log zerolog.Logger, st *store.Store, ch *session.Channel, text string) bool {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
	case text == "/quit":
		return false
	case text == "/chats":
		for _, c := range st.Chats() {
			marker := " "
			if c.ID == st.ActiveChat() {
				marker = "*"
			}
			fmt.Printf("%s %s  (%d unread)  %s\n", marker, c.ID, c.UnreadCount, c.LastMessage)
		}
	case strings.HasPrefix(text, "/open "):
		id := strings.TrimSpace(strings.TrimPrefix(text, "/open "))
		if err := st.SelectChat(ctx, id); err != nil {
			log.Error().Err(err).Str("chat", id).Msg("open chat failed")
			break
		}
		printHistory(st, id)
	case text == "/more":
		chatID := st.ActiveChat()
		if chatID == "" {
			fmt.Println("no chat open, use /open <id>")
			break
		}
		if !st.HasMoreMessages(chatID) {
			fmt.Println("(beginning of history)")
			break
		}
		if err := st.LoadMessages(ctx, chatID, true); err != nil {
			log.Error().Err(err).Msg("load more failed")
			break
		}
		printHistory(st, chatID)
	case text == "/typing":
		chatID := st.ActiveChat()
		if chatID == "" {
			break
		}
		if err := ch.Send(model.EventTypingStart, model.TypingPayload{ChatID: chatID}); err != nil {
			log.Error().Err(err).Msg("typing failed")
		}
	default:
		chatID := st.ActiveChat()
		if chatID == "" {
			fmt.Println("no chat open, use /open <id>")
			break
		}
		if _, err := st.SendMessage(ctx, chatID, text, 0); err != nil {
			log.Error().Err(err).Msg("send failed")
		}
	}
	return true
}

func printHistory(st *store.Store, chatID string) {
	msgs := st.Messages(chatID)
	if st.HasMoreMessages(chatID) {
		fmt.Println("(older messages available, /more to load)")
	}
	for _, m := range msgs {
		body := m.Content
		if m.IsDeleted {
			body = "(deleted)"
		}
		fmt.Printf("[%d] %s: %s\n", m.Seq, m.SenderID, body)
	}
}
