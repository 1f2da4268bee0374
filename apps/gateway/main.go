package main

import (
	"context"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/chatflow/chatflow/pkg/auth"
	"github.com/chatflow/chatflow/pkg/backfill"
	"github.com/chatflow/chatflow/pkg/config"
	"github.com/chatflow/chatflow/pkg/db"
	"github.com/chatflow/chatflow/pkg/directory"
	"github.com/chatflow/chatflow/pkg/hub"
	"github.com/chatflow/chatflow/pkg/ident"
	"github.com/chatflow/chatflow/pkg/presence"
	"github.com/chatflow/chatflow/pkg/stream"
)

// chatDirectory is the membership view the gateway consults before
// accepting a subscription or relaying into a chat.
type chatDirectory interface {
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
	ChatsForUser(ctx context.Context, userID string) ([]string, error)
}

// presenceTracker is the slice of the presence service sessions drive.
type presenceTracker interface {
	OnConnect(ctx context.Context, userID string)
	OnDisconnect(ctx context.Context, userID string)
	Heartbeat(ctx context.Context, userID string)
}

// messageLookup resolves who authored a stored message, for ownership
// checks on edits and deletes.
type messageLookup interface {
	SenderOf(ctx context.Context, chatID string, seq int64) (string, error)
}

// Gateway bundles the dependencies shared by every websocket session.
type Gateway struct {
	log      zerolog.Logger
	tokens   *auth.Tokens
	hub      *hub.Hub
	presence presenceTracker
	dir      chatDirectory
	messages messageLookup
}

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "gateway").Logger()

	var cfg config.Gateway
	if err := config.Load(&cfg); err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		log.Fatal().Err(err).Msg("connect scylla")
	}
	defer session.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	sink := stream.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer sink.Close()

	ids, err := ident.NewGenerator(cfg.NodeID)
	if err != nil {
		log.Fatal().Err(err).Msg("init id generator")
	}

	history := backfill.NewStore(session)
	dir := directory.New(session)

	h := hub.New(log, hub.NewRegistry(), ids, history.LastSeq,
		hub.WithSink(sink),
		hub.WithDropHandler(func(s hub.Session) {
			if c, ok := s.(*Client); ok {
				c.Close()
			}
		}),
	)
	tracker := presence.NewTracker(log, dir, h, rdb, 0)

	gw := &Gateway{
		log:      log,
		tokens:   auth.NewTokens(cfg.JWTSecret, 0),
		hub:      h,
		presence: tracker,
		dir:      dir,
		messages: history,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", gw.serveWs)
	r.Post("/messages", gw.sendHandler)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	log.Info().Str("addr", cfg.Addr).Msg("gateway listening")
	if err := http.ListenAndServe(cfg.Addr, r); err != nil {
		log.Fatal().Err(err).Msg("serve")
	}
}
