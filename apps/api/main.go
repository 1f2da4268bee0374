package main

import (
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
)

type API struct {
	log       zerolog.Logger
	db        *db.Session
	rdb       *redis.Client
	tokens    *auth.Tokens
	history   *backfill.Store
	dir       *directory.Directory
	pageLimit int
}

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "api").Logger()

	var cfg config.API
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

	a := &API{
		log:       log,
		db:        session,
		rdb:       rdb,
		tokens:    auth.NewTokens(cfg.JWTSecret, 0),
		history:   backfill.NewStore(session),
		dir:       directory.New(session),
		pageLimit: cfg.PageLimit,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Post("/login", a.loginHandler)

	r.Group(func(r chi.Router) {
		r.Use(a.authMiddleware)
		r.Get("/chats", a.chatsHandler)
		r.Get("/chats/{chatID}/messages", a.messagesHandler)
		r.Get("/chats/{chatID}/pinned", a.pinnedHandler)
		r.Get("/chats/{chatID}/online", a.onlineHandler)
		r.Post("/chats/{chatID}/read", a.readHandler)
	})

	log.Info().Str("addr", cfg.Addr).Msg("api listening")
	if err := http.ListenAndServe(cfg.Addr, r); err != nil {
		log.Fatal().Err(err).Msg("serve")
	}
}
