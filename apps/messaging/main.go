package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/chatflow/chatflow/pkg/config"
	"github.com/chatflow/chatflow/pkg/db"
	"github.com/chatflow/chatflow/pkg/stream"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "messaging").Logger()

	var cfg config.Messaging
	if err := config.Load(&cfg); err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	// Schema bootstrap. In production this belongs to a migration tool;
	// for now the consumer owns it because it starts first.
	sysSession, err := db.NewSession(cfg.ScyllaHosts, "system")
	if err != nil {
		log.Fatal().Err(err).Msg("connect scylla system keyspace")
	}
	err = sysSession.Query(`CREATE KEYSPACE IF NOT EXISTS ` + cfg.Keyspace +
		` WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`).Exec()
	if err != nil {
		log.Fatal().Err(err).Msg("create keyspace")
	}
	sysSession.Close()

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		log.Fatal().Err(err).Msg("connect scylla")
	}
	defer session.Close()

	if err := createTables(session); err != nil {
		log.Fatal().Err(err).Msg("create tables")
	}

	reader := stream.NewReader(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup)
	consumer := NewConsumer(log, reader, session)
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("topic", cfg.KafkaTopic).Str("group", cfg.KafkaGroup).Msg("consumer starting")
	if err := consumer.Run(ctx); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("consumer stopped")
	}
}

func createTables(session *db.Session) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			chat_id text,
			seq bigint,
			id bigint,
			sender_id text,
			content text,
			reply_to_id bigint,
			is_edited boolean,
			is_deleted boolean,
			is_pinned boolean,
			timestamp timestamp,
			PRIMARY KEY (chat_id, seq)
		) WITH CLUSTERING ORDER BY (seq DESC)`,
		`CREATE TABLE IF NOT EXISTS chat_members (
			chat_id text,
			user_id text,
			role text,
			joined_at timestamp,
			last_read_seq bigint,
			PRIMARY KEY (chat_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS user_chats (
			user_id text,
			chat_id text,
			kind text,
			name text,
			other_user_id text,
			last_activity timestamp,
			last_message text,
			PRIMARY KEY (user_id, chat_id)
		)`,
		`CREATE TABLE IF NOT EXISTS unread_counters (
			user_id text,
			chat_id text,
			unread counter,
			PRIMARY KEY (user_id, chat_id)
		)`,
	}
	for _, stmt := range stmts {
		if err := session.Query(stmt).Exec(); err != nil {
			return err
		}
	}
	return nil
}
