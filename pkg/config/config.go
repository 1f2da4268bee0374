// Package config loads per-service settings from the environment,
// with an optional .env file for local development.
package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Gateway struct {
	Addr         string        `envconfig:"GATEWAY_ADDR" default:":8080"`
	RedisAddr    string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	ScyllaHosts  []string      `envconfig:"SCYLLA_HOSTS" default:"localhost:9042"`
	Keyspace     string        `envconfig:"SCYLLA_KEYSPACE" default:"chatflow"`
	KafkaBrokers []string      `envconfig:"KAFKA_BROKERS" default:"localhost:19092"`
	KafkaTopic   string        `envconfig:"KAFKA_TOPIC" default:"chat-events"`
	JWTSecret    string        `envconfig:"JWT_SECRET" default:"dev_secret_key"`
	NodeID       int64         `envconfig:"NODE_ID" default:"1"`
	TypingTTL    time.Duration `envconfig:"TYPING_TTL" default:"5s"`
}

type API struct {
	Addr        string   `envconfig:"API_ADDR" default:":8081"`
	RedisAddr   string   `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	ScyllaHosts []string `envconfig:"SCYLLA_HOSTS" default:"localhost:9042"`
	Keyspace    string   `envconfig:"SCYLLA_KEYSPACE" default:"chatflow"`
	JWTSecret   string   `envconfig:"JWT_SECRET" default:"dev_secret_key"`
	PageLimit   int      `envconfig:"PAGE_LIMIT" default:"50"`
}

type Messaging struct {
	ScyllaHosts  []string `envconfig:"SCYLLA_HOSTS" default:"localhost:9042"`
	Keyspace     string   `envconfig:"SCYLLA_KEYSPACE" default:"chatflow"`
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:19092"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"chat-events"`
	KafkaGroup   string   `envconfig:"KAFKA_GROUP" default:"messaging-service-group"`
}

// Load populates cfg from the environment. A missing .env is not an error.
func Load(cfg any) error {
	_ = godotenv.Load()
	return envconfig.Process("", cfg)
}
