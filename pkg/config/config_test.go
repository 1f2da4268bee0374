package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGatewayDefaults(t *testing.T) {
	var cfg Gateway
	require.NoError(t, Load(&cfg))

	require.Equal(t, ":8080", cfg.Addr)
	require.Equal(t, []string{"localhost:9042"}, cfg.ScyllaHosts)
	require.Equal(t, "chatflow", cfg.Keyspace)
	require.Equal(t, 5*time.Second, cfg.TypingTTL)
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("GATEWAY_ADDR", ":9999")
	t.Setenv("SCYLLA_HOSTS", "node1:9042,node2:9042")
	t.Setenv("TYPING_TTL", "10s")

	var cfg Gateway
	require.NoError(t, Load(&cfg))

	require.Equal(t, ":9999", cfg.Addr)
	require.Equal(t, []string{"node1:9042", "node2:9042"}, cfg.ScyllaHosts)
	require.Equal(t, 10*time.Second, cfg.TypingTTL)
}

func TestMessagingDefaults(t *testing.T) {
	var cfg Messaging
	require.NoError(t, Load(&cfg))

	require.Equal(t, []string{"localhost:19092"}, cfg.KafkaBrokers)
	require.Equal(t, "chat-events", cfg.KafkaTopic)
	require.Equal(t, "messaging-service-group", cfg.KafkaGroup)
}
