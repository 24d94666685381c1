package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/config"
)

func TestNew_Unreachable(t *testing.T) {
	cfg := config.PostgresConfig{
		Host:         "127.0.0.1",
		Port:         1,
		Database:     "corpus",
		User:         "search",
		SSLMode:      "disable",
		MaxOpenConns: 1,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := New(ctx, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pinging postgres")
}
