package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MONGOURI", "mongodb://localhost:27017")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "payraildb", cfg.MongoDatabase)
	require.Equal(t, 2.5, cfg.FeePercentage)
	require.Equal(t, 24*time.Hour, cfg.SettlementInterval)
}

func TestLoadRejectsNegativeFeePercentage(t *testing.T) {
	t.Setenv("MONGOURI", "mongodb://localhost:27017")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("FEE_PERCENTAGE", "-1")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "FEE_PERCENTAGE")
}
