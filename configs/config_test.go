package configs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	service "github.com/123bigmirros/electronic-grave/services"
)

// clearEnv unsets keys for the duration of the test.
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

var configKeys = []string{
	"GRAVE_HTTP_ADDR", "GRAVE_STORE", "GRAVE_POSTGRES_DSN", "GRAVE_REDIS_ADDR",
	"GRAVE_FATE_PROBABILITY", "GRAVE_CLAIM_SELECTION", "GRAVE_CLAIM_TRANSPORT",
	"GRAVE_CLAIM_TIMEOUT", "GRAVE_CLAIM_WORKERS", "GRAVE_VISITOR_TTL",
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t, configKeys...)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, ":4000", cfg.HTTPAddr)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, ClaimTransportDirect, cfg.ClaimTransport)
	assert.Equal(t, time.Hour, cfg.VisitorTTL)
	assert.Equal(t, 5*time.Second, cfg.ClaimTimeout)
	assert.Equal(t, service.DefaultClaimEngineConfig(), cfg.ClaimEngine())
}

func TestLoad_EnvFileAndOverrides(t *testing.T) {
	clearEnv(t, configKeys...)
	t.Setenv("GRAVE_CLAIM_SELECTION", "oldest")

	path := filepath.Join(t.TempDir(), ".env")
	content := "GRAVE_FATE_PROBABILITY=0.25\nGRAVE_CLAIM_SELECTION=uniform\nGRAVE_VISITOR_TTL=90s\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.25, cfg.FateProbability)
	assert.Equal(t, 90*time.Second, cfg.VisitorTTL)
	assert.Equal(t, service.SelectOldest, cfg.ClaimEngine().Selection, "the environment wins over the file")
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := map[string]map[string]string{
		"unknown store":           {"GRAVE_STORE": "dynamo"},
		"postgres without dsn":    {"GRAVE_STORE": "postgres"},
		"queue without redis":     {"GRAVE_CLAIM_TRANSPORT": "queue"},
		"unknown transport":       {"GRAVE_CLAIM_TRANSPORT": "carrier-pigeon"},
		"probability above one":   {"GRAVE_FATE_PROBABILITY": "1.5"},
		"unknown selection":       {"GRAVE_CLAIM_SELECTION": "newest"},
		"negative workers":        {"GRAVE_CLAIM_WORKERS": "-1"},
		"unparsable duration":     {"GRAVE_CLAIM_TIMEOUT": "soon"},
		"queue with zero timeout": {"GRAVE_CLAIM_TRANSPORT": "queue", "GRAVE_REDIS_ADDR": "localhost:6379", "GRAVE_CLAIM_TIMEOUT": "0s"},
	}
	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			clearEnv(t, configKeys...)
			for k, v := range vars {
				t.Setenv(k, v)
			}
			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			assert.Error(t, err)
		})
	}
}

func TestOpenStore_SQLite(t *testing.T) {
	cfg := Config{Store: StoreSQLite, SQLitePath: filepath.Join(t.TempDir(), "grave.db")}
	store, err := OpenStore(context.Background(), cfg, true)
	require.NoError(t, err)
	defer store.Close(context.Background())

	canvases, err := store.Repo.ListCanvasesByOwner(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, canvases)

	_, err = OpenStore(context.Background(), Config{Store: "dynamo"}, false)
	assert.Error(t, err)
}

func TestConnectRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := ConnectRedis(context.Background(), Config{RedisAddr: mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, client.Close())

	mr.Close()
	_, err = ConnectRedis(context.Background(), Config{RedisAddr: mr.Addr()})
	assert.Error(t, err)
}
