package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.GetServerAddr())
	assert.Equal(t, 25, cfg.Database.MaxConns)
	assert.True(t, cfg.Database.Migrate)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, time.Hour, cfg.Claim.VerificationTTL)
	assert.Equal(t, time.Hour, cfg.Claim.SweepInterval)
	assert.Equal(t, 5, cfg.Claim.RateLimit)
	assert.Equal(t, DefaultCodeSecret, cfg.App.CodeSecret)
	assert.Equal(t, "log", cfg.Issuer.Kind)
	assert.Equal(t, "log", cfg.Notify.Kind)
	assert.True(t, cfg.App.IsDevelopment())
	assert.False(t, cfg.App.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DB_NAME", "fomo_test")
	t.Setenv("CLAIM_VERIFICATION_TTL", "30m")
	t.Setenv("CLAIM_RATE_LIMIT", "10")
	t.Setenv("APP_CORS_ORIGINS", "https://shop.example.com,https://admin.example.com")
	t.Setenv("APP_ENVIRONMENT", "production")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Contains(t, cfg.Database.GetDatabaseURL(), "dbname=fomo_test")
	assert.Equal(t, 30*time.Minute, cfg.Claim.VerificationTTL)
	assert.Equal(t, 10, cfg.Claim.RateLimit)
	assert.Equal(t, []string{"https://shop.example.com", "https://admin.example.com"}, cfg.App.CORSOrigins)
	assert.True(t, cfg.App.IsProduction())
}

func TestLoadRules(t *testing.T) {
	t.Run("defaults without file", func(t *testing.T) {
		rules, err := LoadRules("")
		require.NoError(t, err)
		assert.Equal(t, DefaultDisposableDomains, rules.DisposableDomains)
		assert.Empty(t, rules.BannedIPs)
	})

	t.Run("file overrides", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		content := `
disposable_domains:
  - trashmail.com
banned_ips:
  - 203.0.113.7
  - 198.51.100.0/24
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		rules, err := LoadRules(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"trashmail.com"}, rules.DisposableDomains)
		assert.Equal(t, []string{"203.0.113.7", "198.51.100.0/24"}, rules.BannedIPs)
	})

	t.Run("file without domains keeps defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		require.NoError(t, os.WriteFile(path, []byte("banned_ips: [10.0.0.1]\n"), 0644))

		rules, err := LoadRules(path)
		require.NoError(t, err)
		assert.Equal(t, DefaultDisposableDomains, rules.DisposableDomains)
		assert.Equal(t, []string{"10.0.0.1"}, rules.BannedIPs)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadRules(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestCheckSecrets(t *testing.T) {
	tests := []struct {
		name    string
		cfg     AppConfig
		wantErr string
	}{
		{"development allows defaults", AppConfig{Environment: "development", CodeSecret: DefaultCodeSecret}, ""},
		{"production needs admin token", AppConfig{Environment: "production", CodeSecret: "k3y"}, "APP_ADMIN_TOKEN"},
		{"production rejects default code secret", AppConfig{Environment: "production", AdminToken: "t", CodeSecret: DefaultCodeSecret}, "APP_CODE_SECRET"},
		{"production rejects empty code secret", AppConfig{Environment: "production", AdminToken: "t"}, "APP_CODE_SECRET"},
		{"production with both set", AppConfig{Environment: "production", AdminToken: "t", CodeSecret: "k3y"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.CheckSecrets()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
