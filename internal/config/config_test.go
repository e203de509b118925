package config

import (
	"context"
	"go-poll/internal/model"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapProvider map[string]string

func (p mapProvider) GetString(_ context.Context, key, def string) string {
	if value, ok := p[key]; ok {
		return value
	}
	return def
}

func TestSettingsFallsBackToDefaults(t *testing.T) {
	ctx := context.Background()
	settings := NewSettings(mapProvider{
		ScraperMinDelay:     "0.5",
		ScraperMaxRetries:   "many",
		MatterbridgeEnabled: "TRUE",
		TargetBaseURL:       "http://localhost:8080",
	})

	assert.Equal(t, 500*time.Millisecond, settings.Seconds(ctx, ScraperMinDelay))
	assert.Equal(t, 5*time.Second, settings.Seconds(ctx, ScraperMaxDelay))
	assert.Equal(t, 3, settings.Int(ctx, ScraperMaxRetries))
	assert.True(t, settings.Bool(ctx, MatterbridgeEnabled))
	assert.False(t, settings.Bool(ctx, SlackEnabled))
	assert.Equal(t, "de", settings.Language(ctx))
	assert.Equal(t, "http://localhost:8080/", settings.BaseURL(ctx))
}

func TestMaskAndNormalize(t *testing.T) {
	assert.Equal(t, MaskedValue, Mask(model.ConfigEntry{Key: MatterbridgeToken, Value: "secret"}).Value)
	assert.Equal(t, MaskedValue, Mask(model.ConfigEntry{Key: AppriseAPIKey, Value: "key"}).Value)
	assert.Equal(t, MaskedValue, Mask(model.ConfigEntry{Key: SlackWebhookURL, Value: "https://hooks"}).Value)
	assert.Equal(t, "", Mask(model.ConfigEntry{Key: ApprisePassword}).Value)
	assert.Equal(t, "gateway1", Mask(model.ConfigEntry{Key: MatterbridgeGateway, Value: "gateway1"}).Value)

	assert.Equal(t, "http://bridge:4242/", Normalize(MatterbridgeURL, " http://bridge:4242 "))
	assert.Equal(t, "https://hooks.slack.com/x", Normalize(SlackWebhookURL, "https://hooks.slack.com/x"))
	assert.Equal(t, "", Normalize(AppriseAPIURL, ""))
}

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	content := "scraper_min_delay: 1\nmatterbridge_enabled: true\nmatterbridge_url: http://bridge:4242\ncustom_key: value\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	entries, err := LoadSeed(path)
	require.NoError(t, err)

	values := make(map[string]string)
	for _, entry := range entries {
		values[entry.Key] = entry.Value
	}
	assert.Equal(t, "1", values[ScraperMinDelay])
	assert.Equal(t, "true", values[MatterbridgeEnabled])
	assert.Equal(t, "http://bridge:4242/", values[MatterbridgeURL])
	assert.Equal(t, "value", values["custom_key"])
	assert.Equal(t, "5", values[ScraperMaxDelay])
	assert.Len(t, entries, len(Defaults())+1)
}

func TestLoadSeedWithoutPath(t *testing.T) {
	entries, err := LoadSeed("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), entries)
}

func TestLoadSeedInvalid(t *testing.T) {
	_, err := overlaySeed(Defaults(), []byte("- not\n- a mapping\n"))
	assert.Error(t, err)
}
