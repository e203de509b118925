package config

import (
	"context"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

type Provider interface {
	GetString(ctx context.Context, key, def string) string
}

// Settings reads typed values from a Provider, falling back to the built-in defaults.
type Settings struct {
	provider Provider
	defaults map[string]string
}

func NewSettings(provider Provider) *Settings {
	defaults := make(map[string]string)
	for _, entry := range Defaults() {
		defaults[entry.Key] = entry.Value
	}
	return &Settings{provider: provider, defaults: defaults}
}

func (s *Settings) String(ctx context.Context, key string) string {
	return strings.TrimSpace(s.provider.GetString(ctx, key, s.defaults[key]))
}

func (s *Settings) Bool(ctx context.Context, key string) bool {
	switch strings.ToLower(s.String(ctx, key)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

func (s *Settings) Int(ctx context.Context, key string) int {
	raw := s.String(ctx, key)
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.WithFields(log.Fields{"key": key, "value": raw}).Warn("Config value is not an integer, using default")
		value, _ = strconv.Atoi(s.defaults[key])
	}
	return value
}

// Seconds reads a (possibly fractional) number of seconds.
func (s *Settings) Seconds(ctx context.Context, key string) time.Duration {
	raw := s.String(ctx, key)
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value < 0 {
		log.WithFields(log.Fields{"key": key, "value": raw}).Warn("Config value is not a duration in seconds, using default")
		value, _ = strconv.ParseFloat(s.defaults[key], 64)
	}
	return time.Duration(value * float64(time.Second))
}

func (s *Settings) Language(ctx context.Context) string {
	if strings.EqualFold(s.String(ctx, NotificationLanguage), "en") {
		return "en"
	}
	return "de"
}

func (s *Settings) BaseURL(ctx context.Context) string {
	return Normalize(TargetBaseURL, s.String(ctx, TargetBaseURL))
}
