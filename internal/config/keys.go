package config

import (
	"go-poll/internal/model"
	"strings"
)

const (
	TargetBaseURL          = "target_base_url"
	ScraperMinDelay        = "scraper_min_delay"
	ScraperMaxDelay        = "scraper_max_delay"
	ScraperTimeoutConnect  = "scraper_timeout_connect"
	ScraperTimeoutRead     = "scraper_timeout_read"
	ScraperMaxRetries      = "scraper_max_retries"
	ScraperRateLimitPause  = "scraper_rate_limit_pause"
	NotificationLanguage   = "notification_language"
	DefaultJobSchedule     = "default_job_schedule"
	MatterbridgeEnabled    = "matterbridge_enabled"
	MatterbridgeURL        = "matterbridge_url"
	MatterbridgeToken      = "matterbridge_token"
	MatterbridgeGateway    = "matterbridge_gateway"
	MatterbridgeUsername   = "matterbridge_username"
	AppriseEnabled         = "apprise_enabled"
	AppriseAPIURL          = "apprise_api_url"
	AppriseAPIKey          = "apprise_api_key"
	AppriseUsername        = "apprise_username"
	ApprisePassword        = "apprise_password"
	TelegramEnabled        = "telegram_enabled"
	TelegramToken          = "telegram_token"
	TelegramChatID         = "telegram_chat_id"
	TelegramAPIEndpoint    = "telegram_api_endpoint"
	SlackEnabled           = "slack_enabled"
	SlackWebhookURL        = "slack_webhook_url"
	SlackUsername          = "slack_username"
	MaskedValue            = "***"
	defaultTelegramAPIBase = "https://api.telegram.org/bot%s/%s"
)

// Defaults lists every known key with its built-in value.
func Defaults() []model.ConfigEntry {
	return []model.ConfigEntry{
		{Key: TargetBaseURL, Value: "https://www.kleinanzeigen.de/", Description: "Base URL relative targets are joined to"},
		{Key: ScraperMinDelay, Value: "2", Description: "Minimum delay between requests in seconds"},
		{Key: ScraperMaxDelay, Value: "5", Description: "Maximum delay between requests in seconds"},
		{Key: ScraperTimeoutConnect, Value: "5", Description: "Connect timeout in seconds"},
		{Key: ScraperTimeoutRead, Value: "30", Description: "Read timeout in seconds"},
		{Key: ScraperMaxRetries, Value: "3", Description: "Maximum attempts per request"},
		{Key: ScraperRateLimitPause, Value: "60", Description: "Extra pause after a 429 response in seconds"},
		{Key: NotificationLanguage, Value: "de", Description: "Notification language (de, en)"},
		{Key: DefaultJobSchedule, Value: "*/15 * * * *", Description: "Schedule used when a job is created without one"},
		{Key: MatterbridgeEnabled, Value: "false", Description: "Send notifications through Matterbridge"},
		{Key: MatterbridgeURL, Value: "", Description: "Matterbridge API URL"},
		{Key: MatterbridgeToken, Value: "", Description: "Matterbridge API token"},
		{Key: MatterbridgeGateway, Value: "gateway1", Description: "Matterbridge gateway"},
		{Key: MatterbridgeUsername, Value: "go-poll", Description: "Matterbridge username"},
		{Key: AppriseEnabled, Value: "false", Description: "Send notifications through Apprise"},
		{Key: AppriseAPIURL, Value: "", Description: "Apprise API URL"},
		{Key: AppriseAPIKey, Value: "", Description: "Apprise configuration key"},
		{Key: AppriseUsername, Value: "", Description: "Apprise basic auth username"},
		{Key: ApprisePassword, Value: "", Description: "Apprise basic auth password"},
		{Key: TelegramEnabled, Value: "false", Description: "Send notifications through Telegram"},
		{Key: TelegramToken, Value: "", Description: "Telegram bot token"},
		{Key: TelegramChatID, Value: "", Description: "Telegram chat id"},
		{Key: TelegramAPIEndpoint, Value: defaultTelegramAPIBase, Description: "Telegram bot API endpoint"},
		{Key: SlackEnabled, Value: "false", Description: "Send notifications through a Slack webhook"},
		{Key: SlackWebhookURL, Value: "", Description: "Slack incoming webhook URL"},
		{Key: SlackUsername, Value: "go-poll", Description: "Slack username"},
	}
}

func IsSensitive(key string) bool {
	return strings.HasSuffix(key, "_token") ||
		strings.HasSuffix(key, "_password") ||
		strings.HasSuffix(key, "_api_key") ||
		key == SlackWebhookURL
}

func isURL(key string) bool {
	return strings.HasSuffix(key, "_url") && key != SlackWebhookURL
}

// Mask hides the value of sensitive keys that are set.
func Mask(entry model.ConfigEntry) model.ConfigEntry {
	if IsSensitive(entry.Key) && entry.Value != "" {
		entry.Value = MaskedValue
	}
	return entry
}

// Normalize prepares a value for storage. URL values get a trailing slash.
func Normalize(key, value string) string {
	value = strings.TrimSpace(value)
	if isURL(key) && value != "" && !strings.HasSuffix(value, "/") {
		value += "/"
	}
	return value
}
