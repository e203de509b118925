package notify

import (
	"context"
	"go-poll/internal/config"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/slack-go/slack"
)

const slackUrgentMarker = "<!channel>"

// Slack posts to an incoming webhook.
type Slack struct {
	settings Settings
	client   *http.Client
}

func NewSlack(settings Settings) *Slack {
	return &Slack{settings: settings, client: newHTTPClient()}
}

func (s *Slack) Name() string {
	return "slack"
}

func (s *Slack) Enabled(ctx context.Context) bool {
	return s.settings.Bool(ctx, config.SlackEnabled) && s.settings.String(ctx, config.SlackWebhookURL) != ""
}

func (s *Slack) Send(ctx context.Context, message Message) error {
	webhook := &slack.WebhookMessage{
		Username: s.settings.String(ctx, config.SlackUsername),
		Text:     message.Title(slackUrgentMarker) + "\n" + message.Body(),
	}
	err := slack.PostWebhookCustomHTTPContext(ctx, s.settings.String(ctx, config.SlackWebhookURL), s.client, webhook)
	if err != nil {
		return errors.Wrap(err, "failed posting slack webhook")
	}
	return nil
}
