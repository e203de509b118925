package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"go-poll/internal/config"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
)

const sendTimeout = 10 * time.Second

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: sendTimeout}
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any, authorize func(*http.Request)) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed encoding payload")
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed creating request")
	}
	request.Header.Set("Content-Type", "application/json")
	if authorize != nil {
		authorize(request)
	}

	response, err := client.Do(request)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return errors.Newf("unexpected status %d: %s", response.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}

// Matterbridge posts markdown messages to a Matterbridge API gateway.
type Matterbridge struct {
	settings Settings
	client   *http.Client
}

func NewMatterbridge(settings Settings) *Matterbridge {
	return &Matterbridge{settings: settings, client: newHTTPClient()}
}

func (m *Matterbridge) Name() string {
	return "matterbridge"
}

func (m *Matterbridge) Enabled(ctx context.Context) bool {
	return m.settings.Bool(ctx, config.MatterbridgeEnabled) &&
		m.settings.String(ctx, config.MatterbridgeURL) != "" &&
		m.settings.String(ctx, config.MatterbridgeToken) != ""
}

type matterbridgeMessage struct {
	Text     string `json:"text"`
	Username string `json:"username"`
	Gateway  string `json:"gateway"`
}

func (m *Matterbridge) Send(ctx context.Context, message Message) error {
	url := config.Normalize(config.MatterbridgeURL, m.settings.String(ctx, config.MatterbridgeURL)) + "api/message"
	token := m.settings.String(ctx, config.MatterbridgeToken)
	payload := matterbridgeMessage{
		Text:     message.Markdown(UrgentMarker),
		Username: m.settings.String(ctx, config.MatterbridgeUsername),
		Gateway:  m.settings.String(ctx, config.MatterbridgeGateway),
	}
	return postJSON(ctx, m.client, url, payload, func(request *http.Request) {
		request.Header.Set("Authorization", "Bearer "+token)
	})
}

// Apprise posts title and body to a stateful Apprise API configuration key.
type Apprise struct {
	settings Settings
	client   *http.Client
}

func NewApprise(settings Settings) *Apprise {
	return &Apprise{settings: settings, client: newHTTPClient()}
}

func (a *Apprise) Name() string {
	return "apprise"
}

func (a *Apprise) Enabled(ctx context.Context) bool {
	return a.settings.Bool(ctx, config.AppriseEnabled) &&
		a.settings.String(ctx, config.AppriseAPIURL) != "" &&
		a.settings.String(ctx, config.AppriseAPIKey) != ""
}

type appriseMessage struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (a *Apprise) Send(ctx context.Context, message Message) error {
	url := config.Normalize(config.AppriseAPIURL, a.settings.String(ctx, config.AppriseAPIURL)) +
		"notify/" + a.settings.String(ctx, config.AppriseAPIKey)
	username := a.settings.String(ctx, config.AppriseUsername)
	password := a.settings.String(ctx, config.ApprisePassword)
	payload := appriseMessage{Title: message.Title(UrgentMarker), Body: message.Body()}

	return postJSON(ctx, a.client, url, payload, func(request *http.Request) {
		if username != "" && password != "" {
			request.SetBasicAuth(username, password)
		}
	})
}
