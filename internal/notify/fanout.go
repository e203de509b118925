package notify

import (
	"context"
	"go-poll/internal/model"
	"sync"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
)

var ErrNotificationFailure = errors.New("notification failure")

// Channel delivers one message per listing to an external system.
type Channel interface {
	Name() string
	// Enabled reports whether the channel is switched on and has its credentials.
	Enabled(ctx context.Context) bool
	Send(ctx context.Context, message Message) error
}

type Settings interface {
	String(ctx context.Context, key string) string
	Bool(ctx context.Context, key string) bool
	Language(ctx context.Context) string
}

type Result struct {
	Channel   string `json:"channel"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
}

func (r Result) Succeeded() bool {
	return r.Delivered > 0
}

// Fanout sends new listings to every enabled channel. Channels run concurrently and do not
// affect each other; failures are logged and counted.
type Fanout struct {
	settings Settings
	channels []Channel
}

func NewFanout(settings Settings, channels ...Channel) *Fanout {
	return &Fanout{settings: settings, channels: channels}
}

func (f *Fanout) Notify(ctx context.Context, job model.Job, listings []model.Listing) []Result {
	if !job.NotifyEnabled || len(listings) == 0 {
		return nil
	}
	language := f.settings.Language(ctx)

	enabled := make([]Channel, 0, len(f.channels))
	for _, channel := range f.channels {
		if channel.Enabled(ctx) {
			enabled = append(enabled, channel)
		} else {
			log.WithFields(log.Fields{"channel": channel.Name(), "job": job.Name}).Debug("Channel disabled, skipping")
		}
	}

	results := make([]Result, len(enabled))
	wg := sync.WaitGroup{}
	for i, channel := range enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = deliver(ctx, channel, job, listings, language)
		}()
	}
	wg.Wait()
	return results
}

func deliver(ctx context.Context, channel Channel, job model.Job, listings []model.Listing, language string) Result {
	result := Result{Channel: channel.Name()}
	logger := log.WithFields(log.Fields{"channel": channel.Name(), "job": job.Name, "jobId": job.Id})

	for i, listing := range listings {
		message := Message{Job: job, Listing: listing, Index: i + 1, Total: len(listings), Language: language}
		if err := channel.Send(ctx, message); err != nil {
			err = errors.Mark(err, ErrNotificationFailure)
			logger.WithFields(log.Fields{"error": err, "listing": listing.Id}).Error("Failed sending notification")
			result.Failed++
			continue
		}
		result.Delivered++
	}

	entry := logger.WithFields(log.Fields{"delivered": result.Delivered, "failed": result.Failed})
	if result.Succeeded() {
		entry.Info("Notifications sent")
	} else {
		entry.Error("Failed sending any notification")
	}
	return result
}
