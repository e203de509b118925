package engine

import (
	"context"
	"go-poll/internal/fetch"
	"go-poll/internal/model"
	"go-poll/internal/model/sqlquery"
	"go-poll/internal/notify"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	ErrExtractionFailure = errors.New("extraction failure")
	ErrAllTargetsFailed  = errors.New("all targets failed")
)

type Trigger int

const (
	Scheduled Trigger = iota
	Manual
)

func (t Trigger) String() string {
	if t == Manual {
		return "manual"
	}
	return "scheduled"
}

type RecordStore interface {
	GetJob(ctx context.Context, id model.JobId) (model.Job, error)
	UpdateJobRunResult(ctx context.Context, id model.JobId, lastRun time.Time, status model.RunStatus, watermark *string) error
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type Extractor interface {
	Extract(body []byte) ([]model.Listing, error)
}

type Notifier interface {
	Notify(ctx context.Context, job model.Job, listings []model.Listing) []notify.Result
}

type Settings interface {
	BaseURL(ctx context.Context) string
}

// Engine runs one poll of a job: fetch every target, pick the new listings, record the
// outcome and hand the new listings to the notifier.
type Engine struct {
	store     RecordStore
	fetcher   Fetcher
	extractor Extractor
	notifier  Notifier
	settings  Settings
	now       func() time.Time
}

func New(store RecordStore, fetcher Fetcher, extractor Extractor, notifier Notifier, settings Settings) *Engine {
	return &Engine{
		store:     store,
		fetcher:   fetcher,
		extractor: extractor,
		notifier:  notifier,
		settings:  settings,
		now:       time.Now,
	}
}

// Execute runs the job once. Failures are recorded on the job and also returned.
func (e *Engine) Execute(ctx context.Context, id model.JobId, trigger Trigger) error {
	runId := uuid.NewString()[:8]
	logger := log.WithFields(log.Fields{"jobId": id, "run": runId, "trigger": trigger.String()})

	job, err := e.store.GetJob(ctx, id)
	if err != nil {
		logger.WithFields(log.Fields{"error": err}).Error("Failed loading job")
		return errors.Wrapf(err, "failed loading job %d", id)
	}
	logger = logger.WithFields(log.Fields{"job": job.Name})
	if trigger == Scheduled && !job.Enabled {
		logger.Info("Job is disabled, skipping scheduled run")
		return nil
	}

	startedAt := e.now()
	logger.WithFields(log.Fields{"targets": len(job.Targets)}).Info("Executing job")

	result, err := e.poll(ctx, job, logger)
	if err != nil {
		logger.WithFields(log.Fields{"error": err, "duration": e.now().Sub(startedAt)}).Error("Job failed")
		if recordErr := e.record(ctx, id, startedAt, model.StatusFailed, nil); recordErr != nil {
			logger.WithFields(log.Fields{"error": recordErr}).Error("Failed recording job failure")
		}
		return err
	}

	if err = e.record(ctx, id, startedAt, model.StatusSuccess, result.watermark); err != nil {
		logger.WithFields(log.Fields{"error": err}).Error("Failed recording job success, notifications are not sent")
		return errors.Wrap(err, "failed recording job success")
	}

	if job.NotifyEnabled && len(result.listings) > 0 {
		e.notifier.Notify(ctx, job, result.listings)
	}
	logger.WithFields(log.Fields{
		"newListings": len(result.listings),
		"watermark":   result.watermarkValue(),
		"duration":    e.now().Sub(startedAt),
	}).Info("Job completed successfully")
	return nil
}

// record writes the run outcome even when ctx is already cancelled.
func (e *Engine) record(ctx context.Context, id model.JobId, startedAt time.Time, status model.RunStatus, watermark *string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sqlquery.DatabaseOperationTimeout)
	defer cancel()
	return e.store.UpdateJobRunResult(ctx, id, startedAt, status, watermark)
}

func (e *Engine) poll(ctx context.Context, job model.Job, logger *log.Entry) (selection, error) {
	mode, err := ModeFor(job)
	if err != nil {
		return selection{}, err
	}
	if len(job.Targets) == 0 {
		return selection{}, errors.Mark(errors.Newf("job %d has no targets", job.Id), ErrAllTargetsFailed)
	}

	base := e.settings.BaseURL(ctx)
	perTarget := make([][]numbered, 0, len(job.Targets))
	for _, target := range job.Targets {
		listings, err := e.collect(ctx, base, target)
		if err != nil {
			if ctx.Err() != nil {
				return selection{}, errors.Wrap(ctx.Err(), "job run cancelled")
			}
			logger.WithFields(log.Fields{"error": err, "target": target, "kind": kind(err)}).Warn("Skipping failed target")
			continue
		}
		logger.WithFields(log.Fields{"target": target, "listings": len(listings)}).Debug("Target polled")
		perTarget = append(perTarget, listings)
	}
	if len(perTarget) == 0 {
		return selection{}, errors.Mark(errors.Newf("all %d targets of job %d failed", len(job.Targets), job.Id), ErrAllTargetsFailed)
	}

	switch m := mode.(type) {
	case Incremental:
		return selectIncremental(perTarget, m.Watermark), nil
	default:
		return selectFirstRun(perTarget), nil
	}
}

func (e *Engine) collect(ctx context.Context, base, target string) ([]numbered, error) {
	url, err := fetch.ResolveURL(base, target)
	if err != nil {
		return nil, err
	}
	body, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	listings, err := e.extractor.Extract(body)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed extracting %s", url), ErrExtractionFailure)
	}

	result := make([]numbered, 0, len(listings))
	for _, listing := range listings {
		if listing.Url != "" {
			listing.Url = fetch.ResolveReference(url, listing.Url)
		}
		number, err := listing.Number()
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "malformed listing from %s", url), ErrExtractionFailure)
		}
		result = append(result, numbered{Listing: listing, number: number})
	}
	return result, nil
}

func kind(err error) string {
	if errors.Is(err, ErrExtractionFailure) {
		return "extraction_failure"
	}
	return fetch.Kind(err)
}
