package engine

import (
	"context"
	"encoding/json"
	"go-poll/internal/fetch"
	"go-poll/internal/model"
	"go-poll/internal/notify"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseURL = "https://listings.example/"

type runRecord struct {
	status    model.RunStatus
	lastRun   time.Time
	watermark *string
}

type fakeStore struct {
	mu       sync.Mutex
	jobs     map[model.JobId]model.Job
	runs     []runRecord
	writeErr error
}

func newFakeStore(jobs ...model.Job) *fakeStore {
	store := &fakeStore{jobs: make(map[model.JobId]model.Job)}
	for _, job := range jobs {
		store.jobs[job.Id] = job
	}
	return store
}

func (s *fakeStore) GetJob(_ context.Context, id model.JobId) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return model.Job{}, model.ErrorNotFound
	}
	return job, nil
}

func (s *fakeStore) UpdateJobRunResult(_ context.Context, id model.JobId, lastRun time.Time, status model.RunStatus, watermark *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.runs = append(s.runs, runRecord{status: status, lastRun: lastRun, watermark: watermark})
	job := s.jobs[id]
	job.LastRun = &lastRun
	job.LastStatus = &status
	if watermark != nil {
		job.LastListingId = watermark
	}
	s.jobs[id] = job
	return nil
}

func (s *fakeStore) watermark(id model.JobId) *string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id].LastListingId
}

// fakeFetcher serves JSON encoded listings per URL.
type fakeFetcher struct {
	pages  map[string][]model.Listing
	errors map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	if err, ok := f.errors[url]; ok {
		return nil, err
	}
	listings, ok := f.pages[url]
	if !ok {
		return nil, errors.Mark(errors.New("not found"), fetch.ErrTargetRejected)
	}
	return json.Marshal(listings)
}

type jsonExtractor struct{}

func (jsonExtractor) Extract(body []byte) ([]model.Listing, error) {
	listings := make([]model.Listing, 0)
	err := json.Unmarshal(body, &listings)
	return listings, err
}

type fakeNotifier struct {
	calls [][]model.Listing
}

func (n *fakeNotifier) Notify(_ context.Context, _ model.Job, listings []model.Listing) []notify.Result {
	n.calls = append(n.calls, listings)
	return []notify.Result{{Channel: "fake", Delivered: len(listings)}}
}

type fixedBase string

func (b fixedBase) BaseURL(context.Context) string { return string(b) }

type mutableBase struct {
	mu  sync.Mutex
	url string
}

func (b *mutableBase) BaseURL(context.Context) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.url
}

func (b *mutableBase) set(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.url = url
}

func listing(id string, featured bool) model.Listing {
	return model.Listing{Id: id, Title: "listing " + id, IsFeatured: featured, SellerType: model.SellerPrivate}
}

func ids(listings []model.Listing) []string {
	result := make([]string, 0, len(listings))
	for _, l := range listings {
		result = append(result, l.Id)
	}
	return result
}

func job(watermark *string, targets ...string) model.Job {
	return model.Job{
		Id:            1,
		Name:          "bikes",
		Targets:       targets,
		Schedule:      "*/5 * * * *",
		Enabled:       true,
		NotifyEnabled: true,
		LastListingId: watermark,
	}
}

func ptr(s string) *string {
	return &s
}

type harness struct {
	store    *fakeStore
	fetcher  *fakeFetcher
	notifier *fakeNotifier
	engine   *Engine
}

func newHarness(j model.Job, pages map[string][]model.Listing) *harness {
	h := &harness{
		store:    newFakeStore(j),
		fetcher:  &fakeFetcher{pages: pages, errors: map[string]error{}},
		notifier: &fakeNotifier{},
	}
	h.engine = New(h.store, h.fetcher, jsonExtractor{}, h.notifier, fixedBase(baseURL))
	return h
}

func TestFirstRunSkipsFeatured(t *testing.T) {
	h := newHarness(job(nil, "s-bikes"), map[string][]model.Listing{
		baseURL + "s-bikes": {listing("101", true), listing("100", false), listing("99", false)},
	})

	require.NoError(t, h.engine.Execute(context.Background(), 1, Scheduled))
	assert.Equal(t, "100", *h.store.watermark(1))
	require.Len(t, h.notifier.calls, 1)
	assert.Equal(t, []string{"100"}, ids(h.notifier.calls[0]))
}

func TestFirstRunFallsBackToFeatured(t *testing.T) {
	h := newHarness(job(nil, "s-bikes"), map[string][]model.Listing{
		baseURL + "s-bikes": {listing("101", true)},
	})

	require.NoError(t, h.engine.Execute(context.Background(), 1, Scheduled))
	assert.Equal(t, "101", *h.store.watermark(1))
	assert.Equal(t, []string{"101"}, ids(h.notifier.calls[0]))
}

func TestFirstRunPrefersRegularAcrossTargets(t *testing.T) {
	h := newHarness(job(nil, "s-a", "s-b"), map[string][]model.Listing{
		baseURL + "s-a": {listing("300", true)},
		baseURL + "s-b": {listing("250", false), listing("240", false)},
	})

	require.NoError(t, h.engine.Execute(context.Background(), 1, Scheduled))
	assert.Equal(t, "250", *h.store.watermark(1))
}

func TestFirstRunWithoutListings(t *testing.T) {
	h := newHarness(job(nil, "s-bikes"), map[string][]model.Listing{
		baseURL + "s-bikes": {},
	})

	require.NoError(t, h.engine.Execute(context.Background(), 1, Scheduled))
	assert.Nil(t, h.store.watermark(1))
	assert.Empty(t, h.notifier.calls)
	require.Len(t, h.store.runs, 1)
	assert.Equal(t, model.StatusSuccess, h.store.runs[0].status)
}

func TestIncrementalRun(t *testing.T) {
	h := newHarness(job(ptr("100"), "s-bikes"), map[string][]model.Listing{
		baseURL + "s-bikes": {listing("105", false), listing("103", true), listing("102", false)},
	})

	require.NoError(t, h.engine.Execute(context.Background(), 1, Scheduled))
	assert.Equal(t, "105", *h.store.watermark(1))
	require.Len(t, h.notifier.calls, 1)
	assert.Equal(t, []string{"105", "102"}, ids(h.notifier.calls[0]))
}

func TestIncrementalRunWithoutNewListings(t *testing.T) {
	h := newHarness(job(ptr("100"), "s-bikes"), map[string][]model.Listing{
		baseURL + "s-bikes": {listing("100", false), listing("99", false)},
	})

	require.NoError(t, h.engine.Execute(context.Background(), 1, Scheduled))
	assert.Equal(t, "100", *h.store.watermark(1))
	assert.Empty(t, h.notifier.calls)
	require.Len(t, h.store.runs, 1)
	assert.Nil(t, h.store.runs[0].watermark)
	assert.Equal(t, model.StatusSuccess, h.store.runs[0].status)
}

func TestIncrementalMergeKeepsFirstSeen(t *testing.T) {
	first := listing("110", false)
	first.Title = "from first target"
	second := listing("110", false)
	second.Title = "from second target"
	h := newHarness(job(ptr("100"), "s-a", "s-b"), map[string][]model.Listing{
		baseURL + "s-a": {first, listing("104", false)},
		baseURL + "s-b": {listing("107", false), second},
	})

	require.NoError(t, h.engine.Execute(context.Background(), 1, Scheduled))
	require.Len(t, h.notifier.calls, 1)
	delivered := h.notifier.calls[0]
	assert.Equal(t, []string{"110", "107", "104"}, ids(delivered))
	assert.Equal(t, "from first target", delivered[0].Title)
}

func TestListingUrlsFollowBaseURLChanges(t *testing.T) {
	const movedBase = "https://moved.example/"
	linked := listing("101", false)
	linked.Url = "/s-anzeige/rad/101"
	moved := listing("102", false)
	moved.Url = "/s-anzeige/rad/102"
	h := newHarness(job(ptr("100"), "s-bikes"), map[string][]model.Listing{
		baseURL + "s-bikes":   {linked},
		movedBase + "s-bikes": {moved, linked},
	})
	base := &mutableBase{url: baseURL}
	h.engine.settings = base

	require.NoError(t, h.engine.Execute(context.Background(), 1, Scheduled))
	base.set(movedBase)
	require.NoError(t, h.engine.Execute(context.Background(), 1, Scheduled))

	require.Len(t, h.notifier.calls, 2)
	assert.Equal(t, "https://listings.example/s-anzeige/rad/101", h.notifier.calls[0][0].Url)
	assert.Equal(t, []string{"102"}, ids(h.notifier.calls[1]))
	assert.Equal(t, "https://moved.example/s-anzeige/rad/102", h.notifier.calls[1][0].Url)
}

func TestFailingTargetDoesNotBlockSibling(t *testing.T) {
	h := newHarness(job(ptr("100"), "s-broken", "s-bikes"), map[string][]model.Listing{
		baseURL + "s-bikes": {listing("101", false)},
	})
	h.fetcher.errors[baseURL+"s-broken"] = errors.Mark(errors.New("all 3 attempts failed"), fetch.ErrTargetUnreachable)

	require.NoError(t, h.engine.Execute(context.Background(), 1, Scheduled))
	assert.Equal(t, "101", *h.store.watermark(1))
	require.Len(t, h.notifier.calls, 1)
	assert.Equal(t, []string{"101"}, ids(h.notifier.calls[0]))
}

func TestAllTargetsFailing(t *testing.T) {
	h := newHarness(job(ptr("100"), "s-a", "s-b"), map[string][]model.Listing{})

	err := h.engine.Execute(context.Background(), 1, Scheduled)
	assert.True(t, errors.Is(err, ErrAllTargetsFailed))
	assert.Equal(t, "100", *h.store.watermark(1))
	assert.Empty(t, h.notifier.calls)
	require.Len(t, h.store.runs, 1)
	assert.Equal(t, model.StatusFailed, h.store.runs[0].status)
	assert.Nil(t, h.store.runs[0].watermark)
}

func TestJobWithoutTargetsFails(t *testing.T) {
	h := newHarness(job(nil), nil)

	err := h.engine.Execute(context.Background(), 1, Manual)
	assert.True(t, errors.Is(err, ErrAllTargetsFailed))
	assert.Equal(t, model.StatusFailed, h.store.runs[0].status)
}

func TestMalformedListingIdFailsTarget(t *testing.T) {
	h := newHarness(job(ptr("100"), "s-bad", "s-good"), map[string][]model.Listing{
		baseURL + "s-bad":  {listing("abc", false), listing("500", false)},
		baseURL + "s-good": {listing("120", false)},
	})

	require.NoError(t, h.engine.Execute(context.Background(), 1, Scheduled))
	assert.Equal(t, "120", *h.store.watermark(1))
	assert.Equal(t, []string{"120"}, ids(h.notifier.calls[0]))
}

func TestInvalidWatermarkFailsRun(t *testing.T) {
	h := newHarness(job(ptr("not-a-number"), "s-bikes"), map[string][]model.Listing{
		baseURL + "s-bikes": {listing("101", false)},
	})

	require.Error(t, h.engine.Execute(context.Background(), 1, Scheduled))
	assert.Equal(t, "not-a-number", *h.store.watermark(1))
	assert.Equal(t, model.StatusFailed, h.store.runs[0].status)
}

func TestEveryRunRecordsStatusAndLastRun(t *testing.T) {
	started := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	h := newHarness(job(ptr("100"), "s-bikes"), map[string][]model.Listing{
		baseURL + "s-bikes": {listing("105", false)},
	})
	h.engine.now = func() time.Time { return started }

	require.NoError(t, h.engine.Execute(context.Background(), 1, Scheduled))
	delete(h.fetcher.pages, baseURL+"s-bikes")
	require.Error(t, h.engine.Execute(context.Background(), 1, Scheduled))

	require.Len(t, h.store.runs, 2)
	for _, run := range h.store.runs {
		assert.Contains(t, []model.RunStatus{model.StatusSuccess, model.StatusFailed}, run.status)
		assert.True(t, started.Equal(run.lastRun))
	}
	assert.NotNil(t, h.store.runs[0].watermark)
	assert.Nil(t, h.store.runs[1].watermark)
	assert.Equal(t, "105", *h.store.watermark(1))
}

func TestScheduledRunOfDisabledJobIsSkipped(t *testing.T) {
	disabled := job(nil, "s-bikes")
	disabled.Enabled = false
	h := newHarness(disabled, map[string][]model.Listing{
		baseURL + "s-bikes": {listing("100", false)},
	})

	require.NoError(t, h.engine.Execute(context.Background(), 1, Scheduled))
	assert.Empty(t, h.store.runs)

	require.NoError(t, h.engine.Execute(context.Background(), 1, Manual))
	assert.Len(t, h.store.runs, 1)
	assert.Equal(t, "100", *h.store.watermark(1))
}

func TestNotificationsDisabled(t *testing.T) {
	quiet := job(ptr("100"), "s-bikes")
	quiet.NotifyEnabled = false
	h := newHarness(quiet, map[string][]model.Listing{
		baseURL + "s-bikes": {listing("101", false)},
	})

	require.NoError(t, h.engine.Execute(context.Background(), 1, Scheduled))
	assert.Equal(t, "101", *h.store.watermark(1))
	assert.Empty(t, h.notifier.calls)
}

func TestFailedSuccessWriteSuppressesNotifications(t *testing.T) {
	h := newHarness(job(ptr("100"), "s-bikes"), map[string][]model.Listing{
		baseURL + "s-bikes": {listing("101", false)},
	})
	h.store.writeErr = errors.New("database is locked")

	require.Error(t, h.engine.Execute(context.Background(), 1, Scheduled))
	assert.Empty(t, h.notifier.calls)
}

func TestMissingJob(t *testing.T) {
	h := newHarness(job(nil, "s-bikes"), nil)

	err := h.engine.Execute(context.Background(), 99, Manual)
	assert.ErrorIs(t, err, model.ErrorNotFound)
	assert.Empty(t, h.store.runs)
}

func TestModeFor(t *testing.T) {
	mode, err := ModeFor(job(nil))
	require.NoError(t, err)
	assert.Equal(t, FirstRun{}, mode)

	mode, err = ModeFor(job(ptr("  ")))
	require.NoError(t, err)
	assert.Equal(t, FirstRun{}, mode)

	mode, err = ModeFor(job(ptr("4711")))
	require.NoError(t, err)
	assert.Equal(t, Incremental{Watermark: 4711}, mode)
}
