package model

import (
	"context"
	"errors"
	"strings"
	"time"
)

type JobId int64

type RunStatus string

const (
	StatusSuccess RunStatus = "success"
	StatusFailed  RunStatus = "failed"
)

var (
	ErrorNotFound = errors.New("not found")
	ErrorConflict = errors.New("already exists")
)

type Job struct {
	Id            JobId      `json:"id"`
	Name          string     `json:"name"`
	Targets       []string   `json:"targets"`
	Schedule      string     `json:"schedule"`
	Enabled       bool       `json:"enabled"`
	NotifyEnabled bool       `json:"notifyEnabled"`
	Priority      bool       `json:"priority"`
	LastListingId *string    `json:"lastListingId"`
	LastRun       *time.Time `json:"lastRun"`
	LastStatus    *RunStatus `json:"lastStatus"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// JobSpec holds the user-editable part of a job.
type JobSpec struct {
	Name          string
	Targets       []string
	Schedule      string
	Enabled       bool
	NotifyEnabled bool
	Priority      bool
}

func (j Job) Spec() JobSpec {
	return JobSpec{
		Name:          j.Name,
		Targets:       j.Targets,
		Schedule:      j.Schedule,
		Enabled:       j.Enabled,
		NotifyEnabled: j.NotifyEnabled,
		Priority:      j.Priority,
	}
}

type JobStorage interface {
	CreateJob(ctx context.Context, spec JobSpec) (JobId, error)
	GetJob(ctx context.Context, id JobId) (Job, error)
	GetJobByName(ctx context.Context, name string) (Job, error)
	ListJobs(ctx context.Context) ([]Job, error)
	ListEnabledJobs(ctx context.Context) ([]Job, error)
	UpdateJob(ctx context.Context, id JobId, spec JobSpec) error
	DeleteJob(ctx context.Context, id JobId) error
	UpdateJobRunResult(ctx context.Context, id JobId, lastRun time.Time, status RunStatus, watermark *string) error
	JobStats(ctx context.Context) (JobStats, error)
}

// JobStats counts jobs by state. NeverRun jobs have no last status yet.
type JobStats struct {
	Total     int64 `json:"total"`
	Enabled   int64 `json:"enabled"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	NeverRun  int64 `json:"neverRun"`
}

// SuccessRate is the share of jobs whose last run succeeded, in percent.
func (s JobStats) SuccessRate() int64 {
	if s.Total == 0 {
		return 0
	}
	return s.Succeeded * 100 / s.Total
}

type ConfigEntry struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type ConfigStorage interface {
	GetString(ctx context.Context, key, def string) string
	SetString(ctx context.Context, key, value string) error
	ListConfig(ctx context.Context) ([]ConfigEntry, error)
	SeedDefaults(ctx context.Context, defaults []ConfigEntry) error
}

// ParseTargets splits comma-separated input into an ordered set of targets.
func ParseTargets(raw string) []string {
	return NormalizeTargets(strings.Split(raw, ","))
}

func NormalizeTargets(targets []string) []string {
	seen := make(map[string]struct{}, len(targets))
	result := make([]string, 0, len(targets))
	for _, target := range targets {
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		result = append(result, target)
	}
	return result
}

func JoinTargets(targets []string) string {
	return strings.Join(NormalizeTargets(targets), ",")
}
