package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"go-poll/internal/model/sqlquery"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

type sqlStorage struct {
	database *sql.DB
	rwLock   *sync.RWMutex
	now      func() time.Time

	sealer    Sealer
	sensitive func(key string) bool
}

// NewSQLJobStorage opens the database, checks it is reachable and creates the schema.
// The returned storage serves both jobs and global configuration.
func NewSQLJobStorage(ctx context.Context, driverName, dataSourceName string) (*sqlStorage, error) {
	if driverName != DriverPostgres && driverName != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driverName)
	}
	database, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed opening database: %w", err)
	}
	if driverName == DriverSQLite {
		// every connection to :memory: is a separate database
		database.SetMaxOpenConns(1)
	}

	if err = database.PingContext(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed checking database availibility: %w", err)
	}

	storage := newSQLStorage(database)
	if err = storage.init(ctx, driverName); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed initializing storage: %w", err)
	}
	return storage, nil
}

func newSQLStorage(database *sql.DB) *sqlStorage {
	return &sqlStorage{database: database, rwLock: &sync.RWMutex{}, now: time.Now}
}

func (st *sqlStorage) Close() error {
	return st.database.Close()
}

func (st *sqlStorage) CreateJob(ctx context.Context, spec JobSpec) (JobId, error) {
	var id JobId
	transactionFunc := func(ctx context.Context, tx *sql.Tx) error {
		err := tx.QueryRowContext(
			ctx,
			sqlquery.NewJob,
			spec.Name,
			JoinTargets(spec.Targets),
			spec.Schedule,
			spec.Enabled,
			spec.NotifyEnabled,
			spec.Priority,
			st.now().UTC(),
		).Scan(&id)
		if err != nil {
			err = fmt.Errorf("failed scanning job id: %w", mapConstraintError(err))
		}
		return err
	}

	if err := st.transact(ctx, transactionFunc); err != nil {
		return 0, fmt.Errorf("failed creating job %s: %w", spec.Name, err)
	}
	return id, nil
}

func (st *sqlStorage) GetJob(ctx context.Context, id JobId) (Job, error) {
	job, err := st.getJobBy(ctx, sqlquery.GetJob, id)
	if err != nil {
		err = fmt.Errorf("failed getting job by id %d: %w", id, err)
	}
	return job, err
}

func (st *sqlStorage) GetJobByName(ctx context.Context, name string) (Job, error) {
	job, err := st.getJobBy(ctx, sqlquery.GetJobByName, name)
	if err != nil {
		err = fmt.Errorf("failed getting job by name %s: %w", name, err)
	}
	return job, err
}

func (st *sqlStorage) ListJobs(ctx context.Context) ([]Job, error) {
	jobs, err := st.listJobsBy(ctx, sqlquery.ListJobs)
	if err != nil {
		err = fmt.Errorf("failed listing jobs: %w", err)
	}
	return jobs, err
}

func (st *sqlStorage) ListEnabledJobs(ctx context.Context) ([]Job, error) {
	jobs, err := st.listJobsBy(ctx, sqlquery.ListEnabledJobs)
	if err != nil {
		err = fmt.Errorf("failed listing enabled jobs: %w", err)
	}
	return jobs, err
}

func (st *sqlStorage) UpdateJob(ctx context.Context, id JobId, spec JobSpec) error {
	err := st.updateJobs(
		ctx,
		sqlquery.UpdateJob,
		spec.Name,
		JoinTargets(spec.Targets),
		spec.Schedule,
		spec.Enabled,
		spec.NotifyEnabled,
		spec.Priority,
		st.now().UTC(),
		id,
	)
	if err != nil {
		err = fmt.Errorf("failed updating job with id %d: %w", id, err)
	}
	return err
}

func (st *sqlStorage) DeleteJob(ctx context.Context, id JobId) error {
	err := st.updateJobs(ctx, sqlquery.DeleteJob, id)
	if err != nil {
		err = fmt.Errorf("failed deleting job with id %d: %w", id, err)
	}
	return err
}

// UpdateJobRunResult records the outcome of one execution in a single statement.
// The watermark only moves forward: a nil or lower one leaves the stored one untouched.
func (st *sqlStorage) UpdateJobRunResult(ctx context.Context, id JobId, lastRun time.Time, status RunStatus, watermark *string) error {
	err := st.updateJobs(ctx, sqlquery.UpdateRunResult, lastRun.UTC(), string(status), watermark, st.now().UTC(), id)
	if err != nil {
		err = fmt.Errorf("failed recording %s run of job with id %d: %w", status, id, err)
	}
	return err
}

func (st *sqlStorage) JobStats(ctx context.Context) (JobStats, error) {
	st.rwLock.RLock()
	defer st.rwLock.RUnlock()

	stats := JobStats{}
	err := st.database.QueryRowContext(ctx, sqlquery.JobStats).Scan(
		&stats.Total,
		&stats.Enabled,
		&stats.Succeeded,
		&stats.Failed,
		&stats.NeverRun,
	)
	if err != nil {
		return JobStats{}, fmt.Errorf("failed counting jobs: %w", err)
	}
	return stats, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner, job *Job) error {
	var (
		targets       string
		lastListingId sql.NullString
		lastRun       sql.NullTime
		lastStatus    sql.NullString
	)
	err := sc.Scan(
		&job.Id,
		&job.Name,
		&targets,
		&job.Schedule,
		&job.Enabled,
		&job.NotifyEnabled,
		&job.Priority,
		&lastListingId,
		&lastRun,
		&lastStatus,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return err
	}

	job.Targets = ParseTargets(targets)
	job.LastListingId, job.LastRun, job.LastStatus = nil, nil, nil
	if lastListingId.Valid {
		job.LastListingId = &lastListingId.String
	}
	if lastRun.Valid {
		job.LastRun = &lastRun.Time
	}
	if lastStatus.Valid {
		status := RunStatus(lastStatus.String)
		job.LastStatus = &status
	}
	return nil
}

func (st *sqlStorage) getJobBy(ctx context.Context, query string, params ...any) (Job, error) {
	st.rwLock.RLock()
	defer st.rwLock.RUnlock()

	job := Job{}
	err := scanJob(st.database.QueryRowContext(ctx, query, params...), &job)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrorNotFound
		}
		return Job{}, err
	}
	return job, nil
}

func (st *sqlStorage) listJobsBy(ctx context.Context, query string, params ...any) ([]Job, error) {
	st.rwLock.RLock()
	defer st.rwLock.RUnlock()

	rows, err := st.database.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]Job, 0)
	for rows.Next() {
		job := Job{}
		if err := scanJob(rows, &job); err != nil {
			return nil, fmt.Errorf("failed scanning job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

// updateJobs executes a write that must touch at least one row.
func (st *sqlStorage) updateJobs(ctx context.Context, query string, params ...any) error {
	st.rwLock.Lock()
	defer st.rwLock.Unlock()

	result, err := st.database.ExecContext(ctx, query, params...)
	if err != nil {
		return mapConstraintError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrorNotFound
	}
	return nil
}

func (st *sqlStorage) transact(ctx context.Context, transactionFunc func(context.Context, *sql.Tx) error) error {
	st.rwLock.Lock()
	defer st.rwLock.Unlock()

	tx, err := st.database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = transactionFunc(ctx, tx)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (st *sqlStorage) init(ctx context.Context, driverName string) error {
	transactionFunc := func(ctx context.Context, tx *sql.Tx) error {
		for _, statement := range sqlquery.Schema(driverName) {
			if _, err := tx.ExecContext(ctx, statement); err != nil {
				return fmt.Errorf("error creating schema: %w", err)
			}
		}
		return nil
	}
	if err := st.transact(ctx, transactionFunc); err != nil {
		return err
	}
	log.WithFields(log.Fields{"driver": driverName}).Info("Storage schema is ready")
	return nil
}

func mapConstraintError(err error) error {
	var pqError *pq.Error
	if errors.As(err, &pqError) && pqError.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrorConflict, pqError.Message)
	}
	var sqliteError sqlite3.Error
	if errors.As(err, &sqliteError) && sqliteError.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %s", ErrorConflict, sqliteError.Error())
	}
	return err
}
