package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"go-poll/internal/config"
	herrors "go-poll/internal/http/errors"
	"go-poll/internal/http/validation"
	"go-poll/internal/model"
	"go-poll/internal/model/sqlquery"
	"go-poll/internal/scheduler"
	"mime"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type Scheduler interface {
	Reload(ctx context.Context) error
	RunNow(ctx context.Context, id model.JobId) error
	Triggers() map[model.JobId]time.Time
}

type Settings interface {
	String(ctx context.Context, key string) string
}

type Channel interface {
	Name() string
	Enabled(ctx context.Context) bool
}

type Dependencies struct {
	Jobs      model.JobStorage
	Config    model.ConfigStorage
	Scheduler Scheduler
	Settings  Settings
	Channels  []Channel
	Version   string
}

type jobServer struct {
	Dependencies
	validate  *validator.Validate
	startedAt time.Time
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	writeJSONStatus(w, v, http.StatusOK)
}

func writeJSONStatus(w http.ResponseWriter, v interface{}, statusCode int) {
	js, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "error forming response data", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(js)
}

var (
	createJobErrorHandler    = herrors.NewErrorHandler("CreateJob")
	listJobsErrorHandler     = herrors.NewErrorHandler("ListJobs")
	getJobErrorHandler       = herrors.NewErrorHandler("GetJob")
	getJobByNameErrorHandler = herrors.NewErrorHandler("GetJobByName")
	updateJobErrorHandler    = herrors.NewErrorHandler("UpdateJob")
	deleteJobErrorHandler    = herrors.NewErrorHandler("DeleteJob")
	runJobErrorHandler       = herrors.NewErrorHandler("RunJob")
	reloadErrorHandler       = herrors.NewErrorHandler("ReloadSchedule")
)

type requestJob struct {
	Name          string   `json:"name" validate:"required,uniqueName"`
	Targets       []string `json:"targets" validate:"targets"`
	Schedule      string   `json:"schedule" validate:"omitempty,crontabString"`
	Enabled       *bool    `json:"enabled"`
	NotifyEnabled bool     `json:"notifyEnabled"`
	Priority      bool     `json:"priority"`
}

type requestJobUpdate struct {
	Name          *string   `json:"name" validate:"omitempty,min=1"`
	Targets       *[]string `json:"targets" validate:"omitempty,targets"`
	Schedule      *string   `json:"schedule" validate:"omitempty,crontabString"`
	Enabled       *bool     `json:"enabled"`
	NotifyEnabled *bool     `json:"notifyEnabled"`
	Priority      *bool     `json:"priority"`
}

type responseId struct {
	Id model.JobId `json:"id"`
}

type responseStatus struct {
	Status string      `json:"status"`
	Id     model.JobId `json:"id,omitempty"`
}

// decodeJSON checks the content type and decodes the body into v, writing the error response itself.
func decodeJSON(w http.ResponseWriter, req *http.Request, eh *herrors.ErrorHandler, v any) bool {
	contentType := req.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		eh.WriteAndLogError(
			w,
			"failed to parse media type",
			err, http.StatusBadRequest,
			log.Fields{"header": contentType},
		)
		return false
	}
	if mediaType != "application/json" {
		eh.WriteAndLogError(
			w,
			"expect application/json Content-Type",
			errors.New("Content-Type error"),
			http.StatusUnsupportedMediaType,
			log.Fields{"media type": mediaType},
		)
		return false
	}
	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	if err = dec.Decode(v); err != nil {
		eh.WriteAndLogError(
			w,
			"failed to parse request body",
			err,
			http.StatusBadRequest,
			log.Fields{},
		)
		return false
	}
	return true
}

func (js *jobServer) validateRequest(ctx context.Context, w http.ResponseWriter, eh *herrors.ErrorHandler, v any) bool {
	err := js.validate.StructCtx(ctx, v)
	if err == nil {
		return true
	}
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		eh.WriteAndLogValidationErrors(w, validationErrors, http.StatusUnprocessableEntity, log.Fields{"request": v})
	} else {
		eh.WriteAndLogError(w, "failed to validate request", err, http.StatusBadRequest, log.Fields{})
	}
	return false
}

func storageStatus(err error) int {
	switch {
	case errors.Is(err, model.ErrorNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrorConflict):
		return http.StatusConflict
	case errors.Is(err, scheduler.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (js *jobServer) reload(ctx context.Context) {
	if err := js.Scheduler.Reload(ctx); err != nil {
		log.WithFields(log.Fields{"error": err}).Error("Failed reloading schedule after job change")
	}
}

func (js *jobServer) createJobHandler(w http.ResponseWriter, req *http.Request) {
	rj := requestJob{}
	if !decodeJSON(w, req, createJobErrorHandler, &rj) {
		return
	}
	if !js.validateRequest(req.Context(), w, createJobErrorHandler, rj) {
		return
	}

	timeoutCtx, cancel := context.WithTimeout(req.Context(), sqlquery.DatabaseOperationTimeout)
	defer cancel()
	spec := model.JobSpec{
		Name:          strings.TrimSpace(rj.Name),
		Targets:       model.NormalizeTargets(rj.Targets),
		Schedule:      rj.Schedule,
		Enabled:       rj.Enabled == nil || *rj.Enabled,
		NotifyEnabled: rj.NotifyEnabled,
		Priority:      rj.Priority,
	}
	if spec.Schedule == "" {
		spec.Schedule = js.Settings.String(timeoutCtx, config.DefaultJobSchedule)
	}
	id, err := js.Jobs.CreateJob(timeoutCtx, spec)
	if err != nil {
		createJobErrorHandler.WriteAndLogError(
			w,
			"failed to save new job",
			err,
			storageStatus(err),
			log.Fields{"request job": rj},
		)
		return
	}
	js.reload(req.Context())
	writeJSON(w, responseId{id})
}

func (js *jobServer) listJobsHandler(w http.ResponseWriter, req *http.Request) {
	timeoutCtx, cancel := context.WithTimeout(req.Context(), sqlquery.DatabaseOperationTimeout)
	defer cancel()
	jobs, err := js.Jobs.ListJobs(timeoutCtx)
	if err != nil {
		listJobsErrorHandler.WriteAndLogError(w, "failed to list jobs", err, http.StatusInternalServerError, log.Fields{})
		return
	}
	writeJSON(w, jobs)
}

func (js *jobServer) getJobHandler(w http.ResponseWriter, req *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(req)["id"], 10, 64)
	timeoutCtx, cancel := context.WithTimeout(req.Context(), sqlquery.DatabaseOperationTimeout)
	defer cancel()
	job, err := js.Jobs.GetJob(timeoutCtx, model.JobId(id))
	if err != nil {
		getJobErrorHandler.WriteAndLogError(
			w,
			fmt.Sprintf("failed to get job by id %d", id),
			err,
			storageStatus(err),
			log.Fields{},
		)
		return
	}
	writeJSON(w, job)
}

func (js *jobServer) getJobByNameHandler(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	timeoutCtx, cancel := context.WithTimeout(req.Context(), sqlquery.DatabaseOperationTimeout)
	defer cancel()
	job, err := js.Jobs.GetJobByName(timeoutCtx, name)
	if err != nil {
		getJobByNameErrorHandler.WriteAndLogError(
			w,
			fmt.Sprintf("failed to get job by name %s", name),
			err,
			storageStatus(err),
			log.Fields{},
		)
		return
	}
	writeJSON(w, job)
}

func (js *jobServer) updateJobHandler(w http.ResponseWriter, req *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(req)["id"], 10, 64)
	update := requestJobUpdate{}
	if !decodeJSON(w, req, updateJobErrorHandler, &update) {
		return
	}
	if !js.validateRequest(req.Context(), w, updateJobErrorHandler, update) {
		return
	}

	timeoutCtx, cancel := context.WithTimeout(req.Context(), sqlquery.DatabaseOperationTimeout)
	defer cancel()
	job, err := js.Jobs.GetJob(timeoutCtx, model.JobId(id))
	if err != nil {
		updateJobErrorHandler.WriteAndLogError(
			w,
			fmt.Sprintf("failed to get job by id %d", id),
			err,
			storageStatus(err),
			log.Fields{},
		)
		return
	}

	spec := job.Spec()
	if update.Name != nil {
		spec.Name = strings.TrimSpace(*update.Name)
	}
	if update.Targets != nil {
		spec.Targets = model.NormalizeTargets(*update.Targets)
	}
	if update.Schedule != nil && *update.Schedule != "" {
		spec.Schedule = *update.Schedule
	}
	if update.Enabled != nil {
		spec.Enabled = *update.Enabled
	}
	if update.NotifyEnabled != nil {
		spec.NotifyEnabled = *update.NotifyEnabled
	}
	if update.Priority != nil {
		spec.Priority = *update.Priority
	}

	if err = js.Jobs.UpdateJob(timeoutCtx, job.Id, spec); err != nil {
		updateJobErrorHandler.WriteAndLogError(
			w,
			fmt.Sprintf("failed to update job with id %d", id),
			err,
			storageStatus(err),
			log.Fields{"update": update},
		)
		return
	}
	js.reload(req.Context())

	updated, err := js.Jobs.GetJob(timeoutCtx, job.Id)
	if err != nil {
		updateJobErrorHandler.WriteAndLogError(w, "failed to load updated job", err, storageStatus(err), log.Fields{})
		return
	}
	writeJSON(w, updated)
}

func (js *jobServer) deleteJobHandler(w http.ResponseWriter, req *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(req)["id"], 10, 64)
	timeoutCtx, cancel := context.WithTimeout(req.Context(), sqlquery.DatabaseOperationTimeout)
	defer cancel()
	err := js.Jobs.DeleteJob(timeoutCtx, model.JobId(id))
	if err != nil {
		deleteJobErrorHandler.WriteAndLogError(
			w,
			fmt.Sprintf("failed to delete job with id %d", id),
			err,
			storageStatus(err),
			log.Fields{},
		)
		return
	}
	js.reload(req.Context())
	w.WriteHeader(http.StatusOK)
}

func (js *jobServer) runJobHandler(w http.ResponseWriter, req *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(req)["id"], 10, 64)
	timeoutCtx, cancel := context.WithTimeout(req.Context(), sqlquery.DatabaseOperationTimeout)
	defer cancel()
	if err := js.Scheduler.RunNow(timeoutCtx, model.JobId(id)); err != nil {
		runJobErrorHandler.WriteAndLogError(
			w,
			fmt.Sprintf("failed to run job with id %d", id),
			err,
			storageStatus(err),
			log.Fields{},
		)
		return
	}
	writeJSONStatus(w, responseStatus{Status: "triggered", Id: model.JobId(id)}, http.StatusAccepted)
}

func (js *jobServer) reloadHandler(w http.ResponseWriter, req *http.Request) {
	if err := js.Scheduler.Reload(req.Context()); err != nil {
		reloadErrorHandler.WriteAndLogError(w, "failed to reload schedule", err, http.StatusInternalServerError, log.Fields{})
		return
	}
	writeJSON(w, map[string]int{"scheduled": len(js.Scheduler.Triggers())})
}

type responseHealth struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Uptime        string `json:"uptime"`
	ScheduledJobs int    `json:"scheduledJobs"`
}

func (js *jobServer) healthHandler(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, responseHealth{
		Status:        "ok",
		Version:       js.Version,
		Uptime:        time.Since(js.startedAt).Round(time.Second).String(),
		ScheduledJobs: len(js.Scheduler.Triggers()),
	})
}

type serviceStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type jobsStatus struct {
	serviceStatus
	model.JobStats
	SuccessRate   int64 `json:"successRate"`
	ScheduledJobs int   `json:"scheduledJobs"`
}

type responseServices struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Uptime   string            `json:"uptime"`
	Jobs     jobsStatus        `json:"jobs"`
	Channels map[string]string `json:"channels"`
}

// servicesHandler reports job counts, scheduler state and which channels are switched on.
// It answers 503 when the job storage cannot be queried.
func (js *jobServer) servicesHandler(w http.ResponseWriter, req *http.Request) {
	timeoutCtx, cancel := context.WithTimeout(req.Context(), sqlquery.DatabaseOperationTimeout)
	defer cancel()

	response := responseServices{
		Status:   "ok",
		Version:  js.Version,
		Uptime:   time.Since(js.startedAt).Round(time.Second).String(),
		Jobs:     jobsStatus{serviceStatus: serviceStatus{Status: "ok"}, ScheduledJobs: len(js.Scheduler.Triggers())},
		Channels: make(map[string]string, len(js.Channels)),
	}
	stats, err := js.Jobs.JobStats(timeoutCtx)
	if err != nil {
		log.WithFields(log.Fields{"error": err, "endpoint": "ServicesHealth"}).Error("Failed counting jobs")
		response.Status = "degraded"
		response.Jobs.serviceStatus = serviceStatus{Status: "error", Error: "failed to count jobs"}
	} else {
		response.Jobs.JobStats = stats
		response.Jobs.SuccessRate = stats.SuccessRate()
	}
	for _, channel := range js.Channels {
		state := "disabled"
		if channel.Enabled(timeoutCtx) {
			state = "enabled"
		}
		response.Channels[channel.Name()] = state
	}

	statusCode := http.StatusOK
	if response.Status != "ok" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONStatus(w, response, statusCode)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Infof("%s %s", r.Method, r.RequestURI)
		next.ServeHTTP(w, r)
	})
}

func NewRouter(deps Dependencies) (*mux.Router, error) {
	server := jobServer{Dependencies: deps, validate: validator.New(), startedAt: time.Now()}
	err := validation.RegisterJobValidation(server.validate, deps.Jobs)
	server.validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		fullJson := field.Tag.Get("json")
		if fullJson == "-" {
			return ""
		}
		jsonName := strings.SplitN(fullJson, ",", 2)[0]
		if jsonName != "" {
			return jsonName
		}
		return field.Name
	})
	if err != nil {
		return nil, fmt.Errorf("error registering job validation: %w", err)
	}

	router := mux.NewRouter()
	router.StrictSlash(true)
	router.HandleFunc("/api/v1/job/", server.createJobHandler).Methods("POST")
	router.HandleFunc("/api/v1/job/", server.listJobsHandler).Methods("GET")
	router.HandleFunc("/api/v1/job/{id:[0-9]+}/", server.getJobHandler).Methods("GET")
	router.HandleFunc("/api/v1/job/{id:[0-9]+}/", server.updateJobHandler).Methods("PUT")
	router.HandleFunc("/api/v1/job/{id:[0-9]+}/", server.deleteJobHandler).Methods("DELETE")
	router.HandleFunc("/api/v1/job/{id:[0-9]+}/run/", server.runJobHandler).Methods("POST")
	router.HandleFunc("/api/v1/job/{name:[^/]*[^/0-9][^/]*}/", server.getJobByNameHandler).Methods("GET")
	router.HandleFunc("/api/v1/schedule/reload/", server.reloadHandler).Methods("POST")
	router.HandleFunc("/api/v1/config/", server.getConfigHandler).Methods("GET")
	router.HandleFunc("/api/v1/config/", server.updateConfigHandler).Methods("PUT")
	router.HandleFunc("/health", server.healthHandler).Methods("GET")
	router.HandleFunc("/api/v1/health/services/", server.servicesHandler).Methods("GET")
	router.Use(loggingMiddleware)
	return router, nil
}

func NewJobServer(deps Dependencies, addr string) (*http.Server, error) {
	router, err := NewRouter(deps)
	if err != nil {
		return nil, err
	}
	return &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}, nil
}
