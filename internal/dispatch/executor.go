package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"

	"github.com/simplesurance/ghqueue/internal/cfg"
	"github.com/simplesurance/ghqueue/internal/dashboard"
	"github.com/simplesurance/ghqueue/internal/githubclt"
	"github.com/simplesurance/ghqueue/internal/logfields"
	"github.com/simplesurance/ghqueue/internal/module"
	"github.com/simplesurance/ghqueue/internal/qerr"
	"github.com/simplesurance/ghqueue/internal/store"
)

// Executor runs one claimed job: it resolves the module, invokes its
// processing logic under a recoverable error boundary and persists the
// terminal state, log output and side effects.
// Nothing escapes Execute into the worker loop, a failing job degrades
// to an error row.
type Executor struct {
	store     Store
	dashStore dashboard.Store
	registry  *module.Registry
	merger    *dashboard.Merger
	clients   map[string]*githubclt.Client
	config    *cfg.Config
	logger    *zap.Logger
}

type ExecutorParams struct {
	Store     Store
	DashStore dashboard.Store
	Registry  *module.Registry
	Merger    *dashboard.Merger
	// Clients maps application names to their github clients.
	// Applications without a client run in offline mode, modules
	// needing API access fail with a ConfigurationError.
	Clients map[string]*githubclt.Client
	Config  *cfg.Config
}

func NewExecutor(p ExecutorParams) *Executor {
	return &Executor{
		store:     p.Store,
		dashStore: p.DashStore,
		registry:  p.Registry,
		merger:    p.Merger,
		clients:   p.Clients,
		config:    p.Config,
		logger:    zap.L().Named("executor"),
	}
}

// Execute processes the job and writes its terminal state.
// The returned status is the terminal status that was persisted.
func (e *Executor) Execute(ctx context.Context, job *store.Job) store.Status {
	logger := e.logger.With(
		logfields.JobID(job.ID),
		logfields.Application(job.Application),
		logfields.Repository(job.Owner, job.Repository),
		logfields.Module(job.Module),
		logfields.EventName(job.EventName),
	)

	jobLogger, capture := newJobLog(logger)

	jobLogger.Info(
		"processing job",
		logfields.Event("job_processing_started"),
		logfields.Lane(job.Lane),
		logfields.Worker(job.ClaimedBy),
	)

	status := store.StatusDone
	var outputID *int64

	result, err := e.runModule(ctx, job, jobLogger)
	if err != nil {
		status = store.StatusError
		e.logExecutionError(jobLogger, ctx, err)
	} else {
		if !result.Success {
			status = store.StatusError
			jobLogger.Warn(
				"module reported failure",
				logfields.Event("job_module_failed"),
			)
		}

		outputID = e.applySideEffects(ctx, job, result, jobLogger, &status)
	}

	if err := e.store.Complete(ctx, job.ID, status, capture.String(), outputID); err != nil {
		logger.Error(
			"writing terminal job state failed",
			logfields.Event("job_completion_failed"),
			zap.Error(err),
		)
	}

	return status
}

// runModule invokes the module's Process method. Panics are recovered
// and returned as errors with the stacktrace, so that one broken job
// can not take down the worker.
func (e *Executor) runModule(ctx context.Context, job *store.Job, jobLogger *zap.Logger) (result *module.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing job: %v\n%s", r, debug.Stack())
		}
	}()

	mod := e.registry.Get(job.Module)
	if mod == nil {
		return nil, qerr.NewConfigurationError("module %q is not registered", job.Module)
	}

	appCfg := e.config.Application(job.Application)
	if appCfg == nil {
		return nil, qerr.NewConfigurationError("application %q is not configured", job.Application)
	}

	processCtx := module.ProcessContext{
		Logger:          jobLogger,
		JobID:           job.ID,
		Application:     job.Application,
		Owner:           job.Owner,
		Repository:      job.Repository,
		EventName:       job.EventName,
		ModuleEventName: job.ModuleEventName,
		EventData:       job.EventData,
		ModuleConfig:    appCfg.ModuleConfig[job.Module],
		ServiceURL:      e.config.ServiceURL,
		Github:          e.clients[job.Application],
	}

	result, err = mod.Process(ctx, &processCtx)
	if err != nil {
		var confErr *qerr.ConfigurationError
		if errors.As(err, &confErr) {
			return nil, err
		}

		return nil, qerr.NewModuleProcessingError(job.Module, err)
	}

	if result == nil {
		result = &module.Result{Success: true}
	}

	return result, nil
}

// applySideEffects persists the module output, merges the dashboard
// contribution and enqueues follow-up actions. Failures downgrade the
// job to error but never abort the remaining side effects that are
// still safe to apply.
func (e *Executor) applySideEffects(ctx context.Context, job *store.Job, result *module.Result, jobLogger *zap.Logger, status *store.Status) (outputID *int64) {
	if result.Output != nil {
		id, err := e.store.SaveOutput(ctx, job.ID, result.Output.Title, result.Output.Data, result.Success)
		if err != nil {
			*status = store.StatusError
			jobLogger.Error(
				"persisting module output failed",
				logfields.Event("job_output_persisting_failed"),
				zap.Error(err),
			)
		} else {
			outputID = &id
		}
	}

	if result.Dashboard != nil {
		if err := e.mergeDashboard(ctx, job, result.Dashboard); err != nil {
			*status = store.StatusError
			jobLogger.Error(
				"merging dashboard contribution failed",
				logfields.Event("job_dashboard_merge_failed"),
				zap.Error(err),
			)
		}
	}

	for i := range result.Actions {
		action := &result.Actions[i]

		if err := e.enqueueFollowUp(ctx, job, action); err != nil {
			*status = store.StatusError
			jobLogger.Error(
				"enqueueing follow-up action failed",
				logfields.Event("job_followup_enqueue_failed"),
				zap.String("action", action.Name),
				zap.Error(err),
			)
		}
	}

	return outputID
}

func (e *Executor) mergeDashboard(ctx context.Context, job *store.Job, fragment *module.Fragment) error {
	err := e.merger.MergeSection(ctx, job.Application, job.Owner, job.Repository, job.Module, fragment)
	if err != nil {
		var conflictErr *qerr.ConflictError
		if errors.As(err, &conflictErr) {
			metrics.MergeConflictsInc()
		}

		return err
	}

	return e.pushDashboardIssue(ctx, job)
}

// pushDashboardIssue mirrors the merged dashboard into the dashboard
// issue of the repository. Skipped in offline mode.
func (e *Executor) pushDashboardIssue(ctx context.Context, job *store.Job) error {
	clt := e.clients[job.Application]
	if clt == nil {
		return nil
	}

	sections, _, err := e.dashStore.GetDashboard(ctx, job.Application, job.Owner, job.Repository)
	if err != nil {
		return err
	}

	titles := make(map[string]string, len(e.registry.Names()))
	for _, name := range e.registry.Names() {
		titles[name] = e.registry.Get(name).Title()
	}

	header := fmt.Sprintf(
		"This issue is the dashboard used by the %s modules.\n\n[Project](%s/project/%s/%s)",
		job.Application,
		strings.TrimRight(e.config.ServiceURL, "/"), job.Owner, job.Repository,
	)

	body := dashboard.RenderIssueBody(header, sections, titles, e.registry.Names())

	return clt.UpdateDashboardIssue(ctx, job.Owner, job.Repository, job.Application+" Dashboard", body)
}

// enqueueFollowUp inserts a new pending job for an action a module
// returned from Process. The lane is inherited from the parent unless
// the action pins one.
func (e *Executor) enqueueFollowUp(ctx context.Context, job *store.Job, action *module.Action) error {
	lane := action.Lane
	if lane == "" {
		lane = job.Lane
	}

	eventData := job.EventData
	if action.Data != nil {
		eventData = action.Data
	}

	_, err := e.store.CreateJob(ctx, store.CreateJobParams{
		Application:     job.Application,
		Owner:           job.Owner,
		Repository:      job.Repository,
		Module:          job.Module,
		EventName:       job.EventName,
		ModuleEventName: action.Name,
		EventData:       eventData,
		Status:          store.StatusPending,
		Lane:            lane,
	})

	return err
}

// logExecutionError records the failure into the job log. A cancelled
// context marks the job as timed out, the executor itself imposes no
// in-process deadline.
func (e *Executor) logExecutionError(jobLogger *zap.Logger, ctx context.Context, err error) {
	if ctx.Err() != nil {
		jobLogger.Error(
			"timeout, job execution was cancelled",
			logfields.Event("job_timeout"),
			zap.Error(err),
		)

		return
	}

	jobLogger.Error(
		"processing job failed",
		logfields.Event("job_processing_failed"),
		zap.Error(err),
	)
}
