// Package dispatch contains the priority scheduler and the job
// executor of the queue core.
//
// Jobs are pulled from the durable store, never from process memory,
// so pending work survives restarts. Each named lane runs an
// independent, statically sized pool of workers; within a lane jobs
// are processed FIFO by creation order. The intake loop turns new jobs
// into pending lane work and fans repository-wide events out into one
// job per interested module.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simplesurance/ghqueue/internal/cfg"
	"github.com/simplesurance/ghqueue/internal/logfields"
	"github.com/simplesurance/ghqueue/internal/module"
	"github.com/simplesurance/ghqueue/internal/store"
)

const (
	DefPollInterval     = 2 * time.Second
	DefIntakeBatchSize  = 50
	DefOrphanResetAfter = time.Hour
	DefOrphanFailAfter  = 24 * time.Hour

	orphanSweepInterval = time.Minute
	statusGaugeInterval = 10 * time.Second
)

// lanePriorityOrder is the claim order used by the --only-one run
// mode. Configured lanes that are not listed follow alphabetically.
var lanePriorityOrder = []string{
	LaneHigh, LaneStatus, LaneDashboard, LaneStandard, LaneCron, LaneLower,
}

// Store is the durable queue contract the scheduler and executor
// depend on. *store.Store implements it.
type Store interface {
	CreateJob(ctx context.Context, p store.CreateJobParams) (*store.Job, error)
	ListNew(ctx context.Context, limit int) ([]*store.Job, error)
	Accept(ctx context.Context, jobID int64, lane string) (bool, error)
	FinishIntake(ctx context.Context, jobID int64, status store.Status, log string) error
	ClaimNext(ctx context.Context, lane, workerID string) (*store.Job, error)
	Complete(ctx context.Context, jobID int64, status store.Status, log string, outputID *int64) error
	CountByStatus(ctx context.Context) (map[store.Status]int64, error)
	RecoverOrphans(ctx context.Context, resetStaleAfter, failPendingAfter time.Duration) (reset, failed int64, err error)
	SaveOutput(ctx context.Context, jobID int64, title, data string, success bool) (int64, error)
}

// Options select the run mode and tunables of a scheduler.
type Options struct {
	// Lanes maps lane names to worker counts. A lane with 0 workers
	// queues jobs until an operator drains it.
	Lanes map[string]int

	// ExitWhenEmpty terminates Run when no new or pending work is
	// left instead of waiting for more.
	ExitWhenEmpty bool
	// OnlyOne processes at most one job and terminates.
	OnlyOne bool
	// MakePending only runs the intake (new -> pending, fan-out) and
	// terminates without executing anything.
	MakePending bool

	PollInterval     time.Duration
	IntakeBatchSize  int
	OrphanResetAfter time.Duration
	OrphanFailAfter  time.Duration
}

func (o *Options) fillDefaults() {
	if o.Lanes == nil {
		o.Lanes = DefaultLaneWorkers
	}

	if o.PollInterval == 0 {
		o.PollInterval = DefPollInterval
	}

	if o.IntakeBatchSize == 0 {
		o.IntakeBatchSize = DefIntakeBatchSize
	}

	if o.OrphanResetAfter == 0 {
		o.OrphanResetAfter = DefOrphanResetAfter
	}

	if o.OrphanFailAfter == 0 {
		o.OrphanFailAfter = DefOrphanFailAfter
	}
}

type Scheduler struct {
	store    Store
	registry *module.Registry
	executor *Executor
	assigner *LaneAssigner
	config   *cfg.Config
	opts     Options
	logger   *zap.Logger

	workerDeferFn func()
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// WithWorkerRoutineDeferFunc sets a function that is deferred in every
// worker goroutine. It can be used to install a panic handler.
func WithWorkerRoutineDeferFunc(fn func()) func(*Scheduler) {
	return func(s *Scheduler) {
		s.workerDeferFn = fn
	}
}

func NewScheduler(st Store, registry *module.Registry, executor *Executor, assigner *LaneAssigner, config *cfg.Config, opts Options, optFns ...func(*Scheduler)) *Scheduler {
	opts.fillDefaults()

	s := Scheduler{
		store:    st,
		registry: registry,
		executor: executor,
		assigner: assigner,
		config:   config,
		opts:     opts,
		logger:   zap.L().Named("scheduler"),
		stopChan: make(chan struct{}),
	}

	for _, fn := range optFns {
		fn(&s)
	}

	return &s
}

// Run executes the scheduler in the configured run mode.
// In serve mode it blocks until the context is cancelled or Stop is
// called. In the drain modes it returns when the termination policy is
// satisfied; jobs ending in status error do not make Run fail.
func (s *Scheduler) Run(ctx context.Context) error {
	switch {
	case s.opts.MakePending:
		return s.intakeAll(ctx)
	case s.opts.OnlyOne:
		return s.runOnlyOne(ctx)
	case s.opts.ExitWhenEmpty:
		return s.drain(ctx)
	default:
		return s.serve(ctx)
	}
}

// Stop terminates a serving scheduler and waits for the in-flight jobs
// to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})

	s.wg.Wait()
}

func (s *Scheduler) serve(ctx context.Context) error {
	s.logger.Info(
		"scheduler started",
		logfields.Event("scheduler_started"),
		zap.Any("lanes", s.opts.Lanes),
	)

	s.spawn(func() { s.intakeLoop(ctx) })
	s.spawn(func() { s.housekeepingLoop(ctx) })

	for lane, workers := range s.opts.Lanes {
		for i := 0; i < workers; i++ {
			lane := lane
			s.spawn(func() { s.laneWorker(ctx, lane) })
		}
	}

	<-s.runDone(ctx)
	s.wg.Wait()

	s.logger.Info("scheduler terminated", logfields.Event("scheduler_terminated"))

	return nil
}

func (s *Scheduler) runDone(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)

		select {
		case <-ctx.Done():
		case <-s.stopChan:
		}
	}()

	return done
}

func (s *Scheduler) spawn(fn func()) {
	s.wg.Add(1)

	go func() {
		if s.workerDeferFn != nil {
			defer s.workerDeferFn()
		}

		defer s.wg.Done()

		fn()
	}()
}

// drain runs intake and lane workers until no claimable work is left.
// Follow-up jobs enqueued by executed jobs are drained too.
func (s *Scheduler) drain(ctx context.Context) error {
	for {
		if err := s.intakeAll(ctx); err != nil {
			return err
		}

		processed, err := s.drainLanesOnce(ctx)
		if err != nil {
			return err
		}

		counts, err := s.store.CountByStatus(ctx)
		if err != nil {
			return err
		}

		if counts[store.StatusNew] == 0 && s.claimablePending(counts) == 0 {
			return nil
		}

		if processed == 0 && counts[store.StatusNew] == 0 {
			// whatever is pending sits in lanes without workers
			return nil
		}
	}
}

// claimablePending estimates whether active lanes still hold work.
// Pending jobs in 0-worker lanes do not block the drain.
func (s *Scheduler) claimablePending(counts map[store.Status]int64) int64 {
	activeWorkers := 0
	for _, workers := range s.opts.Lanes {
		activeWorkers += workers
	}

	if activeWorkers == 0 {
		return 0
	}

	return counts[store.StatusPending]
}

func (s *Scheduler) drainLanesOnce(ctx context.Context) (int64, error) {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		processed int64
		firstErr  error
	)

	for lane, workers := range s.opts.Lanes {
		for i := 0; i < workers; i++ {
			lane := lane

			wg.Add(1)

			go func() {
				if s.workerDeferFn != nil {
					defer s.workerDeferFn()
				}

				defer wg.Done()

				cnt, err := s.drainLane(ctx, lane)

				mu.Lock()
				defer mu.Unlock()

				processed += cnt
				if err != nil && firstErr == nil {
					firstErr = err
				}
			}()
		}
	}

	wg.Wait()

	return processed, firstErr
}

func (s *Scheduler) drainLane(ctx context.Context, lane string) (int64, error) {
	workerID := workerID(lane)

	var processed int64

	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		job, err := s.store.ClaimNext(ctx, lane, workerID)
		if err != nil {
			return processed, err
		}

		if job == nil {
			return processed, nil
		}

		metrics.ClaimedJobsInc(lane)
		status := s.executor.Execute(ctx, job)
		metrics.ProcessedJobsInc(lane, string(status))
		processed++
	}
}

func (s *Scheduler) runOnlyOne(ctx context.Context) error {
	if err := s.intakeAll(ctx); err != nil {
		return err
	}

	workerID := workerID("only-one")

	for _, lane := range s.orderedLanes() {
		if s.opts.Lanes[lane] == 0 {
			continue
		}

		job, err := s.store.ClaimNext(ctx, lane, workerID)
		if err != nil {
			return err
		}

		if job == nil {
			continue
		}

		metrics.ClaimedJobsInc(lane)
		status := s.executor.Execute(ctx, job)
		metrics.ProcessedJobsInc(lane, string(status))

		return nil
	}

	s.logger.Info("no job to process", logfields.Event("queue_empty"))

	return nil
}

// orderedLanes returns the configured lanes in claim priority order.
func (s *Scheduler) orderedLanes() []string {
	known := map[string]struct{}{}
	result := make([]string, 0, len(s.opts.Lanes))

	for _, lane := range lanePriorityOrder {
		if _, exist := s.opts.Lanes[lane]; exist {
			result = append(result, lane)
			known[lane] = struct{}{}
		}
	}

	var rest []string

	for lane := range s.opts.Lanes {
		if _, exist := known[lane]; !exist {
			rest = append(rest, lane)
		}
	}

	sort.Strings(rest)

	return append(result, rest...)
}

func (s *Scheduler) laneWorker(ctx context.Context, lane string) {
	id := workerID(lane)
	logger := s.logger.With(logfields.Lane(lane), logfields.Worker(id))

	logger.Debug("lane worker started", logfields.Event("lane_worker_started"))

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		default:
		}

		job, err := s.store.ClaimNext(ctx, lane, id)
		if err != nil {
			logger.Error(
				"claiming next job failed",
				logfields.Event("job_claim_failed"),
				zap.Error(err),
			)

			s.sleep(ctx, s.opts.PollInterval)

			continue
		}

		if job == nil {
			s.sleep(ctx, s.opts.PollInterval)
			continue
		}

		metrics.ClaimedJobsInc(lane)
		status := s.executor.Execute(ctx, job)
		metrics.ProcessedJobsInc(lane, string(status))
	}
}

func (s *Scheduler) intakeLoop(ctx context.Context) {
	for {
		if err := s.intakeAll(ctx); err != nil {
			s.logger.Error(
				"intake run failed",
				logfields.Event("intake_failed"),
				zap.Error(err),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-time.After(s.opts.PollInterval):
		}
	}
}

// housekeepingLoop periodically recovers orphaned jobs and refreshes
// the jobs-by-status gauge.
func (s *Scheduler) housekeepingLoop(ctx context.Context) {
	orphanTicker := time.NewTicker(orphanSweepInterval)
	defer orphanTicker.Stop()

	gaugeTicker := time.NewTicker(statusGaugeInterval)
	defer gaugeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return

		case <-orphanTicker.C:
			reset, failed, err := s.store.RecoverOrphans(ctx, s.opts.OrphanResetAfter, s.opts.OrphanFailAfter)
			if err != nil {
				s.logger.Error(
					"orphan recovery sweep failed",
					logfields.Event("orphan_recovery_failed"),
					zap.Error(err),
				)

				continue
			}

			if reset > 0 || failed > 0 {
				s.logger.Info(
					"orphan recovery sweep finished",
					logfields.Event("orphan_recovery_finished"),
					zap.Int64("reset_jobs", reset),
					zap.Int64("failed_jobs", failed),
				)
			}

		case <-gaugeTicker.C:
			counts, err := s.store.CountByStatus(ctx)
			if err != nil {
				continue
			}

			for _, status := range store.Statuses {
				metrics.JobsByStatusSet(string(status), float64(counts[status]))
			}
		}
	}
}

// intakeAll processes new jobs until none are left: jobs with a
// resolved module are assigned to a lane, repository-wide events are
// fanned out into one job per interested module.
func (s *Scheduler) intakeAll(ctx context.Context) error {
	for {
		jobs, err := s.store.ListNew(ctx, s.opts.IntakeBatchSize)
		if err != nil {
			return err
		}

		if len(jobs) == 0 {
			return nil
		}

		for _, job := range jobs {
			if err := s.intakeJob(ctx, job); err != nil {
				return err
			}
		}
	}
}

func (s *Scheduler) intakeJob(ctx context.Context, job *store.Job) error {
	logger := s.logger.With(
		logfields.JobID(job.ID),
		logfields.Application(job.Application),
		logfields.EventName(job.EventName),
	)

	if job.Module != "" {
		lane := s.assigner.Assign(ctx, job)

		accepted, err := s.store.Accept(ctx, job.ID, lane)
		if err != nil {
			return err
		}

		if accepted {
			logger.Debug(
				"job accepted into lane",
				logfields.Event("job_accepted"),
				logfields.Lane(lane),
			)
		}

		return nil
	}

	return s.fanOut(ctx, job, logger)
}

// fanOut expands a repository-wide event into one pending job per
// interested module. The parent ends done when children were created,
// skipped when no module was interested.
func (s *Scheduler) fanOut(ctx context.Context, job *store.Job, logger *zap.Logger) error {
	appCfg := s.config.Application(job.Application)
	if appCfg == nil {
		return s.store.FinishIntake(
			ctx, job.ID, store.StatusSkipped,
			fmt.Sprintf("application %q is not configured", job.Application),
		)
	}

	var (
		children    int
		diagnostics []string
	)

	for _, name := range appCfg.Modules {
		mod := s.registry.Get(name)
		if mod == nil {
			logger.Error(
				"configured module is not registered",
				logfields.Event("fanout_unknown_module"),
				logfields.Module(name),
			)

			diagnostics = append(diagnostics, fmt.Sprintf("module %q is not registered", name))

			continue
		}

		actions, err := mod.GetActions(&module.GetActionContext{
			EventName:  job.EventName,
			EventData:  job.EventData,
			Owner:      job.Owner,
			Repository: job.Repository,
		})
		if err != nil {
			logger.Error(
				"getting actions from module failed",
				logfields.Event("fanout_get_actions_failed"),
				logfields.Module(name),
				zap.Error(err),
			)

			diagnostics = append(diagnostics, fmt.Sprintf("module %q: get actions failed: %s", name, err))

			continue
		}

		for i := range actions {
			if err := s.createChildJob(ctx, job, name, &actions[i]); err != nil {
				return err
			}

			children++
		}
	}

	if children == 0 {
		diag := "no module is interested in the event"
		if len(diagnostics) > 0 {
			diag += "; " + strings.Join(diagnostics, "; ")
		}

		logger.Info(
			"event fanned out to no module",
			logfields.Event("fanout_empty"),
		)

		return s.store.FinishIntake(ctx, job.ID, store.StatusSkipped, diag)
	}

	logger.Info(
		"event fanned out",
		logfields.Event("fanout_done"),
		zap.Int("child_jobs", children),
	)

	return s.store.FinishIntake(
		ctx, job.ID, store.StatusDone,
		fmt.Sprintf("fanned out into %d jobs; %s", children, strings.Join(diagnostics, "; ")),
	)
}

func (s *Scheduler) createChildJob(ctx context.Context, parent *store.Job, moduleName string, action *module.Action) error {
	eventData := parent.EventData
	if action.Data != nil {
		eventData = action.Data
	}

	child := store.Job{
		Application:     parent.Application,
		Owner:           parent.Owner,
		Repository:      parent.Repository,
		Module:          moduleName,
		EventName:       parent.EventName,
		ModuleEventName: action.Name,
		Lane:            action.Lane,
	}

	lane := s.assigner.Assign(ctx, &child)

	_, err := s.store.CreateJob(ctx, store.CreateJobParams{
		Application:     child.Application,
		Owner:           child.Owner,
		Repository:      child.Repository,
		Module:          child.Module,
		EventName:       child.EventName,
		ModuleEventName: child.ModuleEventName,
		EventData:       eventData,
		Status:          store.StatusPending,
		Lane:            lane,
	})

	return err
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-s.stopChan:
	case <-time.After(d):
	}
}

func workerID(lane string) string {
	return lane + "-" + uuid.NewString()[:8]
}
