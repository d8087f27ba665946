// Package ingest records incoming events as new jobs in the durable
// store. It is the only write path into the queue, webhooks and
// synthetic CLI events go through the same Ingestor.
package ingest

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/simplesurance/ghqueue/internal/cfg"
	"github.com/simplesurance/ghqueue/internal/logfields"
	"github.com/simplesurance/ghqueue/internal/qerr"
	"github.com/simplesurance/ghqueue/internal/store"
)

const loggerName = "ingestor"

// Store is the subset of the job store the ingestor writes through.
type Store interface {
	CreateJob(ctx context.Context, p store.CreateJobParams) (*store.Job, error)
}

// Ingestor validates events against the application configuration and
// persists them as jobs in status new.
// Recording and processing are decoupled, an accepted event survives
// process restarts.
type Ingestor struct {
	store  Store
	config *cfg.Config
	logger *zap.Logger
}

func New(st Store, config *cfg.Config) *Ingestor {
	return &Ingestor{
		store:  st,
		config: config,
		logger: zap.L().Named(loggerName),
	}
}

// IngestWebhook records a validated github webhook delivery.
// The owner and repository are taken from the payload's
// repository.full_name field, events without a repository reference
// are rejected.
func (in *Ingestor) IngestWebhook(ctx context.Context, application, eventName string, eventData map[string]any) (*store.Job, error) {
	if in.config.Application(application) == nil {
		return nil, qerr.NewValidationError("application %q is not configured", application)
	}

	if eventName == "" {
		return nil, qerr.NewValidationError("event name is empty")
	}

	owner, repository := repositoryFromPayload(eventData)
	if owner == "" || repository == "" {
		return nil, qerr.NewValidationError("event payload contains no repository.full_name field")
	}

	job, err := in.store.CreateJob(ctx, store.CreateJobParams{
		Application: application,
		Owner:       owner,
		Repository:  repository,
		EventName:   eventName,
		EventData:   eventData,
		Status:      store.StatusNew,
	})
	if err != nil {
		return nil, err
	}

	in.logger.Info(
		"webhook event recorded",
		logfields.Event("event_recorded"),
		logfields.JobID(job.ID),
		logfields.Application(application),
		logfields.Repository(owner, repository),
		logfields.EventName(eventName),
	)

	return job, nil
}

// IngestSynthetic records an internally generated event, e.g. a cron
// tick or a manually dispatched dashboard refresh. The event data is
// synthesized so that modules can dispatch on it like on a webhook.
func (in *Ingestor) IngestSynthetic(ctx context.Context, application, eventName, owner, repository string) (*store.Job, error) {
	if in.config.Application(application) == nil {
		return nil, qerr.NewValidationError("application %q is not configured", application)
	}

	if eventName == "" {
		return nil, qerr.NewValidationError("event name is empty")
	}

	job, err := in.store.CreateJob(ctx, store.CreateJobParams{
		Application: application,
		Owner:       owner,
		Repository:  repository,
		EventName:   eventName,
		EventData: map[string]any{
			"type": "event",
			"name": eventName,
		},
		Status: store.StatusNew,
	})
	if err != nil {
		return nil, err
	}

	in.logger.Info(
		"synthetic event recorded",
		logfields.Event("event_recorded"),
		logfields.JobID(job.ID),
		logfields.Application(application),
		logfields.Repository(owner, repository),
		logfields.EventName(eventName),
	)

	return job, nil
}

func repositoryFromPayload(eventData map[string]any) (owner, repository string) {
	repoVal, exist := eventData["repository"]
	if !exist {
		return "", ""
	}

	repoMap, ok := repoVal.(map[string]any)
	if !ok {
		return "", ""
	}

	fullName, ok := repoMap["full_name"].(string)
	if !ok {
		return "", ""
	}

	owner, repository, found := strings.Cut(fullName, "/")
	if !found {
		return "", ""
	}

	return owner, repository
}
