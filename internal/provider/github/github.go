// Package github receives github webhook deliveries over http,
// validates them and records them as jobs via the ingestor.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"

	"github.com/simplesurance/ghqueue/internal/cfg"
	"github.com/simplesurance/ghqueue/internal/ingest"
	"github.com/simplesurance/ghqueue/internal/logfields"
	"github.com/simplesurance/ghqueue/internal/qerr"
	"github.com/simplesurance/ghqueue/internal/store"
)

const loggerName = "github-webhook-provider"

// Ingestor records a validated webhook delivery as a job.
// *ingest.Ingestor implements it.
type Ingestor interface {
	IngestWebhook(ctx context.Context, application, eventName string, eventData map[string]any) (*store.Job, error)
}

var _ Ingestor = (*ingest.Ingestor)(nil)

// Provider is the http handler for github webhook deliveries.
// The application is addressed via the last element of the request
// path, the payload signature is verified with the application's
// webhook secret.
type Provider struct {
	logger   *zap.Logger
	config   *cfg.Config
	ingestor Ingestor
}

func New(config *cfg.Config, ingestor Ingestor) *Provider {
	return &Provider{
		logger:   zap.L().Named(loggerName),
		config:   config,
		ingestor: ingestor,
	}
}

func (p *Provider) HTTPHandler(resp http.ResponseWriter, req *http.Request) {
	deliveryID := github.DeliveryID(req)
	hookType := github.WebHookType(req)
	application := applicationFromPath(req.URL.Path)

	logger := p.logger.With(
		logfields.Application(application),
		zap.String("github.delivery_id", deliveryID),
		zap.String("github.webhook_type", hookType),
	)

	logger.Debug("received a http request", logfields.Event("github_event_received"))

	appCfg := p.config.Application(application)
	if appCfg == nil {
		logger.Info(
			"received request for unknown application",
			logfields.Event("github_unknown_application"),
		)
		http.Error(resp, "unknown application", http.StatusNotFound)
		return
	}

	payload, err := github.ValidatePayload(req, []byte(appCfg.GithubWebHookSecret))
	if err != nil {
		logger.Info(
			"received invalid http request, payload validation failed",
			logfields.Event("github_http_request_validation_failed"),
			zap.Error(err),
		)
		http.Error(resp, err.Error(), http.StatusBadRequest)
		return
	}

	var eventData map[string]any
	if err := json.Unmarshal(payload, &eventData); err != nil {
		logger.Info(
			"received invalid http request, parsing json payload failed",
			logfields.Event("github_event_parsing_failed"),
			zap.Error(err),
		)
		http.Error(resp, err.Error(), http.StatusBadRequest)
		return
	}

	job, err := p.ingestor.IngestWebhook(req.Context(), application, hookType, eventData)
	if err != nil {
		var validationErr *qerr.ValidationError
		if errors.As(err, &validationErr) {
			logger.Info(
				"event was rejected",
				logfields.Event("github_event_rejected"),
				zap.Error(err),
			)
			http.Error(resp, err.Error(), http.StatusBadRequest)
			return
		}

		logger.Error(
			"recording event failed",
			logfields.Event("github_event_recording_failed"),
			zap.Error(err),
		)
		http.Error(resp, "recording event failed", http.StatusInternalServerError)
		return
	}

	logger.Debug(
		"event recorded as job",
		logfields.Event("github_event_recorded"),
		logfields.JobID(job.ID),
	)

	resp.WriteHeader(http.StatusAccepted)
}

// applicationFromPath returns the last non-empty path element.
// Webhooks are registered per application as <endpoint>/<application>.
func applicationFromPath(path string) string {
	path = strings.TrimRight(path, "/")
	idx := strings.LastIndexByte(path, '/')

	if idx == -1 {
		return path
	}

	return path[idx+1:]
}
