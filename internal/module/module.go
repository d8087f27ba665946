// Package module defines the capability contract between the job
// processing core and the pluggable repository-maintenance modules.
//
// A module decides its interest in an incoming event via GetActions
// and performs the resulting work in Process. The core only depends on
// the Module interface, never on concrete module types.
package module

import (
	"context"

	"go.uber.org/zap"

	"github.com/simplesurance/ghqueue/internal/githubclt"
)

// Action is one unit of work a module wants to be scheduled for an
// event. It becomes a job of its own.
type Action struct {
	// Name becomes the module_event_name of the created job.
	Name string
	// Lane optionally pins the job to a lane. When empty the
	// scheduler's lane assignment rules apply.
	Lane string
	// Data is module-specific state passed through to Process.
	Data map[string]any
}

// GetActionContext is passed to Module.GetActions.
// GetActions must be fast and side-effect free, it runs in the intake
// loop, not in a worker.
type GetActionContext struct {
	EventName  string
	EventData  map[string]any
	Owner      string
	Repository string
}

// ProcessContext is passed to Module.Process.
type ProcessContext struct {
	// Logger output is captured into the job's log column.
	Logger *zap.Logger

	JobID       int64
	Application string
	Owner       string
	Repository  string

	EventName       string
	ModuleEventName string
	EventData       map[string]any

	// ModuleConfig is the module's section of the application
	// configuration.
	ModuleConfig map[string]any

	// ServiceURL is the public base URL of the service, used to
	// build links back to job logs.
	ServiceURL string

	// Github is scoped to the job's application. It is nil when the
	// application has no API token configured (test runs); modules
	// requiring API access must fail with a ConfigurationError then.
	Github *githubclt.Client
}

// Output is a rendered artifact the module asks to be persisted and
// linked from the job.
type Output struct {
	Title string
	Data  string
}

// Result is returned by Module.Process.
type Result struct {
	Success bool
	// Output, when set, is stored as an immutable output record.
	Output *Output
	// Dashboard, when set, replaces the module's section of the
	// repository dashboard.
	Dashboard *Fragment
	// Actions are follow-up jobs to enqueue.
	Actions []Action
}

type Module interface {
	// Name is the registry key, stored in the job's module column.
	Name() string
	// Title is the human readable name, used as dashboard section
	// heading.
	Title() string
	// GetActions returns the jobs the module wants for the event, or
	// an empty slice when it is not interested.
	GetActions(actionCtx *GetActionContext) ([]Action, error)
	Process(ctx context.Context, processCtx *ProcessContext) (*Result, error)
}
