// Package logfields provides typed zap field constructors that are
// shared between packages, to keep field names consistent in the logs.
package logfields

import "go.uber.org/zap"

func Event(val string) zap.Field {
	return zap.String("event", val)
}

func Application(val string) zap.Field {
	return zap.String("application", val)
}

func Repository(owner, repository string) zap.Field {
	if owner == "" {
		return zap.String("repository", repository)
	}

	return zap.String("repository", owner+"/"+repository)
}

func Module(val string) zap.Field {
	return zap.String("module", val)
}

func JobID(val int64) zap.Field {
	return zap.Int64("job_id", val)
}

func Lane(val string) zap.Field {
	return zap.String("lane", val)
}

func Worker(val string) zap.Field {
	return zap.String("worker_id", val)
}

func EventName(val string) zap.Field {
	return zap.String("event_name", val)
}
