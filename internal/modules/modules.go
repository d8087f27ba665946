// Package modules assembles the built-in module set.
package modules

import (
	"github.com/simplesurance/ghqueue/internal/module"
	"github.com/simplesurance/ghqueue/internal/modules/automerge"
	"github.com/simplesurance/ghqueue/internal/modules/clean"
)

// DefaultRegistry returns a registry containing all built-in modules.
func DefaultRegistry() (*module.Registry, error) {
	return module.NewRegistry(
		clean.New(),
		automerge.New(),
	)
}
