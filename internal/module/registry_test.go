package module

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedModule string

func (m namedModule) Name() string  { return string(m) }
func (m namedModule) Title() string { return string(m) }

func (m namedModule) GetActions(*GetActionContext) ([]Action, error) {
	return nil, nil
}

func (m namedModule) Process(context.Context, *ProcessContext) (*Result, error) {
	return &Result{Success: true}, nil
}

func TestRegistryKeepsRegistrationOrder(t *testing.T) {
	r, err := NewRegistry(namedModule("b"), namedModule("a"), namedModule("c"))
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "a", "c"}, r.Names())
}

func TestRegistryGet(t *testing.T) {
	r, err := NewRegistry(namedModule("m"))
	require.NoError(t, err)

	assert.NotNil(t, r.Get("m"))
	assert.Nil(t, r.Get("unknown"))
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	_, err := NewRegistry(namedModule("m"), namedModule("m"))

	assert.ErrorContains(t, err, "registered multiple times")
}

func TestRegistryRejectsEmptyName(t *testing.T) {
	_, err := NewRegistry(namedModule(""))

	assert.ErrorContains(t, err, "empty name")
}
