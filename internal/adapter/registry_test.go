package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRegistryHasBuiltins(t *testing.T) {
	r := NewRegistry()
	names := r.Names()
	assert.Contains(t, names, "claude")
	assert.Contains(t, names, "codex")
	assert.Contains(t, names, "aider")
	assert.Contains(t, names, "generic")
}

func TestRegistryGetUnknownErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("nonexistent")
	assert.Error(t, err)
}

func TestRegistryResolveFallsBackToGeneric(t *testing.T) {
	r := NewRegistry()
	a := r.Resolve("some-custom-tool")
	assert.Equal(t, "generic", a.Name())
}

func TestRegistryRegisterAndUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register(Codex{})
	a, err := r.Get("codex")
	assert.NoError(t, err)
	assert.Equal(t, "codex", a.Name())

	r.Unregister("codex")
	_, err = r.Get("codex")
	assert.Error(t, err)
}
