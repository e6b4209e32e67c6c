package capability_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vybeapp/vybe/internal/plugin/capability"
)

func TestEnforcer_CheckExact(t *testing.T) {
	e := capability.NewEnforcer()
	require.NoError(t, e.SetGrants("notes", []string{"file-read", "file-write"}))

	assert.True(t, e.Check("notes", "file-read"))
	assert.True(t, e.Check("notes", "file-write"))
	assert.False(t, e.Check("notes", "network-access"))
}

func TestEnforcer_DenyByDefault(t *testing.T) {
	e := capability.NewEnforcer()
	require.NoError(t, e.SetGrants("notes", []string{"file-read"}))

	assert.False(t, e.Check("unknown", "file-read"), "unregistered plugin denies")
	assert.False(t, e.Check("", "file-read"), "empty plugin id denies")
	assert.False(t, e.Check("notes", ""), "empty permission denies")
}

func TestEnforcer_Wildcards(t *testing.T) {
	e := capability.NewEnforcer()
	require.NoError(t, e.SetGrants("files", []string{"file-*"}))
	require.NoError(t, e.SetGrants("admin", []string{"**"}))

	assert.True(t, e.Check("files", "file-read"))
	assert.True(t, e.Check("files", "file-write"))
	assert.False(t, e.Check("files", "network-access"))
	assert.False(t, e.Check("files", "user-data-access"))

	assert.True(t, e.Check("admin", "file-read"))
	assert.True(t, e.Check("admin", "user-data-access"))
}

func TestEnforcer_SetGrants_Validation(t *testing.T) {
	e := capability.NewEnforcer()

	assert.Error(t, e.SetGrants("", []string{"file-read"}))
	assert.Error(t, e.SetGrants("p", []string{""}))
	assert.Error(t, e.SetGrants("p", []string{"file-["}))

	// Failed SetGrants leaves prior grants intact.
	require.NoError(t, e.SetGrants("p", []string{"file-read"}))
	assert.Error(t, e.SetGrants("p", []string{"file-read", "bad-["}))
	assert.True(t, e.Check("p", "file-read"))
}

func TestEnforcer_SetGrants_Replaces(t *testing.T) {
	e := capability.NewEnforcer()
	require.NoError(t, e.SetGrants("p", []string{"file-read"}))
	require.NoError(t, e.SetGrants("p", []string{"network-access"}))

	assert.False(t, e.Check("p", "file-read"))
	assert.True(t, e.Check("p", "network-access"))
}

func TestEnforcer_RemoveGrants(t *testing.T) {
	e := capability.NewEnforcer()
	require.NoError(t, e.SetGrants("p", []string{"file-read"}))

	e.RemoveGrants("p")
	assert.False(t, e.Check("p", "file-read"))
	assert.False(t, e.IsRegistered("p"))

	// Safe for unknown ids.
	e.RemoveGrants("ghost")
}

func TestEnforcer_Introspection(t *testing.T) {
	e := capability.NewEnforcer()
	require.NoError(t, e.SetGrants("p", []string{"file-read", "ui-modify"}))
	require.NoError(t, e.SetGrants("q", []string{}))

	assert.True(t, e.IsRegistered("p"))
	assert.True(t, e.IsRegistered("q"), "empty grants still register")
	assert.False(t, e.IsRegistered("r"))

	assert.Equal(t, []string{"file-read", "ui-modify"}, e.GetGrants("p"))
	assert.Nil(t, e.GetGrants("r"))
	assert.ElementsMatch(t, []string{"p", "q"}, e.ListPlugins())
}

func TestEnforcer_ZeroValue(t *testing.T) {
	var e capability.Enforcer

	assert.False(t, e.Check("p", "file-read"))
	assert.False(t, e.IsRegistered("p"))
	e.RemoveGrants("p")
	assert.Empty(t, e.ListPlugins())

	require.NoError(t, e.SetGrants("p", []string{"file-read"}))
	assert.True(t, e.Check("p", "file-read"))
}
