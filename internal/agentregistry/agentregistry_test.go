package agentregistry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orchestra-run/controlplane/internal/serviceconfig"
)

func fixtureConfig() *serviceconfig.ServicesConfig {
	return &serviceconfig.ServicesConfig{
		Agents: map[string]serviceconfig.AgentConfig{
			"chat_bot": {Name: "chat_bot", Port: 9001, Enabled: true, Default: true},
			"dev_tool": {Name: "dev_tool", Port: 9002, Enabled: true, DevOnly: true},
			"disabled": {Name: "disabled", Port: 9003, Enabled: false},
		},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(func() (*serviceconfig.ServicesConfig, error) { return fixtureConfig(), nil }, nil)
	require.NoError(t, err)
	return r
}

func TestListEnabled_HidesDevOnlyFromCloud(t *testing.T) {
	r := newTestRegistry(t)

	local := r.ListEnabled(false)
	require.Len(t, local, 2)

	cloud := r.ListEnabled(true)
	require.Len(t, cloud, 1)
	require.Equal(t, "chat_bot", cloud[0].Name)
}

func TestGetDefault_ReturnsUniqueDefault(t *testing.T) {
	r := newTestRegistry(t)
	def, err := r.GetDefault(false)
	require.NoError(t, err)
	require.Equal(t, "chat_bot", def.Name)
}

func TestGetDefault_NoneDeclared(t *testing.T) {
	r, err := New(func() (*serviceconfig.ServicesConfig, error) {
		return &serviceconfig.ServicesConfig{Agents: map[string]serviceconfig.AgentConfig{
			"a": {Name: "a", Port: 9001, Enabled: true},
		}}, nil
	}, nil)
	require.NoError(t, err)

	_, err = r.GetDefault(false)
	require.Error(t, err)
}

func TestFindNextAvailablePort_SkipsUsed(t *testing.T) {
	r := newTestRegistry(t)
	port, err := r.FindNextAvailablePort()
	require.NoError(t, err)
	require.Equal(t, 9000, port)
}

func TestReload_ReplacesDeclaredSet(t *testing.T) {
	calls := 0
	r, err := New(func() (*serviceconfig.ServicesConfig, error) {
		calls++
		if calls == 1 {
			return fixtureConfig(), nil
		}
		return &serviceconfig.ServicesConfig{Agents: map[string]serviceconfig.AgentConfig{}}, nil
	}, nil)
	require.NoError(t, err)
	require.Len(t, r.List(), 3)

	require.NoError(t, r.Reload())
	require.Len(t, r.List(), 0)
}
