package config

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
hosts:
  - name: a
    ip: 10.0.0.1
  - name: b
    ip: 10.0.0.2
links:
  - a: a
    b: b
    bandwidth_bps: 1000000
    delay_ms: 10
    bidirectional: true
apps:
  - kind: server
    host: b
    port: 9000
  - kind: client
    host: a
    port: 0
    remote: b
    message: hello
`

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

func TestLoadParsesValidTopology(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "scenario.yaml", validYAML)

	top, err := Load(fs, "scenario.yaml")
	require.NoError(t, err)
	assert.Len(t, top.Hosts, 2)
	assert.Len(t, top.Links, 1)
	assert.Len(t, top.Apps, 2)
	assert.Equal(t, "10.0.0.1", top.Hosts[0].IP)

	want := []HostSpec{{Name: "a", IP: "10.0.0.1"}, {Name: "b", IP: "10.0.0.2"}}
	if diff := cmp.Diff(want, top.Hosts); diff != "" {
		t.Errorf("hosts mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := Load(fs, "nope.yaml")
	assert.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "bad.yaml", "hosts: [this is not: a list")
	_, err := Load(fs, "bad.yaml")
	assert.Error(t, err)
}

func TestValidateRejectsLinkToUndeclaredHost(t *testing.T) {
	top := &Topology{
		Hosts: []HostSpec{{Name: "a", IP: "10.0.0.1"}},
		Links: []LinkSpec{{A: "a", B: "ghost"}},
	}
	assert.Error(t, top.Validate())
}

func TestValidateRejectsClientAppWithUndeclaredRemote(t *testing.T) {
	top := &Topology{
		Hosts: []HostSpec{{Name: "a", IP: "10.0.0.1"}},
		Apps:  []AppSpec{{Kind: "client", Host: "a", Remote: "ghost"}},
	}
	assert.Error(t, top.Validate())
}

func TestValidateRejectsHostMissingFields(t *testing.T) {
	top := &Topology{Hosts: []HostSpec{{Name: "a"}}}
	assert.Error(t, top.Validate())
}

func TestLoadRuntimeOptionsAppliesDefaults(t *testing.T) {
	opts, err := LoadRuntimeOptions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "netsim.log", opts.LogPath)
	assert.Equal(t, ":9110", opts.MetricsAddr)
}

func TestLoadRuntimeOptionsHonorsEnvOverride(t *testing.T) {
	t.Setenv("NETSIM_LOG_PATH", "/tmp/custom.log")
	opts, err := LoadRuntimeOptions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.log", opts.LogPath)
}
