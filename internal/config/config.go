// Package config loads the topology DSL a scenario run is driven by: a
// YAML description of hosts and the links between them (spec.md §6's
// "Topology DSL at setup"), read through an afero.Fs so tests can supply
// an in-memory filesystem instead of a real one, the way the teacher
// abstracts its own config/log file handling over afero. A handful of
// process-wide knobs can be overridden from the environment via
// go-envconfig, the teacher's mechanism for client configuration.
package config

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// HostSpec is one host in a Topology.
type HostSpec struct {
	Name string `yaml:"name"`
	IP   string `yaml:"ip"`
}

// LinkSpec is one directed or bidirectional link in a Topology, carrying
// the physical parameters internal/netkit.Link models (spec.md §4.2).
type LinkSpec struct {
	A          string  `yaml:"a"`
	B          string  `yaml:"b"`
	Bandwidth  float64 `yaml:"bandwidth_bps"`
	DelayMS    float64 `yaml:"delay_ms"`
	Loss       float64 `yaml:"loss"`
	MaxQueue   int     `yaml:"max_queue"`
	Bidirect   bool    `yaml:"bidirectional"`
}

// AppSpec describes one demo client or server flow (internal/apps) to
// start as part of the scenario.
type AppSpec struct {
	Kind      string `yaml:"kind"` // "server" | "client"
	Host      string `yaml:"host"`
	Port      uint16 `yaml:"port"`
	Remote    string `yaml:"remote,omitempty"`     // client only: host name to connect to
	Message   string `yaml:"message,omitempty"`    // client only: payload to send
	Variant   string `yaml:"congestion,omitempty"` // "tahoe" | "reno", default reno
}

// Topology is the full scenario description loaded from YAML.
type Topology struct {
	Hosts []HostSpec `yaml:"hosts"`
	Links []LinkSpec `yaml:"links"`
	Apps  []AppSpec  `yaml:"apps"`
}

// Load reads and parses the topology at path on fs.
func Load(fs afero.Fs, path string) (*Topology, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: reading %s", path)
	}
	var top Topology
	if err := yaml.Unmarshal(data, &top); err != nil {
		return nil, errors.Wrapf(err, "config: parsing %s", path)
	}
	if err := top.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config: %s", path)
	}
	return &top, nil
}

// Validate checks referential integrity: every link and app must name a
// host that was actually declared.
func (t *Topology) Validate() error {
	known := make(map[string]bool, len(t.Hosts))
	for _, h := range t.Hosts {
		if h.Name == "" || h.IP == "" {
			return fmt.Errorf("host entry missing name or ip: %+v", h)
		}
		known[h.Name] = true
	}
	for _, l := range t.Links {
		if !known[l.A] || !known[l.B] {
			return fmt.Errorf("link %s<->%s references an undeclared host", l.A, l.B)
		}
	}
	for _, a := range t.Apps {
		if !known[a.Host] {
			return fmt.Errorf("app on undeclared host %q", a.Host)
		}
		if a.Kind == "client" && !known[a.Remote] {
			return fmt.Errorf("client app on %q has undeclared remote %q", a.Host, a.Remote)
		}
	}
	return nil
}

// RuntimeOptions are process-wide knobs overridable from the environment
// (NETSIM_ prefix), independent of any one topology file.
type RuntimeOptions struct {
	LogPath     string `env:"LOG_PATH,default=netsim.log"`
	MetricsAddr string `env:"METRICS_ADDR,default=:9110"`
}

// LoadRuntimeOptions reads RuntimeOptions, applying NETSIM_* environment
// overrides over the defaults.
func LoadRuntimeOptions(ctx context.Context) (*RuntimeOptions, error) {
	var opts RuntimeOptions
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &opts,
		Prefix:   "NETSIM_",
		Lookuper: envconfig.OsLookuper(),
	}); err != nil {
		return nil, errors.Wrap(err, "config: loading runtime options")
	}
	return &opts, nil
}
