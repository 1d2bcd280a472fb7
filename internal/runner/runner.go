// Package runner wires a config.Topology into a live netkit.Host graph
// and drives it through the scheduler to completion; it is the one place
// that knows how to turn the YAML DSL into running flows (spec.md §6
// "Topology DSL at setup").
package runner

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/datawire/dlib/dcontext"
	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dhttp"
	"github.com/datawire/dlib/dlog"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/datawire/netsim/internal/apps"
	"github.com/datawire/netsim/internal/config"
	"github.com/datawire/netsim/internal/netkit"
	"github.com/datawire/netsim/internal/netkit/tcp"
	"github.com/datawire/netsim/internal/routing"
	"github.com/datawire/netsim/internal/sched"
	"github.com/datawire/netsim/internal/simlog"
)

// Command builds the netsim root cobra command.
func Command() *cobra.Command {
	root := &cobra.Command{
		Use:   "netsim",
		Short: "A discrete-event IP/TCP network simulator",
	}
	root.AddCommand(runCommand())
	return root
}

func runCommand() *cobra.Command {
	var logPath string
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a topology through the simulator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := config.LoadRuntimeOptions(cmd.Context())
			if err != nil {
				return err
			}
			if logPath == "" {
				logPath = opts.LogPath
			}
			if !cmd.Flags().Changed("metrics-addr") {
				metricsAddr = opts.MetricsAddr
			}
			return Run(cmd.Context(), afero.NewOsFs(), args[0], logPath, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&logPath, "log", "", "event log output path (default from NETSIM_LOG_PATH)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve /metrics on, empty disables it")
	return cmd
}

// Run loads the topology at path (on fs), builds the host graph, starts
// its demo apps, and drives the scheduler until the run is quiescent.
func Run(ctx context.Context, fs afero.Fs, path, logPath, metricsAddr string) error {
	top, err := config.Load(fs, path)
	if err != nil {
		return err
	}

	log, err := simlog.Open(fs, logPath)
	if err != nil {
		return err
	}
	defer log.Close()

	sim := sched.New()
	hosts, err := buildHosts(top, sim, log)
	if err != nil {
		return err
	}
	if err := wireLinks(top, hosts, sim); err != nil {
		return err
	}
	if err := startApps(top, hosts, sim, log); err != nil {
		return err
	}

	g := dgroup.NewGroup(ctx, dgroup.GroupConfig{
		EnableSignalHandling: true,
		ShutdownOnNonError:   true,
		SoftShutdownTimeout:  2 * time.Second,
	})
	g.Go("sim", sim.Run)
	if metricsAddr != "" {
		g.Go("metrics", func(ctx context.Context) error {
			// Derive a fresh soft context from ctx's hard context, the way
			// the teacher's own gRPC server goroutine does (service.go's
			// server-grpc): the scheduler's "sim" goroutine soft-cancelling
			// shouldn't immediately yank the metrics listener out from
			// under an in-flight scrape. It only goes away once the hard
			// context is cancelled, at the end of the group's
			// SoftShutdownTimeout grace period.
			soft := dcontext.WithSoftness(dcontext.HardContext(ctx))
			return serveMetrics(soft, metricsAddr)
		})
	}

	dlog.Infof(ctx, "netsim: running %s (%d hosts, %d links, %d apps)", path, len(top.Hosts), len(top.Links), len(top.Apps))
	return g.Wait()
}

func buildHosts(top *config.Topology, sim *sched.Scheduler, log *simlog.Logger) (map[string]*netkit.Host, error) {
	hosts := make(map[string]*netkit.Host, len(top.Hosts))
	for _, h := range top.Hosts {
		ip := net.ParseIP(h.IP)
		if ip == nil {
			return nil, fmt.Errorf("runner: host %q has invalid ip %q", h.Name, h.IP)
		}
		hosts[h.Name] = netkit.NewHost(ip, sim, log)
	}
	return hosts, nil
}

// wireLinks installs one netkit.Link per config.LinkSpec (two for a
// bidirectional one), via a routing.StaticTable so every host's routes are
// applied uniformly through StaticTable.ApplyTo rather than by poking
// AddRoute directly. Spec validation already guarantees every link names a
// declared host, so the only failure mode left here is a malformed table,
// which go-multierror accumulates across every host instead of stopping at
// the first one.
func wireLinks(top *config.Topology, hosts map[string]*netkit.Host, sim *sched.Scheduler) error {
	tables := make(map[string]*routing.StaticTable, len(hosts))
	for name := range hosts {
		tables[name] = routing.NewStaticTable()
	}

	for i, l := range top.Links {
		a, b := hosts[l.A], hosts[l.B]
		delay := time.Duration(l.DelayMS * float64(time.Millisecond))
		maxQueue := l.MaxQueue
		if maxQueue == 0 {
			maxQueue = netkit.DefaultMaxQueue
		}

		fwd := netkit.NewLink(fmt.Sprintf("link-%d:%s->%s", i, l.A, l.B), sim, b, delay, l.Bandwidth, maxQueue, l.Loss, rand.NewSource(int64(2*i+1)))
		tables[l.A].Set(b.IP, fwd)

		if l.Bidirect {
			rev := netkit.NewLink(fmt.Sprintf("link-%d:%s->%s", i, l.B, l.A), sim, a, delay, l.Bandwidth, maxQueue, l.Loss, rand.NewSource(int64(2*i+2)))
			tables[l.B].Set(a.IP, rev)
		}
	}

	var merr *multierror.Error
	for name, host := range hosts {
		if err := tables[name].ApplyTo(host); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("runner: host %q: %w", name, err))
		}
	}
	return merr.ErrorOrNil()
}

func startApps(top *config.Topology, hosts map[string]*netkit.Host, sim *sched.Scheduler, log *simlog.Logger) error {
	for _, a := range top.Apps {
		host, ok := hosts[a.Host]
		if !ok {
			return fmt.Errorf("runner: app on undeclared host %q", a.Host)
		}
		variant := tcp.VariantReno
		if a.Variant == "tahoe" {
			variant = tcp.VariantTahoe
		}
		switch a.Kind {
		case "server":
			apps.EchoServer(host, sim, log, a.Port, variant)
		case "client":
			remoteHost, ok := hosts[a.Remote]
			if !ok {
				return fmt.Errorf("runner: client app on %q has undeclared remote %q", a.Host, a.Remote)
			}
			remote := netkit.MakeAddrKey(remoteHost.IP, a.Port)
			apps.EchoClient(host, sim, log, remote, []byte(a.Message), variant)
		default:
			return fmt.Errorf("runner: app on %q has unknown kind %q", a.Host, a.Kind)
		}
	}
	return nil
}

// serveMetrics exposes the prometheus gauges/counters internal/netkit
// registers (queue depth, packet loss) on addr, using dhttp.ServerConfig
// the way the teacher serves its own gRPC endpoint: Serve blocks until ctx
// is cancelled, then shuts down gracefully.
func serveMetrics(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("runner: metrics listener on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	sc := &dhttp.ServerConfig{Handler: mux}
	if err := sc.Serve(ctx, listener); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
