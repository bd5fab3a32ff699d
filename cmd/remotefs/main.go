// Command remotefs browses and edits files on SSH hosts through the
// remotefs agent.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ruffel/remotefs"
	"github.com/ruffel/remotefs/agent"
	"github.com/ruffel/remotefs/internal/config"
	"github.com/ruffel/remotefs/internal/logging"
	"github.com/ruffel/remotefs/internal/metrics"
)

// app carries state shared by every subcommand.
type app struct {
	configPath  string
	logLevel    string
	metricsAddr string

	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Collector
	server  *http.Server
}

func main() {
	a := &app{}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("✗ "+err.Error()))
		stop()
		os.Exit(1) //nolint:gocritic
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "remotefs",
		Short:         "Browse and edit files on SSH hosts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return a.shutdown()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Config file (default $REMOTEFS_CONFIG or the user config dir)")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	root.AddCommand(
		a.hostsCmd(),
		a.infoCmd(),
		a.lsCmd(),
		a.statCmd(),
		a.catCmd(),
		a.putCmd(),
		a.mvCmd(),
		a.rmCmd(),
		a.mkdirCmd(),
		a.realpathCmd(),
		a.watchCmd(),
	)

	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	p := a.configPath
	if p == "" {
		var err error
		if p, err = config.DefaultPath(); err != nil {
			return err
		}
	}

	cfg, err := config.Load(p)
	if err != nil {
		return err
	}

	if err := logging.Init(cfg.Log); err != nil {
		return fmt.Errorf("failed to initialise logging: %w", err)
	}

	if a.logLevel != "" {
		if err := logging.SetLevel(a.logLevel); err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
	}

	a.cfg = cfg
	a.log = logging.L()
	a.metrics = metrics.New()

	addr := a.metricsAddr
	if addr == "" {
		addr = cfg.MetricsAddr
	}

	if addr != "" {
		a.serveMetrics(cmd.Context(), addr)
	}

	return nil
}

func (a *app) serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())

	a.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.log.Info("serving metrics", zap.String("addr", addr))

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server failed", zap.Error(err))
		}
	}()

	context.AfterFunc(ctx, func() { _ = a.server.Close() })
}

func (a *app) shutdown() error {
	if a.server != nil {
		_ = a.server.Close()
	}

	_ = logging.Sync()

	return nil
}

// host builds the Host for name, asking for one when name is empty.
func (a *app) host(name string, extra ...remotefs.Option) (*remotefs.Host, error) {
	if name == "" {
		var err error
		if name, err = pickHost(a.cfg.Names()); err != nil {
			return nil, err
		}
	}

	hc, err := a.cfg.Lookup(name)
	if err != nil {
		return nil, err
	}

	opts := []remotefs.Option{
		remotefs.WithLogger(a.log.Named(name)),
		remotefs.WithPassphrasePrompter(promptPassphrase),
		remotefs.WithMetrics(a.metrics),
		remotefs.WithStatusBus(a.statusBus()),
	}

	if progress := stderrProgress(); progress != nil {
		opts = append(opts, remotefs.WithProgressReporter(progress))
	}

	if a.cfg.Agent != "" {
		script, err := agent.Load(a.cfg.Agent)
		if err != nil {
			return nil, err
		}

		opts = append(opts, remotefs.WithAgentScript(script))
	}

	opts = append(opts, a.cfg.Options()...)
	opts = append(opts, extra...)

	return remotefs.NewHost(name, hc, opts...), nil
}

// statusBus logs connection milestones.
func (a *app) statusBus() EventBus.Bus {
	bus := remotefs.NewStatusBus()

	for _, s := range []remotefs.Status{
		remotefs.StatusConnecting,
		remotefs.StatusInitializing,
		remotefs.StatusConnected,
		remotefs.StatusError,
	} {
		_ = bus.Subscribe(s.Topic(), func(ev remotefs.StatusEvent) {
			fields := []zap.Field{zap.String("host", ev.Host), zap.String("status", string(ev.Status))}
			if ev.Err != nil {
				fields = append(fields, zap.Error(ev.Err))
			}

			a.log.Info("connection status", fields...)
		})
	}

	return bus
}

// target splits "host:path" into its parts. A bare argument is a path on
// the picked host.
func target(arg string) (string, string) {
	if i := strings.Index(arg, ":"); i > 0 && !strings.Contains(arg[:i], "/") {
		return arg[:i], arg[i+1:]
	}

	return "", arg
}

// resolve joins a relative path onto the host's default folder.
func resolve(h *remotefs.Host, p string) string {
	if p == "" {
		p = "."
	}

	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, "~") {
		return p
	}

	if base := h.Config().Path; base != "" {
		return path.Join(base, p)
	}

	return p
}

// open returns the file API of the host named in arg with the path resolved.
// Callers Reset the host when done.
func (a *app) open(arg string) (*remotefs.FileSystem, *remotefs.Host, string, error) {
	name, p := target(arg)

	h, err := a.host(name)
	if err != nil {
		return nil, nil, "", err
	}

	return remotefs.NewFileSystem(h), h, resolve(h, p), nil
}
