// Package cli wires configuration, storage, polling and queries into the
// statuspulse command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bryan-buckman/statuspulse/internal/config"
	"github.com/bryan-buckman/statuspulse/internal/database"
	"github.com/bryan-buckman/statuspulse/internal/history"
	"github.com/bryan-buckman/statuspulse/internal/model"
	"github.com/bryan-buckman/statuspulse/internal/notify"
	"github.com/bryan-buckman/statuspulse/internal/query"
	"github.com/bryan-buckman/statuspulse/internal/rss"
	"github.com/bryan-buckman/statuspulse/internal/server"
)

// Output formats for query commands.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

type options struct {
	configPath string
	format     string
	logLevel   string
}

// app holds everything a command needs once configuration is loaded.
type app struct {
	cfg     config.Config
	logger  *log.Logger
	store   database.Store
	history *history.History
	out     io.Writer
}

// Execute runs the CLI with os.Args and returns the process exit code.
func Execute() int {
	cmd := NewRootCmd(os.Stdout, os.Stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// NewRootCmd builds the command tree writing results to out and logs to errOut.
func NewRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "statuspulse",
		Short:         "Status feed incident monitor",
		Long:          "statuspulse polls status feeds, records new incidents with a severity color, and answers queries over the recorded history.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file (default ./statuspulse.yaml if present)")
	root.PersistentFlags().StringVar(&opts.format, "format", FormatText, "output format for queries: text, json or yaml")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	root.AddCommand(
		newListenCmd(opts, out, errOut),
		newPulseCmd(opts, out, errOut),
		newAllCmd(opts, out, errOut),
		newRangeCmd(opts, out, errOut),
		newFilterCmd(opts, out, errOut),
		newServeCmd(opts, out, errOut),
	)
	return root
}

func newListenCmd(opts *options, out, errOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Start continuous monitoring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, out, errOut)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = a.poller().Run(ctx)
			if errors.Is(err, context.Canceled) {
				a.logger.Info("Pulse monitor stopped", "incidents", a.history.Len())
				return nil
			}
			return err
		},
	}
}

func newPulseCmd(opts *options, out, errOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "pulse",
		Short: "Run a single polling cycle and report each feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, out, errOut)
			if err != nil {
				return err
			}
			defer a.close()

			report := a.poller().RunCycle(cmd.Context())
			for _, er := range report.Endpoints {
				line := fmt.Sprintf("%s: %s", er.Endpoint, er.Kind)
				if er.Kind == rss.Updated {
					line += fmt.Sprintf(" (entries=%d new=%d seen=%d)", er.Entries, er.New, er.Seen)
				}
				if er.Err != nil {
					line += ": " + er.Err.Error()
				}
				fmt.Fprintln(out, line)
			}
			fmt.Fprintf(out, "incidents recorded: %d\n", a.history.Len())
			if report.Failed > 0 {
				return errors.Newf("%d incident(s) could not be persisted", report.Failed)
			}
			return nil
		},
	}
}

func newAllCmd(opts *options, out, errOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Show all historical incidents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, out, errOut)
			if err != nil {
				return err
			}
			defer a.close()
			return render(out, opts.format, query.New(a.history).All(), true)
		},
	}
}

func newRangeCmd(opts *options, out, errOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "range <start> <end>",
		Short: "Show incidents recorded between two dates (DDMMYYYY, inclusive)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, out, errOut)
			if err != nil {
				return err
			}
			defer a.close()
			records, err := query.New(a.history).Range(args[0], args[1])
			if err != nil {
				return err
			}
			return render(out, opts.format, records, false)
		},
	}
}

func newFilterCmd(opts *options, out, errOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:       "filter <green|yellow|red>",
		Short:     "Show incidents of one severity",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(model.Green), string(model.Yellow), string(model.Red)},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, out, errOut)
			if err != nil {
				return err
			}
			defer a.close()
			records, err := query.New(a.history).Filter(args[0])
			if err != nil {
				return err
			}
			return render(out, opts.format, records, false)
		},
	}
}

func newServeCmd(opts *options, out, errOut io.Writer) *cobra.Command {
	var (
		addr   string
		listen bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health and query endpoints over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, out, errOut)
			if err != nil {
				return err
			}
			defer a.close()
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			var poller *rss.Poller
			if listen {
				poller = a.poller()
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.New(query.New(a.history), a.history, poller, a.logger).Start(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config server.addr)")
	cmd.Flags().BoolVar(&listen, "listen", false, "also run the polling loop while serving")
	return cmd
}

func newApp(opts *options, out, errOut io.Writer) (*app, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	switch opts.format {
	case FormatText, FormatJSON, FormatYAML:
	default:
		return nil, errors.Newf("unknown format %q", opts.format)
	}

	logger := log.NewWithOptions(errOut, log.Options{
		ReportTimestamp: true,
		Prefix:          "statuspulse",
	})
	level := cfg.Log.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}
	logger.SetLevel(lvl)

	store, err := database.Open(cfg.Store.Driver, cfg.Store.Path, cfg.Store.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "open history store")
	}
	hist := history.New(store, logger)
	if err := hist.Load(); err != nil {
		store.Close()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, store: store, history: hist, out: out}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Closing history store", "err", err)
	}
}

func (a *app) poller() *rss.Poller {
	fetchOpts := rss.FetcherOptions{
		Timeout:   a.cfg.FetchTimeout,
		UserAgent: a.cfg.UserAgent,
		Logger:    a.logger,
	}
	if a.cfg.FetchConcurrency > 1 {
		fetchOpts.HostConcurrency = rss.MaxConcurrencyPerHost
		fetchOpts.HostDelay = rss.DelayBetweenHostFetches
	}

	var notifiers []notify.Notifier
	if a.cfg.Notify.Console {
		notifiers = append(notifiers, notify.NewConsole(a.out))
	}
	if a.cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhook(a.cfg.Notify.WebhookURL, a.cfg.FetchTimeout))
	}

	return rss.NewPoller(
		rss.NewFetcher(fetchOpts),
		a.history,
		notify.NewMulti(notifiers...),
		a.cfg.Feeds,
		rss.PollerOptions{
			Interval:    a.cfg.Interval,
			Concurrency: a.cfg.FetchConcurrency,
			Logger:      a.logger,
		},
	)
}

// render writes records in the requested format. withColor adds the
// severity suffix used by the full listing.
func render(w io.Writer, format string, records []model.IncidentRecord, withColor bool) error {
	if records == nil {
		records = []model.IncidentRecord{}
	}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return err
		}
		return enc.Close()
	}
	for _, r := range records {
		if withColor {
			fmt.Fprintf(w, "[%s] %s (%s)\n", r.Timestamp, r.Title, strings.ToUpper(string(r.Color)))
		} else {
			fmt.Fprintf(w, "[%s] %s\n", r.Timestamp, r.Title)
		}
	}
	return nil
}
