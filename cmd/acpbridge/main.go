// Package main is the entry point for the acpbridge binary.
// acpbridge starts an ACP agent for a project directory and relays prompts
// to it, optionally seeding the first prompt with a Jira ticket.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/acpbridge/internal/bridge/appstate"
	"github.com/kandev/acpbridge/internal/bridge/metrics"
	"github.com/kandev/acpbridge/internal/bridge/process"
	"github.com/kandev/acpbridge/internal/bridge/runtime"
	"github.com/kandev/acpbridge/internal/bridge/tracing"
	"github.com/kandev/acpbridge/internal/common/config"
	"github.com/kandev/acpbridge/internal/common/logger"
	"github.com/kandev/acpbridge/internal/jira"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "acpbridge: %v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds command-line overrides. rootSet and cliAuthSet record
// whether the flag was given, so unset flags leave the config alone.
type cliFlags struct {
	configDir  string
	root       string
	rootSet    bool
	cliAuth    bool
	cliAuthSet bool
	prompt     string
	issueKey   string
	jql        string
	maxTickets int
	help       bool
}

func parseFlags(args []string) (*cliFlags, *pflag.FlagSet, error) {
	f := &cliFlags{}
	flagSet := pflag.NewFlagSet("acpbridge", pflag.ContinueOnError)
	flagSet.StringVar(&f.configDir, "config", "", "directory containing config.yaml")
	flagSet.StringVar(&f.root, "root", "", "project root (overrides agent.root)")
	flagSet.BoolVar(&f.cliAuth, "cli-auth", false, "launch the agent through the package runner (overrides agent.useCliAuth)")
	flagSet.StringVarP(&f.prompt, "prompt", "p", "", "send a single prompt and exit")
	flagSet.StringVar(&f.issueKey, "issue", "", "Jira issue key to prepend to the first prompt")
	flagSet.StringVar(&f.jql, "jql", "", "list Jira tickets matching this query and exit")
	flagSet.IntVar(&f.maxTickets, "max-tickets", defaultMaxTickets, "maximum number of tickets listed by --jql")
	flagSet.BoolVarP(&f.help, "help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		return nil, flagSet, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, flagSet, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if f.jql != "" && f.issueKey != "" {
		return nil, flagSet, errors.New("--jql and --issue are mutually exclusive")
	}
	if f.maxTickets <= 0 {
		return nil, flagSet, errors.New("--max-tickets must be positive")
	}
	f.rootSet = flagSet.Changed("root")
	f.cliAuthSet = flagSet.Changed("cli-auth")
	return f, flagSet, nil
}

func (f *cliFlags) apply(cfg *config.Config) {
	if f.rootSet {
		cfg.Agent.Root = f.root
	}
	if f.cliAuthSet {
		cfg.Agent.UseCLIAuth = f.cliAuth
	}
}

func run() error {
	flags, flagSet, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flags.help {
		fmt.Fprintf(os.Stderr, "Usage: acpbridge [flags]\n\n%s", flagSet.FlagUsages())
		return nil
	}

	cfg, err := config.LoadWithPath(flags.configDir)
	if err != nil {
		return err
	}
	flags.apply(cfg)

	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tracing.Init(ctx, cfg.Tracing.Endpoint, runtime.Version); err != nil {
		log.Warn("tracing disabled", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tracing.Shutdown(sctx); err != nil {
			log.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	if cfg.Metrics.ListenAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.ListenAddr, log); err != nil {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	var jiraClient *jira.Client
	if flags.issueKey != "" || flags.jql != "" {
		if !cfg.Jira.Configured() {
			return errors.New("--issue and --jql require jira.baseUrl, jira.email and jira.apiToken")
		}
		jiraClient, err = jira.NewClient(cfg.Jira.BaseURL, cfg.Jira.Email, cfg.Jira.APIToken,
			jira.WithLogger(log),
			jira.WithRateLimit(cfg.Jira.RequestsPerSecond, cfg.Jira.Burst))
		if err != nil {
			return err
		}
	}

	if flags.jql != "" {
		return listTickets(ctx, jiraClient, flags.jql, flags.maxTickets, os.Stdout)
	}

	log.Info("starting acpbridge",
		zap.String("root", cfg.Agent.Root),
		zap.Bool("use_cli_auth", cfg.Agent.UseCLIAuth),
		zap.String("issue", flags.issueKey))

	state := appstate.New(runtime.Options{
		Launcher: process.Launcher{
			Binary:         cfg.Agent.Binary,
			Runner:         cfg.Agent.Runner,
			RunnerPackage:  cfg.Agent.RunnerPackage,
			PermissionMode: cfg.Agent.PermissionMode,
		},
		HandshakeTimeout: cfg.Agent.HandshakeTimeoutDuration(),
		Logger:           log,
	}, log)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := state.Stop(sctx); err != nil {
			log.Error("error stopping ACP runtime", zap.Error(err))
		}
	}()

	// The agent handshake and the ticket lookup are independent.
	var preamble string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sessionID, err := state.Start(gctx, cfg.Agent.Root, cfg.Agent.UseCLIAuth)
		if err != nil {
			return err
		}
		log.Info("agent session ready", zap.String("session_id", string(sessionID)))
		return nil
	})
	if jiraClient != nil {
		g.Go(func() error {
			issue, err := jiraClient.GetIssue(gctx, flags.issueKey)
			if err != nil {
				return err
			}
			preamble = jira.TicketFromIssue(issue, flags.issueKey).Prompt()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if flags.prompt != "" {
		return sendOne(ctx, state, joinPrompt(preamble, flags.prompt), os.Stdout)
	}
	return repl(ctx, state, preamble, os.Stdin, os.Stdout)
}
