// Copyright 2025 The CodeServe Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package main implements the codeserve completion server and its debug tools.

codeserve serves language aware identifier completions to code editors. Each
language has a corpus of keywords, builtins and standard library names,
indexed in a Patricia trie. Editors drive one completion session per view
over a MessagePack stream on stdin/stdout.

# Usage

Start the IPC server with default settings:

	codeserve

Use an extra corpus directory, debug logs and a Prometheus endpoint:

	codeserve serve --data ~/corpora -d --metrics-addr 127.0.0.1:9464

Try the matcher interactively or once:

	codeserve console --lang rust
	codeserve complete cpp vec

Dump a builtin corpus as a template for a corpus directory file:

	codeserve export rust --format yaml > ~/corpora/rust.yaml

# Corpora

The builtin corpora cover c, cpp, python, rust, javascript, typescript and go.
A corpus directory holds files named <language>.<ext> in JSON, YAML, TOML or
MessagePack; they shadow the builtin corpus of the same language and are
reloaded when they change.

# Configuration

Runtime configuration lives in config.toml under the user config directory
and is created with defaults on first run:

	[engine]
	max_results = 10
	budget_ms = 16

	[corpus]
	memory_budget_mb = 50
	preload = ["c", "cpp", "python", "rust", "javascript"]

	[controller]
	debounce_ms = 50

	[triggers]
	cpp = [".", "->", "::"]

The IPC protocol is described in the server package.
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/bastiangx/codeserve/internal/app"
	"github.com/bastiangx/codeserve/internal/cli"
	"github.com/bastiangx/codeserve/internal/logger"
	"github.com/bastiangx/codeserve/internal/utils"
	"github.com/bastiangx/codeserve/pkg/config"
	"github.com/bastiangx/codeserve/pkg/server"
)

const (
	Version = "0.1.0-beta"
	gh      = "https://github.com/bastiangx/codeserve"
)

var (
	configPath string
	dataDir    string
	debugMode  bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           app.Name,
		Short:         "Serves fast identifier completions to code editors",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Setup(debugMode)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), "", true)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.toml")
	root.PersistentFlags().StringVar(&dataDir, "data", "", "Directory with extra corpus files")
	root.PersistentFlags().BoolVarP(&debugMode, "debug", "d", false, "Toggle debug mode")

	root.AddCommand(serveCmd(), consoleCmd(), completeCmd(), languagesCmd(), exportCmd(), configCmd(), versionCmd())
	return root
}

func serveCmd() *cobra.Command {
	var metricsAddr string
	var noPreload bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MessagePack IPC server on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), metricsAddr, !noPreload)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&noPreload, "no-preload", false, "Do not warm up the common corpora")
	return cmd
}

func consoleCmd() *cobra.Command {
	var lang string
	var limit int
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Interactive prefix console for debugging",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := setup()
			if limit <= 0 {
				limit = a.Config.Engine.MaxResults
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return cli.NewInputHandler(a.Store, a.Engine, lang, limit, os.Stdin, os.Stdout).Start(ctx)
		},
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", "cpp", "Language to complete")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Number of suggestions (default from config)")
	return cmd
}

func completeCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "complete <language> <prefix>",
		Short: "Print the ranked completions for one prefix",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := setup()
			lang, prefix := args[0], args[1]
			if !a.Store.Supports(lang) {
				return fmt.Errorf("no corpus for language %q", lang)
			}
			c := a.Store.LoadCorpus(cmd.Context(), lang)
			res := a.Engine.MatchDetailed(prefix, c, limit)
			for _, s := range res.Suggestions {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d\n", s.Text, s.Kind, s.Score)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Number of suggestions (default from config)")
	return cmd
}

func languagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List the languages with a corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := setup()
			for _, lang := range a.Store.Languages() {
				fmt.Fprintln(cmd.OutOrStdout(), lang)
			}
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export <language>",
		Short: "Write a corpus to stdout, e.g. as a starting point for a corpus directory file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := setup()
			data, err := a.Export(cmd.Context(), args[0], format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json, yaml, toml or msgpack")
	return cmd
}

func configCmd() *cobra.Command {
	var rebuild bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the active config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rebuild {
				if err := config.RebuildConfigFile(); err != nil {
					return fmt.Errorf("rebuilding config: %w", err)
				}
			}
			_, used, _ := config.LoadConfigWithPriority(configPath)
			fmt.Fprintln(cmd.OutOrStdout(), config.GetActiveConfigPath(used))
			return nil
		},
	}
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Overwrite the default config.toml with defaults")
	return cmd
}

func versionCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			showVersion(verbose)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Include runtime and path details")
	return cmd
}

// setup loads the config and builds the shared components.
func setup() *app.App {
	cfg, used, _ := config.LoadConfigWithPriority(configPath)
	log.Debugf("Using config: %s", config.GetActiveConfigPath(used))
	return app.New(cfg, dataDir)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// runServe starts the IPC server. stdout carries the protocol, so every log
// line goes to stderr.
func runServe(parent context.Context, metricsAddr string, preload bool) error {
	logger.SetOutput(os.Stderr)
	ctx, stop := signalContext(parent)
	defer stop()

	a := setup()
	if preload {
		a.Store.PreloadCommon(ctx)
	}

	if w, err := a.Watch(ctx); err != nil {
		log.Warnf("Corpus watcher disabled: %v", err)
	} else if w != nil {
		defer w.Stop()
	}

	if metricsAddr != "" {
		if err := a.ServeMetrics(ctx, metricsAddr); err != nil {
			return err
		}
	}

	showStartupInfo(a)
	srv := server.NewServer(a.Store, a.Engine, a.ServerOptions(), os.Stdin, os.Stdout)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// showStartupInfo logs basic info about the init process at debug level.
func showStartupInfo(a *app.App) {
	corpusDir := a.CorpusDir
	if corpusDir == "" {
		corpusDir = "builtin only"
	}
	log.Debug("codeserve ready",
		"version", Version,
		"pid", os.Getpid(),
		"corpora", corpusDir,
		"memory_budget", utils.FormatBytes(a.Store.MemoryBudget()),
		"debounce", a.Config.Controller.Debounce())
}

func showVersion(verbose bool) {
	l := log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    false,
		ReportTimestamp: false,
	})

	styles := log.DefaultStyles()
	styles.Values["version"] = lipgloss.NewStyle().Bold(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#575279", Dark: "#e0def4"}).
		Background(lipgloss.AdaptiveColor{Light: "#f2e9e1", Dark: "#26233a"})
	styles.Values["gh"] = lipgloss.NewStyle().Italic(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#575279", Dark: "#e0def4"})
	l.SetStyles(styles)

	l.Print("")
	l.Print("[ CodeServe ] Serves really fast code completions!")
	l.Print("", "version", Version)
	l.Print("")
	l.Print("use -h or --help to see available options")
	l.Print("Github Repo", "gh", gh)

	if !verbose {
		return
	}
	pr, err := utils.NewPathResolver(app.Name)
	if err != nil {
		l.Warn("Could not inspect runtime", "err", err)
		return
	}
	info := pr.RuntimeInfo()
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	l.Print("")
	for _, k := range keys {
		l.Print(k, "value", info[k])
	}
}
