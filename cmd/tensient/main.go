package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/nelsonng/tensient/internal/capture"
	"github.com/nelsonng/tensient/internal/config"
	"github.com/nelsonng/tensient/internal/db"
	"github.com/nelsonng/tensient/internal/digest"
	"github.com/nelsonng/tensient/internal/lens"
	"github.com/nelsonng/tensient/internal/llm"
	"github.com/nelsonng/tensient/internal/logging"
	"github.com/nelsonng/tensient/internal/mcp"
	"github.com/nelsonng/tensient/internal/ops"
	"github.com/nelsonng/tensient/internal/usage"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"capture": true, "reprocess": true, "refine": true, "history": true,
	"canon": true, "digest": true, "actions": true, "document": true,
	"synthesize": true, "orient": true, "web": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	return isHelpOrVersion()
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
  tensient

  Strategic alignment and team knowledge layer

  Usage: tensient <command> [options]
         tensient --help

  MCP server mode requires piped input.`)
}

// runtime bundles the services every mode needs.
type runtime struct {
	cfg       *config.Config
	logger    *zap.Logger
	lenses    *lens.Catalog
	ops       ops.Deps
	processor *capture.Processor
	digests   *digest.Generator
}

func newRuntime(ctx context.Context, database *sql.DB, cfg *config.Config, logger *zap.Logger) (*runtime, error) {
	embedder, err := llm.NewEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}
	generator, err := llm.NewGenerator(ctx, cfg)
	if err != nil {
		return nil, err
	}
	lenses, err := lens.NewCatalog(cfg.LensesPath, logger)
	if err != nil {
		return nil, fmt.Errorf("load lenses: %w", err)
	}
	meter := usage.NewMeter(database, cfg.MonthlyTokenLimit)

	processor, err := capture.New(capture.Deps{
		DB:        database,
		Embedder:  embedder,
		Generator: generator,
		Lenses:    lenses,
		Meter:     meter,
		Logger:    logger,
	}, cfg)
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:    cfg,
		logger: logger,
		lenses: lenses,
		ops: ops.Deps{
			DB:        database,
			Embedder:  embedder,
			Generator: generator,
			Meter:     meter,
			Config:    cfg,
			Logger:    logger,
		},
		processor: processor,
		digests:   digest.New(database, generator, lenses, meter, cfg, logger),
	}, nil
}

// watchLenses reloads the lens catalog on file changes until ctx is done.
func (rt *runtime) watchLenses(ctx context.Context) {
	if rt.cfg.LensesPath == "" {
		return
	}
	go func() {
		if err := rt.lenses.Watch(ctx); err != nil {
			rt.logger.Warn("lens catalog watch stopped", zap.Error(err))
		}
	}()
}

func (rt *runtime) mcpDeps() mcp.Deps {
	return mcp.Deps{Ops: rt.ops, Processor: rt.processor, Digests: rt.digests}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		if err := newCLIApp(nil).Run(os.Args); err != nil {
			fatal("%v", err)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fatal("could not determine home directory: %v", err)
	}
	baseDir := filepath.Join(homeDir, config.DirName)

	cwd, err := os.Getwd()
	if err != nil {
		fatal("could not determine working directory: %v", err)
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fatal("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		fatal("%v", err)
	}
	defer func() { _ = logger.Sync() }()

	database, err := db.Init(baseDir)
	if err != nil {
		fatal("failed to initialize database: %v", err)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, database, cfg, logger)
	if err != nil {
		fatal("%v", err)
	}
	rt.watchLenses(ctx)

	// CLI mode: known subcommand
	if isCLIMode() {
		if err := newCLIApp(rt).RunContext(ctx, os.Args); err != nil {
			fatal("%v", err)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'tensient --help' for usage.\n")
		os.Exit(1)
	}

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logger.Warn("unknown disabled_tools entries", zap.Strings("names", unknown))
	}
	if unknown := mcp.ValidateDisabledTypes(cfg.DisabledTypes); len(unknown) > 0 {
		logger.Warn("unknown disabled_types entries", zap.Strings("names", unknown))
	}

	// MCP server mode (default)
	if err := mcp.Run(rt.mcpDeps(), cfg, Version); err != nil {
		fatal("%v", err)
	}
}
