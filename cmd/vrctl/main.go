// main.go - Control tool for the Web Vitals report service
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"vitalsreport/internal"
	"vitalsreport/internal/config"
	"vitalsreport/internal/report"
	"vitalsreport/internal/timeframe"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// The set of available commands
var commands = []Command{
	&ReportCommand{},
	&ClearCacheCommand{},
	&PruneCommand{},
	&MigrateCommand{},
	&StatusCommand{},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	// Cancelling the context aborts a running report.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, aborting...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()

	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	var app *internal.Application
	if _, isHelp := cmd.(*HelpCommand); !isHelp {
		var err error
		app, err = internal.NewApp()
		if err != nil {
			log.Printf("Warning: Failed to initialize app: %v", err)
			log.Println("Proceeding with limited functionality...")
		}
	}

	err := cmd.Execute(ctx, app, args)

	if app != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		if err := app.Shutdown(shutdownCtx); err != nil {
			log.Printf("Warning: Cleanup error: %v", err)
		}
		cancelShutdown()
	}

	if err != nil {
		var userErr report.UserFacing
		if errors.As(err, &userErr) {
			log.Fatalf("%s: %s", userErr.Title(), userErr.Message())
		}
		log.Fatalf("Command failed: %v", err)
	}

	log.Printf("Command %s completed successfully", cmd.Name())
}

// ReportCommand builds a report from a YAML definition
type ReportCommand struct{}

func (c *ReportCommand) Name() string { return "report" }
func (c *ReportCommand) Description() string {
	return "Builds a report from a YAML definition (report [-o out.json] [-small] <file|->)"
}

func (c *ReportCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	out := fs.String("o", "", "write the full result as JSON to this file")
	small := fs.Bool("small", false, "accept sampled data and bypass the cache")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: %s [-o out.json] [-small] <definition.yaml|->", c.Name())
	}
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot build report")
	}

	def, err := LoadDefinition(fs.Arg(0))
	if err != nil {
		return err
	}
	if *small {
		def.Sampling = report.SamplingForcedSmall
	}
	req, err := def.Request(timeframe.SystemClock{})
	if err != nil {
		return fmt.Errorf("invalid report definition: %w", err)
	}

	svc := app.Services
	if term.IsTerminal(int(os.Stderr.Fd())) {
		watchCtx, stopWatch := context.WithCancel(ctx)
		defer stopWatch()
		go watchProgress(watchCtx, os.Stderr, svc.Progress)
	}

	res, err := svc.Orchestrator.Run(ctx, req)
	if err != nil {
		return err
	}

	printSummary(os.Stdout, req, res)

	if *out != "" {
		raw, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		if err := os.WriteFile(*out, raw, 0o644); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
		log.Printf("Result written to %s", *out)
	}
	return nil
}

// ClearCacheCommand empties the report cache
type ClearCacheCommand struct{}

func (c *ClearCacheCommand) Name() string        { return "clear-cache" }
func (c *ClearCacheCommand) Description() string { return "Deletes every cached report entry" }

func (c *ClearCacheCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot clear cache")
	}
	if err := app.Services.Orchestrator.ClearCache(ctx); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	log.Println("Cache cleared")
	return nil
}

// PruneCommand applies cache retention now
type PruneCommand struct{}

func (c *PruneCommand) Name() string { return "prune" }
func (c *PruneCommand) Description() string {
	return "Removes cache entries older than the retention period"
}

func (c *PruneCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot prune cache")
	}
	return app.Services.Scheduler.RunCleanup(ctx)
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot run migrations")
	}

	log.Println("Running database migrations...")
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Println("Migrations completed successfully")
	return nil
}

// StatusCommand reports configuration and database health
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Shows system status" }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("cannot check status: app initialization failed")
	}
	cfg := app.Services.Config

	db := app.DBManager.GetConnection()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	log.Println("System Status:")
	log.Println("- Database: Connected")
	log.Printf("- Cache backend: %s", cfg.CacheBackend)
	if cfg.CacheBackend == config.CacheBackendBadger {
		log.Printf("- Badger path: %s", cfg.BadgerPath)
	}
	log.Printf("- Cache retention: %d days", cfg.CacheRetentionDays)
	log.Printf("- API: %s", cfg.APIBaseURL)
	log.Printf("- Max concurrent requests: %d", cfg.MaxConcurrentRequests)
	if cfg.RequestsPerSecond > 0 {
		log.Printf("- Requests per second: %.2f", cfg.RequestsPerSecond)
	}
	log.Printf("- Page size: %s", printer.Sprintf("%d", cfg.PageSize))

	log.Printf("- Max Open Connections: %d", sqlDB.Stats().MaxOpenConnections)
	log.Printf("- Open Connections: %d", sqlDB.Stats().OpenConnections)
	log.Printf("- In Use: %d", sqlDB.Stats().InUse)
	log.Printf("- Idle: %d", sqlDB.Stats().Idle)

	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage()
	return nil
}

// Helper functions

// parseArgs parses the command name and arguments
func parseArgs() (string, []string) {
	args := flag.Args()
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

// findCommand finds a command by name
func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: vrctl [command] [args...]")
	fmt.Println("Available commands:")

	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}
}

// showUsageAndExit shows usage information and exits
func showUsageAndExit() {
	printUsage()
	os.Exit(1)
}
