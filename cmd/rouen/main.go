// Package main provides rouen, a card dashboard shell: panels addressed by
// URI, rendered side by side in one frame loop.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"rouen/internal/blobcache"
	"rouen/internal/cards/rss"
	"rouen/internal/dbkit"
	"rouen/internal/envx"
	"rouen/internal/shell"
	"rouen/internal/ui"
)

func main() {
	os.Exit(run())
}

func run() int {
	// .env values become part of the process environment before the env
	// map is taken.
	_ = godotenv.Load()

	env := envx.Map(os.Environ())

	flags := flag.NewFlagSet("rouen", flag.ContinueOnError)

	configPath := flags.StringP("config", "c", "", "use specified config file")
	workDir := flags.StringP("cwd", "C", "", "run as if started in this directory")
	logLevel := flags.String("log-level", "", "override log level (debug|info|warn|error)")
	headless := flags.Bool("headless", false, "run the frame loop without the interactive console")
	repairDB := flags.String("repair", "", "repair the named database file and exit")

	err := flags.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)

		return 1
	}

	cfg, err := shell.LoadConfig(shell.LoadConfigInput{
		WorkDir:    *workDir,
		ConfigPath: *configPath,
		Env:        env,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)

		return 1
	}

	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: bad log level:", cfg.LogLevel)

		return 1
	}

	logrus.SetLevel(level)

	if *repairDB != "" {
		return runRepair(*repairDB)
	}

	// Positional arguments are start URIs, joining the configured list.
	cfg.StartCards = append(cfg.StartCards, flags.Args()...)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	tk := ui.NewHeadless(0)

	sh, err := shell.New(cfg, env, tk)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)

		return 1
	}

	if *headless {
		sh.Run(sigCh)

		return 0
	}

	return runConsole(sh, tk, sigCh)
}

// runRepair rebuilds a known database from its authoritative schema. The
// schema is selected by file name; the corrupt file survives as a
// timestamped backup.
func runRepair(path string) int {
	var tables []dbkit.Table

	switch filepath.Base(path) {
	case "rss.sqlite":
		tables = rss.Schema
	case "blobs.sqlite":
		tables = []dbkit.Table{blobcache.Schema}
	default:
		fmt.Fprintln(os.Stderr, "error: no authoritative schema for", filepath.Base(path))

		return 1
	}

	report, err := dbkit.Repair(path, tables)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)

		return 1
	}

	fmt.Println("backup:", report.BackupPath)

	for table, rows := range report.Copied {
		fmt.Printf("recovered %s: %d rows\n", table, rows)
	}

	for _, table := range report.Skipped {
		fmt.Printf("skipped %s: not recoverable\n", table)
	}

	return 0
}
