// Command dobbinctl opens a dobbin database and exposes it through a
// small interactive REPL, the same role teacher's cmd/tk plays for the
// ticket tracker: a thin flag-parsing entrypoint (pflag) handing off to
// a liner-backed read-eval-print loop.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/dobbindb/dobbin/config"
	"github.com/dobbindb/dobbin/dobbin"
	"github.com/dobbindb/dobbin/internal/dobbinlog"
)

func main() {
	var (
		dbPath      = pflag.StringP("db", "d", "dobbin.log", "path to the transaction log file")
		configPath  = pflag.StringP("config", "c", "", "path to a .dobbin.json config file")
		lockTimeout = pflag.Duration("commit-lock-timeout", 5*time.Second, "how long to retry acquiring the commit lock")
		quiet       = pflag.BoolP("quiet", "q", false, "suppress the startup banner")
		writeConfig = pflag.Bool("save-config", false, "write the resolved configuration to the project config file")
	)

	pflag.Parse()

	workDir, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, "dobbinctl:", err)
		os.Exit(1)
	}

	cfg, err := config.Load(workDir, *configPath, config.Config{DataDir: *dbPath}, pflag.CommandLine.Changed("db"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "dobbinctl:", err)
		os.Exit(1)
	}

	if *writeConfig {
		target := *configPath
		if target == "" {
			target = filepath.Join(workDir, config.FileName)
		}

		if err := config.Save(target, cfg); err != nil {
			fmt.Fprintln(os.Stderr, "dobbinctl:", err)
			os.Exit(1)
		}
	}

	logger := dobbinlog.Default()

	db, err := dobbin.Open(*dbPath, dobbin.NewRegistry(),
		dobbin.WithLogger(logger),
		dobbin.WithCommitLockTimeout(*lockTimeout))
	if err != nil {
		fmt.Fprintln(os.Stderr, "dobbinctl: open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if !*quiet {
		fmt.Printf("dobbinctl: %s (data_dir=%s)\n", *dbPath, cfg.DataDir)
	}

	repl := newREPL(db)
	defer repl.Close()

	if err := repl.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "dobbinctl:", err)
		os.Exit(1)
	}
}
