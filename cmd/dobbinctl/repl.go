package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/dobbindb/dobbin/dobbin"
	"github.com/dobbindb/dobbin/persistent"
	"github.com/dobbindb/dobbin/txn"
)

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return historyFile
	}

	return filepath.Join(home, historyFile)
}

func readHistory() (*os.File, error) {
	return os.Open(historyPath())
}

func writeHistory(line *liner.State) error {
	f, err := os.Create(historyPath())
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = line.WriteHistory(f)

	return err
}

const historyFile = ".dobbinctl_history"

// repl is a liner-backed read-eval-print loop over a [dobbin.Database]'s
// root [persistent.Dict], the way teacher's cmd/tk REPL drives ticket
// commands one line at a time. Each command runs inside whatever
// transaction is currently open; "commit"/"abort" close it and open the
// next one.
type repl struct {
	db   *dobbin.Database
	line *liner.State
	mgr  *txn.Manager
	tx   *txn.Transaction
	root *persistent.Dict
}

func newREPL(db *dobbin.Database) *repl {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	if f, err := readHistory(); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}

	return &repl{db: db, line: line, mgr: db.Manager()}
}

func (r *repl) Close() error {
	_ = writeHistory(r.line)
	return r.line.Close()
}

// Run reads commands until "quit" or EOF, dispatching each to its
// handler inside the REPL's currently open transaction.
func (r *repl) Run() error {
	r.beginTx()

	for {
		input, err := r.line.Prompt("dobbin> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				return r.abortTx()
			}

			return fmt.Errorf("read command: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		r.line.AppendHistory(input)

		if done, err := r.dispatch(input); done {
			return err
		}
	}
}

func (r *repl) beginTx() {
	r.tx = r.mgr.Begin()

	root, ok := r.db.GetRoot()
	if !ok {
		root = persistent.NewDict("dobbinctl.root")

		if err := r.db.Checkout(r.tx, root); err != nil {
			fmt.Println("dobbinctl:", err)
			return
		}

		if err := r.db.SetRoot(r.tx, root); err != nil {
			fmt.Println("dobbinctl:", err)
			return
		}
	} else if err := r.db.Checkout(r.tx, root); err != nil {
		fmt.Println("dobbinctl:", err)
		return
	}

	dict, ok := root.(*persistent.Dict)
	if !ok {
		fmt.Printf("dobbinctl: root is a %s, not a dict; get/set/keys are unavailable\n", root.ClassTag())
		return
	}

	r.root = dict
}

func (r *repl) commitTx() error {
	if err := r.mgr.Commit(r.tx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	r.beginTx()

	return nil
}

func (r *repl) abortTx() error {
	return r.mgr.Abort(r.tx)
}

// dispatch runs one command line, returning done=true once the REPL
// should exit.
func (r *repl) dispatch(line string) (bool, error) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	if r.root == nil && (cmd == "get" || cmd == "set" || cmd == "del" || cmd == "keys") {
		fmt.Println("dobbinctl: root is not a dict; get/set/del/keys are unavailable")
		return false, nil
	}

	switch cmd {
	case "quit", "exit":
		return true, r.abortTx()

	case "get":
		if len(args) != 1 {
			fmt.Println("usage: get <key>")
			return false, nil
		}

		v, ok := r.root.Get(r.tx, args[0])
		if !ok {
			fmt.Println("(not set)")
			return false, nil
		}

		fmt.Println(v)

	case "set":
		if len(args) != 2 {
			fmt.Println("usage: set <key> <value>")
			return false, nil
		}

		if err := r.root.Set(r.tx, args[0], args[1]); err != nil {
			fmt.Println("dobbinctl:", err)
		}

	case "del":
		if len(args) != 1 {
			fmt.Println("usage: del <key>")
			return false, nil
		}

		if err := r.root.Delete(r.tx, args[0]); err != nil {
			fmt.Println("dobbinctl:", err)
		}

	case "keys":
		for _, k := range r.root.Keys(r.tx) {
			fmt.Println(k)
		}

	case "commit":
		if err := r.commitTx(); err != nil {
			fmt.Println("dobbinctl:", err)
		}

	case "abort":
		if err := r.abortTx(); err != nil {
			fmt.Println("dobbinctl:", err)
		}

		r.beginTx()

	case "inspect":
		cutoff := float64(0)

		if len(args) == 1 {
			v, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				fmt.Println("usage: inspect [timestamp]")
				return false, nil
			}

			cutoff = v
		}

		entries, err := r.db.Snapshot(cutoff)
		if err != nil {
			fmt.Println("dobbinctl:", err)
			return false, nil
		}

		for _, e := range entries {
			fmt.Printf("oid=%d class=%s ts=%v\n", e.OID, e.ClassTag, e.Timestamp)
		}

	default:
		fmt.Printf("unknown command %q\n", cmd)
	}

	return false, nil
}
