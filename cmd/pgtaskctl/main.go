// Command pgtaskctl is the thin CLI shell over pgtask's core contracts
// (spec §6): worker, defer, schema, healthchecks, shell. None of these
// verbs carry queue logic of their own; they all delegate to
// pgtask/postgres and pgtask itself, which is where the spec places the
// actual behavior.
//
// pgtaskctl has no knowledge of application-specific tasks: a real
// deployment embeds pgtask as a library, builds its own Registry, and
// calls pgtask.NewWorker directly. The "worker" verb here starts a
// worker with an empty Registry, useful only for exercising fetch/retry
// wiring against a live database with no handlers registered (every
// fetched job will finish as TaskNotFound).
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hollowroad/pgtask"
	"github.com/hollowroad/pgtask/job"
	"github.com/hollowroad/pgtask/postgres"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: pgtaskctl <worker|defer|schema|healthchecks|shell> [flags]")
		return 2
	}

	dsn := os.Getenv("DATABASE_URL")

	switch args[0] {
	case "worker":
		return cmdWorker(args[1:], dsn)
	case "defer":
		return cmdDefer(args[1:], dsn)
	case "schema":
		return cmdSchema(args[1:], dsn)
	case "healthchecks":
		return cmdHealthchecks(args[1:], dsn)
	case "shell":
		return cmdShell(args[1:], dsn)
	default:
		fmt.Fprintf(os.Stderr, "pgtaskctl: unknown command %q\n", args[0])
		return 2
	}
}

func connect(ctx context.Context, dsn string) (*pgxpool.Pool, *postgres.Connector, error) {
	if dsn == "" {
		return nil, nil, errors.New("DATABASE_URL is not set")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, postgres.NewConnector(pool, dsn, slog.Default()), nil
}

func cmdSchema(args []string, dsn string) int {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	apply := fs.Bool("apply", false, "create tables/indexes/triggers if they do not exist")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !*apply {
		fmt.Fprintln(os.Stderr, "pgtaskctl schema: pass --apply to create the schema")
		return 2
	}

	ctx := context.Background()
	db, err := postgres.OpenBun(dsn)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pgtaskctl:", err)
		return 1
	}
	defer db.Close()

	if err := postgres.Bootstrap(ctx, db); err != nil {
		fmt.Fprintln(os.Stderr, "pgtaskctl: schema apply failed:", err)
		return 1
	}
	fmt.Println("schema applied")
	return 0
}

func cmdHealthchecks(args []string, dsn string) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, conn, err := connect(ctx, dsn)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pgtaskctl: database unreachable:", err)
		return 1
	}
	defer pool.Close()

	sink := make(chan pgtask.Notification, 1)
	if err := conn.Listen(ctx, "pgtask_healthcheck", sink); err != nil {
		fmt.Fprintln(os.Stderr, "pgtaskctl: cannot acquire LISTEN connection:", err)
		return 1
	}

	fmt.Println("database reachable, LISTEN connection acquired")
	return 0
}

func cmdDefer(args []string, dsn string) int {
	fs := flag.NewFlagSet("defer", flag.ContinueOnError)
	queue := fs.String("queue", "default", "queue name")
	lock := fs.String("queueing-lock", "", "queueing lock key")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) < 1 {
		fmt.Fprintln(os.Stderr, "usage: pgtaskctl defer [--queue Q] [--queueing-lock KEY] TASK [ARGS_JSON]")
		return 2
	}
	task := rest[0]
	var taskArgs map[string]any
	if len(rest) > 1 {
		if err := json.Unmarshal([]byte(rest[1]), &taskArgs); err != nil {
			fmt.Fprintln(os.Stderr, "pgtaskctl: invalid ARGS_JSON:", err)
			return 2
		}
	}

	ctx := context.Background()
	pool, conn, err := connect(ctx, dsn)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pgtaskctl:", err)
		return 1
	}
	defer pool.Close()

	db, err := postgres.OpenBun(dsn)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pgtaskctl:", err)
		return 1
	}
	defer db.Close()

	store := postgres.NewStore(conn, db)
	spec := pgtask.JobSpec{Queue: *queue, Task: task, Args: taskArgs}
	if *lock != "" {
		spec.QueueingLock = lock
	}
	id, err := store.Defer(ctx, spec)
	if err != nil {
		if errors.Is(err, pgtask.ErrAlreadyEnqueued) {
			fmt.Fprintln(os.Stderr, "pgtaskctl: already enqueued under that queueing lock")
			return 1
		}
		fmt.Fprintln(os.Stderr, "pgtaskctl: defer failed:", err)
		return 1
	}
	fmt.Println("deferred job", id)
	return 0
}

func cmdWorker(args []string, dsn string) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	queues := fs.String("queues", "", "comma-separated queue subset (default: all)")
	concurrency := fs.Int("concurrency", 4, "number of sub-workers")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, conn, err := connect(ctx, dsn)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pgtaskctl:", err)
		return 1
	}
	defer pool.Close()

	db, err := postgres.OpenBun(dsn)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pgtaskctl:", err)
		return 1
	}
	defer db.Close()
	if err := postgres.Bootstrap(ctx, db); err != nil {
		fmt.Fprintln(os.Stderr, "pgtaskctl: schema bootstrap failed:", err)
		return 1
	}

	store := postgres.NewStore(conn, db)
	registry := pgtask.NewRegistry()

	cfg := pgtask.Config{Concurrency: *concurrency}
	if *queues != "" {
		cfg.Queues = strings.Split(*queues, ",")
	}

	worker := pgtask.NewWorker(store, conn, registry, cfg)
	if err := worker.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "pgtaskctl: worker start failed:", err)
		return 1
	}

	janitor := pgtask.NewJanitor(store, 5*time.Minute, time.Minute, slog.Default())
	if err := janitor.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "pgtaskctl: janitor start failed:", err)
		return 1
	}

	<-ctx.Done()
	_ = janitor.Stop(10 * time.Second)
	if err := worker.Stop(30 * time.Second); err != nil {
		fmt.Fprintln(os.Stderr, "pgtaskctl: shutdown:", err)
		return 1
	}
	return 0
}

// cmdShell is a minimal REPL for operators (spec §6 "shell"), explicitly
// out of core scope: it supports "list [status]" and "cancel ID" only.
func cmdShell(args []string, dsn string) int {
	ctx := context.Background()
	pool, conn, err := connect(ctx, dsn)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pgtaskctl:", err)
		return 1
	}
	defer pool.Close()

	db, err := postgres.OpenBun(dsn)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pgtaskctl:", err)
		return 1
	}
	defer db.Close()

	store := postgres.NewStore(conn, db)
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("pgtaskctl shell. Commands: list [status], cancel <id>, quit")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "quit", "exit":
			return 0
		case "list":
			filter := pgtask.ListFilter{Limit: 20}
			if len(fields) > 1 {
				st, err := job.ParseStatus(fields[1])
				if err != nil {
					fmt.Fprintln(os.Stderr, "unknown status:", fields[1])
					continue
				}
				filter.Status = st
			}
			jobs, err := store.ListJobs(ctx, filter)
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				continue
			}
			for _, jb := range jobs {
				fmt.Printf("%d\t%s\t%s\t%s\tattempts=%d\n", jb.ID, jb.Queue, jb.Task, jb.Status, jb.Attempts)
			}
		case "cancel":
			if len(fields) < 2 {
				fmt.Fprintln(os.Stderr, "usage: cancel <id>")
				continue
			}
			id, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				fmt.Fprintln(os.Stderr, "invalid id:", fields[1])
				continue
			}
			if err := store.CancelJob(ctx, id); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				continue
			}
			fmt.Println("canceled (or already doing/terminal, no-op)")
		default:
			fmt.Fprintln(os.Stderr, "unknown command:", fields[0])
		}
	}
	return 0
}
