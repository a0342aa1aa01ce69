// Package main is the entry point for the janitor, the portal's maintenance
// multiplexer.
//
// Under AWS Lambda (AWS_LAMBDA_RUNTIME_API set) each EventBridge event
// carries a MaintenancePayload naming one task. Outside Lambda the janitor
// runs the scheduled tasks in order, either once (-once) or every
// JANITOR_INTERVAL until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"

	"dfsportal/internal/app"
	"dfsportal/internal/config"
	"dfsportal/internal/logging"
	"dfsportal/internal/metrics"
	"dfsportal/internal/scheduler"
)

func main() {
	once := flag.Bool("once", false, "run the tasks once and exit")
	taskList := flag.String("tasks", "", "comma-separated tasks to run (default: every scheduled task)")
	flag.Parse()

	if err := run(*once, *taskList); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(once bool, taskList string) error {
	cfg, err := config.LoadConfig(config.NewEnvVarProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := logging.New(cfg).With("component", "janitor")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Bootstrap(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	rec, cw, err := deps.Metrics(ctx)
	if err != nil {
		return err
	}

	// Identifies this instance as the owner of job locks.
	workerID := uuid.NewString()
	runner, err := deps.Runner(ctx, rec, workerID)
	if err != nil {
		return err
	}

	if isLambdaEnvironment() {
		logger.Info("janitor initialized in Lambda mode", "worker_id", workerID)
		lambda.Start(lambdaHandler(runner, cw, logger))
		return nil
	}

	tasks, err := parseTasks(taskList, app.ScheduledTasks(runner))
	if err != nil {
		return err
	}
	logger.Info("janitor started", "worker_id", workerID, "tasks", tasks, "once", once)

	if once {
		err := runTasks(ctx, runner, tasks, logger)
		flushMetrics(cw, logger)
		return err
	}
	loop(ctx, runner, tasks, cfg.Janitor.Interval, cw, logger)
	return nil
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	return hasRuntimeAPI
}

// lambdaHandler runs one payload per invocation. Buffered metrics are
// flushed before returning because the sandbox may be frozen afterwards.
func lambdaHandler(runner *scheduler.Runner, cw *metrics.Recorder, logger *slog.Logger) func(context.Context, scheduler.MaintenancePayload) (string, error) {
	return func(ctx context.Context, payload scheduler.MaintenancePayload) (string, error) {
		defer flushMetrics(cw, logger)
		return runner.Handle(ctx, payload)
	}
}

// parseTasks resolves the -tasks flag. An empty list selects defaults.
func parseTasks(list string, defaults []scheduler.TaskType) ([]scheduler.TaskType, error) {
	if strings.TrimSpace(list) == "" {
		return defaults, nil
	}
	known := map[scheduler.TaskType]bool{
		scheduler.TaskCleanupExpiredDrafts: true,
		scheduler.TaskNotifyExpiringDrafts: true,
		scheduler.TaskMigratePermissions:   true,
	}
	var tasks []scheduler.TaskType
	for _, name := range strings.Split(list, ",") {
		t := scheduler.TaskType(strings.TrimSpace(name))
		if t == "" {
			continue
		}
		if !known[t] {
			return nil, fmt.Errorf("%w: %q", scheduler.ErrUnknownTask, t)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// runTasks runs every task in order. A failing task does not stop the
// others; all failures are returned together.
func runTasks(ctx context.Context, runner *scheduler.Runner, tasks []scheduler.TaskType, logger *slog.Logger) error {
	var errs []error
	for _, t := range tasks {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		result, err := runner.Handle(ctx, scheduler.MaintenancePayload{Task: t})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		logger.InfoContext(ctx, result, "task", t)
	}
	return errors.Join(errs...)
}

// loop runs the tasks immediately and then every interval until ctx is done.
func loop(ctx context.Context, runner *scheduler.Runner, tasks []scheduler.TaskType, interval time.Duration, cw *metrics.Recorder, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := runTasks(ctx, runner, tasks, logger); err != nil && ctx.Err() == nil {
			logger.ErrorContext(ctx, "maintenance run failed", "error", err)
		}
		flushMetrics(cw, logger)

		select {
		case <-ctx.Done():
			logger.Info("janitor stopped")
			return
		case <-ticker.C:
		}
	}
}

func flushMetrics(cw *metrics.Recorder, logger *slog.Logger) {
	if cw == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cw.Flush(ctx); err != nil {
		logger.Warn("metric flush failed", "error", err)
	}
}
