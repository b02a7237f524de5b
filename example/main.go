// Example program: submits a few jobs to a mock task API and watches them
// until they finish.
//
// Usage:
//
//	go run ./example
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/taskpoll"
	"github.com/jpalmerr/taskpoll/example/mocktasks"
)

const mockAddr = "localhost:9999"

func main() {
	// start mock task API (see mocktasks)
	go func() {
		if err := http.ListenAndServe(mockAddr, mocktasks.New(0.25).Handler()); err != nil {
			slog.Error("mock server error", "error", err)
			os.Exit(1)
		}
	}()
	time.Sleep(100 * time.Millisecond)

	ids, err := submitJobs(4)
	if err != nil {
		slog.Error("failed to submit jobs", "error", err)
		os.Exit(1)
	}

	// one task per submitted job
	tasks, err := taskpoll.NewTaskBatch("render",
		"http://"+mockAddr+"/tasks/{{.id}}",
		ids,
		taskpoll.WithProgressPath("progress"),
		taskpoll.WithResultPath("output_url"),
		taskpoll.WithLabels("source", "example"),
	)
	if err != nil {
		slog.Error("failed to create tasks", "error", err)
		os.Exit(1)
	}

	w, err := taskpoll.NewWatcher(
		taskpoll.WithTasks(tasks...),
		taskpoll.WithPort(8080),
		taskpoll.WithMaxConcurrency(2),
		taskpoll.WithConsecutiveErrorLimit(5),
		taskpoll.WithDefaults(
			taskpoll.WithInterval(time.Second),
			taskpoll.WithMaxDuration(2*time.Minute),
			taskpoll.WithProgressMode(taskpoll.ProgressFast),
		),
		taskpoll.WithUpdateCallback(printUpdate),
	)
	if err != nil {
		slog.Error("failed to create watcher", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  taskpoll demo")
	fmt.Printf("  watching %d render jobs\n", len(tasks))
	fmt.Println("  live state: http://localhost:8080/api/tasks")
	fmt.Println("  press Ctrl+C to stop")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := w.Run(ctx); err != nil {
		slog.Error("watch error", "error", err)
		os.Exit(1)
	}
}

// submitJobs starts n jobs and returns their IDs.
func submitJobs(n int) ([]string, error) {
	ids := make([]string, 0, n)
	for range n {
		resp, err := http.Post("http://"+mockAddr+"/tasks", "application/json", bytes.NewReader(nil))
		if err != nil {
			return nil, err
		}
		var job mocktasks.JobView
		err = json.NewDecoder(resp.Body).Decode(&job)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode job: %w", err)
		}
		ids = append(ids, job.ID)
	}
	return ids, nil
}

func printUpdate(u taskpoll.TaskUpdate) {
	switch u.Event {
	case taskpoll.EventProgress:
		fmt.Printf("  %-44s %3.0f%%\n", u.Name, u.Progress)
	case taskpoll.EventSucceeded:
		fmt.Printf("  %-44s done: %s\n", u.Name, u.Result)
	case taskpoll.EventFailed, taskpoll.EventTimedOut, taskpoll.EventAborted:
		fmt.Printf("  %-44s %s (status %q)\n", u.Name, u.Event, u.Status)
	}
}
