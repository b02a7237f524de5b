// Standalone mock task API for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/taskpoll watch -c example/tasks.yaml
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jpalmerr/taskpoll/example/mocktasks"
)

func main() {
	srv := mocktasks.New(0.25)

	// fixed jobs referenced by example/tasks.yaml
	srv.Submit("demo-1", 15*time.Second, false)
	srv.Submit("demo-2", 25*time.Second, false)
	srv.Submit("demo-3", 20*time.Second, true)
	srv.Submit("report", 40*time.Second, false)

	fmt.Println("Mock task API starting on :9999")
	fmt.Println("Jobs go: queued → running → succeeded or failed")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	if err := http.ListenAndServe(":9999", srv.Handler()); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
