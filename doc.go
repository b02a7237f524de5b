// Package taskpoll watches long-running remote tasks until they finish.
//
// A remote task is anything started elsewhere whose state can be checked by
// a request: a video render, a report export, a batch import. taskpoll
// repeats that check on an interval, classifies the answer as pending,
// succeeded or failed, and reports a monotonically increasing progress
// percentage in the meantime.
//
// # Poller
//
// [Poller] is the core state machine. It is generic over the response type
// and knows nothing about HTTP:
//
//	p, err := taskpoll.New(
//	    func(ctx context.Context) (Job, error) { return api.GetJob(ctx, id) },
//	    taskpoll.Handlers[Job]{
//	        OnProgress: func(pct float64, _ taskpoll.Context[Job]) { bar.Set(pct) },
//	        OnSuccess:  func(job Job, _ taskpoll.Context[Job]) { fmt.Println(job.URL) },
//	    },
//	    taskpoll.WithInterval(3*time.Second),
//	    taskpoll.WithMaxDuration(5*time.Minute),
//	    taskpoll.WithProgressMode(taskpoll.ProgressFast),
//	)
//	if err != nil {
//	    return err
//	}
//	err = p.Run(ctx) // blocks until a terminal outcome
//
// Progress is simulated while the backend reports nothing better. Once the
// status becomes successful progress jumps to 100; until then it never
// exceeds 99 and never decreases.
//
// Transient errors are retried on the next tick. The error policy set with
// [WithContinueOnError] decides which errors are fatal; the default,
// [DefaultContinueOnError], stops on 5xx responses and cancellation.
//
// # HTTP tasks
//
// [HTTPTask] describes a task whose status lives behind a URL. Its JSON
// response is read through dot paths:
//
//	task, err := taskpoll.NewHTTPTask("render", "https://api.example.com/renders/42",
//	    taskpoll.WithHeaders("Authorization", "Bearer "+token),
//	    taskpoll.WithStatusPath("data.state"),
//	    taskpoll.WithProgressPath("data.percent"),
//	    taskpoll.WithResultPath("data.output_url"),
//	)
//
// [NewTaskBatch] expands a URL template into one task per ID.
//
// # Watcher
//
// [Watcher] runs one poller per task with shared concurrency limits, an
// optional consecutive-error cap and an optional JSON API:
//
//	w, err := taskpoll.NewWatcher(
//	    taskpoll.WithTasks(tasks...),
//	    taskpoll.WithMaxConcurrency(5),
//	    taskpoll.WithPort(8080),
//	)
//	if err != nil {
//	    return err
//	}
//	err = w.Run(ctx)
//
// # Architecture
//
// Supporting packages live under internal/:
//
//   - internal/fetch: pooled HTTP client for status checks
//   - internal/store: in-memory task state with pub/sub for live updates
//   - internal/server: REST API and Server-Sent Events over the store
//
// The config package loads watcher definitions from YAML and cmd/taskpoll
// is the command-line front end.
package taskpoll
