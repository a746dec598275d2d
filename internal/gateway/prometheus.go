package gateway

import (
	"fmt"
	"io"

	"github.com/whiteout-project/wosbot/internal/scheduler"
	"github.com/whiteout-project/wosbot/internal/store"
)

// writeMetrics emits the scheduler and queue counters in Prometheus text
// exposition format. Cardinality is tiny so we write the format by hand
// rather than pull in a client library.
func writeMetrics(w io.Writer, snap scheduler.Snapshot, counts map[store.Status]int64) {
	writeHelp(w, "wosbot_processes_admitted_total", "Processes admitted to the active slot.")
	writeType(w, "wosbot_processes_admitted_total", "counter")
	writeCounter(w, "wosbot_processes_admitted_total", snap.Admissions)

	writeHelp(w, "wosbot_processes_completed_total", "Processes finished successfully.")
	writeType(w, "wosbot_processes_completed_total", "counter")
	writeCounter(w, "wosbot_processes_completed_total", snap.Completions)

	writeHelp(w, "wosbot_processes_failed_total", "Processes that ended in failure.")
	writeType(w, "wosbot_processes_failed_total", "counter")
	writeCounter(w, "wosbot_processes_failed_total", snap.Failures)

	writeHelp(w, "wosbot_processes_preempted_total", "Processes preempted by higher-priority work.")
	writeType(w, "wosbot_processes_preempted_total", "counter")
	writeCounter(w, "wosbot_processes_preempted_total", snap.Preemptions)

	writeHelp(w, "wosbot_processes_yielded_total", "Handler runs that yielded after preemption.")
	writeType(w, "wosbot_processes_yielded_total", "counter")
	writeCounter(w, "wosbot_processes_yielded_total", snap.Yields)

	writeHelp(w, "wosbot_api_requests_total", "Requests sent to the game API.")
	writeType(w, "wosbot_api_requests_total", "counter")
	writeCounter(w, "wosbot_api_requests_total", snap.APIRequests)

	writeHelp(w, "wosbot_api_rate_limited_total", "Game API responses that signalled rate limiting.")
	writeType(w, "wosbot_api_rate_limited_total", "counter")
	writeCounter(w, "wosbot_api_rate_limited_total", snap.APIRateLimits)

	writeHelp(w, "wosbot_notifications_sent_total", "Change notification messages delivered.")
	writeType(w, "wosbot_notifications_sent_total", "counter")
	writeCounter(w, "wosbot_notifications_sent_total", snap.Notifications)

	writeHelp(w, "wosbot_queue_depth", "Processes currently waiting in the queue.")
	writeType(w, "wosbot_queue_depth", "gauge")
	writeGauge(w, "wosbot_queue_depth", float64(counts[store.StatusQueued]))

	writeHelp(w, "wosbot_active_processes", "Processes currently running (0 or 1).")
	writeType(w, "wosbot_active_processes", "gauge")
	writeGauge(w, "wosbot_active_processes", float64(counts[store.StatusActive]))
}

func writeHelp(w io.Writer, name, help string) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
}

func writeType(w io.Writer, name, typ string) {
	fmt.Fprintf(w, "# TYPE %s %s\n", name, typ)
}

func writeCounter(w io.Writer, name string, value int64) {
	fmt.Fprintf(w, "%s %d\n", name, value)
}

func writeGauge(w io.Writer, name string, value float64) {
	fmt.Fprintf(w, "%s %g\n", name, value)
}
