package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(workerTasksTotal, workerTasksInFlight) }

// result: ok|error|dropped
var workerTasksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "worker_tasks_total",
		Help: "Background tasks finished by the worker pool, by result.",
	},
	[]string{"result"},
)

var workerTasksInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "worker_tasks_in_flight",
	Help: "Tasks currently executing in the worker pool.",
})

func IncWorkerTask(result string) { workerTasksTotal.WithLabelValues(norm(result)).Inc() }

func WorkerTaskStarted()  { workerTasksInFlight.Inc() }
func WorkerTaskFinished() { workerTasksInFlight.Dec() }
