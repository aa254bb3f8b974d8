package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IPCRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "itch_ipc_requests_total",
			Help: "Requests handled by the daemon, by variant and result",
		},
		[]string{"variant", "result"},
	)

	IPCDecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "itch_ipc_decode_errors_total",
			Help: "Inbound messages discarded because they could not be decoded",
		},
	)

	IPCConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "itch_ipc_connections",
			Help: "Currently open client connections",
		},
	)

	IPCReplyFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "itch_ipc_reply_failures_total",
			Help: "Responses that could not be written back to a peer",
		},
	)

	Rotations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "itch_rotations_total",
			Help: "Scheduler ticks, by trigger (timer or jump)",
		},
		[]string{"trigger"},
	)

	ApplyResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "itch_apply_total",
			Help: "Background apply attempts, by result",
		},
		[]string{"result"},
	)

	ApplyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "itch_apply_duration_seconds",
			Help:    "Duration of background apply commands",
			Buckets: prometheus.DefBuckets,
		},
	)

	PlaylistLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "itch_playlist_length",
			Help: "Number of images in the live playlist",
		},
	)

	DayNightSwaps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "itch_day_night_swaps_total",
			Help: "Day/night playlist swaps, by target variant",
		},
		[]string{"variant"},
	)

	PersistRowFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "itch_persist_row_failures_total",
			Help: "Rows that failed during batch writes, by table",
		},
		[]string{"table"},
	)

	ShutdownStageDuration = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "itch_shutdown_stage_seconds",
			Help: "Duration of the last shutdown, by stage",
		},
		[]string{"stage"},
	)
)

func RecordRequest(variant string, ok bool) {
	IPCRequests.WithLabelValues(variant, resultLabel(ok)).Inc()
}

func RecordApply(ok bool, took time.Duration) {
	ApplyResults.WithLabelValues(resultLabel(ok)).Inc()
	ApplyDuration.Observe(took.Seconds())
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
