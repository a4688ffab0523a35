package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Webhook events received, by type and action",
		},
		[]string{"type", "action"},
	)

	conflictsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conflicts_detected_total",
			Help: "Conflicts detected between open pull requests, by kind",
		},
		[]string{"kind"},
	)

	scanFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_failures_total",
			Help: "Per-pair failures during a conflict scan, by stage",
		},
		[]string{"stage"},
	)

	commentsPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conflict_comments_total",
			Help: "Conflict notifications posted, by outcome",
		},
		[]string{"outcome"},
	)
)
