package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coffee_bot_deliveries_total",
		Help: "Message deliveries by outcome",
	}, []string{"status"})

	firesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coffee_bot_fires_total",
		Help: "Daily triggers that fired",
	})

	checkpointWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coffee_bot_checkpoint_write_failures_total",
		Help: "Failed queue checkpoint writes",
	})

	queueRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coffee_bot_queue_remaining",
		Help: "Messages left in the current rotation",
	})

	nextFireTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coffee_bot_next_fire_timestamp_seconds",
		Help: "Unix time of the armed daily trigger, 0 when idle",
	})
)
