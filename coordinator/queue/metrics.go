package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	slotGrantsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_slot_grants_total",
		Help: "Count of contribution slots granted across all circuits.",
	})
	evictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_evictions_total",
		Help: "Count of contributors evicted from a queue head.",
	})
	waitingContributors = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_waiting_contributors",
		Help: "Contributors currently queued per circuit, head included.",
	}, []string{"circuit"})
	donePromotionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_done_promotions_total",
		Help: "Count of participants promoted to DONE after their last circuit.",
	})
)
