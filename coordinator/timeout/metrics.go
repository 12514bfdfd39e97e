package timeout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var penaltiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "timeout_penalties_total",
	Help: "Count of penalty intervals issued to evicted contributors, by type.",
}, []string{"type"})
