package ceremony

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var lifecycleTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ceremony_lifecycle_transitions_total",
	Help: "Count of ceremony lifecycle transitions, by target state.",
}, []string{"state"})
