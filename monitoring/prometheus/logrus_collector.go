package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var logEntries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "log_entries_total",
	Help: "Total number of log messages.",
}, []string{"level", "prefix"})

// LogrusCollector is a logrus hook counting emitted log entries by level and
// service prefix, so error spikes in a single coordinator service show up on
// the metrics endpoint.
type LogrusCollector struct{}

// NewLogrusCollector creates the metrics hook.
func NewLogrusCollector() *LogrusCollector {
	return &LogrusCollector{}
}

// Fire is invoked by logrus for every entry at a supported level.
func (*LogrusCollector) Fire(entry *logrus.Entry) error {
	prefix := "global"
	if v, ok := entry.Data["prefix"].(string); ok {
		prefix = v
	}
	logEntries.WithLabelValues(entry.Level.String(), prefix).Inc()
	return nil
}

// Levels reports the levels the hook counts.
func (*LogrusCollector) Levels() []logrus.Level {
	return []logrus.Level{logrus.InfoLevel, logrus.WarnLevel, logrus.ErrorLevel}
}
