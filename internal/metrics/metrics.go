package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionCounter returns session counts grouped by lifecycle state.
type SessionCounter interface {
	CountByState(ctx context.Context) (map[string]int64, error)
}

// Collector is a prometheus.Collector that gathers DialFlow metrics at scrape time.
type Collector struct {
	sessions     SessionCounter
	activeStates []string
	startTime    time.Time

	// Metric descriptors.
	sessionsDesc       *prometheus.Desc
	activeSessionsDesc *prometheus.Desc
	uptimeDesc         *prometheus.Desc
}

// NewCollector creates a new metrics collector. activeStates names the
// non-terminal lifecycle states that count as in-flight.
func NewCollector(sessions SessionCounter, activeStates []string, startTime time.Time) *Collector {
	return &Collector{
		sessions:     sessions,
		activeStates: activeStates,
		startTime:    startTime,

		sessionsDesc: prometheus.NewDesc(
			"dialflow_call_sessions",
			"Number of call sessions by lifecycle state",
			[]string{"state"}, nil,
		),
		activeSessionsDesc: prometheus.NewDesc(
			"dialflow_active_call_sessions",
			"Number of call sessions in a non-terminal state",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"dialflow_uptime_seconds",
			"Seconds since the DialFlow process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessionsDesc
	ch <- c.activeSessionsDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries the store at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.sessions != nil {
		counts, err := c.sessions.CountByState(ctx)
		if err != nil {
			slog.Error("metrics: failed to count sessions by state", "error", err)
		} else {
			for state, count := range counts {
				ch <- prometheus.MustNewConstMetric(
					c.sessionsDesc, prometheus.GaugeValue,
					float64(count), state,
				)
			}
			var active int64
			for _, state := range c.activeStates {
				active += counts[state]
			}
			ch <- prometheus.MustNewConstMetric(
				c.activeSessionsDesc, prometheus.GaugeValue,
				float64(active),
			)
		}
	}

	// Uptime.
	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
