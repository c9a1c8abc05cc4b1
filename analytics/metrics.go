// Package analytics turns engine events into Prometheus metrics.
package analytics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"impactkit/core"
	"impactkit/engine"
)

// Metrics holds the engine collectors.
type Metrics struct {
	ActionsRecorded *prometheus.CounterVec
	PointsAwarded   *prometheus.CounterVec
	BadgesEarned    *prometheus.CounterVec
	LevelUps        *prometheus.CounterVec
	DailyActive     prometheus.Gauge

	dau   *DAU
	today func() time.Time
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActionsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "impactkit_actions_recorded_total",
			Help: "Actions appended to the activity log, by action kind",
		}, []string{"action"}),
		PointsAwarded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "impactkit_points_awarded_total",
			Help: "Points awarded for actions, by action kind",
		}, []string{"action"}),
		BadgesEarned: f.NewCounterVec(prometheus.CounterOpts{
			Name: "impactkit_badges_earned_total",
			Help: "Badges awarded, by badge code",
		}, []string{"badge"}),
		LevelUps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "impactkit_level_ups_total",
			Help: "Level transitions, by the level reached",
		}, []string{"level"}),
		DailyActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "impactkit_daily_active_users",
			Help: "Distinct users with an action today (UTC)",
		}),
		dau:   NewDAU(2),
		today: func() time.Time { return time.Now().UTC() },
	}
}

// OnEvent updates the collectors for one engine event.
func (m *Metrics) OnEvent(_ context.Context, e core.Event) {
	switch e.Type {
	case core.EventActionRecorded:
		m.ActionsRecorded.WithLabelValues(e.Action.String()).Inc()
		n := m.dau.Track(e.UserID, e.Time)
		if dayKey(e.Time) == dayKey(m.today()) {
			m.DailyActive.Set(float64(n))
		}
	case core.EventPointsAwarded:
		if e.Delta > 0 {
			m.PointsAwarded.WithLabelValues(e.Action.String()).Add(float64(e.Delta))
		}
	case core.EventBadgeEarned:
		m.BadgesEarned.WithLabelValues(string(e.Badge)).Inc()
	case core.EventLevelUp:
		m.LevelUps.WithLabelValues(string(e.Level)).Inc()
	}
}

// Attach subscribes the collectors to every bus event.
func (m *Metrics) Attach(bus *engine.EventBus) func() {
	return bus.SubscribeAll(m.OnEvent)
}
