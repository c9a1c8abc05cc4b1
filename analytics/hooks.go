package analytics

import (
	"context"
	"sync"
	"time"

	"impactkit/core"
)

// Hook receives domain events for KPI aggregation.
type Hook interface {
	OnEvent(ctx context.Context, e core.Event)
}

// BridgeHook bridges an event source to multiple hooks.
type BridgeHook struct{ hooks []Hook }

func NewBridge(hooks ...Hook) *BridgeHook { return &BridgeHook{hooks: hooks} }

func (b *BridgeHook) OnEvent(ctx context.Context, e core.Event) {
	for _, h := range b.hooks {
		h.OnEvent(ctx, e)
	}
}

// DAU tracks distinct users with a recorded action per UTC day. Days older
// than the retention window are pruned on write.
type DAU struct {
	mu        sync.Mutex
	days      map[string]map[core.UserID]struct{}
	retention int
}

func NewDAU(retentionDays int) *DAU {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	return &DAU{days: map[string]map[core.UserID]struct{}{}, retention: retentionDays}
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// Track records user as active on the day of t and returns that day's count.
func (d *DAU) Track(user core.UserID, t time.Time) int {
	day := dayKey(t)
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.days[day]
	if m == nil {
		m = map[core.UserID]struct{}{}
		d.days[day] = m
		cutoff := dayKey(t.AddDate(0, 0, -d.retention))
		for k := range d.days {
			if k < cutoff {
				delete(d.days, k)
			}
		}
	}
	m[user] = struct{}{}
	return len(m)
}

func (d *DAU) OnEvent(_ context.Context, e core.Event) {
	if e.Type == core.EventActionRecorded {
		d.Track(e.UserID, e.Time)
	}
}

func (d *DAU) Count(day string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.days[day])
}
