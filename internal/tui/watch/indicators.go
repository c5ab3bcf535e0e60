package watch

import (
	"strings"
	"time"

	"github.com/mattjoyce/warelay/internal/events"
)

const (
	meterDots = 5
	// meterStep is how long each lit dot survives without new activity.
	meterStep = 2 * time.Second
)

// heartbeat flips its frame on every tick. A frame that stops changing means
// the dashboard itself is stuck.
type heartbeat struct {
	frames []string
	index  int
}

func newHeartbeat() heartbeat {
	return heartbeat{frames: []string{"⟲", "⟳"}}
}

func (h *heartbeat) beat() {
	h.index = (h.index + 1) % len(h.frames)
}

func (h heartbeat) frame() string {
	return h.frames[h.index]
}

// activityMeter lights up on relay events and fades one dot per meterStep.
// A failed delivery or rejected webhook turns the meter red until it fades
// out completely.
type activityMeter struct {
	lit    int
	last   time.Time
	failed bool
}

func (a *activityMeter) record(e events.Event, now time.Time) {
	if a.lit == 0 {
		a.failed = false
	}
	switch e.Type {
	case events.TypeDeliveryFailed, events.TypeWebhookRejected:
		a.failed = true
	}
	a.lit = meterDots
	a.last = now
}

func (a *activityMeter) decay(now time.Time) {
	if a.lit == 0 {
		return
	}
	faded := int(now.Sub(a.last) / meterStep)
	a.lit = max(meterDots-faded, 0)
	if a.lit == 0 {
		a.failed = false
	}
}

func (a activityMeter) render(theme Theme) string {
	on := theme.MeterOn
	if a.failed {
		on = theme.Failed
	}
	var b strings.Builder
	for i := range meterDots {
		if i < a.lit {
			b.WriteString(on.Render("●"))
		} else {
			b.WriteString(theme.MeterOff.Render("○"))
		}
	}
	return b.String()
}
