package followme

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"mavgateway/timer"
)

type fakeOutbound struct {
	wheel *timer.Wheel
	sent  atomic.Int32

	mu      sync.Mutex
	lastMsg message.Message
}

func newFakeOutbound() *fakeOutbound {
	return &fakeOutbound{wheel: timer.NewWheel()}
}

func (f *fakeOutbound) SendMessage(msg message.Message) bool {
	f.sent.Add(1)
	f.mu.Lock()
	f.lastMsg = msg
	f.mu.Unlock()
	return true
}

func (f *fakeOutbound) RegisterPeriodic(cb func(), period time.Duration) timer.Cookie {
	return f.wheel.RegisterPeriodic(cb, period)
}
func (f *fakeOutbound) UnregisterTimer(c timer.Cookie) { f.wheel.Unregister(c) }
func (f *fakeOutbound) TargetSystemID() byte           { return 1 }
func (f *fakeOutbound) TargetComponentID() byte        { return 1 }

func TestFollowMeSendsNothingBeforeStartOrWithoutValidTarget(t *testing.T) {
	out := newFakeOutbound()
	defer out.wheel.Stop()
	e := NewEngine(out, 20*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	if out.sent.Load() != 0 {
		t.Fatalf("sent=%d, want 0 before Start", out.sent.Load())
	}

	e.Start()
	time.Sleep(60 * time.Millisecond)
	if out.sent.Load() != 0 {
		t.Fatalf("sent=%d, want 0 with no valid target set", out.sent.Load())
	}
}

func TestFollowMeStreamsWhileActive(t *testing.T) {
	out := newFakeOutbound()
	defer out.wheel.Stop()
	e := NewEngine(out, 15*time.Millisecond)

	e.SetTarget(Target{LatDeg: 47.0, LonDeg: 8.0, AbsAltM: 500, PositionValid: true})
	e.Start()
	time.Sleep(80 * time.Millisecond)
	if out.sent.Load() < 3 {
		t.Fatalf("sent=%d, want at least 3 ticks", out.sent.Load())
	}

	e.Stop()
	before := out.sent.Load()
	time.Sleep(60 * time.Millisecond)
	if out.sent.Load() != before {
		t.Fatalf("sent continued to grow after Stop: before=%d after=%d", before, out.sent.Load())
	}
}

func TestFollowMeStartIsIdempotent(t *testing.T) {
	out := newFakeOutbound()
	defer out.wheel.Stop()
	e := NewEngine(out, 200*time.Millisecond)

	e.Start()
	first := e.cookie
	e.Start()
	if e.cookie != first {
		t.Fatal("Start while already active re-registered the timer")
	}
	if !e.IsActive() {
		t.Fatal("IsActive=false after Start")
	}
}
