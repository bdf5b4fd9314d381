// Package followme supplements the distilled core with the MAVSDK
// follow-me behavior (original_source/plugins/follow_me/follow_me_impl.cpp):
// a periodic FOLLOW_TARGET sender, activated and deactivated explicitly,
// using the same periodic-timer capability the Command Engine uses.
package followme

import (
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"mavgateway/timer"
)

// OutboundPort is the capability this engine needs of the facade.
type OutboundPort interface {
	SendMessage(msg message.Message) bool
	RegisterPeriodic(callback func(), period time.Duration) timer.Cookie
	UnregisterTimer(cookie timer.Cookie)
	TargetSystemID() byte
	TargetComponentID() byte
}

// Target is the position/velocity estimate streamed to the vehicle while
// follow-me is active.
type Target struct {
	LatDeg, LonDeg, AbsAltM float64
	VelNEDMS                [3]float64
	PositionValid           bool
}

type state int

const (
	stateInactive state = iota
	stateActive
)

// Engine streams FOLLOW_TARGET at a fixed rate once started, stops cleanly
// once Stop is called. Unlike follow_me_impl.cpp's ACTIVE transition (which
// unlocks mid-function before returning), entering and leaving ACTIVE here
// is a single state change under the engine's own lock.
type Engine struct {
	out    OutboundPort
	period time.Duration

	mu     sync.Mutex
	state  state
	cookie timer.Cookie
	target Target
}

// NewEngine creates a follow-me Engine bound to out, sending at the given
// rate (spec.md §9's follow_target_rate_hz, converted to a period).
func NewEngine(out OutboundPort, period time.Duration) *Engine {
	return &Engine{out: out, period: period}
}

// SetTarget updates the position/velocity streamed on the next tick. Safe to
// call whether or not the engine is active.
func (e *Engine) SetTarget(t Target) {
	e.mu.Lock()
	e.target = t
	e.mu.Unlock()
}

// Start activates periodic streaming. Idempotent: calling Start while
// already active is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.state == stateActive {
		e.mu.Unlock()
		return
	}
	e.state = stateActive
	e.cookie = e.out.RegisterPeriodic(e.tick, e.period)
	e.mu.Unlock()
}

// Stop deactivates streaming. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state != stateActive {
		e.mu.Unlock()
		return
	}
	e.state = stateInactive
	cookie := e.cookie
	e.mu.Unlock()
	e.out.UnregisterTimer(cookie)
}

// IsActive reports whether streaming is currently enabled.
func (e *Engine) IsActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == stateActive
}

func (e *Engine) tick() {
	e.mu.Lock()
	t := e.target
	active := e.state == stateActive
	e.mu.Unlock()
	if !active || !t.PositionValid {
		return
	}

	e.out.SendMessage(&common.MessageFollowTarget{
		EstCapabilities: 1, // position only, matching the minimal target report
		Lat:             int32(t.LatDeg * 1e7),
		Lon:             int32(t.LonDeg * 1e7),
		Alt:             float32(t.AbsAltM),
		Vel:             [3]float32{float32(t.VelNEDMS[0]), float32(t.VelNEDMS[1]), float32(t.VelNEDMS[2])},
	})
}
