package session

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"mavgateway/config"
	"mavgateway/followme"
	"mavgateway/link"
	"mavgateway/log"
	"mavgateway/mavcodec"
	"mavgateway/mission"
	"mavgateway/router"
	"mavgateway/status"
	"mavgateway/timer"
)

// DiscoverFunc is invoked once per unique system id observed on HEARTBEAT.
type DiscoverFunc func(systemID byte)

// Facade is the Session Facade (C8): it owns the link, router, timer wheel,
// codec, and every engine sharing them, and is the only type in this
// module holding concrete pointers to all of them. Engines see it only
// through the OutboundPort capability they were constructed with — there
// is no back-pointer from an engine to the Facade.
type Facade struct {
	cfg   config.Config
	codec *mavcodec.Codec
	link  *link.Link
	rtr   *router.Router
	wheel *timer.Wheel

	Command  *CommandEngine
	Param    *ParamEngine
	Mission  *mission.Engine
	FollowMe *followme.Engine

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.RWMutex
	targetSystemID  byte
	targetComponent byte
	targetDiscovered bool
	discoveredSystems [256]bool
	lastHeartbeatAt time.Time
	armed           bool
	missionIntOK    atomic.Bool
	status          status.GatewayStatus

	onDiscover DiscoverFunc
}

// NewFacade builds a Facade and every engine it composes, wired per
// spec.md §4.7. It starts the timer wheel's scheduler goroutine but does not
// yet bind the socket or start the receive goroutine.
func NewFacade(cfg config.Config, ownSystemID, ownComponentID byte) *Facade {
	f := &Facade{
		cfg:   cfg,
		codec: mavcodec.NewCodec(ownSystemID, ownComponentID),
		rtr:    router.New(),
		wheel:  timer.NewWheel(),
		status: status.Stopped,
	}
	f.missionIntOK.Store(true)
	f.link = link.NewLink(cfg.Session.LocalUDPPort, f.codec, f.rtr.Dispatch, f.onPeerChange)

	f.Command = NewCommandEngine(f, cfg.Session.CommandDefaultRetries, cfg.Session.CommandTimeout())
	f.Param = NewParamEngine(f, cfg.Session.ParamDefaultRetries, cfg.Session.ParamTimeout())
	f.Mission = mission.NewEngine(f, cfg.Session.MissionTimeout())
	f.FollowMe = followme.NewEngine(f, cfg.Session.FollowTargetPeriod())

	f.rtr.Register((&common.MessageHeartbeat{}).GetID(), f.handleHeartbeat, f)
	f.rtr.Register((&common.MessageCommandAck{}).GetID(), func(fr mavcodec.Frame) {
		if ack, ok := fr.Message.(*common.MessageCommandAck); ok {
			f.Command.HandleCommandAck(ack)
		}
	}, f.Command)
	f.rtr.Register((&common.MessageParamValue{}).GetID(), func(fr mavcodec.Frame) {
		if v, ok := fr.Message.(*common.MessageParamValue); ok {
			f.Param.HandleParamValue(v)
		}
	}, f.Param)
	f.rtr.Register((&common.MessageMissionRequestInt{}).GetID(), func(fr mavcodec.Frame) {
		if m, ok := fr.Message.(*common.MessageMissionRequestInt); ok {
			f.Mission.HandleMissionRequestInt(m)
		}
	}, f.Mission)
	f.rtr.Register((&common.MessageMissionAck{}).GetID(), func(fr mavcodec.Frame) {
		if m, ok := fr.Message.(*common.MessageMissionAck); ok {
			f.Mission.HandleMissionAck(m)
		}
	}, f.Mission)
	f.rtr.Register((&common.MessageMissionCount{}).GetID(), func(fr mavcodec.Frame) {
		if m, ok := fr.Message.(*common.MessageMissionCount); ok {
			f.Mission.HandleMissionCount(m)
		}
	}, f.Mission)
	f.rtr.Register((&common.MessageMissionItemInt{}).GetID(), func(fr mavcodec.Frame) {
		if m, ok := fr.Message.(*common.MessageMissionItemInt); ok {
			f.Mission.HandleMissionItemInt(m)
		}
	}, f.Mission)
	f.rtr.Register((&common.MessageMissionCurrent{}).GetID(), func(fr mavcodec.Frame) {
		if m, ok := fr.Message.(*common.MessageMissionCurrent); ok {
			f.Mission.HandleMissionCurrent(m)
		}
	}, f.Mission)
	f.rtr.Register((&common.MessageMissionItemReached{}).GetID(), func(fr mavcodec.Frame) {
		if m, ok := fr.Message.(*common.MessageMissionItemReached); ok {
			f.Mission.HandleMissionItemReached(m)
		}
	}, f.Mission)

	return f
}

// Start binds the UDP socket and starts the receive pipeline, the command
// pump, and the periodic heartbeat-loss check on the already running timer
// wheel.
func (f *Facade) Start() error {
	f.setStatus(status.Starting)
	f.ctx, f.cancel = context.WithCancel(context.Background())
	if err := f.link.Start(); err != nil {
		f.setStatus(status.Stopped)
		return err
	}
	f.Command.StartPump(50 * time.Millisecond)
	f.wheel.RegisterPeriodic(f.checkHeartbeatLoss, f.cfg.Session.HeartbeatLossTimeout())
	f.setStatus(status.Running)
	log.With(map[string]interface{}{"port": f.cfg.Session.LocalUDPPort, "status": "started"}).Info("session facade started")
	return nil
}

// Stop tears the session down: closes the socket, stops the wheel. Idempotent.
func (f *Facade) Stop() {
	f.setStatus(status.Stopping)
	if f.cancel != nil {
		f.cancel()
	}
	f.link.Stop()
	f.wheel.Stop()
	f.wg.Wait()
	f.setStatus(status.Stopped)
}

// Status returns the facade's current lifecycle phase.
func (f *Facade) Status() status.GatewayStatus {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.status
}

func (f *Facade) setStatus(s status.GatewayStatus) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

// --- OutboundPort / mission.OutboundPort / followme.OutboundPort ---

// SendMessage encodes and transmits msg to the learned peer.
func (f *Facade) SendMessage(msg message.Message) bool {
	buf, err := f.codec.Encode(msg)
	if err != nil {
		log.With(map[string]interface{}{"status": "encode_error"}).WithError(err).Warn("failed to encode outbound mavlink message")
		return false
	}
	if err := f.link.Send(buf); err != nil {
		return false
	}
	return true
}

func (f *Facade) RegisterTimeout(callback func(), after time.Duration) timer.Cookie {
	return f.wheel.RegisterTimeout(callback, after)
}

func (f *Facade) RegisterPeriodic(callback func(), period time.Duration) timer.Cookie {
	return f.wheel.RegisterPeriodic(callback, period)
}

func (f *Facade) RefreshTimer(cookie timer.Cookie)   { f.wheel.Refresh(cookie) }
func (f *Facade) UnregisterTimer(cookie timer.Cookie) { f.wheel.Unregister(cookie) }

func (f *Facade) TargetSystemID() byte {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.targetSystemID
}

func (f *Facade) TargetComponentID() byte {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.targetComponent
}

// --- spec.md §4.7 public surface ---

// RegisterMavlinkMessageHandler exposes C4 registration to callers outside
// the engines this facade already wires.
func (f *Facade) RegisterMavlinkMessageHandler(messageID uint32, callback router.Callback, owner router.Owner) {
	f.rtr.Register(messageID, callback, owner)
}

// UnregisterAllMavlinkMessageHandlers removes every registration owned by owner.
func (f *Facade) UnregisterAllMavlinkMessageHandlers(owner router.Owner) {
	f.rtr.UnregisterAll(owner)
}

// SendCommandWithAck blocks until the command exchange resolves.
func (f *Facade) SendCommandWithAck(commandID common.MAV_CMD, params [7]float32) error {
	return f.Command.SendWithAck(commandID, params, f.TargetComponentID())
}

// SendCommandWithAckAsync submits the command and returns immediately.
func (f *Facade) SendCommandWithAckAsync(commandID common.MAV_CMD, params [7]float32, completion CommandCompletion) {
	f.Command.SendWithAckAsync(commandID, params, f.TargetComponentID(), completion)
}

func (f *Facade) SetParamFloatAsync(name string, value float32, completion FloatParamCompletion) {
	f.Param.SetParamFloatAsync(name, value, completion)
}

func (f *Facade) SetParamIntAsync(name string, value int32, completion IntParamCompletion) {
	f.Param.SetParamIntAsync(name, value, completion)
}

func (f *Facade) GetParamFloatAsync(name string, completion FloatParamCompletion) {
	f.Param.GetParamFloatAsync(name, completion)
}

func (f *Facade) GetParamIntAsync(name string, completion IntParamCompletion) {
	f.Param.GetParamIntAsync(name, completion)
}

// AddCallEvery registers a periodic timer callback, per spec.md §4.7.
func (f *Facade) AddCallEvery(callback func(), period time.Duration) timer.Cookie {
	return f.wheel.RegisterPeriodic(callback, period)
}

// RemoveCallEvery cancels a periodic timer registered via AddCallEvery.
func (f *Facade) RemoveCallEvery(cookie timer.Cookie) { f.wheel.Unregister(cookie) }

// ResetCallEvery restarts a periodic timer's countdown.
func (f *Facade) ResetCallEvery(cookie timer.Cookie) { f.wheel.Refresh(cookie) }

func (f *Facade) RegisterTimeoutHandler(callback func(), after time.Duration) timer.Cookie {
	return f.wheel.RegisterTimeout(callback, after)
}
func (f *Facade) RefreshTimeoutHandler(cookie timer.Cookie)   { f.wheel.Refresh(cookie) }
func (f *Facade) UnregisterTimeoutHandler(cookie timer.Cookie) { f.wheel.Unregister(cookie) }

func (f *Facade) GetOwnSystemID() byte    { return f.codec.OwnSystemID() }
func (f *Facade) GetOwnComponentID() byte { return f.codec.OwnComponentID() }
func (f *Facade) GetTargetSystemID() byte { return f.TargetSystemID() }
func (f *Facade) GetTargetComponentID() byte { return f.TargetComponentID() }

// IsArmed reports the latest known arm state, observed via HEARTBEAT.
func (f *Facade) IsArmed() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.armed
}

// TargetSupportsMissionInt always reports true: no AUTOPILOT_VERSION is read
// and no capability negotiation is performed, and every mission item frame
// this core emits is already MISSION_ITEM_INT.
func (f *Facade) TargetSupportsMissionInt() bool {
	return f.missionIntOK.Load()
}

// RegisterOnDiscover installs the callback fired once per unique system id
// observed on HEARTBEAT.
func (f *Facade) RegisterOnDiscover(fn DiscoverFunc) {
	f.mu.Lock()
	f.onDiscover = fn
	f.mu.Unlock()
}

// Peer returns the currently learned UDP peer address, or nil.
func (f *Facade) Peer() *net.UDPAddr { return f.link.Peer() }

func (f *Facade) handleHeartbeat(fr mavcodec.Frame) {
	hb, ok := fr.Message.(*common.MessageHeartbeat)
	if !ok {
		return
	}

	f.mu.Lock()
	firstForSystem := !f.discoveredSystems[fr.SystemID]
	f.discoveredSystems[fr.SystemID] = true
	f.targetSystemID = fr.SystemID
	f.targetComponent = fr.ComponentID
	f.targetDiscovered = true
	f.lastHeartbeatAt = time.Now()
	f.armed = hb.BaseMode&common.MAV_MODE_FLAG_SAFETY_ARMED != 0
	cb := f.onDiscover
	f.mu.Unlock()

	if firstForSystem && cb != nil {
		cb(fr.SystemID)
	}
}

// checkHeartbeatLoss runs on the heartbeat_loss_timeout_ms period; it logs a
// warning on every run while the peer stays quiet, matching the teacher's heartbeat-loop
// liveness check (v4/relay/manager.go's checkHeartbeats).
func (f *Facade) checkHeartbeatLoss() {
	f.mu.RLock()
	discovered := f.targetDiscovered
	age := time.Since(f.lastHeartbeatAt)
	limit := f.cfg.Session.HeartbeatLossTimeout()
	f.mu.RUnlock()

	if discovered && age > limit {
		log.With(map[string]interface{}{"age_ms": age.Milliseconds(), "status": "heartbeat_lost"}).Warn("no heartbeat from target within the configured timeout")
	}
}

func (f *Facade) onPeerChange(old, new *net.UDPAddr) {
	if old != nil {
		log.With(map[string]interface{}{"old": old.String(), "new": new.String(), "status": "peer_roamed"}).Info("udp peer address changed")
	}
}
