package session

import (
	"math"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"mavgateway/timer"
)

// FloatParamCompletion is delivered once per request: ok=true with the
// vehicle-confirmed value on success, ok=false on timeout or not-found.
type FloatParamCompletion func(ok bool, value float32)

// IntParamCompletion is the int32 analogue of FloatParamCompletion.
type IntParamCompletion func(ok bool, value int32)

type pendingParam struct {
	name             string
	isInt            bool
	isSet            bool
	setValueRaw      float32 // wire-encoded PARAM_SET payload, when isSet
	retriesRemaining uint8
	timeout          time.Duration
	cookie           timer.Cookie

	completeFloat FloatParamCompletion
	completeInt   IntParamCompletion
}

// ParamEngine implements C6: get/set of named scalar parameters using the
// same send/wait/timeout-retry discipline as C5, keyed on parameter name.
// Per spec.md §9's resolution of the source's name-echo ambiguity, at most
// one request per parameter name is ever in flight; a second request for
// the same name while one is outstanding is rejected: nothing is transmitted
// and its completion receives ok=false.
type ParamEngine struct {
	out            OutboundPort
	defaultRetries uint8
	defaultTimeout time.Duration

	mu      sync.Mutex
	pending map[string]*pendingParam
}

// NewParamEngine creates a ParamEngine bound to out.
func NewParamEngine(out OutboundPort, defaultRetries uint8, defaultTimeout time.Duration) *ParamEngine {
	return &ParamEngine{
		out:            out,
		defaultRetries: defaultRetries,
		defaultTimeout: defaultTimeout,
		pending:        make(map[string]*pendingParam),
	}
}

// SetParamFloatAsync sets a float parameter by name.
func (e *ParamEngine) SetParamFloatAsync(name string, value float32, completion FloatParamCompletion) {
	p := &pendingParam{
		name: name, isSet: true, setValueRaw: value,
		retriesRemaining: e.defaultRetries, timeout: e.defaultTimeout,
		completeFloat: completion,
	}
	e.submit(p, func() { e.sendParamSet(p, common.MAV_PARAM_TYPE_REAL32) })
}

// SetParamIntAsync sets an int32 parameter by name.
func (e *ParamEngine) SetParamIntAsync(name string, value int32, completion IntParamCompletion) {
	p := &pendingParam{
		name: name, isSet: true, isInt: true, setValueRaw: math.Float32frombits(uint32(value)),
		retriesRemaining: e.defaultRetries, timeout: e.defaultTimeout,
		completeInt: completion,
	}
	e.submit(p, func() { e.sendParamSet(p, common.MAV_PARAM_TYPE_INT32) })
}

// GetParamFloatAsync reads a float parameter by name.
func (e *ParamEngine) GetParamFloatAsync(name string, completion FloatParamCompletion) {
	p := &pendingParam{
		name: name, retriesRemaining: e.defaultRetries, timeout: e.defaultTimeout,
		completeFloat: completion,
	}
	e.submit(p, func() { e.sendParamRequestRead(p) })
}

// GetParamIntAsync reads an int32 parameter by name.
func (e *ParamEngine) GetParamIntAsync(name string, completion IntParamCompletion) {
	p := &pendingParam{
		name: name, isInt: true, retriesRemaining: e.defaultRetries, timeout: e.defaultTimeout,
		completeInt: completion,
	}
	e.submit(p, func() { e.sendParamRequestRead(p) })
}

func (e *ParamEngine) submit(p *pendingParam, transmit func()) {
	e.mu.Lock()
	if _, busy := e.pending[p.name]; busy {
		e.mu.Unlock()
		e.complete(p, false, 0)
		return
	}
	e.pending[p.name] = p
	e.mu.Unlock()
	transmit()
}

func (e *ParamEngine) sendParamSet(p *pendingParam, paramType common.MAV_PARAM_TYPE) {
	msg := &common.MessageParamSet{
		TargetSystem:    e.out.TargetSystemID(),
		TargetComponent: e.out.TargetComponentID(),
		ParamId:         p.name,
		ParamValue:      p.setValueRaw,
		ParamType:       paramType,
	}
	if !e.out.SendMessage(msg) {
		e.finish(p, false, 0)
		return
	}
	p.cookie = e.out.RegisterTimeout(func() { e.onTimeout(p) }, p.timeout)
}

func (e *ParamEngine) sendParamRequestRead(p *pendingParam) {
	msg := &common.MessageParamRequestRead{
		TargetSystem:    e.out.TargetSystemID(),
		TargetComponent: e.out.TargetComponentID(),
		ParamId:         p.name,
		ParamIndex:      -1,
	}
	if !e.out.SendMessage(msg) {
		e.finish(p, false, 0)
		return
	}
	p.cookie = e.out.RegisterTimeout(func() { e.onTimeout(p) }, p.timeout)
}

// HandleParamValue is registered with the router for PARAM_VALUE.
func (e *ParamEngine) HandleParamValue(v *common.MessageParamValue) {
	e.mu.Lock()
	p, ok := e.pending[v.ParamId]
	e.mu.Unlock()
	if !ok {
		return
	}
	e.out.UnregisterTimer(p.cookie)
	e.finish(p, true, v.ParamValue)
}

func (e *ParamEngine) onTimeout(p *pendingParam) {
	e.mu.Lock()
	cur, ok := e.pending[p.name]
	if !ok || cur != p {
		e.mu.Unlock()
		return
	}
	if p.retriesRemaining > 0 {
		p.retriesRemaining--
		e.mu.Unlock()
		if p.isSet {
			paramType := common.MAV_PARAM_TYPE_REAL32
			if p.isInt {
				paramType = common.MAV_PARAM_TYPE_INT32
			}
			e.sendParamSet(p, paramType)
		} else {
			e.sendParamRequestRead(p)
		}
		return
	}
	e.mu.Unlock()
	e.finish(p, false, 0)
}

// finish removes p from the pending table and delivers the terminal result.
func (e *ParamEngine) finish(p *pendingParam, ok bool, rawValue float32) {
	e.mu.Lock()
	if e.pending[p.name] == p {
		delete(e.pending, p.name)
	}
	e.mu.Unlock()
	e.complete(p, ok, rawValue)
}

func (e *ParamEngine) complete(p *pendingParam, ok bool, rawValue float32) {
	if p.isInt {
		var v int32
		if ok {
			v = int32(math.Float32bits(rawValue))
		}
		if p.completeInt != nil {
			p.completeInt(ok, v)
		}
		return
	}
	v := float32(0)
	if ok {
		v = rawValue
	}
	if p.completeFloat != nil {
		p.completeFloat(ok, v)
	}
}
