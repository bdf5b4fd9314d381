package session

import (
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	mverrors "mavgateway/errors"
	"mavgateway/log"
	"mavgateway/timer"
)

// CommandCompletion is delivered once with a terminal result, or zero or
// more times with a non-terminal errors.KindInProgress result carrying
// progress, before the terminal delivery.
type CommandCompletion func(result error, progress float32)

type pendingCommand struct {
	commandID        common.MAV_CMD
	params           [7]float32
	targetSystem     byte
	targetComponent  byte
	retriesRemaining uint8
	timeout          time.Duration
	completion       CommandCompletion

	confirmation byte
	cookie       timer.Cookie
}

// CommandEngine implements C5: request/acknowledge with retry, at most one
// command in-flight per session. It is registered with the router for
// COMMAND_ACK and holds no pointer back to the facade — only an
// OutboundPort.
type CommandEngine struct {
	out             OutboundPort
	defaultRetries  uint8
	defaultTimeout  time.Duration

	mu         sync.Mutex
	queue      []*pendingCommand
	inflight   *pendingCommand
	pumpCookie timer.Cookie
}

// NewCommandEngine creates a CommandEngine bound to out, with the given
// default retry budget and per-attempt timeout (spec.md §9's SessionConfig
// command_default_retries / command_default_timeout_ms).
func NewCommandEngine(out OutboundPort, defaultRetries uint8, defaultTimeout time.Duration) *CommandEngine {
	return &CommandEngine{out: out, defaultRetries: defaultRetries, defaultTimeout: defaultTimeout}
}

// StartPump arms the periodic do_work promotion backstop (spec.md §4.4's
// "periodic do_work pump").
func (e *CommandEngine) StartPump(period time.Duration) {
	e.pumpCookie = e.out.RegisterPeriodic(e.doWork, period)
}

// SendWithAckAsync submits a command and returns immediately; completion is
// invoked on the receive or timer goroutine.
func (e *CommandEngine) SendWithAckAsync(commandID common.MAV_CMD, params [7]float32, targetComponent byte, completion CommandCompletion) {
	e.SendWithAckAsyncRetries(commandID, params, targetComponent, e.defaultRetries, e.defaultTimeout, completion)
}

// SendWithAckAsyncRetries is SendWithAckAsync with an explicit retry budget
// and per-attempt timeout, overriding the engine defaults (used e.g. for a
// caller that wants retries_to_do = 0).
func (e *CommandEngine) SendWithAckAsyncRetries(commandID common.MAV_CMD, params [7]float32, targetComponent, retries uint8, timeout time.Duration, completion CommandCompletion) {
	cmd := &pendingCommand{
		commandID:        commandID,
		params:           params,
		targetSystem:     e.out.TargetSystemID(),
		targetComponent:  targetComponent,
		retriesRemaining: retries,
		timeout:          timeout,
		completion:       completion,
	}
	e.mu.Lock()
	e.queue = append(e.queue, cmd)
	e.mu.Unlock()
	e.doWork()
}

// SendWithAck submits a command and blocks the caller until the exchange
// completes (terminally).
func (e *CommandEngine) SendWithAck(commandID common.MAV_CMD, params [7]float32, targetComponent byte) error {
	done := make(chan error, 1)
	e.SendWithAckAsync(commandID, params, targetComponent, func(result error, progress float32) {
		if mverrors.Code(result) == int(mverrors.KindInProgress) {
			return
		}
		done <- result
	})
	return <-done
}

// doWork promotes the queue head into the in-flight slot if the engine is
// idle. New submissions into a busy engine never preempt.
func (e *CommandEngine) doWork() {
	e.mu.Lock()
	if e.inflight != nil || len(e.queue) == 0 {
		e.mu.Unlock()
		return
	}
	cmd := e.queue[0]
	e.queue = e.queue[1:]
	e.inflight = cmd
	e.mu.Unlock()

	e.transmit(cmd)
}

func (e *CommandEngine) transmit(cmd *pendingCommand) {
	msg := &common.MessageCommandLong{
		TargetSystem:    cmd.targetSystem,
		TargetComponent: cmd.targetComponent,
		Command:         cmd.commandID,
		Confirmation:    cmd.confirmation,
		Param1:          cmd.params[0],
		Param2:          cmd.params[1],
		Param3:          cmd.params[2],
		Param4:          cmd.params[3],
		Param5:          cmd.params[4],
		Param6:          cmd.params[5],
		Param7:          cmd.params[6],
	}
	if !e.out.SendMessage(msg) {
		e.resolve(cmd, mverrors.Wrap(mverrors.KindConnectionError, "command send failed", nil))
		return
	}
	cmd.cookie = e.out.RegisterTimeout(func() { e.onTimeout(cmd) }, cmd.timeout)
}

// HandleCommandAck is registered with the router for COMMAND_ACK.
func (e *CommandEngine) HandleCommandAck(ack *common.MessageCommandAck) {
	e.mu.Lock()
	cmd := e.inflight
	if cmd == nil || cmd.commandID != ack.Command {
		e.mu.Unlock()
		return
	}

	switch ack.Result {
	case common.MAV_RESULT_ACCEPTED:
		e.inflight = nil
		e.mu.Unlock()
		e.finish(cmd, nil)
	case common.MAV_RESULT_TEMPORARILY_REJECTED:
		e.mu.Unlock()
		e.out.RefreshTimer(cmd.cookie)
		cmd.completion(mverrors.Progress("temporarily rejected", 0), 0)
	case common.MAV_RESULT_IN_PROGRESS:
		e.mu.Unlock()
		e.out.RefreshTimer(cmd.cookie)
		cmd.completion(mverrors.Progress("in progress", float32(ack.Progress)/100.0), float32(ack.Progress)/100.0)
	case common.MAV_RESULT_DENIED, common.MAV_RESULT_UNSUPPORTED, common.MAV_RESULT_FAILED:
		e.inflight = nil
		e.mu.Unlock()
		e.finish(cmd, mverrors.CommandDenied)
	default:
		e.inflight = nil
		e.mu.Unlock()
		e.finish(cmd, mverrors.Generic)
	}
}

func (e *CommandEngine) onTimeout(cmd *pendingCommand) {
	e.mu.Lock()
	if e.inflight != cmd {
		e.mu.Unlock()
		return
	}
	if cmd.retriesRemaining > 0 {
		cmd.retriesRemaining--
		cmd.confirmation++
		e.mu.Unlock()
		log.With(map[string]interface{}{"command": cmd.commandID, "status": "retry"}).Warn("command ack timed out, retrying")
		e.transmit(cmd)
		return
	}
	e.inflight = nil
	e.mu.Unlock()
	e.resolve(cmd, mverrors.Timeout)
}

// finish resolves cmd (success or denial) and unregisters its timer.
func (e *CommandEngine) finish(cmd *pendingCommand, result error) {
	e.out.UnregisterTimer(cmd.cookie)
	e.resolve(cmd, result)
}

// resolve clears the in-flight slot, invokes the terminal completion, and
// pumps the queue.
func (e *CommandEngine) resolve(cmd *pendingCommand, result error) {
	e.mu.Lock()
	if e.inflight == cmd {
		e.inflight = nil
	}
	e.mu.Unlock()

	cmd.completion(result, progressOf(result))
	e.doWork()
}

func progressOf(result error) float32 {
	if result == nil {
		return 1.0
	}
	return 0
}
