package session

import (
	"sync"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	mverrors "mavgateway/errors"
	"mavgateway/timer"
)

type fakeOutbound struct {
	wheel *timer.Wheel

	mu   sync.Mutex
	sent []message.Message
}

func newFakeOutbound() *fakeOutbound {
	return &fakeOutbound{wheel: timer.NewWheel()}
}

func (f *fakeOutbound) SendMessage(msg message.Message) bool {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return true
}

func (f *fakeOutbound) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeOutbound) lastMessage() message.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeOutbound) RegisterTimeout(cb func(), after time.Duration) timer.Cookie {
	return f.wheel.RegisterTimeout(cb, after)
}
func (f *fakeOutbound) RegisterPeriodic(cb func(), period time.Duration) timer.Cookie {
	return f.wheel.RegisterPeriodic(cb, period)
}
func (f *fakeOutbound) RefreshTimer(c timer.Cookie)   { f.wheel.Refresh(c) }
func (f *fakeOutbound) UnregisterTimer(c timer.Cookie) { f.wheel.Unregister(c) }
func (f *fakeOutbound) TargetSystemID() byte           { return 1 }
func (f *fakeOutbound) TargetComponentID() byte        { return 1 }

// TestCommandEngineArmSuccess is scenario S1: one COMMAND_LONG, one
// accepted ack, resolves Success exactly once.
func TestCommandEngineArmSuccess(t *testing.T) {
	out := newFakeOutbound()
	defer out.wheel.Stop()
	e := NewCommandEngine(out, 3, 200*time.Millisecond)

	var calls int
	var result error
	done := make(chan struct{})
	e.SendWithAckAsync(common.MAV_CMD_COMPONENT_ARM_DISARM, [7]float32{1, 0, 0, 0, 0, 0, 0}, 1, func(res error, progress float32) {
		calls++
		result = res
		close(done)
	})

	time.Sleep(30 * time.Millisecond)
	if out.sentCount() != 1 {
		t.Fatalf("sentCount=%d, want 1", out.sentCount())
	}

	e.HandleCommandAck(&common.MessageCommandAck{Command: common.MAV_CMD_COMPONENT_ARM_DISARM, Result: common.MAV_RESULT_ACCEPTED})

	<-done
	if calls != 1 {
		t.Fatalf("calls=%d, want 1", calls)
	}
	if result != nil {
		t.Fatalf("result=%v, want nil", result)
	}
}

// TestCommandEngineRetryThenSuccess is scenario S2: two dropped acks, third
// transmission gets acked.
func TestCommandEngineRetryThenSuccess(t *testing.T) {
	out := newFakeOutbound()
	defer out.wheel.Stop()
	e := NewCommandEngine(out, 3, 40*time.Millisecond)

	done := make(chan error, 1)
	e.SendWithAckAsync(common.MAV_CMD_COMPONENT_ARM_DISARM, [7]float32{1, 0, 0, 0, 0, 0, 0}, 1, func(res error, progress float32) {
		if mverrors.Code(res) == int(mverrors.KindInProgress) {
			return
		}
		done <- res
	})

	time.Sleep(110 * time.Millisecond) // two timeouts have fired by now: 3 transmissions total
	if got := out.sentCount(); got != 3 {
		t.Fatalf("sentCount=%d, want 3", got)
	}

	e.HandleCommandAck(&common.MessageCommandAck{Command: common.MAV_CMD_COMPONENT_ARM_DISARM, Result: common.MAV_RESULT_ACCEPTED})

	select {
	case res := <-done:
		if res != nil {
			t.Fatalf("res=%v, want nil", res)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resolution")
	}
}

// TestCommandEngineTimeoutExhausted is scenario S3: no ack ever arrives;
// exactly retries+1 transmissions occur, then Timeout.
func TestCommandEngineTimeoutExhausted(t *testing.T) {
	out := newFakeOutbound()
	defer out.wheel.Stop()
	e := NewCommandEngine(out, 3, 30*time.Millisecond)

	done := make(chan error, 1)
	e.SendWithAckAsync(common.MAV_CMD_COMPONENT_ARM_DISARM, [7]float32{1, 0, 0, 0, 0, 0, 0}, 1, func(res error, progress float32) {
		if mverrors.Code(res) == int(mverrors.KindInProgress) {
			return
		}
		done <- res
	})

	select {
	case res := <-done:
		if mverrors.Code(res) != int(mverrors.KindTimeout) {
			t.Fatalf("result kind=%v, want Timeout", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for resolution")
	}

	if got := out.sentCount(); got != 4 {
		t.Fatalf("sentCount=%d, want 4 (initial + 3 retries)", got)
	}
}

// TestCommandEngineZeroRetriesTimesOutAfterOneTransmission is the boundary
// case: retries_to_do = 0 times out after exactly one transmission.
func TestCommandEngineZeroRetriesTimesOutAfterOneTransmission(t *testing.T) {
	out := newFakeOutbound()
	defer out.wheel.Stop()
	e := NewCommandEngine(out, 3, 500*time.Millisecond)

	done := make(chan error, 1)
	e.SendWithAckAsyncRetries(common.MAV_CMD_COMPONENT_ARM_DISARM, [7]float32{}, 1, 0, 20*time.Millisecond, func(res error, progress float32) {
		done <- res
	})

	select {
	case res := <-done:
		if mverrors.Code(res) != int(mverrors.KindTimeout) {
			t.Fatalf("result=%v, want Timeout", res)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
	if got := out.sentCount(); got != 1 {
		t.Fatalf("sentCount=%d, want 1", got)
	}
}

// TestCommandEngineSingleInFlight is invariant 2: concurrent submissions
// never result in two transmissions without an intervening ack resolution.
func TestCommandEngineSingleInFlight(t *testing.T) {
	out := newFakeOutbound()
	defer out.wheel.Stop()
	e := NewCommandEngine(out, 3, 300*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.SendWithAckAsync(common.MAV_CMD_COMPONENT_ARM_DISARM, [7]float32{}, 1, func(error, float32) {})
		}()
	}
	wg.Wait()

	time.Sleep(30 * time.Millisecond)
	if got := out.sentCount(); got != 1 {
		t.Fatalf("sentCount=%d, want 1 (only the in-flight head transmits)", got)
	}
}
