package session

import (
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
)

func TestParamEngineSetFloatSuccess(t *testing.T) {
	out := newFakeOutbound()
	defer out.wheel.Stop()
	e := NewParamEngine(out, 3, 200*time.Millisecond)

	done := make(chan struct {
		ok    bool
		value float32
	}, 1)
	e.SetParamFloatAsync("MPC_XY_VEL_MAX", 5.0, func(ok bool, value float32) {
		done <- struct {
			ok    bool
			value float32
		}{ok, value}
	})

	time.Sleep(20 * time.Millisecond)
	if out.sentCount() != 1 {
		t.Fatalf("sentCount=%d, want 1", out.sentCount())
	}

	e.HandleParamValue(&common.MessageParamValue{ParamId: "MPC_XY_VEL_MAX", ParamValue: 5.0})

	select {
	case r := <-done:
		if !r.ok || r.value != 5.0 {
			t.Fatalf("got ok=%v value=%v, want ok=true value=5.0", r.ok, r.value)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestParamEngineGetIntTimesOut(t *testing.T) {
	out := newFakeOutbound()
	defer out.wheel.Stop()
	e := NewParamEngine(out, 1, 20*time.Millisecond)

	done := make(chan bool, 1)
	e.GetParamIntAsync("SYS_AUTOSTART", func(ok bool, value int32) { done <- ok })

	select {
	case ok := <-done:
		if ok {
			t.Fatal("want ok=false on timeout")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resolution")
	}
	if out.sentCount() != 2 {
		t.Fatalf("sentCount=%d, want 2 (initial + 1 retry)", out.sentCount())
	}
}

// TestParamEngineRejectsConcurrentSameName is spec.md §9's serialization
// resolution: a second request for a name already in flight is rejected.
func TestParamEngineRejectsConcurrentSameName(t *testing.T) {
	out := newFakeOutbound()
	defer out.wheel.Stop()
	e := NewParamEngine(out, 3, 300*time.Millisecond)

	e.SetParamFloatAsync("MPC_XY_VEL_MAX", 5.0, func(bool, float32) {})

	done := make(chan bool, 1)
	e.SetParamFloatAsync("MPC_XY_VEL_MAX", 6.0, func(ok bool, value float32) { done <- ok })

	select {
	case ok := <-done:
		if ok {
			t.Fatal("want ok=false for a concurrent same-name request")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
	if out.sentCount() != 1 {
		t.Fatalf("sentCount=%d, want 1 (second request never transmitted)", out.sentCount())
	}
}

func TestParamEngineSetIntBitReinterpretsValue(t *testing.T) {
	out := newFakeOutbound()
	defer out.wheel.Stop()
	e := NewParamEngine(out, 3, 200*time.Millisecond)

	done := make(chan int32, 1)
	e.SetParamIntAsync("SYS_AUTOSTART", 4001, func(ok bool, value int32) { done <- value })

	if out.sentCount() != 1 {
		t.Fatalf("sentCount=%d, want 1", out.sentCount())
	}
	set, ok := out.lastMessage().(*common.MessageParamSet)
	if !ok {
		t.Fatalf("want MessageParamSet, got %T", out.lastMessage())
	}

	e.HandleParamValue(&common.MessageParamValue{ParamId: "SYS_AUTOSTART", ParamValue: set.ParamValue})

	select {
	case v := <-done:
		if v != 4001 {
			t.Fatalf("value=%d, want 4001", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}
