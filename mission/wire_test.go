package mission

import (
	"math"
	"testing"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
)

func TestExpandSingleWaypoint(t *testing.T) {
	item := NewMissionItem(47.398, 8.543, 20)
	item.FlyThrough = true

	wire := expand([]MissionItem{item})
	if len(wire) != 1 {
		t.Fatalf("len(wire)=%d, want 1", len(wire))
	}
	w := wire[0]
	if w.command != common.MAV_CMD_NAV_WAYPOINT {
		t.Fatalf("command=%v, want NAV_WAYPOINT", w.command)
	}
	if w.frame != common.MAV_FRAME_GLOBAL_RELATIVE_ALT_INT {
		t.Fatalf("frame=%v, want GLOBAL_RELATIVE_ALT_INT", w.frame)
	}
	if w.param1 != 0 {
		t.Fatalf("param1=%v, want 0 for fly_through", w.param1)
	}
}

// TestExpandTwoWaypoints is scenario S4: a 2-item mission expands to exactly
// two NAV_WAYPOINT wire items in order.
func TestExpandTwoWaypoints(t *testing.T) {
	items := []MissionItem{
		NewMissionItem(47.0, 8.0, 10),
		NewMissionItem(47.1, 8.1, 15),
	}
	wire := expand(items)
	if len(wire) != 2 {
		t.Fatalf("len(wire)=%d, want 2", len(wire))
	}
	for i, w := range wire {
		if w.command != common.MAV_CMD_NAV_WAYPOINT {
			t.Fatalf("wire[%d].command=%v, want NAV_WAYPOINT", i, w.command)
		}
		if w.logicalIndex != i {
			t.Fatalf("wire[%d].logicalIndex=%d, want %d", i, w.logicalIndex, i)
		}
	}
}

func TestExpandSpeedChangeAndGimbal(t *testing.T) {
	item := NewMissionItem(47.0, 8.0, 10)
	item.SpeedMS = 5.5
	item.GimbalPitchDeg = -30

	wire := expand([]MissionItem{item})
	if len(wire) != 3 {
		t.Fatalf("len(wire)=%d, want 3 (waypoint, speed, gimbal)", len(wire))
	}
	if wire[1].command != common.MAV_CMD_DO_CHANGE_SPEED {
		t.Fatalf("wire[1].command=%v, want DO_CHANGE_SPEED", wire[1].command)
	}
	if wire[1].param2 != 5.5 {
		t.Fatalf("wire[1].param2=%v, want 5.5", wire[1].param2)
	}
	if wire[2].command != common.MAV_CMD_DO_MOUNT_CONTROL {
		t.Fatalf("wire[2].command=%v, want DO_MOUNT_CONTROL", wire[2].command)
	}
	if wire[2].param1 != -30 {
		t.Fatalf("wire[2].param1=%v, want -30", wire[2].param1)
	}
}

func TestExpandCameraTakePhoto(t *testing.T) {
	item := NewMissionItem(47.0, 8.0, 10)
	item.CameraAction = CameraActionTakePhoto

	wire := expand([]MissionItem{item})
	if len(wire) != 2 {
		t.Fatalf("len(wire)=%d, want 2", len(wire))
	}
	if wire[1].command != common.MAV_CMD_IMAGE_START_CAPTURE || wire[1].param3 != 1 {
		t.Fatalf("wire[1]=%+v, want IMAGE_START_CAPTURE with param3=1", wire[1])
	}
}

func TestExpandLoiterTimeReusesPriorWaypoint(t *testing.T) {
	item := NewMissionItem(47.0, 8.0, 10)
	item.CameraActionDelayS = 3

	wire := expand([]MissionItem{item})
	if len(wire) != 2 {
		t.Fatalf("len(wire)=%d, want 2", len(wire))
	}
	loiter := wire[1]
	if loiter.command != common.MAV_CMD_NAV_LOITER_TIME {
		t.Fatalf("wire[1].command=%v, want NAV_LOITER_TIME", loiter.command)
	}
	if loiter.x != wire[0].x || loiter.y != wire[0].y || loiter.z != wire[0].z {
		t.Fatalf("loiter item does not reuse the preceding waypoint's position")
	}
}

// TestAssembleInverseOfExpand is invariant 4: assemble(expand(M)) == M for
// everything supported.
func TestAssembleInverseOfExpand(t *testing.T) {
	items := []MissionItem{
		func() MissionItem {
			m := NewMissionItem(47.398, 8.543, 20)
			m.FlyThrough = true
			m.SpeedMS = 4
			return m
		}(),
		func() MissionItem {
			m := NewMissionItem(47.399, 8.544, 25)
			m.GimbalPitchDeg = -45
			m.CameraAction = CameraActionTakePhoto
			return m
		}(),
	}

	wire := expand(items)
	msgs := make([]*common.MessageMissionItemInt, len(wire))
	for i, w := range wire {
		msgs[i] = w.toMessage(1, 1, uint16(i))
	}

	got, err := assemble(msgs)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(got) != len(items) {
		t.Fatalf("len(got)=%d, want %d", len(got), len(items))
	}
	for i := range items {
		want := items[i]
		g := got[i]
		if math.Abs(g.LatDeg-want.LatDeg) > 1e-6 || math.Abs(g.LonDeg-want.LonDeg) > 1e-6 {
			t.Fatalf("item %d position mismatch: got %+v want %+v", i, g, want)
		}
		if g.FlyThrough != want.FlyThrough {
			t.Fatalf("item %d FlyThrough mismatch: got %v want %v", i, g.FlyThrough, want.FlyThrough)
		}
		if isSet(want.SpeedMS) && g.SpeedMS != want.SpeedMS {
			t.Fatalf("item %d speed mismatch: got %v want %v", i, g.SpeedMS, want.SpeedMS)
		}
		if g.CameraAction != want.CameraAction {
			t.Fatalf("item %d camera action mismatch: got %v want %v", i, g.CameraAction, want.CameraAction)
		}
	}
}

func TestAssembleRejectsWrongFrame(t *testing.T) {
	bad := &common.MessageMissionItemInt{
		Frame:   common.MAV_FRAME_GLOBAL_INT,
		Command: common.MAV_CMD_NAV_WAYPOINT,
	}
	if _, err := assemble([]*common.MessageMissionItemInt{bad}); err == nil {
		t.Fatal("want Unsupported for wrong NAV_WAYPOINT frame")
	}
}

func TestAssembleRejectsLoiterTimeWithoutPriorWaypoint(t *testing.T) {
	bad := &common.MessageMissionItemInt{
		Frame:   common.MAV_FRAME_MISSION,
		Command: common.MAV_CMD_NAV_LOITER_TIME,
	}
	if _, err := assemble([]*common.MessageMissionItemInt{bad}); err == nil {
		t.Fatal("want Unsupported for NAV_LOITER_TIME with no prior waypoint")
	}
}

func TestAssembleRejectsUnknownCommand(t *testing.T) {
	bad := &common.MessageMissionItemInt{
		Frame:   common.MAV_FRAME_MISSION,
		Command: common.MAV_CMD_DO_JUMP,
	}
	if _, err := assemble([]*common.MessageMissionItemInt{bad}); err == nil {
		t.Fatal("want Unsupported for an unrecognized command")
	}
}
