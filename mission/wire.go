package mission

import (
	"math"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	mverrors "mavgateway/errors"
)

// wireItem is the logical<->wire bridge: the fields of MISSION_ITEM_INT plus
// the logical index it belongs to (the bidirectional index map of spec.md
// §3 is just this field, since seq is always the slice position).
type wireItem struct {
	frame        common.MAV_FRAME
	command      common.MAV_CMD
	autocontinue uint8
	param1, param2, param3, param4 float32
	x, y int32
	z    float32

	logicalIndex int
}

func (w wireItem) toMessage(targetSystem, targetComponent byte, seq uint16) *common.MessageMissionItemInt {
	return &common.MessageMissionItemInt{
		TargetSystem:    targetSystem,
		TargetComponent: targetComponent,
		Seq:             seq,
		Frame:           w.frame,
		Command:         w.command,
		Current:         boolToU8(seq == 0),
		Autocontinue:    w.autocontinue,
		Param1:          w.param1,
		Param2:          w.param2,
		Param3:          w.param3,
		Param4:          w.param4,
		X:               w.x,
		Y:               w.y,
		Z:               w.z,
		MissionType:     common.MAV_MISSION_TYPE_MISSION,
	}
}

func boolToU8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// expand turns a logical mission into the dense, 0-based wire sequence per
// spec.md §4.6's expansion rules, applied in order for each logical item.
func expand(items []MissionItem) []wireItem {
	var out []wireItem
	var lastFrame common.MAV_FRAME
	var lastX, lastY int32
	var lastZ float32
	havePrevPosition := false

	for logicalIndex, item := range items {
		if item.hasPosition() {
			acceptRadius := float32(math.NaN())
			if item.FlyThrough {
				acceptRadius = 0
			}
			w := wireItem{
				frame:        common.MAV_FRAME_GLOBAL_RELATIVE_ALT_INT,
				command:      common.MAV_CMD_NAV_WAYPOINT,
				autocontinue: 1,
				param1:       acceptRadius,
				x:            int32(math.Round(item.LatDeg * 1e7)),
				y:            int32(math.Round(item.LonDeg * 1e7)),
				z:            float32(item.RelAltM),
				logicalIndex: logicalIndex,
			}
			out = append(out, w)
			lastFrame, lastX, lastY, lastZ = w.frame, w.x, w.y, w.z
			havePrevPosition = true
		}

		if isSet(item.SpeedMS) {
			out = append(out, wireItem{
				frame:        common.MAV_FRAME_MISSION,
				command:      common.MAV_CMD_DO_CHANGE_SPEED,
				autocontinue: 1,
				param1:       1, // ground speed
				param2:       float32(item.SpeedMS),
				param3:       -1, // no throttle change
				param4:       0,  // absolute
				logicalIndex: logicalIndex,
			})
		}

		if item.hasGimbal() {
			pitch := float32(0)
			if isSet(item.GimbalPitchDeg) {
				pitch = float32(item.GimbalPitchDeg)
			}
			yaw := float32(0)
			if isSet(item.GimbalYawDeg) {
				yaw = float32(item.GimbalYawDeg)
			}
			out = append(out, wireItem{
				frame:        common.MAV_FRAME_MISSION,
				command:      common.MAV_CMD_DO_MOUNT_CONTROL,
				autocontinue: 1,
				param1:       pitch,
				param2:       0,
				param3:       yaw,
				param4:       float32(math.NaN()),
				z:            float32(common.MAV_MOUNT_MODE_MAVLINK_TARGETING),
				logicalIndex: logicalIndex,
			})
		}

		if isSet(item.CameraActionDelayS) && havePrevPosition {
			out = append(out, wireItem{
				frame:        lastFrame,
				command:      common.MAV_CMD_NAV_LOITER_TIME,
				autocontinue: 1,
				param1:       float32(item.CameraActionDelayS),
				x:            lastX,
				y:            lastY,
				z:            lastZ,
				logicalIndex: logicalIndex,
			})
		}

		if item.CameraAction != CameraActionNone {
			out = append(out, cameraActionWireItem(item, logicalIndex))
		}
	}
	return out
}

func cameraActionWireItem(item MissionItem, logicalIndex int) wireItem {
	w := wireItem{frame: common.MAV_FRAME_MISSION, autocontinue: 1, logicalIndex: logicalIndex}
	switch item.CameraAction {
	case CameraActionTakePhoto:
		w.command = common.MAV_CMD_IMAGE_START_CAPTURE
		w.param1, w.param2, w.param3 = 0, 0, 1
	case CameraActionStartPhotoInterval:
		w.command = common.MAV_CMD_IMAGE_START_CAPTURE
		w.param1, w.param2, w.param3 = 0, float32(item.PhotoIntervalS), 0
	case CameraActionStopPhotoInterval:
		w.command = common.MAV_CMD_IMAGE_STOP_CAPTURE
		w.param1 = 0
	case CameraActionStartVideo:
		w.command = common.MAV_CMD_VIDEO_START_CAPTURE
		w.param1 = 0
	case CameraActionStopVideo:
		w.command = common.MAV_CMD_VIDEO_STOP_CAPTURE
		w.param1 = 0
	}
	return w
}

// assemble is the inverse of expand: walk wire items in order and rebuild
// the logical mission. Unsupported combinations raise mverrors.Unsupported.
func assemble(items []*common.MessageMissionItemInt) ([]MissionItem, error) {
	var out []MissionItem
	open := false
	var lastFrame common.MAV_FRAME
	var lastX, lastY, lastZ float32
	havePrevPosition := false

	newItem := func() *MissionItem {
		mi := NewMissionItem(unset, unset, unset)
		out = append(out, mi)
		open = true
		return &out[len(out)-1]
	}

	for _, wi := range items {
		if len(out) == 0 && wi.Command != common.MAV_CMD_NAV_WAYPOINT {
			return nil, mverrors.Unsupported
		}
		switch wi.Command {
		case common.MAV_CMD_NAV_WAYPOINT:
			if wi.Frame != common.MAV_FRAME_GLOBAL_RELATIVE_ALT_INT {
				return nil, mverrors.Unsupported
			}
			if open && out[len(out)-1].hasPosition() {
				open = false
			}
			var cur *MissionItem
			if !open {
				cur = newItem()
			} else {
				cur = &out[len(out)-1]
			}
			cur.LatDeg = float64(wi.X) / 1e7
			cur.LonDeg = float64(wi.Y) / 1e7
			cur.RelAltM = float64(wi.Z)
			cur.FlyThrough = wi.Param1 == 0
			lastFrame, lastX, lastY, lastZ = wi.Frame, float32(wi.X), float32(wi.Y), wi.Z
			havePrevPosition = true

		case common.MAV_CMD_DO_CHANGE_SPEED:
			if wi.Frame != common.MAV_FRAME_MISSION || wi.Param1 != 1 || wi.Param4 != 0 {
				return nil, mverrors.Unsupported
			}
			cur := currentOrNew(&out, newItem)
			cur.SpeedMS = float64(wi.Param2)

		case common.MAV_CMD_DO_MOUNT_CONTROL:
			if wi.Frame != common.MAV_FRAME_MISSION || common.MAV_MOUNT_MODE(wi.Z) != common.MAV_MOUNT_MODE_MAVLINK_TARGETING {
				return nil, mverrors.Unsupported
			}
			cur := currentOrNew(&out, newItem)
			cur.GimbalPitchDeg = float64(wi.Param1)
			cur.GimbalYawDeg = float64(wi.Param3)

		case common.MAV_CMD_NAV_LOITER_TIME:
			if !havePrevPosition {
				return nil, mverrors.Unsupported
			}
			_ = lastFrame
			_ = lastX
			_ = lastY
			_ = lastZ
			cur := currentOrNew(&out, newItem)
			cur.CameraActionDelayS = float64(wi.Param1)

		case common.MAV_CMD_IMAGE_START_CAPTURE:
			cur := currentOrNew(&out, newItem)
			switch {
			case wi.Param1 == 0 && wi.Param2 == 0 && wi.Param3 == 1:
				cur.CameraAction = CameraActionTakePhoto
			case wi.Param1 == 0 && wi.Param3 == 0:
				cur.CameraAction = CameraActionStartPhotoInterval
				cur.PhotoIntervalS = float64(wi.Param2)
			default:
				return nil, mverrors.Unsupported
			}

		case common.MAV_CMD_IMAGE_STOP_CAPTURE:
			cur := currentOrNew(&out, newItem)
			cur.CameraAction = CameraActionStopPhotoInterval

		case common.MAV_CMD_VIDEO_START_CAPTURE:
			cur := currentOrNew(&out, newItem)
			cur.CameraAction = CameraActionStartVideo

		case common.MAV_CMD_VIDEO_STOP_CAPTURE:
			cur := currentOrNew(&out, newItem)
			cur.CameraAction = CameraActionStopVideo

		default:
			return nil, mverrors.Unsupported
		}
	}
	return out, nil
}

// currentOrNew returns the currently-open logical item, opening a fresh one
// if there isn't one yet. assemble rejects a stream whose first wire item is
// not NAV_WAYPOINT, so on its path an item is always open already.
func currentOrNew(out *[]MissionItem, newItem func() *MissionItem) *MissionItem {
	if len(*out) == 0 {
		return newItem()
	}
	return &(*out)[len(*out)-1]
}
