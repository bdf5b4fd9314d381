// Package mission implements the Mission Transfer Engine (C7): upload and
// download of waypoint lists, expansion of logical mission items into wire
// items and back, progress monitoring, and set-current.
package mission

import "math"

// CameraAction is the optional camera directive carried by a MissionItem.
type CameraAction int

const (
	CameraActionNone CameraAction = iota
	CameraActionTakePhoto
	CameraActionStartPhotoInterval
	CameraActionStopPhotoInterval
	CameraActionStartVideo
	CameraActionStopVideo
)

// unset is the sentinel for an absent optional float field: NaN, matching
// the "finite" checks spec.md §4.6 performs before expanding each rule.
var unset = math.NaN()

// Unset is the value callers should assign to an optional MissionItem field
// to mean "not present".
func Unset() float64 { return unset }

func isSet(v float64) bool { return !math.IsNaN(v) }

// MissionItem is the logical, user-level mission step (spec.md §3). Any
// optional field left at Unset() is treated as absent by expand.
type MissionItem struct {
	LatDeg    float64
	LonDeg    float64
	RelAltM   float64
	SpeedMS   float64 // Unset() if no speed change
	GimbalPitchDeg float64 // Unset() if no gimbal control
	GimbalYawDeg   float64 // Unset() if no gimbal control

	CameraAction       CameraAction
	PhotoIntervalS     float64 // used when CameraAction == StartPhotoInterval
	CameraActionDelayS float64 // Unset() if no loiter-for-camera delay

	FlyThrough bool
}

// NewMissionItem returns a MissionItem with every optional field unset.
func NewMissionItem(latDeg, lonDeg, relAltM float64) MissionItem {
	return MissionItem{
		LatDeg: latDeg, LonDeg: lonDeg, RelAltM: relAltM,
		SpeedMS: unset, GimbalPitchDeg: unset, GimbalYawDeg: unset,
		CameraAction: CameraActionNone, PhotoIntervalS: unset, CameraActionDelayS: unset,
	}
}

func (m MissionItem) hasPosition() bool {
	return isSet(m.LatDeg) && isSet(m.LonDeg) && isSet(m.RelAltM)
}

func (m MissionItem) hasGimbal() bool {
	return isSet(m.GimbalPitchDeg) || isSet(m.GimbalYawDeg)
}
