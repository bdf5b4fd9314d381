// Package status defines the lifecycle status vocabulary the Session
// Facade reports, adapted from the teacher's gateway status enum.
package status

import (
	"encoding/json"
	"fmt"
	"strings"
)

// GatewayStatus is the lifecycle phase of a mav-gateway process.
type GatewayStatus string

const (
	Starting GatewayStatus = "Starting"
	Running  GatewayStatus = "Running"
	Stopping GatewayStatus = "Stopping"
	Stopped  GatewayStatus = "Stopped"
)

// String returns the status text.
func (s GatewayStatus) String() string { return string(s) }

// Parse converts text into a GatewayStatus, rejecting unknown values.
func Parse(v string) (GatewayStatus, error) {
	switch strings.TrimSpace(v) {
	case string(Starting):
		return Starting, nil
	case string(Running):
		return Running, nil
	case string(Stopping):
		return Stopping, nil
	case string(Stopped):
		return Stopped, nil
	default:
		return "", fmt.Errorf("unknown GatewayStatus: %q", v)
	}
}

// MarshalJSON encodes GatewayStatus as its JSON string form.
func (s GatewayStatus) MarshalJSON() ([]byte, error) { return json.Marshal(string(s)) }

// UnmarshalJSON decodes GatewayStatus from its JSON string form.
func (s *GatewayStatus) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := Parse(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
