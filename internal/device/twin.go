package device

import "time"

// UserIntent is what the user asked for.
type UserIntent struct {
	ID          ID
	Type        Type
	Value       Value
	RequestedAt time.Time
}

// ReportedDeviceState is what the device last told us. Known=false means
// the device has not yet reported; Value may be absent in that case and
// MUST NOT be treated as evidence of convergence.
type ReportedDeviceState struct {
	ID         ID
	Type       Type
	Value      Value
	HasValue   bool
	ReportedAt time.Time
	Known      bool
}

// DesiredDeviceState is the target the reconciler drives toward.
type DesiredDeviceState struct {
	ID    ID
	Type  Type
	Value Value
}

// Snapshot is the atomic three-field read of a device's twin. Any subset
// of Intent/Reported/Desired may be absent.
type Snapshot struct {
	ID       ID
	Type     Type
	Intent   *UserIntent
	Reported *ReportedDeviceState
	Desired  *DesiredDeviceState
}

// Converged reports whether the device has reported a known value equal
// to its desired value. Non-convergence includes both divergence and an
// unknown reported state.
func (s Snapshot) Converged() bool {
	if s.Reported == nil || s.Desired == nil {
		return false
	}
	if !s.Reported.Known || !s.Reported.HasValue {
		return false
	}
	return s.Reported.Value.Equal(s.Desired.Value)
}

// TypeConsistent checks that every present field's type equals the
// snapshot's own type.
func (s Snapshot) TypeConsistent() bool {
	if s.Intent != nil && s.Intent.Type != s.Type {
		return false
	}
	if s.Reported != nil && s.Reported.Type != s.Type {
		return false
	}
	if s.Desired != nil && s.Desired.Type != s.Type {
		return false
	}
	return true
}
