// Package device defines the closed device-identity and device-value
// types shared across the twin store, safety engine and calculator.
package device

import (
	"fmt"
	"strings"
)

// ID identifies a single controllable or sensing device by the pair of its
// owning controller and its component name within that controller.
type ID struct {
	ControllerID string
	ComponentID  string
}

// NewID builds an ID, rejecting empty parts.
func NewID(controllerID, componentID string) (ID, error) {
	if strings.TrimSpace(controllerID) == "" {
		return ID{}, fmt.Errorf("device: controllerID must not be empty")
	}
	if strings.TrimSpace(componentID) == "" {
		return ID{}, fmt.Errorf("device: componentID must not be empty")
	}
	return ID{ControllerID: controllerID, ComponentID: componentID}, nil
}

// String renders the wire form "controllerId:componentId".
func (id ID) String() string {
	return id.ControllerID + ":" + id.ComponentID
}

// ParseID parses the wire form produced by String.
func ParseID(s string) (ID, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return ID{}, fmt.Errorf("device: malformed id %q, want \"controller:component\"", s)
	}
	return NewID(parts[0], parts[1])
}

// Key returns the composite key used by the twin store and related maps.
func (id ID) Key() string {
	return id.String()
}
