// Package sysvol mirrors renderer volume changes to the host's output device.
package sysvol

import (
	"errors"

	"github.com/samber/lo"
)

// ErrUnsupported is returned on platforms without system volume control.
var ErrUnsupported = errors.New("system volume control not supported")

// SetOutputVolume sets the system output volume, 0-100.
func SetOutputVolume(v int) error {
	return setOutputVolume(lo.Clamp(v, 0, 100))
}

// SetMute mutes or unmutes the system output.
func SetMute(m bool) error {
	return setMute(m)
}
