//go:build !darwin

package sysvol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnsupported(t *testing.T) {
	assert.ErrorIs(t, SetOutputVolume(50), ErrUnsupported)
	assert.ErrorIs(t, SetMute(true), ErrUnsupported)
}
