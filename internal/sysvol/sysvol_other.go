//go:build !darwin

package sysvol

func setOutputVolume(int) error { return ErrUnsupported }

func setMute(bool) error { return ErrUnsupported }
