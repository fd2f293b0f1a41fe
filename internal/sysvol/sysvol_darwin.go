//go:build darwin

package sysvol

import (
	"fmt"
	"os/exec"
)

func setOutputVolume(v int) error {
	script := fmt.Sprintf(`set volume output volume %d`, v)
	return exec.Command("osascript", "-e", script).Run()
}

func setMute(m bool) error {
	if m {
		return exec.Command("osascript", "-e", `set volume with output muted`).Run()
	}
	return exec.Command("osascript", "-e", `set volume without output muted`).Run()
}
