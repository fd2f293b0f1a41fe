package mpv

import (
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/tr1v3r/vcast/internal/engine"
	"github.com/tr1v3r/vcast/internal/media"
)

// launchConfig is everything fixed at process start.
type launchConfig struct {
	sockPath string
	source   engine.ProgressiveSource
	attrs    engine.AudioAttributes
	target   engine.RenderTarget
}

// buildArgs returns the mpv command line. The media is not on it: mpv starts
// idle and paused, and the file is loaded over IPC once property observers
// are in place, so no early event is lost.
func buildArgs(opts Options, lc launchConfig) []string {
	args := []string{
		"--no-terminal",
		"--really-quiet",
		"--idle=yes",
		"--pause",
		"--keep-open=yes",
		"--force-window=yes",
		"--input-ipc-server=" + lc.sockPath,
	}

	if opts.Fullscreen {
		args = append(args, "--fs")
	}
	if lc.target != nil {
		args = append(args, "--wid="+strconv.FormatUint(uint64(lc.target.Handle()), 10))
	}
	if lc.attrs.HandleAudioFocus {
		args = append(args, "--audio-exclusive=yes")
	}
	if lc.source.UserAgent != "" {
		args = append(args, "--user-agent="+lc.source.UserAgent)
	}
	if fields := headerFields(lc.source.Headers); fields != "" {
		args = append(args, "--http-header-fields="+fields)
	}
	if lc.source.BufferForPlayback > 0 {
		args = append(args,
			"--cache=yes",
			fmt.Sprintf("--cache-pause-wait=%g", lc.source.BufferForPlayback.Seconds()),
		)
	}

	return append(args, opts.ExtraArgs...)
}

// resolveURI maps asset URIs to files under assetDir. Other URIs are loaded
// as they are.
func resolveURI(uri, assetDir string) (string, error) {
	key, ok := strings.CutPrefix(uri, media.AssetScheme+":///")
	if !ok {
		return uri, nil
	}
	if assetDir == "" {
		return "", fmt.Errorf("no asset directory configured for asset %q", key)
	}
	key = filepath.FromSlash(key)
	if !filepath.IsLocal(key) {
		return "", fmt.Errorf("asset %q is outside the asset directory", key)
	}
	return filepath.Join(assetDir, key), nil
}

// headerFields renders headers as an mpv string list, sorted for a stable
// command line. Commas separate list items, so they are escaped in values.
func headerFields(headers map[string]string) string {
	keys := lo.Keys(headers)
	slices.Sort(keys)

	fields := make([]string, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, k+": "+strings.ReplaceAll(headers[k], ",", "%2C"))
	}
	return strings.Join(fields, ",")
}

// seekFlags maps a precision to mpv seek flags.
func seekFlags(p engine.SeekPrecision) string {
	if p == engine.SeekApproximate {
		return "absolute+keyframes"
	}
	return "absolute+exact"
}

// loopFile maps a repeat mode to the loop-file property.
func loopFile(m engine.RepeatMode) string {
	return lo.Ternary(m == engine.RepeatAll, "inf", "no")
}

// errorCode maps an end-file file_error to a canonical engine error code.
func errorCode(fileError string) string {
	switch {
	case fileError == "no audio or video data played",
		strings.Contains(fileError, "output initialization failed"),
		strings.Contains(fileError, "decod"):
		return engine.ErrCodeDecoderError
	case fileError == "":
		return engine.ErrCodePlaybackFailed
	default:
		return engine.ErrCodeSourceError
	}
}
