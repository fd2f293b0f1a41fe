package upnp

import (
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/tr1v3r/pkg/log"

	"github.com/tr1v3r/vcast/internal/config"
	"github.com/tr1v3r/vcast/internal/media"
	"github.com/tr1v3r/vcast/internal/monitoring"
	"github.com/tr1v3r/vcast/internal/session"
	"github.com/tr1v3r/vcast/internal/state"
)

// formatTime renders d as H:MM:SS with at least two hour digits.
func formatTime(d time.Duration) string {
	if d < 0 {
		return "00:00:00"
	}
	secs := int64(d / time.Second)
	h := secs / 3600
	m := (secs % 3600) / 60
	s := secs % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// parseTime parses an AVTransport time value: H+:MM:SS with an optional
// decimal fraction (.F+) or ratio fraction (.F0/F1).
func parseTime(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	neg := strings.HasPrefix(v, "-")
	v = strings.TrimLeft(v, "+-")

	parts := strings.Split(v, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid time %q", v)
	}
	secPart, frac, hasFrac := strings.Cut(parts[2], ".")

	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	s, err3 := strconv.Atoi(secPart)
	if err := errors.Join(err1, err2, err3); err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", v, err)
	}
	if h < 0 || m < 0 || m > 59 || s < 0 || s > 59 {
		return 0, fmt.Errorf("invalid time %q: out of range", v)
	}

	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
	if hasFrac {
		if num, den, ok := strings.Cut(frac, "/"); ok {
			n, err1 := strconv.Atoi(num)
			dd, err2 := strconv.Atoi(den)
			if err1 != nil || err2 != nil || dd <= 0 || n < 0 || n >= dd {
				return 0, fmt.Errorf("invalid time fraction %q", frac)
			}
			d += time.Duration(n) * time.Second / time.Duration(dd)
		} else {
			f, err := strconv.ParseFloat("0."+frac, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid time fraction %q: %w", frac, err)
			}
			d += time.Duration(f * float64(time.Second))
		}
	}
	return lo.Ternary(neg, -d, d), nil
}

// parseSpeed parses TransportPlaySpeed values such as "1", "2" or "1/2".
func parseSpeed(v string) (float64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 1, nil
	}
	if num, den, ok := strings.Cut(v, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0, fmt.Errorf("invalid speed %q", v)
		}
		v = strconv.FormatFloat(n/d, 'f', -1, 64)
	}
	speed, err := strconv.ParseFloat(v, 64)
	if err != nil || speed <= 0 {
		return 0, fmt.Errorf("invalid speed %q", v)
	}
	return speed, nil
}

func formatSpeed(speed float64) string {
	return strconv.FormatFloat(speed, 'f', -1, 64)
}

// CurrentURIMetaData:
// <DIDL-Lite
// 	xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/"
// 	xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/"
// 	xmlns:dc="http://purl.org/dc/elements/1.1/">
// 	<item id="1" parentID="video/*" restricted="1">
// 		<dc:title>title</dc:title>
// 		<upnp:class>object.item.videoItem</upnp:class>
// 		<res protocolInfo="http-get:*:video/*:DLNA.ORG_OP=01">http://1.2.3.4:123/video</res>
// 	</item>
// </DIDL-Lite>

// writeRendererError maps renderer failures to UPnP error codes.
func writeRendererError(w http.ResponseWriter, err error) {
	monitoring.GetMetrics().RecordUPnPError()
	switch {
	case errors.Is(err, state.ErrNoContent):
		WriteSOAPError(w, ErrCodeNoContent, "No content selected")
	case errors.Is(err, state.ErrNoSession):
		WriteSOAPError(w, ErrCodeTransitionNotAvailable, "Transition not available")
	case errors.Is(err, media.ErrInvalidSource):
		WriteSOAPError(w, ErrCodeResourceNotFound, "Resource not found")
	case errors.Is(err, session.ErrEngineInit):
		WriteSOAPError(w, ErrCodePlayingFailed, "Playing failed")
	case errors.Is(err, state.ErrInvalidPlayMode):
		WriteSOAPError(w, ErrCodeSessionInUse, "Play mode not supported")
	case errors.Is(err, state.ErrInvalidSpeed):
		WriteSOAPError(w, ErrCodePlaySpeedNotSupported, "Play speed not supported")
	default:
		WriteSOAPError(w, ErrCodeActionFailed, "Action Failed")
	}
}

func AVTransportHandler(st *state.Renderer, cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := st.Context()
		sa := ParseSOAPAction(r.Header.Get("SOAPACTION"))
		body, _ := io.ReadAll(r.Body)
		controller := ControllerID(r)

		// Record UPnP action
		monitoring.GetMetrics().RecordUPnPAction()

		log.CtxDebug(ctx, "get request header: %+v", r.Header)
		log.CtxDebug(ctx, "get request body: %s", string(body))

		sessionInUse := func() bool {
			if st.HasSession(controller) || cfg.AllowSessionPreempt {
				return false
			}
			monitoring.GetMetrics().RecordUPnPError()
			WriteSOAPError(w, ErrCodeSessionInUse, "Session in use")
			return true
		}

		switch sa {
		case "SetAVTransportURI":
			if !st.AcquireOrCheckSession(controller, cfg.AllowSessionPreempt) {
				monitoring.GetMetrics().RecordUPnPError()
				WriteSOAPError(w, ErrCodeSessionInUse, "Session in use")
				return
			}
			uri := XMLText(body, "CurrentURI")
			meta := XMLText(body, "CurrentURIMetaData")
			if meta != "" {
				if d, err := ParseCurrentURIMetaData(meta); err == nil && len(d.Items) > 0 {
					log.CtxInfo(ctx, "controller %s set uri %s (%s)", controller, uri, d.Items[0].Title)
				}
			}
			st.SetURI(uri, meta)
			WriteSOAPResponse(w, AVTransportType, "SetAVTransportURIResponse", "")

		case "Play":
			if !st.AcquireOrCheckSession(controller, cfg.AllowSessionPreempt) {
				monitoring.GetMetrics().RecordUPnPError()
				WriteSOAPError(w, ErrCodeSessionInUse, "Session in use")
				return
			}
			speed, err := parseSpeed(XMLText(body, "Speed"))
			if err != nil {
				monitoring.GetMetrics().RecordUPnPError()
				WriteSOAPError(w, ErrCodePlaySpeedNotSupported, "Play speed not supported")
				return
			}
			if speed != st.GetSpeed() {
				if err := st.SetSpeed(speed); err != nil {
					writeRendererError(w, err)
					return
				}
			}
			if err := st.Play(controller); err != nil {
				log.CtxError(ctx, "play error: %v", err)
				writeRendererError(w, err)
				return
			}
			WriteSOAPResponse(w, AVTransportType, "PlayResponse", "")

		case "Pause":
			if sessionInUse() {
				return
			}
			if err := st.Pause(controller); err != nil {
				writeRendererError(w, err)
				return
			}
			WriteSOAPResponse(w, AVTransportType, "PauseResponse", "")

		case "Stop":
			if sessionInUse() {
				return
			}
			st.Stop()
			uri, _ := st.GetURI()
			st.SetTransportState(lo.Ternary(uri == "", state.NoMediaPresent, state.Stopped))
			st.ReleaseSession()
			WriteSOAPResponse(w, AVTransportType, "StopResponse", "")

		case "Seek":
			if sessionInUse() {
				return
			}
			unit := XMLText(body, "Unit")
			if unit != "REL_TIME" && unit != "ABS_TIME" {
				monitoring.GetMetrics().RecordUPnPError()
				WriteSOAPError(w, ErrCodeSeekModeNotSupported, "Seek mode not supported")
				return
			}
			target, err := parseTime(XMLText(body, "Target"))
			if err != nil {
				monitoring.GetMetrics().RecordUPnPError()
				WriteSOAPError(w, ErrCodeIllegalSeekTarget, "Illegal seek target")
				return
			}
			if err := st.Seek(controller, target); err != nil {
				writeRendererError(w, err)
				return
			}
			WriteSOAPResponse(w, AVTransportType, "SeekResponse", "")

		case "SetPlayMode":
			if sessionInUse() {
				return
			}
			if err := st.SetPlayMode(state.PlayMode(XMLText(body, "NewPlayMode"))); err != nil {
				writeRendererError(w, err)
				return
			}
			WriteSOAPResponse(w, AVTransportType, "SetPlayModeResponse", "")

		case "GetTransportInfo":
			resp := fmt.Sprintf("<CurrentTransportState>%s</CurrentTransportState><CurrentTransportStatus>%s</CurrentTransportStatus><CurrentSpeed>%s</CurrentSpeed>",
				st.GetTransportState(), "OK", formatSpeed(st.GetSpeed()))
			WriteSOAPResponse(w, AVTransportType, "GetTransportInfoResponse", resp)

		case "GetPositionInfo":
			uri, meta := st.GetURI()
			track := lo.Ternary(uri == "", "0", "1")
			trackDur := "00:00:00"
			relTime := "00:00:00"

			// Actual duration and position come from the active session
			if pos, dur, ok := st.PositionInfo(); ok {
				trackDur = formatTime(dur)
				relTime = formatTime(pos)
			}

			resp := fmt.Sprintf(`<Track>%s</Track>
<TrackDuration>%s</TrackDuration>
<TrackMetaData>%s</TrackMetaData>
<TrackURI>%s</TrackURI>
<RelTime>%s</RelTime>
<AbsTime>%s</AbsTime>
<RelCount>2147483647</RelCount>
<AbsCount>2147483647</AbsCount>`, track, trackDur, html.EscapeString(meta), html.EscapeString(uri), relTime, relTime)
			WriteSOAPResponse(w, AVTransportType, "GetPositionInfoResponse", resp)

		case "GetMediaInfo":
			uri, meta := st.GetURI()
			nrTracks := lo.Ternary(uri == "", "0", "1")
			mediaDur := "00:00:00"
			if _, dur, ok := st.PositionInfo(); ok {
				mediaDur = formatTime(dur)
			}

			resp := fmt.Sprintf(`<NrTracks>%s</NrTracks>
<MediaDuration>%s</MediaDuration>
<CurrentURI>%s</CurrentURI>
<CurrentURIMetaData>%s</CurrentURIMetaData>
<NextURI></NextURI>
<NextURIMetaData></NextURIMetaData>
<PlayMedium>NETWORK</PlayMedium>
<RecordMedium>NOT_IMPLEMENTED</RecordMedium>
<WriteStatus>NOT_IMPLEMENTED</WriteStatus>`, nrTracks, mediaDur, html.EscapeString(uri), html.EscapeString(meta))
			WriteSOAPResponse(w, AVTransportType, "GetMediaInfoResponse", resp)

		case "GetTransportSettings":
			resp := fmt.Sprintf(`<PlayMode>%s</PlayMode><RecQualityMode>NOT_IMPLEMENTED</RecQualityMode>`, st.GetPlayMode())
			WriteSOAPResponse(w, AVTransportType, "GetTransportSettingsResponse", resp)

		case "GetDeviceCapabilities":
			resp := `<PlayMedia>NETWORK</PlayMedia><RecMedia>NOT_IMPLEMENTED</RecMedia><RecQualityModes>NOT_IMPLEMENTED</RecQualityModes>`
			WriteSOAPResponse(w, AVTransportType, "GetDeviceCapabilitiesResponse", resp)

		default:
			monitoring.GetMetrics().RecordUPnPError()
			WriteSOAPError(w, ErrCodeInvalidAction, "Invalid Action")
		}
	}
}
