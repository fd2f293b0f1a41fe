package upnp

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/tr1v3r/pkg/log"

	"github.com/tr1v3r/vcast/internal/config"
	"github.com/tr1v3r/vcast/internal/monitoring"
	"github.com/tr1v3r/vcast/internal/state"
	"github.com/tr1v3r/vcast/internal/sysvol"
)

func RenderingControlHandler(st *state.Renderer, cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := st.Context()
		sa := ParseSOAPAction(r.Header.Get("SOAPACTION"))
		body, _ := io.ReadAll(r.Body)
		controller := ControllerID(r)

		monitoring.GetMetrics().RecordUPnPAction()
		log.CtxDebug(ctx, "rc request body: %s", string(body))

		switch sa {
		case "SetVolume":
			if !st.HasSession(controller) && !cfg.AllowSessionPreempt {
				monitoring.GetMetrics().RecordUPnPError()
				WriteSOAPError(w, ErrCodeSessionInUse, "Session in use")
				return
			}
			v, err := strconv.Atoi(XMLText(body, "DesiredVolume"))
			if err != nil {
				monitoring.GetMetrics().RecordUPnPError()
				WriteSOAPError(w, ErrCodeInvalidArgs, "Invalid Args")
				return
			}
			v = lo.Clamp(v, 0, 100)
			st.SetVolume(v)
			if cfg.LinkSystemOutputVolume {
				if err := sysvol.SetOutputVolume(v); err != nil {
					log.CtxDebug(ctx, "set system volume fail: %v", err)
				}
			}
			WriteSOAPResponse(w, RenderingType, "SetVolumeResponse", "")

		case "GetVolume":
			WriteSOAPResponse(w, RenderingType, "GetVolumeResponse", fmt.Sprintf("<CurrentVolume>%d</CurrentVolume>", st.GetVolume()))

		case "SetMute":
			if !st.HasSession(controller) && !cfg.AllowSessionPreempt {
				monitoring.GetMetrics().RecordUPnPError()
				WriteSOAPError(w, ErrCodeSessionInUse, "Session in use")
				return
			}
			mStr := strings.ToLower(XMLText(body, "DesiredMute"))
			m := mStr == "1" || mStr == "true" || mStr == "yes"
			st.SetMute(m)
			if cfg.LinkSystemOutputVolume {
				if err := sysvol.SetMute(m); err != nil {
					log.CtxDebug(ctx, "set system mute fail: %v", err)
				}
			}
			WriteSOAPResponse(w, RenderingType, "SetMuteResponse", "")

		case "GetMute":
			val := lo.Ternary(st.GetMute(), "1", "0")
			WriteSOAPResponse(w, RenderingType, "GetMuteResponse", fmt.Sprintf("<CurrentMute>%s</CurrentMute>", val))

		default:
			monitoring.GetMetrics().RecordUPnPError()
			WriteSOAPError(w, ErrCodeInvalidAction, "Invalid Action")
		}
	}
}
