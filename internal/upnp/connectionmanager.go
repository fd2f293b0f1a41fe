package upnp

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tr1v3r/pkg/log"

	"github.com/tr1v3r/vcast/internal/monitoring"
	"github.com/tr1v3r/vcast/internal/state"
)

// DLNA.ORG_OP=01: range seek. DLNA.ORG_FLAGS: streaming transfer mode.
const dlnaParams = "DLNA.ORG_OP=01;DLNA.ORG_FLAGS=01700000000000000000000000000000"

var sinkMIMETypes = []string{
	"video/mp4",
	"video/mpeg",
	"video/quicktime",
	"video/webm",
	"video/x-matroska",
	"video/x-ms-wmv",
	"video/x-msvideo",
	"video/mp2t",
	"audio/mpeg",
	"audio/mp4",
	"audio/flac",
	"audio/x-wav",
	"application/x-mpegurl",
	"application/vnd.apple.mpegurl",
}

// SinkProtocolInfo lists what the renderer accepts.
func SinkProtocolInfo() string {
	sinks := []string{"http-get:*:*:*"}
	for _, t := range sinkMIMETypes {
		sinks = append(sinks, fmt.Sprintf("http-get:*:%s:%s", t, dlnaParams))
	}
	return strings.Join(sinks, ",")
}

func ConnectionManagerHandler(st *state.Renderer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := st.Context()
		sa := ParseSOAPAction(r.Header.Get("SOAPACTION"))
		body, _ := io.ReadAll(r.Body)

		monitoring.GetMetrics().RecordUPnPAction()
		log.CtxDebug(ctx, "cm request body: %s", string(body))

		switch sa {
		case "GetProtocolInfo":
			// a renderer is a sink only
			resp := fmt.Sprintf("<Source></Source><Sink>%s</Sink>", SinkProtocolInfo())
			WriteSOAPResponse(w, ConnectionManagerType, "GetProtocolInfoResponse", resp)

		case "GetCurrentConnectionIDs":
			WriteSOAPResponse(w, ConnectionManagerType, "GetCurrentConnectionIDsResponse", "<ConnectionIDs>0</ConnectionIDs>")

		case "GetCurrentConnectionInfo":
			// only the default connection 0 exists
			if cid := XMLText(body, "ConnectionID"); cid != "0" {
				monitoring.GetMetrics().RecordUPnPError()
				WriteSOAPError(w, ErrCodeInvalidConnection, "Invalid connection reference")
				return
			}
			resp := `<RcsID>0</RcsID>
<AVTransportID>0</AVTransportID>
<ProtocolInfo></ProtocolInfo>
<PeerConnectionManager></PeerConnectionManager>
<PeerConnectionID>-1</PeerConnectionID>
<Direction>Input</Direction>
<Status>OK</Status>`
			WriteSOAPResponse(w, ConnectionManagerType, "GetCurrentConnectionInfoResponse", resp)

		default:
			monitoring.GetMetrics().RecordUPnPError()
			WriteSOAPError(w, ErrCodeInvalidAction, "Invalid Action")
		}
	}
}
