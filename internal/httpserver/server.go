package httpserver

import (
	"net/http"
	"time"

	"github.com/tr1v3r/pkg/log"

	"github.com/tr1v3r/vcast/internal/config"
	"github.com/tr1v3r/vcast/internal/monitoring"
	"github.com/tr1v3r/vcast/internal/state"
	"github.com/tr1v3r/vcast/internal/upnp"
)

func NewMux() *http.ServeMux {
	return http.NewServeMux()
}

func xmlHandler(doc string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		_, _ = w.Write([]byte(doc))
	}
}

func RegisterHTTP(mux *http.ServeMux, baseURL, deviceUUID string, st *state.Renderer, cfg config.Config) {
	mux.HandleFunc("/device.xml", xmlHandler(upnp.DeviceDescriptionXML(baseURL, deviceUUID)))
	mux.HandleFunc("/upnp/service/avtransport.xml", xmlHandler(upnp.SCPDAVTransportXML()))
	mux.HandleFunc("/upnp/service/renderingcontrol.xml", xmlHandler(upnp.SCPDRenderingXML()))
	mux.HandleFunc("/upnp/service/connectionmanager.xml", xmlHandler(upnp.SCPDConnectionManagerXML()))

	mux.HandleFunc("/upnp/control/avtransport", upnp.AVTransportHandler(st, cfg))
	mux.HandleFunc("/upnp/control/renderingcontrol", upnp.RenderingControlHandler(st, cfg))
	mux.HandleFunc("/upnp/control/connectionmanager", upnp.ConnectionManagerHandler(st))

	mux.Handle("/upnp/event/avtransport", upnp.NewSubscriptions())
	mux.Handle("/upnp/event/renderingcontrol", upnp.NewSubscriptions())
	mux.Handle("/upnp/event/connectionmanager", upnp.NewSubscriptions())

	mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("vcast DMR running\n" + monitoring.GetMetrics().Snapshot().Summary() + "\n"))
	})
}

func LogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Info("HTTP request method=%s path=%s remote_addr=%s user_agent=%s",
			r.Method, r.URL.Path, r.RemoteAddr, r.UserAgent())

		start := time.Now()
		next.ServeHTTP(w, r)
		duration := time.Since(start)

		// Record metrics
		monitoring.GetMetrics().RecordHTTPRequest(r.Method, duration)

		log.Debug("HTTP request completed method=%s path=%s duration=%s",
			r.Method, r.URL.Path, duration.String())
	})
}
