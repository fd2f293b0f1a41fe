package upnp

import (
	"fmt"
	"html"
	"net"
	"net/http"
	"strings"
)

// UPnP action error codes.
const (
	ErrCodeInvalidAction          = 401
	ErrCodeInvalidArgs            = 402
	ErrCodeActionFailed           = 501
	ErrCodeTransitionNotAvailable = 701
	ErrCodePlayingFailed          = 704
	ErrCodeInvalidConnection      = 706
	ErrCodeSeekModeNotSupported   = 710
	ErrCodeIllegalSeekTarget      = 711
	ErrCodeSessionInUse           = 712 // also "play mode not supported"
	ErrCodeNoContent              = 714
	ErrCodeResourceNotFound       = 716
	ErrCodePlaySpeedNotSupported  = 717
)

func ParseSOAPAction(sa string) string {
	sa = strings.Trim(sa, "\"")
	if i := strings.LastIndex(sa, "#"); i >= 0 {
		return sa[i+1:]
	}
	return sa
}

// WriteSOAPResponse writes a successful action response in serviceType's
// namespace. inner is inserted verbatim and must already be escaped.
func WriteSOAPResponse(w http.ResponseWriter, serviceType, respName, inner string) {
	w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
	env := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
  <s:Body>
    <u:%s xmlns:u="%s">%s</u:%s>
  </s:Body>
</s:Envelope>`, respName, serviceType, inner, respName)
	_, _ = w.Write([]byte(env))
}

func WriteSOAPError(w http.ResponseWriter, code int, desc string) {
	w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
	w.WriteHeader(http.StatusInternalServerError)
	env := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
  <s:Body>
    <s:Fault>
      <faultcode>s:Client</faultcode>
      <faultstring>UPnPError</faultstring>
      <detail>
        <UPnPError xmlns="urn:schemas-upnp-org:control-1-0">
          <errorCode>%d</errorCode>
          <errorDescription>%s</errorDescription>
        </UPnPError>
      </detail>
    </s:Fault>
  </s:Body>
</s:Envelope>`, code, html.EscapeString(desc))
	_, _ = w.Write([]byte(env))
}

// XMLText returns the unescaped text of the first <tag> or <u:tag> element.
func XMLText(b []byte, tag string) string {
	open := "<" + tag + ">"
	close := "</" + tag + ">"
	s := string(b)
	i := strings.Index(s, open)
	if i < 0 {
		open = "<u:" + tag + ">"
		close = "</u:" + tag + ">"
		i = strings.Index(s, open)
		if i < 0 {
			return ""
		}
	}
	i += len(open)
	j := strings.Index(s[i:], close)
	if j < 0 {
		return ""
	}
	return html.UnescapeString(strings.TrimSpace(s[i : i+j]))
}

func ControllerID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
