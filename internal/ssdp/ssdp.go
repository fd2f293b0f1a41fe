package ssdp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tr1v3r/pkg/log"

	"github.com/tr1v3r/vcast/internal/upnp"
)

const (
	ssdpAddr = "239.255.255.250:1900"
	maxAge   = 1800

	announceInterval = 30 * time.Second
)

type target struct{ nt, usn string }

// targets lists the notification types the device advertises.
func targets(deviceUUID string) []target {
	return []target{
		{"upnp:rootdevice", deviceUUID + "::upnp:rootdevice"},
		{deviceUUID, deviceUUID},
		{upnp.DeviceType, deviceUUID + "::" + upnp.DeviceType},
		{upnp.AVTransportType, deviceUUID + "::" + upnp.AVTransportType},
		{upnp.RenderingType, deviceUUID + "::" + upnp.RenderingType},
		{upnp.ConnectionManagerType, deviceUUID + "::" + upnp.ConnectionManagerType},
	}
}

func aliveMessage(baseURL, serverName string, t target) string {
	return fmt.Sprintf(
		"NOTIFY * HTTP/1.1\r\nHOST: %s\r\nCACHE-CONTROL: max-age=%d\r\nLOCATION: %s/device.xml\r\nNT: %s\r\nNTS: ssdp:alive\r\nSERVER: %s\r\nUSN: %s\r\nBOOTID.UPNP.ORG: 1\r\nCONFIGID.UPNP.ORG: 1\r\n\r\n",
		ssdpAddr, maxAge, baseURL, t.nt, serverName, t.usn)
}

func byebyeMessage(t target) string {
	return fmt.Sprintf(
		"NOTIFY * HTTP/1.1\r\nHOST: %s\r\nNT: %s\r\nNTS: ssdp:byebye\r\nUSN: %s\r\nBOOTID.UPNP.ORG: 1\r\nCONFIGID.UPNP.ORG: 1\r\n\r\n",
		ssdpAddr, t.nt, t.usn)
}

func searchResponse(baseURL, serverName string, t target, now time.Time) string {
	return fmt.Sprintf(
		"HTTP/1.1 200 OK\r\nCACHE-CONTROL: max-age=%d\r\nDATE: %s\r\nEXT:\r\nLOCATION: %s/device.xml\r\nSERVER: %s\r\nST: %s\r\nUSN: %s\r\nBOOTID.UPNP.ORG: 1\r\nCONFIGID.UPNP.ORG: 1\r\n\r\n",
		maxAge, now.UTC().Format(http.TimeFormat), baseURL, serverName, t.nt, t.usn)
}

// matchSearch returns the targets an M-SEARCH request asks for.
func matchSearch(text, deviceUUID string) []target {
	if !strings.HasPrefix(text, "M-SEARCH * HTTP/1.1") {
		return nil
	}
	if !strings.EqualFold(strings.Trim(headerValue(text, "MAN"), `"`), "ssdp:discover") {
		return nil
	}
	st := headerValue(text, "ST")
	if st == "" {
		return nil
	}

	all := targets(deviceUUID)
	if st == "ssdp:all" {
		return all
	}
	for _, t := range all {
		if t.nt == st {
			return []target{t}
		}
	}
	return nil
}

// Announce multicasts ssdp:alive for every target until ctx is done, then
// sends ssdp:byebye.
func Announce(ctx context.Context, baseURL, deviceUUID, serverName string) {
	addr, _ := net.ResolveUDPAddr("udp4", ssdpAddr)
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		log.CtxError(ctx, "ssdp announce dial fail: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(announceInterval)
	defer ticker.Stop()

	for {
		for _, t := range targets(deviceUUID) {
			_, _ = conn.Write([]byte(aliveMessage(baseURL, serverName, t)))
		}
		select {
		case <-ctx.Done():
			for _, t := range targets(deviceUUID) {
				_, _ = conn.Write([]byte(byebyeMessage(t)))
			}
			log.Debug("ssdp byebye sent")
			return
		case <-ticker.C:
		}
	}
}

// SearchResponder answers M-SEARCH requests until ctx is done.
func SearchResponder(ctx context.Context, baseURL, deviceUUID, serverName string) {
	addr, _ := net.ResolveUDPAddr("udp4", ssdpAddr)
	l, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		log.CtxError(ctx, "ssdp listen fail: %v", err)
		return
	}
	defer l.Close()
	_ = l.SetReadBuffer(65536)
	buf := make([]byte, 8192)

	for {
		_ = l.SetDeadline(time.Now().Add(2 * time.Second))
		n, src, err := l.ReadFromUDP(buf)
		if err != nil {
			// read deadline gives ctx a chance to end the loop
			if ctx.Err() != nil {
				return
			}
			continue
		}
		matched := matchSearch(string(buf[:n]), deviceUUID)
		if len(matched) == 0 {
			continue
		}
		log.Debug("ssdp search from %s matched %d targets", src, len(matched))
		for _, t := range matched {
			_, _ = l.WriteToUDP([]byte(searchResponse(baseURL, serverName, t, time.Now())), src)
		}
	}
}

func headerValue(raw, key string) string {
	lines := strings.Split(raw, "\r\n")
	key = strings.ToUpper(key)
	for _, ln := range lines {
		if i := strings.IndexByte(ln, ':'); i > 0 {
			k := strings.ToUpper(strings.TrimSpace(ln[:i]))
			if k == key {
				return strings.TrimSpace(ln[i+1:])
			}
		}
	}
	return ""
}
