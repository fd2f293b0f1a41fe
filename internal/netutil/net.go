package netutil

import (
	"fmt"
	"net"
	"strconv"
)

type iface struct {
	flags net.Flags
	addrs []net.Addr
}

// FirstUsableIPv4 returns the first non-loopback IPv4 address of an up
// interface. SSDP LOCATION headers point at it.
func FirstUsableIPv4() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}

	list := make([]iface, 0, len(ifaces))
	for _, i := range ifaces {
		addrs, _ := i.Addrs()
		list = append(list, iface{flags: i.Flags, addrs: addrs})
	}
	return pickIPv4(list)
}

func pickIPv4(ifaces []iface) (string, error) {
	for _, i := range ifaces {
		if i.flags&(net.FlagUp|net.FlagLoopback) != net.FlagUp {
			continue
		}
		for _, a := range i.addrs {
			if ipn, ok := a.(*net.IPNet); ok && ipn.IP.To4() != nil {
				ip := ipn.IP.To4()
				if !ip.IsLoopback() && !ip.IsLinkLocalUnicast() {
					return ip.String(), nil
				}
			}
		}
	}
	return "", fmt.Errorf("no IPv4 found")
}

// BaseURL is the root URL the device description is served under.
func BaseURL(ip string, port int) string {
	return "http://" + net.JoinHostPort(ip, strconv.Itoa(port))
}
