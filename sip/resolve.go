package sip

import (
	"errors"
	"io"
	"net"
)

// ResolveInterfacesIP will check current interfaces and resolve to IP.
// network can be "ip" "ip4" "ip6". Loopback interfaces are skipped, so a
// host with only loopback connectivity returns an error and the caller
// must fall back to a configured address.
func ResolveInterfacesIP(network string) (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue // interface down
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue // loopback interface
		}

		ip, err := resolveInterfaceIP(iface, network)
		if errors.Is(err, io.EOF) {
			continue
		}
		return ip, err
	}

	return nil, errors.New("no interface found on system")
}

func resolveInterfaceIP(iface net.Interface, network string) (net.IP, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, err
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			// IPAddr is returned on multicast not on unicast
			continue
		}
		ip := ipNet.IP
		if ip == nil || ip.IsLoopback() {
			continue
		}

		switch network {
		case "ip4":
			if ip.To4() == nil {
				continue
			}
		case "ip6":
			// IP is v6 only if this returns nil
			if ip.To4() != nil {
				continue
			}
		}

		return ip, nil
	}
	return nil, io.EOF
}
