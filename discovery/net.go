package discovery

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// tcpProbe returns the default Prober: a TCP connect with the given
// per-attempt timeout, measuring wall time to a successful handshake.
func tcpProbe(timeout time.Duration) Prober {
	return func(ctx context.Context, address string) (time.Duration, error) {
		dialer := net.Dialer{Timeout: timeout}
		start := time.Now()
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return 0, err
		}
		latency := time.Since(start)
		_ = conn.Close()
		return latency, nil
	}
}

// resolveHost is the default Resolver.
func resolveHost(ctx context.Context, host string) (string, error) {
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			return a, nil
		}
	}
	if len(addrs) == 0 {
		return "", errors.New("no addresses for " + host)
	}
	return addrs[0], nil
}

// zeroconfBrowse is the default Browser, backed by an mDNS service
// browse. It returns when ctx expires.
func zeroconfBrowse(ctx context.Context, service string, found func(host, address string)) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return err
	}

	entries := make(chan *zeroconf.ServiceEntry, 8)
	go func() {
		for entry := range entries {
			if entry == nil || len(entry.AddrIPv4) == 0 {
				continue
			}
			host := strings.TrimSuffix(entry.HostName, ".")
			if host == "" {
				host = entry.Instance
			}
			found(host, entry.AddrIPv4[0].String())
		}
	}()

	if err := resolver.Browse(ctx, service, "local.", entries); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// outboundIP determines the local interface address used for the
// default route, without sending any packets (UDP connect only binds).
func outboundIP() (net.IP, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP == nil {
		return nil, errors.New("could not determine local interface address")
	}
	return addr.IP, nil
}
