package control

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"golang.org/x/net/idna"

	"github.com/cqlcore/driver/internal/domain"
)

// ResolvedContactPoint is one configured contact point's resolution
// result, kept for diagnostics per §4.4's initialization step 1.
type ResolvedContactPoint struct {
	OriginalName string
	Endpoints    []domain.Endpoint
}

// ResolveContactPoints implements §4.4's initialization step 1: for each
// configured contact point, if bracketed [ip]:port, ip:port, or a bare
// IP, use as-is; if a hostname, resolve both IPv4 and IPv6 records,
// ignoring individual-family errors, falling back to the OS resolver if
// neither family yielded an address.
func ResolveContactPoints(contactPoints []string, defaultPort int) ([]ResolvedContactPoint, error) {
	out := make([]ResolvedContactPoint, 0, len(contactPoints))
	for _, cp := range contactPoints {
		resolved, err := resolveOne(cp, defaultPort)
		if err != nil {
			return nil, fmt.Errorf("control: resolving contact point %q: %w", cp, err)
		}
		out = append(out, resolved)
	}
	return out, nil
}

func resolveOne(cp string, defaultPort int) (ResolvedContactPoint, error) {
	host, port, err := splitHostPortOrDefault(cp, defaultPort)
	if err != nil {
		return ResolvedContactPoint{}, err
	}

	if ip := net.ParseIP(host); ip != nil {
		return ResolvedContactPoint{
			OriginalName: cp,
			Endpoints:    []domain.Endpoint{domain.NewEndpoint(host, port)},
		}, nil
	}

	// Contact points are operator-typed and may carry non-ASCII labels
	// (an internationalized DNS name); normalize to the A-label form the
	// OS resolver expects before looking it up. A hostname that fails
	// IDNA validation is passed through as-is — the resolver below then
	// fails with its own, more specific error.
	if asciiHost, err := idna.Lookup.ToASCII(host); err == nil {
		host = asciiHost
	}

	var endpoints []domain.Endpoint
	if ips4, err := net.LookupIP(host); err == nil {
		for _, ip := range ips4 {
			if ip4 := ip.To4(); ip4 != nil {
				endpoints = append(endpoints, domain.NewEndpoint(ip4.String(), port))
			}
		}
	}
	if ips6, err := net.LookupIP(host); err == nil {
		for _, ip := range ips6 {
			if ip.To4() == nil {
				endpoints = append(endpoints, domain.NewEndpoint(ip.String(), port))
			}
		}
	}

	if len(endpoints) == 0 {
		addrs, err := net.LookupHost(host)
		if err != nil {
			return ResolvedContactPoint{}, fmt.Errorf("no addresses found for %q: %w", host, err)
		}
		for _, a := range addrs {
			endpoints = append(endpoints, domain.NewEndpoint(a, port))
		}
	}

	return ResolvedContactPoint{OriginalName: cp, Endpoints: endpoints}, nil
}

func splitHostPortOrDefault(cp string, defaultPort int) (string, int, error) {
	if strings.HasPrefix(cp, "[") {
		host, portStr, err := net.SplitHostPort(cp)
		if err != nil {
			return "", 0, err
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, err
		}
		return host, port, nil
	}
	if strings.Count(cp, ":") == 1 {
		host, portStr, err := net.SplitHostPort(cp)
		if err != nil {
			return "", 0, err
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, err
		}
		return host, port, nil
	}
	return cp, defaultPort, nil
}
