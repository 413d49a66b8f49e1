package gpsd

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/maximewewer/gpsd-refclock/pkg/logger"
)

// Service is a host/port candidate for the gpsd socket. Port may be a
// service name.
type Service struct {
	Host string `yaml:"host" json:"host"`
	Port string `yaml:"port" json:"port"`
}

func (s Service) String() string {
	return net.JoinHostPort(s.Host, s.Port)
}

// DefaultServices lists the candidates tried in order
var DefaultServices = []Service{
	{Host: "localhost", Port: "gpsd"},
	{Host: "localhost", Port: "2947"},
	{Host: "127.0.0.1", Port: "2947"},
}

// Resolution is the outcome of resolving the service table: the addresses
// of the first service that resolved and the errors of the ones before it
type Resolution struct {
	Addrs   []netip.AddrPort
	Service int
	Errors  []error
}

// Resolver turns the service table into socket addresses
type Resolver struct {
	resolver *net.Resolver
	timeout  time.Duration
}

// NewResolver creates a resolver using the pure Go DNS client
func NewResolver(timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Resolver{
		resolver: &net.Resolver{PreferGo: true},
		timeout:  timeout,
	}
}

// Resolve tries each service in order and stops at the first one that yields
// at least one address
func (r *Resolver) Resolve(ctx context.Context, services []Service) Resolution {
	var res Resolution
	for i, svc := range services {
		addrs, err := r.resolve(ctx, svc)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("failed to resolve %s: %w", svc, err))
			continue
		}
		res.Addrs = addrs
		res.Service = i

		logger.SafeDebug("gpsd", "gpsd service resolved", map[string]interface{}{
			"service": svc.String(),
			"addrs":   len(addrs),
		})
		return res
	}
	res.Service = len(services)
	return res
}

func (r *Resolver) resolve(ctx context.Context, svc Service) ([]netip.AddrPort, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	port, err := r.resolver.LookupPort(ctx, "tcp", svc.Port)
	if err != nil {
		return nil, err
	}

	var ips []netip.Addr
	if ip, err := netip.ParseAddr(svc.Host); err == nil {
		ips = []netip.Addr{ip}
	} else {
		ips, err = r.resolver.LookupNetIP(ctx, "ip", svc.Host)
		if err != nil {
			return nil, err
		}
	}
	if len(ips) == 0 {
		return nil, ErrNoAddress
	}

	addrs := make([]netip.AddrPort, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, netip.AddrPortFrom(ip.Unmap(), uint16(port)))
	}
	return addrs, nil
}
