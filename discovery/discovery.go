// Package discovery advertises and locates screenreflect producers over
// multicast DNS / DNS-SD. It only supplies endpoints; it is never in the
// data path.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type producers register under.
const ServiceType = "_screenreflect._tcp"

// Domain is the mDNS domain.
const Domain = "local."

// Endpoint is a resolved producer a consumer can connect to.
type Endpoint struct {
	Instance string
	Host     string
	Port     int
}

// Addr returns the endpoint as a dialable host:port string.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s (%s)", e.Instance, e.Addr())
}

// Advertiser publishes a producer's listening port until shut down.
type Advertiser struct {
	log    *slog.Logger
	server *zeroconf.Server
}

// Advertise registers the service instance on all multicast-capable
// interfaces. The advertised port must equal the transport server's
// listening port.
func Advertise(instance string, port int, log *slog.Logger) (*Advertiser, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "discovery")

	server, err := zeroconf.Register(instance, ServiceType, Domain, port, []string{"txtvers=1"}, nil)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", ServiceType, err)
	}

	log.Info("advertising", "instance", instance, "port", port)
	return &Advertiser{log: log, server: server}, nil
}

// Shutdown withdraws the advertisement.
func (a *Advertiser) Shutdown() {
	a.server.Shutdown()
	a.log.Info("advertisement withdrawn")
}

// Browse streams resolved producer endpoints onto found until ctx is
// cancelled. Entries without a usable address are dropped.
func Browse(ctx context.Context, found chan<- Endpoint, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "discovery")

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 8)
	go func() {
		for entry := range entries {
			ep, ok := endpointFromEntry(entry)
			if !ok {
				log.Debug("unresolvable service entry", "instance", entry.Instance)
				continue
			}
			log.Debug("discovered producer", "endpoint", ep.String())
			select {
			case found <- ep:
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return fmt.Errorf("browse %s: %w", ServiceType, err)
	}
	return nil
}

// First browses until one endpoint is found or ctx expires. Convenience
// for consumers that take the first producer on the network.
func First(ctx context.Context, log *slog.Logger) (Endpoint, error) {
	found := make(chan Endpoint, 1)
	if err := Browse(ctx, found, log); err != nil {
		return Endpoint{}, err
	}
	select {
	case ep := <-found:
		return ep, nil
	case <-ctx.Done():
		return Endpoint{}, fmt.Errorf("no producer found: %w", ctx.Err())
	}
}

func endpointFromEntry(entry *zeroconf.ServiceEntry) (Endpoint, bool) {
	if entry.Port == 0 {
		return Endpoint{}, false
	}
	ep := Endpoint{Instance: entry.Instance, Port: entry.Port}
	switch {
	case len(entry.AddrIPv4) > 0:
		ep.Host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		ep.Host = entry.AddrIPv6[0].String()
	case entry.HostName != "":
		ep.Host = entry.HostName
	default:
		return Endpoint{}, false
	}
	return ep, true
}
