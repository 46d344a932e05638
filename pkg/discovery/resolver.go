package discovery

import (
	"bytes"
	"context"
	"errors"
	"net"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// DefaultBrowseTimeout is the default timeout for browse operations.
const DefaultBrowseTimeout = 10 * time.Second

// DefaultLookupTimeout is the default timeout for lookup operations.
const DefaultLookupTimeout = 5 * time.Second

// ResolvedService contains information about a discovered endpoint.
type ResolvedService struct {
	// InstanceName is the DNS-SD instance name.
	InstanceName string

	// HostName is the target host name.
	HostName string

	// Port is the service port.
	Port int

	// IPs contains the resolved IP addresses, sorted by preference.
	IPs []net.IP

	// Text contains the raw TXT record key-value pairs.
	Text map[string]string

	// TXT is the decoded TXT record, or nil if it was malformed.
	TXT *TXT
}

// PreferredIP returns the most preferred IP address (first in the sorted list).
// Returns nil if no addresses are available.
func (r *ResolvedService) PreferredIP() net.IP {
	if len(r.IPs) > 0 {
		return r.IPs[0]
	}
	return nil
}

// UDPAddr returns the endpoint address at the preferred IP.
func (r *ResolvedService) UDPAddr() (*net.UDPAddr, error) {
	ip := r.PreferredIP()
	if ip == nil {
		return nil, ErrServiceNotFound
	}
	return net.ResolveUDPAddr("udp", hostPort(ip, r.Port))
}

// MDNSResolver is the interface for mDNS service resolution.
// This allows for dependency injection in tests.
//
// Browse and Lookup return once the query is running. Results are sent on
// entries, which the implementation closes when ctx ends.
type MDNSResolver interface {
	// Browse browses for services of the given type.
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

	// Lookup looks up a specific service instance.
	Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// zeroconfResolver is the production implementation using grandcat/zeroconf.
// A zeroconf resolver shuts its sockets down when a query ends, so each
// query gets a fresh one.
type zeroconfResolver struct {
	opts []zeroconf.ClientOption
}

func (z *zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	r, err := zeroconf.NewResolver(z.opts...)
	if err != nil {
		return err
	}
	return r.Browse(ctx, service, domain, entries)
}

func (z *zeroconfResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	r, err := zeroconf.NewResolver(z.opts...)
	if err != nil {
		return err
	}
	return r.Lookup(ctx, instance, service, domain, entries)
}

// ResolverConfig holds configuration for the Resolver.
type ResolverConfig struct {
	// MDNSResolver is the underlying mDNS resolver implementation.
	// If nil, the default zeroconf resolver is used.
	MDNSResolver MDNSResolver

	// Interfaces restricts the default resolver to these interfaces.
	Interfaces []net.Interface

	// BrowseTimeout is the timeout for browse operations.
	// If zero, DefaultBrowseTimeout is used.
	BrowseTimeout time.Duration

	// LookupTimeout is the timeout for lookup operations.
	// If zero, DefaultLookupTimeout is used.
	LookupTimeout time.Duration

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Resolver discovers verification endpoints via DNS-SD.
type Resolver struct {
	config   ResolverConfig
	resolver MDNSResolver
	log      logging.LeveledLogger
}

// NewResolver creates a new Resolver with the given configuration.
func NewResolver(config ResolverConfig) *Resolver {
	resolver := config.MDNSResolver
	if resolver == nil {
		zr := &zeroconfResolver{}
		if len(config.Interfaces) > 0 {
			zr.opts = append(zr.opts, zeroconf.SelectIfaces(config.Interfaces))
		}
		resolver = zr
	}

	if config.BrowseTimeout == 0 {
		config.BrowseTimeout = DefaultBrowseTimeout
	}
	if config.LookupTimeout == 0 {
		config.LookupTimeout = DefaultLookupTimeout
	}

	r := &Resolver{
		config:   config,
		resolver: resolver,
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("discovery")
	}
	return r
}

// Browse discovers verification endpoints on the network.
// Returns a channel that receives discovered services until the context is
// cancelled or the browse timeout expires.
func (r *Resolver) Browse(ctx context.Context) (<-chan ResolvedService, error) {
	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); ok {
		ctx, cancel = context.WithCancel(ctx)
	} else {
		ctx, cancel = context.WithTimeout(ctx, r.config.BrowseTimeout)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	if err := r.resolver.Browse(ctx, ServiceType, DefaultDomain, entries); err != nil {
		cancel()
		return nil, err
	}

	results := make(chan ResolvedService)
	go func() {
		defer cancel()
		defer close(results)

		for entry := range entries {
			svc := r.entryToResolvedService(entry)
			select {
			case results <- svc:
			case <-ctx.Done():
				// The resolver blocks on entries until it sees ctx end.
				for range entries {
				}
				return
			}
		}
	}()

	return results, nil
}

// FindByHashedKey browses until it finds the endpoint whose TXT record
// carries hashedKey.
func (r *Resolver) FindByHashedKey(ctx context.Context, hashedKey []byte) (*ResolvedService, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	services, err := r.Browse(ctx)
	if err != nil {
		return nil, err
	}

	for svc := range services {
		if svc.TXT != nil && bytes.Equal(svc.TXT.HashedKey, hashedKey) {
			found := svc
			return &found, nil
		}
	}

	if err := ctxError(ctx); err != nil {
		return nil, err
	}
	return nil, ErrServiceNotFound
}

// Lookup looks up a specific endpoint by instance name.
func (r *Resolver) Lookup(ctx context.Context, instanceName string) (*ResolvedService, error) {
	if err := ValidateInstanceName(instanceName); err != nil {
		return nil, err
	}

	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); ok {
		ctx, cancel = context.WithCancel(ctx)
	} else {
		ctx, cancel = context.WithTimeout(ctx, r.config.LookupTimeout)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	if err := r.resolver.Lookup(ctx, instanceName, ServiceType, DefaultDomain, entries); err != nil {
		cancel()
		return nil, err
	}
	defer func() {
		cancel()
		for range entries {
		}
	}()

	select {
	case entry, ok := <-entries:
		if ok && entry != nil {
			svc := r.entryToResolvedService(entry)
			return &svc, nil
		}
	case <-ctx.Done():
	}
	if err := ctxError(ctx); err != nil {
		return nil, err
	}
	return nil, ErrServiceNotFound
}

// ctxError maps a finished context to ErrTimeout or its own error.
func ctxError(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

// entryToResolvedService converts a zeroconf.ServiceEntry to ResolvedService.
func (r *Resolver) entryToResolvedService(entry *zeroconf.ServiceEntry) ResolvedService {
	var allIPs []net.IP
	allIPs = append(allIPs, entry.AddrIPv4...)
	allIPs = append(allIPs, entry.AddrIPv6...)

	txt, err := DecodeTXT(entry.Text)
	if err != nil && r.log != nil {
		r.log.Debugf("instance %s: %v", entry.Instance, err)
	}

	return ResolvedService{
		InstanceName: entry.Instance,
		HostName:     entry.HostName,
		Port:         entry.Port,
		IPs:          SortIPsByPreference(allIPs),
		Text:         ParseTXT(entry.Text),
		TXT:          txt,
	}
}
