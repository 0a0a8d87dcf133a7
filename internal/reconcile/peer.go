package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Resolver looks up the addresses of an endpoint host. *net.Resolver
// satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Parser validates directory entries into peer records.
type Parser struct {
	Resolver Resolver
}

// NewParser returns a parser resolving endpoints through r. A nil r uses
// net.DefaultResolver.
func NewParser(r Resolver) *Parser {
	return &Parser{Resolver: r}
}

func (p *Parser) resolver() Resolver {
	if p == nil || p.Resolver == nil {
		return net.DefaultResolver
	}
	return p.Resolver
}

// ParseAll parses entries in order and stops at the first invalid one.
func (p *Parser) ParseAll(ctx context.Context, entries []Entry) ([]PeerRecord, error) {
	out := make([]PeerRecord, 0, len(entries))
	for _, e := range entries {
		rec, err := p.Parse(ctx, e)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Parse validates a single entry. Only the first value of single-valued
// attributes is looked at.
func (p *Parser) Parse(ctx context.Context, e Entry) (PeerRecord, error) {
	rec := PeerRecord{DN: e.DN}

	raw, ok := e.First(AttrPublicKey)
	if !ok {
		return PeerRecord{}, &EntryError{DN: e.DN, Attribute: AttrPublicKey, Err: ErrMissingPublicKey}
	}
	key, err := wgtypes.NewKey(raw)
	if err != nil {
		return PeerRecord{}, &EntryError{DN: e.DN, Attribute: AttrPublicKey, Err: ErrInvalidKey, Cause: err}
	}
	rec.PublicKey = key

	if raw, ok := e.First(AttrPresharedKey); ok {
		psk, err := wgtypes.NewKey(raw)
		if err != nil {
			return PeerRecord{}, &EntryError{DN: e.DN, Attribute: AttrPresharedKey, Err: ErrInvalidKey, Cause: err}
		}
		rec.PresharedKey = &psk
	}

	ips := e.Values(AttrAllowedIP)
	rec.AllowedIPs = make([]netip.Prefix, 0, len(ips))
	for _, v := range ips {
		pref, err := netip.ParsePrefix(string(v))
		if err != nil {
			return PeerRecord{}, &EntryError{DN: e.DN, Attribute: AttrAllowedIP, Err: ErrInvalidAllowedIP, Cause: err}
		}
		rec.AllowedIPs = append(rec.AllowedIPs, pref)
	}

	if raw, ok := e.First(AttrEndpoint); ok {
		ep, err := p.resolveEndpoint(ctx, string(raw))
		if err != nil {
			var entryErr *EntryError
			if errors.As(err, &entryErr) {
				entryErr.DN = e.DN
			}
			return PeerRecord{}, err
		}
		rec.Endpoint = &ep
	}

	if raw, ok := e.First(AttrPersistentKeepalive); ok {
		n, err := strconv.ParseUint(string(raw), 10, 16)
		if err != nil {
			return PeerRecord{}, &EntryError{DN: e.DN, Attribute: AttrPersistentKeepalive, Err: ErrInvalidPersistentKeepalive, Cause: err}
		}
		ka := uint16(n)
		rec.PersistentKeepalive = &ka
	}

	return rec, nil
}

// resolveEndpoint turns host:port into a single address. With several
// lookup results the first one returned by the resolver wins.
func (p *Parser) resolveEndpoint(ctx context.Context, s string) (netip.AddrPort, error) {
	invalid := func(cause error) error {
		return &EntryError{Attribute: AttrEndpoint, Err: ErrInvalidEndpoint, Cause: cause}
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return netip.AddrPort{}, invalid(err)
	}
	if host == "" {
		return netip.AddrPort{}, invalid(fmt.Errorf("missing host in %q", s))
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return netip.AddrPort{}, invalid(err)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(addr.Unmap(), uint16(port)), nil
	}

	addrs, err := p.resolver().LookupNetIP(ctx, "ip", host)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return netip.AddrPort{}, &EntryError{Attribute: AttrEndpoint, Err: ErrEndpointDoesNotResolve, Cause: err}
		}
		return netip.AddrPort{}, invalid(err)
	}
	if len(addrs) == 0 {
		return netip.AddrPort{}, &EntryError{Attribute: AttrEndpoint, Err: ErrEndpointDoesNotResolve}
	}
	return netip.AddrPortFrom(addrs[0].Unmap(), uint16(port)), nil
}

// PeerConfig converts the record into wgctrl's peer representation. Unset
// optional fields stay nil so the kernel keeps its current value.
func (r PeerRecord) PeerConfig(replaceAllowedIPs bool) wgtypes.PeerConfig {
	cfg := wgtypes.PeerConfig{
		PublicKey:         r.PublicKey,
		PresharedKey:      r.PresharedKey,
		ReplaceAllowedIPs: replaceAllowedIPs,
		AllowedIPs:        make([]net.IPNet, 0, len(r.AllowedIPs)),
	}
	for _, pref := range r.AllowedIPs {
		cfg.AllowedIPs = append(cfg.AllowedIPs, prefixToIPNet(pref))
	}
	if r.Endpoint != nil {
		cfg.Endpoint = net.UDPAddrFromAddrPort(*r.Endpoint)
	}
	if r.PersistentKeepalive != nil {
		d := secondsToDuration(*r.PersistentKeepalive)
		cfg.PersistentKeepaliveInterval = &d
	}
	return cfg
}

func prefixToIPNet(pref netip.Prefix) net.IPNet {
	bits := 32
	if pref.Addr().Is6() {
		bits = 128
	}
	return net.IPNet{IP: pref.Addr().AsSlice(), Mask: net.CIDRMask(pref.Bits(), bits)}
}
