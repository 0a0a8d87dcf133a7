package reconcile

import (
	"time"

	"wgsync/internal/check"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Plan turns a classification into a device write. It reports false, and a
// zero DeviceUpdate, when the device already matches the directory.
//
// The self peer is never written back. Matched peers are always part of
// the peer list: with ReplacePeers set the kernel drops every peer that is
// not listed, so leaving them out would delete them.
func Plan(c Classification, dev DeviceSnapshot, opts Options) (bool, DeviceUpdate) {
	upd := DeviceUpdate{Ifindex: dev.Ifindex}

	upd.Peers = make([]wgtypes.PeerConfig, 0, len(c.New)+len(c.Matched))
	for _, p := range c.New {
		upd.Peers = append(upd.Peers, p.PeerConfig(opts.ReplaceAllowedIPs))
	}
	for _, p := range c.Matched {
		upd.Peers = append(upd.Peers, p.PeerConfig(opts.ReplaceAllowedIPs))
	}

	needsUpdate := len(c.New) > 0

	if opts.RemoveExtraPeers && len(c.Missing) > 0 {
		upd.ReplacePeers = true
		needsUpdate = true
	}

	port := ResolveListenPort(c, opts)
	if port != nil {
		upd.ListenPort = port
		if *port != dev.ListenPort {
			needsUpdate = true
		}
	}

	if !needsUpdate {
		return false, DeviceUpdate{}
	}
	check.Assert(!upd.ReplacePeers || opts.RemoveExtraPeers, "plan: ReplacePeers without RemoveExtraPeers")
	return true, upd
}

// ResolveListenPort picks the configured port, or the self peer's observed
// endpoint port when MatchListenPortToLocalEndpoint is set. Nil means the
// port is left as is.
func ResolveListenPort(c Classification, opts Options) *int {
	var port *int
	if opts.ListenPort != nil {
		p := *opts.ListenPort
		port = &p
	}
	if opts.MatchListenPortToLocalEndpoint && c.Self != nil && c.Self.Endpoint != nil {
		p := int(c.Self.Endpoint.Port())
		port = &p
	}
	return port
}

func secondsToDuration(s uint16) time.Duration {
	return time.Duration(s) * time.Second
}
