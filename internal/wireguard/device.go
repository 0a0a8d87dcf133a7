// Package wireguard reads and writes WireGuard interfaces through wgctrl.
//
// Reads address the interface by name. Writes address it by the ifindex
// captured at read time: the current link name for that index is looked up
// immediately before the write, so a rename in between cannot redirect the
// update to another device.
package wireguard

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"wgsync/internal/reconcile"

	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

var _ reconcile.Device = (*Client)(nil)

type wgClient interface {
	Device(name string) (*wgtypes.Device, error)
	ConfigureDevice(name string, cfg wgtypes.Config) error
	Close() error
}

// Link is the network interface behind a WireGuard device.
type Link struct {
	Name  string
	Index int
	Type  string
	Up    bool
}

type linkResolver interface {
	ByName(name string) (Link, error)
	ByIndex(index int) (Link, error)
}

// Client talks to kernel WireGuard links and to userspace implementations
// such as wireguard-go, which run on a tun link and expose a UAPI socket.
type Client struct {
	wg    wgClient
	links linkResolver
}

// New opens a wgctrl client.
func New() (*Client, error) {
	wg, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("create wireguard client: %w", err)
	}
	return &Client{wg: wg, links: systemLinks{}}, nil
}

// Close releases the wgctrl client.
func (c *Client) Close() error {
	return c.wg.Close()
}

// Device returns a snapshot of the named interface.
func (c *Client) Device(ctx context.Context, name string) (reconcile.DeviceSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return reconcile.DeviceSnapshot{}, err
	}
	link, err := c.links.ByName(name)
	if err != nil {
		return reconcile.DeviceSnapshot{}, fmt.Errorf("find interface %q: %w", name, err)
	}
	if !wireguardLinkType(link.Type) {
		return reconcile.DeviceSnapshot{}, fmt.Errorf("interface %q is a %s link, not wireguard", name, link.Type)
	}
	if !link.Up {
		slog.Warn("WireGuard interface is down.", "interface", name)
	}

	dev, err := c.wg.Device(name)
	if err != nil {
		return reconcile.DeviceSnapshot{}, fmt.Errorf("inspect wireguard device %q: %w", name, err)
	}
	snap := snapshotFrom(dev, link.Index)
	slog.Debug("Read WireGuard device.", "interface", name, "ifindex", snap.Ifindex, "peers", len(snap.Peers), "listen_port", snap.ListenPort)
	return snap, nil
}

// Apply writes upd to the interface that currently has upd.Ifindex.
func (c *Client) Apply(ctx context.Context, upd reconcile.DeviceUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	link, err := c.links.ByIndex(upd.Ifindex)
	if err != nil {
		return fmt.Errorf("find interface with index %d: %w", upd.Ifindex, err)
	}

	cfg := wgtypes.Config{
		ReplacePeers: upd.ReplacePeers,
		ListenPort:   upd.ListenPort,
		Peers:        upd.Peers,
	}
	slog.Debug("Configuring WireGuard device.", "interface", link.Name, "ifindex", link.Index,
		"replace_peers", cfg.ReplacePeers, "peers", len(cfg.Peers))
	if err := c.wg.ConfigureDevice(link.Name, cfg); err != nil {
		return fmt.Errorf("configure wireguard device %q: %w", link.Name, err)
	}
	return nil
}

// wireguardLinkType accepts kernel links and the tun links userspace
// implementations create. An empty type means the platform does not report
// one.
func wireguardLinkType(t string) bool {
	switch t {
	case "", "wireguard", "tuntap":
		return true
	default:
		return false
	}
}

func snapshotFrom(dev *wgtypes.Device, ifindex int) reconcile.DeviceSnapshot {
	snap := reconcile.DeviceSnapshot{
		Name:       dev.Name,
		Ifindex:    ifindex,
		ListenPort: dev.ListenPort,
		Peers:      make([]reconcile.DevicePeer, 0, len(dev.Peers)),
	}
	if dev.PrivateKey != (wgtypes.Key{}) {
		pub := dev.PublicKey
		snap.PublicKey = &pub
	}
	for _, p := range dev.Peers {
		snap.Peers = append(snap.Peers, reconcile.DevicePeer{
			PublicKey: p.PublicKey,
			Endpoint:  udpAddrPort(p.Endpoint),
		})
	}
	return snap
}

func udpAddrPort(a *net.UDPAddr) *netip.AddrPort {
	if a == nil {
		return nil
	}
	ap := a.AddrPort()
	ap = netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	return &ap
}
