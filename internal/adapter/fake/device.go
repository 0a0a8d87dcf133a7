package fake

import (
	"context"
	"fmt"
	"net/netip"
	"sync"

	"wgsync/internal/reconcile"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

var _ reconcile.Device = (*Device)(nil)

// Device is an in-memory WireGuard interface. Apply follows the kernel's
// semantics for ReplacePeers, listen port and peer upserts.
type Device struct {
	CallRecorder
	mu    sync.Mutex
	state reconcile.DeviceSnapshot

	DeviceErr error
	ApplyErr  error
}

// NewDevice returns a Device holding snap.
func NewDevice(snap reconcile.DeviceSnapshot) *Device {
	return &Device{state: cloneSnapshot(snap)}
}

func (d *Device) Device(ctx context.Context, name string) (reconcile.DeviceSnapshot, error) {
	d.record("Device", name)
	if err := ctx.Err(); err != nil {
		return reconcile.DeviceSnapshot{}, err
	}
	if d.DeviceErr != nil {
		return reconcile.DeviceSnapshot{}, d.DeviceErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if name != d.state.Name {
		return reconcile.DeviceSnapshot{}, fmt.Errorf("device %q not found", name)
	}
	return cloneSnapshot(d.state), nil
}

func (d *Device) Apply(ctx context.Context, upd reconcile.DeviceUpdate) error {
	d.record("Apply", upd)
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.ApplyErr != nil {
		return d.ApplyErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if upd.Ifindex != d.state.Ifindex {
		return fmt.Errorf("no device with ifindex %d", upd.Ifindex)
	}
	if upd.ListenPort != nil {
		d.state.ListenPort = *upd.ListenPort
	}

	var peers []reconcile.DevicePeer
	if !upd.ReplacePeers {
		peers = d.state.Peers
	}
	index := make(map[wgtypes.Key]int, len(peers))
	for i, p := range peers {
		index[p.PublicKey] = i
	}
	for _, pc := range upd.Peers {
		if pc.Remove {
			if i, ok := index[pc.PublicKey]; ok {
				peers = append(peers[:i], peers[i+1:]...)
				delete(index, pc.PublicKey)
				for k, j := range index {
					if j > i {
						index[k] = j - 1
					}
				}
			}
			continue
		}
		p := reconcile.DevicePeer{PublicKey: pc.PublicKey}
		if pc.Endpoint != nil {
			ep := pc.Endpoint.AddrPort()
			ep = netip.AddrPortFrom(ep.Addr().Unmap(), ep.Port())
			p.Endpoint = &ep
		}
		if i, ok := index[pc.PublicKey]; ok {
			if p.Endpoint == nil {
				p.Endpoint = peers[i].Endpoint
			}
			peers[i] = p
			continue
		}
		index[pc.PublicKey] = len(peers)
		peers = append(peers, p)
	}
	d.state.Peers = peers
	return nil
}

// Snapshot returns the current state.
func (d *Device) Snapshot() reconcile.DeviceSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return cloneSnapshot(d.state)
}

func cloneSnapshot(s reconcile.DeviceSnapshot) reconcile.DeviceSnapshot {
	out := s
	if s.PublicKey != nil {
		k := *s.PublicKey
		out.PublicKey = &k
	}
	out.Peers = append([]reconcile.DevicePeer(nil), s.Peers...)
	return out
}
