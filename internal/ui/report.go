package ui

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"wgsync/internal/reconcile"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

var _ reconcile.Reporter = (*Report)(nil)

// Report prints what a run found and what it intends to change.
type Report struct {
	out   io.Writer
	state map[wgtypes.Key]PeerState
}

func NewReport(out io.Writer) *Report {
	return &Report{out: out, state: make(map[wgtypes.Key]PeerState)}
}

func (r *Report) Classified(dev reconcile.DeviceSnapshot, c reconcile.Classification) {
	fmt.Fprintln(r.out, InfoMsg("Interface %s (ifindex %d, listen port %d, %d peers)",
		nameStyle.Render(dev.Name), dev.Ifindex, dev.ListenPort, len(dev.Peers)))

	if c.Self != nil {
		r.state[c.Self.PublicKey] = PeerSelf
		if c.Self.Endpoint != nil {
			fmt.Fprintln(r.out, InfoMsg("Found self with endpoint %s", c.Self.Endpoint))
		} else {
			fmt.Fprintln(r.out, InfoMsg("Found self without endpoint"))
		}
	}
	for _, key := range c.Duplicates {
		fmt.Fprintln(r.out, WarnMsg("Public key %s appears in more than one entry; using the last", key))
	}
	for _, p := range c.New {
		r.state[p.PublicKey] = PeerNew
		fmt.Fprintln(r.out, InfoMsg("New peer %s", Key(p.PublicKey, PeerNew)))
	}
	for _, p := range c.Matched {
		r.state[p.PublicKey] = PeerExisting
		fmt.Fprintln(r.out, InfoMsg("Existing peer %s", Key(p.PublicKey, PeerExisting)))
	}
	for _, p := range c.Missing {
		r.state[p.PublicKey] = PeerMissing
		fmt.Fprintln(r.out, WarnMsg("Peer %s is not in the directory", Key(p.PublicKey, PeerMissing)))
	}
}

func (r *Report) Planned(needsUpdate bool, upd reconcile.DeviceUpdate) {
	if !needsUpdate {
		fmt.Fprintln(r.out, SuccessMsg("Interface is up to date"))
		return
	}

	port := Muted("unchanged")
	if upd.ListenPort != nil {
		port = strconv.Itoa(*upd.ListenPort)
	}
	fmt.Fprintf(r.out, "  %s %s\n", mutedStyle.Render("replace peers:"), YesNo(upd.ReplacePeers))
	fmt.Fprintf(r.out, "  %s   %s\n", mutedStyle.Render("listen port:"), port)
	if len(upd.Peers) > 0 {
		fmt.Fprintln(r.out, r.planTable(upd.Peers))
	}
}

// planTable lists the peers the update writes, in write order.
func (r *Report) planTable(peers []wgtypes.PeerConfig) string {
	rows := make([][]string, 0, len(peers))
	for _, pc := range peers {
		state, ok := r.state[pc.PublicKey]
		if !ok {
			state = PeerNew
		}
		endpoint := "-"
		if pc.Endpoint != nil {
			endpoint = pc.Endpoint.String()
		}
		keepalive := "-"
		if pc.PersistentKeepaliveInterval != nil {
			keepalive = pc.PersistentKeepaliveInterval.String()
		}
		rows = append(rows, []string{pc.PublicKey.String(), State(state), joinIPNets(pc.AllowedIPs), endpoint, keepalive})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 0:
				return evenRowStyle
			default:
				return oddRowStyle
			}
		}).
		Headers("PEER", "STATE", "ALLOWED IPS", "ENDPOINT", "KEEPALIVE").
		Rows(rows...).
		String()
}

func joinIPNets(nets []net.IPNet) string {
	if len(nets) == 0 {
		return "-"
	}
	parts := make([]string, len(nets))
	for i, n := range nets {
		parts[i] = n.String()
	}
	return strings.Join(parts, ", ")
}

// Summary returns the closing line for a finished run.
func Summary(res reconcile.Result, dryRun bool) string {
	switch {
	case !res.NeedsUpdate:
		return SuccessMsg("%s already matches the directory", res.Device.Name)
	case dryRun:
		return WarnMsg("Dry run: %d peer changes for %s not applied", len(res.Update.Peers), res.Device.Name)
	default:
		return SuccessMsg("Applied %d peer changes to %s", len(res.Update.Peers), res.Device.Name)
	}
}
