//go:build linux

package wireguard

import (
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

type systemLinks struct{}

func (systemLinks) ByName(name string) (Link, error) {
	l, err := netlink.LinkByName(name)
	if err != nil {
		return Link{}, err
	}
	return fromNetlink(l), nil
}

func (systemLinks) ByIndex(index int) (Link, error) {
	l, err := netlink.LinkByIndex(index)
	if err != nil {
		return Link{}, err
	}
	return fromNetlink(l), nil
}

func fromNetlink(l netlink.Link) Link {
	attrs := l.Attrs()
	return Link{
		Name:  attrs.Name,
		Index: attrs.Index,
		Type:  l.Type(),
		Up:    attrs.RawFlags&unix.IFF_UP != 0,
	}
}
