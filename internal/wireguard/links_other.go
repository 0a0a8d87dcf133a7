//go:build !linux

package wireguard

import "net"

// systemLinks uses the portable interface table; link types are not exposed
// there, so Type stays empty and is not checked.
type systemLinks struct{}

func (systemLinks) ByName(name string) (Link, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return Link{}, err
	}
	return fromInterface(ifi), nil
}

func (systemLinks) ByIndex(index int) (Link, error) {
	ifi, err := net.InterfaceByIndex(index)
	if err != nil {
		return Link{}, err
	}
	return fromInterface(ifi), nil
}

func fromInterface(ifi *net.Interface) Link {
	return Link{Name: ifi.Name, Index: ifi.Index, Up: ifi.Flags&net.FlagUp != 0}
}
