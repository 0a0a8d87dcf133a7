package reconcile

import (
	"net/netip"
	"strings"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Directory attribute names of the wgPeer object class.
const (
	AttrPublicKey           = "wgPublicKey"
	AttrPresharedKey        = "wgPresharedKey"
	AttrAllowedIP           = "wgAllowedIp"
	AttrEndpoint            = "wgEndpoint"
	AttrPersistentKeepalive = "wgPersistentKeepalive"

	PeerObjectClass = "wgPeer"
)

// PeerAttributes is the attribute list requested from the directory.
var PeerAttributes = []string{
	AttrPublicKey,
	AttrAllowedIP,
	AttrEndpoint,
	AttrPersistentKeepalive,
	AttrPresharedKey,
}

// Entry is one raw directory entry. Attribute names are matched
// case-insensitively.
type Entry struct {
	DN         string
	Attributes map[string][][]byte
}

// NewEntry returns an empty entry for dn.
func NewEntry(dn string) Entry {
	return Entry{DN: dn, Attributes: make(map[string][][]byte)}
}

// Add appends raw values to the named attribute.
func (e *Entry) Add(name string, values ...[]byte) {
	if e.Attributes == nil {
		e.Attributes = make(map[string][][]byte)
	}
	key := strings.ToLower(name)
	e.Attributes[key] = append(e.Attributes[key], values...)
}

// AddString appends text values to the named attribute.
func (e *Entry) AddString(name string, values ...string) {
	for _, v := range values {
		e.Add(name, []byte(v))
	}
}

// Values returns every value of the named attribute in directory order.
func (e Entry) Values(name string) [][]byte {
	return e.Attributes[strings.ToLower(name)]
}

// First returns the first value of the named attribute.
func (e Entry) First(name string) ([]byte, bool) {
	vals := e.Values(name)
	if len(vals) == 0 {
		return nil, false
	}
	return vals[0], true
}

// PeerRecord is a validated peer as published in the directory.
type PeerRecord struct {
	DN                  string
	PublicKey           wgtypes.Key
	PresharedKey        *wgtypes.Key
	AllowedIPs          []netip.Prefix
	Endpoint            *netip.AddrPort
	PersistentKeepalive *uint16
}

// DevicePeer is the part of a kernel peer the reconciler looks at.
type DevicePeer struct {
	PublicKey wgtypes.Key
	Endpoint  *netip.AddrPort
}

// DeviceSnapshot is the state of the WireGuard interface read at the start
// of a run.
type DeviceSnapshot struct {
	Name       string
	Ifindex    int
	PublicKey  *wgtypes.Key
	ListenPort int
	Peers      []DevicePeer
}

// Classification partitions the directory peers against a device snapshot.
type Classification struct {
	Self       *PeerRecord
	New        []PeerRecord
	Matched    []PeerRecord
	Missing    []DevicePeer
	Duplicates []wgtypes.Key
}

// DeviceUpdate is a single write to the kernel device. It addresses the
// device by ifindex because the link may be renamed between read and write.
type DeviceUpdate struct {
	Ifindex      int
	ReplacePeers bool
	ListenPort   *int
	Peers        []wgtypes.PeerConfig
}

// Options controls how a classification is turned into a DeviceUpdate.
type Options struct {
	ListenPort                     *int
	MatchListenPortToLocalEndpoint bool
	RemoveExtraPeers               bool
	ReplaceAllowedIPs              bool
}
