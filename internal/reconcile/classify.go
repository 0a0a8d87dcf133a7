package reconcile

import (
	"wgsync/internal/check"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Classify partitions the directory peers against the device's current peers.
//
// A directory peer whose key is the device's own key becomes Self. The rest
// are Matched when the device already has the key and New otherwise. Device
// peers with no directory counterpart are Missing.
//
// If the directory lists the same key more than once, the later record
// replaces the earlier one in place and the key is reported in Duplicates.
func Classify(desired []PeerRecord, dev DeviceSnapshot) Classification {
	var out Classification

	onDevice := make(map[wgtypes.Key]struct{}, len(dev.Peers))
	for _, p := range dev.Peers {
		onDevice[p.PublicKey] = struct{}{}
	}

	type slot struct {
		bucket *[]PeerRecord
		idx    int
	}
	seen := make(map[wgtypes.Key]slot, len(desired))
	dupes := make(map[wgtypes.Key]struct{})

	for i := range desired {
		rec := desired[i]
		if prev, ok := seen[rec.PublicKey]; ok {
			if _, reported := dupes[rec.PublicKey]; !reported {
				dupes[rec.PublicKey] = struct{}{}
				out.Duplicates = append(out.Duplicates, rec.PublicKey)
			}
			if prev.bucket == nil {
				out.Self = &rec
			} else {
				(*prev.bucket)[prev.idx] = rec
			}
			continue
		}

		switch {
		case dev.PublicKey != nil && rec.PublicKey == *dev.PublicKey:
			out.Self = &rec
			seen[rec.PublicKey] = slot{}
		case hasKey(onDevice, rec.PublicKey):
			out.Matched = append(out.Matched, rec)
			seen[rec.PublicKey] = slot{bucket: &out.Matched, idx: len(out.Matched) - 1}
		default:
			out.New = append(out.New, rec)
			seen[rec.PublicKey] = slot{bucket: &out.New, idx: len(out.New) - 1}
		}
	}

	for _, p := range dev.Peers {
		if _, ok := seen[p.PublicKey]; ok {
			continue
		}
		out.Missing = append(out.Missing, copyDevicePeer(p))
	}

	selfCount := 0
	if out.Self != nil {
		selfCount = 1
	}
	check.Assertf(selfCount+len(out.New)+len(out.Matched) == len(seen),
		"classify: %d unique keys but %d classified", len(seen), selfCount+len(out.New)+len(out.Matched))
	return out
}

func hasKey(set map[wgtypes.Key]struct{}, k wgtypes.Key) bool {
	_, ok := set[k]
	return ok
}

func copyDevicePeer(p DevicePeer) DevicePeer {
	out := DevicePeer{PublicKey: p.PublicKey}
	if p.Endpoint != nil {
		ep := *p.Endpoint
		out.Endpoint = &ep
	}
	return out
}
