// VirtIO network device driver
// https://github.com/usbarmory/virtio-net
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package net

import "github.com/usbarmory/virtio-net/bits"

// FeatureSet is a 64-bit bitset over the VirtIO feature space, see
// VIRTIO 1.2 - 2.2.
type FeatureSet uint64

// IsFeature reports whether a feature bit is set.
func (f FeatureSet) IsFeature(bit int) bool {
	v := uint64(f)
	return bits.IsSet64(&v, bit)
}

// Set returns a copy of the set with the given bits added.
func (f FeatureSet) Set(feats ...int) FeatureSet {
	for _, bit := range feats {
		f |= 1 << uint(bit)
	}

	return f
}

// requirement pairs a dependent feature bit with the set of bits at least
// one of which must already be present, mirroring VIRTIO 1.2 - 5.1.3.1.
type requirement struct {
	feature  int
	requires []int
}

// requirements enumerates every feature bit in this driver's vocabulary
// that depends on another. A feature bit absent from this table has no
// dependency and always passes CheckFeatures.
var requirements = []requirement{
	{NET_F_GUEST_TSO4, []int{NET_F_GUEST_CSUM}},
	{NET_F_GUEST_TSO6, []int{NET_F_GUEST_CSUM}},
	{NET_F_GUEST_ECN, []int{NET_F_GUEST_TSO4, NET_F_GUEST_TSO6}},
	{NET_F_GUEST_UFO, []int{NET_F_GUEST_CSUM}},
	{NET_F_HOST_TSO4, []int{NET_F_CSUM}},
	{NET_F_HOST_TSO6, []int{NET_F_CSUM}},
	{NET_F_HOST_ECN, []int{NET_F_HOST_TSO4, NET_F_HOST_TSO6}},
	{NET_F_HOST_UFO, []int{NET_F_CSUM}},
	{NET_F_CTRL_RX, []int{NET_F_CTRL_VQ}},
	{NET_F_CTRL_VLAN, []int{NET_F_CTRL_VQ}},
	{NET_F_GUEST_ANNOUNCE, []int{NET_F_CTRL_VQ}},
	{NET_F_MQ, []int{NET_F_CTRL_VQ}},
	{NET_F_CTRL_MAC_ADDR, []int{NET_F_CTRL_VQ}},
	{NET_F_RSC_EXT, []int{NET_F_HOST_TSO4, NET_F_HOST_TSO6}},
}

// CheckFeatures validates a candidate feature set against the dependency
// graph of VIRTIO 1.2 - 5.1.3.1 (e.g. VIRTIO_NET_F_GUEST_TSO4 requires
// VIRTIO_NET_F_GUEST_CSUM). It returns a *FeatureRequirementsError, wrapping
// the offending set, on the first unmet requirement.
func CheckFeatures(f FeatureSet) error {
	for _, req := range requirements {
		if !f.IsFeature(req.feature) {
			continue
		}

		satisfied := false

		for _, dep := range req.requires {
			if f.IsFeature(dep) {
				satisfied = true
				break
			}
		}

		if !satisfied {
			return &FeatureRequirementsError{Features: f}
		}
	}

	return nil
}
