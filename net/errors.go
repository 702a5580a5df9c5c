// VirtIO network device driver
// https://github.com/usbarmory/virtio-net
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package net

import "fmt"

// FeatureRequirementsError is returned when a requested feature set
// violates the dependency graph of VIRTIO 1.2 - 5.1.3.1, e.g. a GSO
// feature requested without the checksum feature it depends on.
type FeatureRequirementsError struct {
	Features FeatureSet
}

func (e *FeatureRequirementsError) Error() string {
	return fmt.Sprintf("virtio-net: feature set %#x does not satisfy feature requirements (5.1.3.1)", uint64(e.Features))
}

// IncompatibleFeatureSetsError is returned when the device does not offer
// every feature the driver requested.
type IncompatibleFeatureSetsError struct {
	Driver FeatureSet
	Device FeatureSet
}

func (e *IncompatibleFeatureSetsError) Error() string {
	return fmt.Sprintf("virtio-net: driver features %#x not a subset of device features %#x", uint64(e.Driver), uint64(e.Device))
}

// FeatureNegotiationError is returned when feature negotiation could not
// converge on a feature set satisfying both the device and the driver's
// minimal requirements.
type FeatureNegotiationError struct {
	DeviceID uint32
}

func (e *FeatureNegotiationError) Error() string {
	return fmt.Sprintf("virtio-net: feature negotiation failed for device %#x", e.DeviceID)
}

// TransportError describes a failure of the transport layer (MMIO or PCI)
// to perform the requested operation, e.g. missing capabilities or wrong
// magic/version fields. The transport package's own constructors (NewMMIO,
// NewPCI) return plain errors rather than this type.
type TransportError struct {
	Reason string
}

func (e *TransportError) Error() string {
	return "virtio-net: transport error: " + e.Reason
}

// QueueSetupError is returned when a virtqueue fails to initialize, e.g.
// the device rejects the queue size or the buffer allocator is exhausted.
type QueueSetupError struct {
	Index  int
	Reason string
}

func (e *QueueSetupError) Error() string {
	return fmt.Sprintf("virtio-net: queue %d setup failed: %s", e.Index, e.Reason)
}
