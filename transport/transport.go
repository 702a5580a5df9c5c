// VirtIO bus transport
// https://github.com/usbarmory/virtio-net
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package transport abstracts the two VirtIO bus bindings the core
// driver can run over (VIRTIO 1.2 - 4.2 MMIO, 4.1 PCI), behind a small
// set of interfaces modeled on the teacher's kvm/virtio.VirtIO contract.
package transport

// Device status bits, duplicated from the net package's constants so
// this package has no import-cycle dependency on it.
const (
	StatusAcknowledge = 0
	StatusDriver      = 1
	StatusDriverOK    = 2
	StatusFeaturesOK  = 3
	StatusFailed      = 7
)

// CommonConfig is the feature-negotiation and queue-registration surface
// shared by every VirtIO bus binding, see VIRTIO 1.2 - 4.1.4.3 (PCI) and
// 4.2.2 (MMIO).
type CommonConfig interface {
	// ResetDevice writes the zero status, see VIRTIO 1.2 - 2.1 full
	// device reset.
	ResetDevice()
	// AckDevice sets the ACKNOWLEDGE status bit.
	AckDevice()
	// SetDriver sets the DRIVER status bit.
	SetDriver()
	// DeviceFeatures returns the device's offered feature bits.
	DeviceFeatures() uint64
	// SetDriverFeatures writes the driver's accepted feature bits.
	SetDriverFeatures(features uint64)
	// SetFeaturesOK sets the FEATURES_OK status bit.
	SetFeaturesOK()
	// CheckFeaturesOK reads back FEATURES_OK to confirm the device
	// accepted the negotiated set.
	CheckFeaturesOK() bool
	// SetDriverOK sets the DRIVER_OK status bit, making the device live.
	SetDriverOK()
	// SetFailed sets the FAILED status bit.
	SetFailed()

	// QueueMaxSize returns the maximum size the device supports for
	// the selected queue.
	QueueMaxSize(index int) int
	// SetQueueSize negotiates the queue size for the selected queue.
	SetQueueSize(index int, size int)
	// SetQueueAddresses registers a virtqueue's descriptor/driver/device
	// area addresses and marks it enabled.
	SetQueueAddresses(index int, desc, driver, device uint64)
	// QueueReady reports whether the selected queue has been enabled.
	QueueReady(index int) bool
}

// NotifCfg kicks a specific queue to make the device process newly
// available descriptors, see VIRTIO 1.2 - 4.1.4.4 (PCI notification
// structure) and 4.2.2 (MMIO QueueNotify register).
type NotifCfg interface {
	Notify(index int)
}

// IsrStatus reports and acknowledges interrupt causes, see VIRTIO 1.2 -
// 4.1.4.5 (PCI ISR status) and 4.2.2 (MMIO InterruptStatus register).
type IsrStatus interface {
	// IsInterrupt reports whether a used buffer notification is
	// pending.
	IsInterrupt() bool
	// IsConfigChange reports whether a configuration change
	// notification is pending.
	IsConfigChange() bool
	// Acknowledge clears the pending interrupt causes.
	Acknowledge()
}

// DeviceConfig exposes the virtio-net device-specific configuration
// fields, see VIRTIO 1.2 - 5.1.4.
type DeviceConfig interface {
	MAC() [6]byte
	Status() uint16
	MaxVirtqueuePairs() uint16
	MTU() uint16
}
