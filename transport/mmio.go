// VirtIO over MMIO transport
// https://github.com/usbarmory/virtio-net
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package transport

import (
	"errors"

	"github.com/usbarmory/virtio-net/bits"
)

// RegisterIO abstracts 32-bit register access to a device's MMIO window,
// so MMIO can be driven by real memory-mapped registers under
// `GOOS=tamago` or by an in-memory fake in tests.
type RegisterIO interface {
	Read32(off uint32) uint32
	Write32(off uint32, val uint32)
}

// VirtIO MMIO device register offsets, see VIRTIO 1.2 - 4.2.2.
const (
	mmioMagic             = 0x000
	mmioVersion           = 0x004
	mmioDeviceID          = 0x008
	mmioDeviceFeatures    = 0x010
	mmioDeviceFeaturesSel = 0x014
	mmioDriverFeatures    = 0x020
	mmioDriverFeaturesSel = 0x024
	mmioQueueSel          = 0x030
	mmioQueueNumMax       = 0x034
	mmioQueueNum          = 0x038
	mmioQueueReady        = 0x044
	mmioQueueNotify       = 0x050
	mmioInterruptStatus   = 0x060
	mmioInterruptACK      = 0x064
	mmioStatus            = 0x070
	mmioQueueDescLow      = 0x080
	mmioQueueDescHigh     = 0x084
	mmioQueueDriverLow    = 0x090
	mmioQueueDriverHigh   = 0x094
	mmioQueueDeviceLow    = 0x0a0
	mmioQueueDeviceHigh   = 0x0a4
	mmioConfigGeneration  = 0x0fc
	mmioConfig            = 0x100
)

const (
	mmioMagicValue   = 0x74726976 // "virt"
	mmioVersionValue = 0x02
)

// MMIO represents a VirtIO over MMIO device transport.
type MMIO struct {
	io       RegisterIO
	features uint64
}

// NewMMIO validates the magic/version fields at the base of an MMIO
// window and returns a transport bound to it.
func NewMMIO(io RegisterIO) (*MMIO, error) {
	if io.Read32(mmioMagic) != mmioMagicValue {
		return nil, errors.New("transport: invalid VirtIO MMIO instance")
	}

	if io.Read32(mmioVersion) != mmioVersionValue {
		return nil, errors.New("transport: unsupported VirtIO MMIO interface version")
	}

	return &MMIO{io: io}, nil
}

func (t *MMIO) setStatusBit(bit uint32) {
	s := t.io.Read32(mmioStatus)
	s |= 1 << bit
	t.io.Write32(mmioStatus, s)
}

func (t *MMIO) statusBitSet(bit uint32) bool {
	s := t.io.Read32(mmioStatus)
	return bits.IsSet(&s, int(bit))
}

// ResetDevice writes the zero status.
func (t *MMIO) ResetDevice() {
	t.io.Write32(mmioStatus, 0)
}

// AckDevice sets the ACKNOWLEDGE status bit.
func (t *MMIO) AckDevice() {
	t.setStatusBit(StatusAcknowledge)
}

// SetDriver sets the DRIVER status bit.
func (t *MMIO) SetDriver() {
	t.setStatusBit(StatusDriver)
}

// DeviceFeatures returns the device's offered feature bits, read through
// the two 32-bit feature select windows.
func (t *MMIO) DeviceFeatures() (features uint64) {
	for i := uint32(0); i <= 1; i++ {
		t.io.Write32(mmioDeviceFeaturesSel, i)
		features |= uint64(t.io.Read32(mmioDeviceFeatures)) << (i * 32)
	}

	return
}

// SetDriverFeatures writes the driver's accepted feature bits.
func (t *MMIO) SetDriverFeatures(features uint64) {
	t.features = features

	for i := uint32(0); i <= 1; i++ {
		t.io.Write32(mmioDriverFeaturesSel, i)
		t.io.Write32(mmioDriverFeatures, uint32(features>>(i*32)))
	}
}

// SetFeaturesOK sets the FEATURES_OK status bit.
func (t *MMIO) SetFeaturesOK() {
	t.setStatusBit(StatusFeaturesOK)
}

// CheckFeaturesOK reads back FEATURES_OK to confirm the device accepted
// the negotiated set.
func (t *MMIO) CheckFeaturesOK() bool {
	return t.statusBitSet(StatusFeaturesOK)
}

// SetDriverOK sets the DRIVER_OK status bit, making the device live.
func (t *MMIO) SetDriverOK() {
	t.setStatusBit(StatusDriverOK)
}

// SetFailed sets the FAILED status bit.
func (t *MMIO) SetFailed() {
	t.setStatusBit(StatusFailed)
}

// QueueMaxSize returns the maximum size the device supports for the
// selected queue.
func (t *MMIO) QueueMaxSize(index int) int {
	t.io.Write32(mmioQueueSel, uint32(index))
	return int(t.io.Read32(mmioQueueNumMax))
}

// SetQueueSize negotiates the queue size for the selected queue.
func (t *MMIO) SetQueueSize(index int, size int) {
	t.io.Write32(mmioQueueSel, uint32(index))
	t.io.Write32(mmioQueueNum, uint32(size))
}

// SetQueueAddresses registers a virtqueue's descriptor/driver/device area
// addresses and marks it enabled.
func (t *MMIO) SetQueueAddresses(index int, desc, driver, device uint64) {
	t.io.Write32(mmioQueueSel, uint32(index))

	t.io.Write32(mmioQueueDescLow, uint32(desc))
	t.io.Write32(mmioQueueDescHigh, uint32(desc>>32))
	t.io.Write32(mmioQueueDriverLow, uint32(driver))
	t.io.Write32(mmioQueueDriverHigh, uint32(driver>>32))
	t.io.Write32(mmioQueueDeviceLow, uint32(device))
	t.io.Write32(mmioQueueDeviceHigh, uint32(device>>32))

	t.io.Write32(mmioQueueReady, 1)
}

// QueueReady reports whether the selected queue has been enabled.
func (t *MMIO) QueueReady(index int) bool {
	t.io.Write32(mmioQueueSel, uint32(index))
	return t.io.Read32(mmioQueueReady) != 0
}

// Notify kicks the device to process newly available descriptors on the
// given queue.
func (t *MMIO) Notify(index int) {
	t.io.Write32(mmioQueueNotify, uint32(index))
}

// IsInterrupt reports whether a used buffer notification is pending.
func (t *MMIO) IsInterrupt() bool {
	s := t.io.Read32(mmioInterruptStatus)
	return bits.IsSet(&s, 0)
}

// IsConfigChange reports whether a configuration change notification is
// pending.
func (t *MMIO) IsConfigChange() bool {
	s := t.io.Read32(mmioInterruptStatus)
	return bits.IsSet(&s, 1)
}

// Acknowledge clears the pending interrupt causes.
func (t *MMIO) Acknowledge() {
	s := t.io.Read32(mmioInterruptStatus)
	t.io.Write32(mmioInterruptACK, s)
}

// ConfigGeneration returns the device configuration layout generation
// counter, used to detect torn reads of the config space.
func (t *MMIO) ConfigGeneration() uint32 {
	return t.io.Read32(mmioConfigGeneration)
}

// MMIONetConfig reads the virtio-net device-specific configuration
// fields at offset mmioConfig, see VIRTIO 1.2 - 5.1.4.
type MMIONetConfig struct {
	io RegisterIO
}

// NewMMIONetConfig returns a DeviceConfig view over an MMIO window's
// virtio-net configuration space.
func NewMMIONetConfig(io RegisterIO) *MMIONetConfig {
	return &MMIONetConfig{io: io}
}

// MAC returns the device's hardware address.
func (c *MMIONetConfig) MAC() (mac [6]byte) {
	for i := 0; i < 6; i++ {
		off := mmioConfig + uint32(i/4)*4
		shift := uint32(i%4) * 8
		mac[i] = byte(c.io.Read32(off) >> shift)
	}

	return
}

// Status returns the virtio-net status field (link up / announce).
func (c *MMIONetConfig) Status() uint16 {
	return uint16(c.io.Read32(mmioConfig + 6))
}

// MaxVirtqueuePairs returns the maximum number of virtqueue pairs the
// device supports.
func (c *MMIONetConfig) MaxVirtqueuePairs() uint16 {
	return uint16(c.io.Read32(mmioConfig + 8))
}

// MTU returns the device's configured MTU.
func (c *MMIONetConfig) MTU() uint16 {
	return uint16(c.io.Read32(mmioConfig + 10))
}
