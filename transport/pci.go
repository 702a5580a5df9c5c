// VirtIO over PCI transport
// https://github.com/usbarmory/virtio-net
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package transport

import (
	"encoding/binary"
	"errors"

	"github.com/usbarmory/virtio-net/bits"
)

// VirtIO PCI common configuration structure offsets, see VIRTIO 1.2 -
// 4.1.4.3.
const (
	pciDeviceFeatureSel = 0x00
	pciDeviceFeature    = 0x04
	pciDriverFeatureSel = 0x08
	pciDriverFeature    = 0x0c
	pciMSIXVector       = 0x10
	pciNumQueues        = 0x12
	pciDeviceStatus     = 0x14
	pciConfigGeneration = 0x15
	pciQueueSel         = 0x16
	pciQueueSize        = 0x18
	pciQueueMSIXVector  = 0x1a
	pciQueueEnable      = 0x1c
	pciQueueNotifyOff   = 0x1e
	pciQueueDesc        = 0x20
	pciQueueDriver      = 0x28
	pciQueueDevice      = 0x30
)

// NotifyWriter performs the 16-bit notification write to a bus address,
// the final indirection of VIRTIO 1.2 - 4.1.4.4's notification
// structure. Separated into its own interface so PCI does not need to
// know how the underlying bus address space is accessed.
type NotifyWriter interface {
	WriteNotify(addr uint64, value uint16)
}

// PCI represents a VirtIO over PCI device transport. The capability scan
// that locates the common/notify/ISR/device configuration regions on a
// real PCI bus is outside this package's scope (see DeviceConfig and the
// bus-specific discovery code that constructs a PCI value); PCI only
// needs the resolved byte-slice windows, which keeps it testable without
// real PCI hardware.
type PCI struct {
	common []byte
	isr    []byte

	notifyWriter     NotifyWriter
	notifyAddress    uint64
	notifyMultiplier uint32
	notifyOff        uint16

	features uint64
}

// NewPCI builds a PCI transport over pre-resolved common configuration
// and ISR status byte windows.
func NewPCI(common, isr []byte, notifyWriter NotifyWriter, notifyAddress uint64, notifyMultiplier uint32) (*PCI, error) {
	if len(common) < pciQueueDevice+8 {
		return nil, errors.New("transport: common configuration region too small")
	}

	if len(isr) < 1 {
		return nil, errors.New("transport: ISR status region too small")
	}

	return &PCI{
		common:           common,
		isr:              isr,
		notifyWriter:     notifyWriter,
		notifyAddress:    notifyAddress,
		notifyMultiplier: notifyMultiplier,
	}, nil
}

// ResetDevice writes the zero status.
func (t *PCI) ResetDevice() {
	t.common[pciDeviceStatus] = 0
}

// AckDevice sets the ACKNOWLEDGE status bit.
func (t *PCI) AckDevice() {
	t.common[pciDeviceStatus] |= 1 << StatusAcknowledge
}

// SetDriver sets the DRIVER status bit.
func (t *PCI) SetDriver() {
	t.common[pciDeviceStatus] |= 1 << StatusDriver
}

// DeviceFeatures returns the device's offered feature bits.
func (t *PCI) DeviceFeatures() (features uint64) {
	for i := uint32(0); i <= 1; i++ {
		binary.LittleEndian.PutUint32(t.common[pciDeviceFeatureSel:], i)
		features |= uint64(binary.LittleEndian.Uint32(t.common[pciDeviceFeature:])) << (i * 32)
	}

	return
}

// SetDriverFeatures writes the driver's accepted feature bits.
func (t *PCI) SetDriverFeatures(features uint64) {
	t.features = features

	for i := uint32(0); i <= 1; i++ {
		binary.LittleEndian.PutUint32(t.common[pciDriverFeatureSel:], i)
		binary.LittleEndian.PutUint32(t.common[pciDriverFeature:], uint32(features>>(i*32)))
	}
}

// SetFeaturesOK sets the FEATURES_OK status bit.
func (t *PCI) SetFeaturesOK() {
	t.common[pciDeviceStatus] |= 1 << StatusFeaturesOK
}

// CheckFeaturesOK reads back FEATURES_OK to confirm the device accepted
// the negotiated set.
func (t *PCI) CheckFeaturesOK() bool {
	s := uint32(t.common[pciDeviceStatus])
	return bits.IsSet(&s, StatusFeaturesOK)
}

// SetDriverOK sets the DRIVER_OK status bit and latches the queue
// notification offset multiplier scheme (VIRTIO 1.2 - 4.1.4.4), making
// the device live.
func (t *PCI) SetDriverOK() {
	t.notifyOff = binary.LittleEndian.Uint16(t.common[pciQueueNotifyOff:])
	t.common[pciDeviceStatus] |= 1 << StatusDriverOK
}

// SetFailed sets the FAILED status bit.
func (t *PCI) SetFailed() {
	t.common[pciDeviceStatus] |= 1 << StatusFailed
}

// QueueMaxSize returns the maximum size the device supports for the
// selected queue.
func (t *PCI) QueueMaxSize(index int) int {
	binary.LittleEndian.PutUint16(t.common[pciQueueSel:], uint16(index))
	return int(binary.LittleEndian.Uint16(t.common[pciQueueSize:]))
}

// SetQueueSize negotiates the queue size for the selected queue.
func (t *PCI) SetQueueSize(index int, size int) {
	binary.LittleEndian.PutUint16(t.common[pciQueueSel:], uint16(index))
	binary.LittleEndian.PutUint16(t.common[pciQueueSize:], uint16(size))
}

// SetQueueAddresses registers a virtqueue's descriptor/driver/device area
// addresses and marks it enabled.
func (t *PCI) SetQueueAddresses(index int, desc, driver, device uint64) {
	binary.LittleEndian.PutUint16(t.common[pciQueueSel:], uint16(index))
	binary.LittleEndian.PutUint64(t.common[pciQueueDesc:], desc)
	binary.LittleEndian.PutUint64(t.common[pciQueueDriver:], driver)
	binary.LittleEndian.PutUint64(t.common[pciQueueDevice:], device)
	binary.LittleEndian.PutUint16(t.common[pciQueueEnable:], 1)
}

// QueueReady reports whether the selected queue has been enabled.
func (t *PCI) QueueReady(index int) bool {
	binary.LittleEndian.PutUint16(t.common[pciQueueSel:], uint16(index))
	return binary.LittleEndian.Uint16(t.common[pciQueueEnable:]) != 0
}

// Notify kicks the device to process newly available descriptors on the
// given queue, via the notification offset/multiplier scheme.
func (t *PCI) Notify(index int) {
	addr := t.notifyAddress + uint64(index)*uint64(t.notifyOff)*uint64(t.notifyMultiplier)
	t.notifyWriter.WriteNotify(addr, uint16(index))
}

// IsInterrupt reports whether a used buffer notification is pending.
func (t *PCI) IsInterrupt() bool {
	s := uint32(t.isr[0])
	return bits.IsSet(&s, 0)
}

// IsConfigChange reports whether a configuration change notification is
// pending.
func (t *PCI) IsConfigChange() bool {
	s := uint32(t.isr[0])
	return bits.IsSet(&s, 1)
}

// Acknowledge does not touch the ISR window. On real PCI hardware the
// device clears the ISR byte when it is read (VIRTIO 1.2 - 4.1.4.5), as
// IsInterrupt and IsConfigChange do; the byte-slice window used here is
// left as it is.
func (t *PCI) Acknowledge() {
}

// ConfigGeneration returns the device configuration layout generation
// counter.
func (t *PCI) ConfigGeneration() uint32 {
	return uint32(t.common[pciConfigGeneration])
}

// PCINetConfig reads the virtio-net device-specific configuration fields
// from a pre-resolved device configuration byte window, see VIRTIO 1.2 -
// 5.1.4.
type PCINetConfig struct {
	config []byte
}

// NewPCINetConfig returns a DeviceConfig view over a PCI device
// configuration byte window.
func NewPCINetConfig(config []byte) *PCINetConfig {
	return &PCINetConfig{config: config}
}

// MAC returns the device's hardware address.
func (c *PCINetConfig) MAC() (mac [6]byte) {
	copy(mac[:], c.config[0:6])
	return
}

// Status returns the virtio-net status field (link up / announce).
func (c *PCINetConfig) Status() uint16 {
	return binary.LittleEndian.Uint16(c.config[6:])
}

// MaxVirtqueuePairs returns the maximum number of virtqueue pairs the
// device supports.
func (c *PCINetConfig) MaxVirtqueuePairs() uint16 {
	return binary.LittleEndian.Uint16(c.config[8:])
}

// MTU returns the device's configured MTU.
func (c *PCINetConfig) MTU() uint16 {
	return binary.LittleEndian.Uint16(c.config[10:])
}
