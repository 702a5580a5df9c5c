// VirtIO network device driver
// https://github.com/usbarmory/virtio-net
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package net

import (
	"github.com/usbarmory/virtio-net/dma"
	"github.com/usbarmory/virtio-net/queue"
	"github.com/usbarmory/virtio-net/transport"
)

// defaultMTU is used when VIRTIO_NET_F_MTU was not negotiated and the
// device configuration offers no authoritative value.
const defaultMTU = 1500

// wantedFeatures is the feature set this driver offers during
// negotiation beyond its minimal requirement (VIRTIO_F_VERSION_1,
// VIRTIO_NET_F_MAC). Every bit here is one this driver's queue
// management and data path already knows how to handle; a device that
// doesn't support all of them still negotiates successfully against the
// reduced intersection, see Init. VIRTIO_NET_F_CTRL_VQ is deliberately
// absent: this driver never issues control virtqueue commands (see
// ctrlvq.go), and the desired set offered to the device must not claim
// a capability the driver does not exercise.
var wantedFeatures = []int{
	F_VERSION_1,
	NET_F_MAC,
	NET_F_STATUS,
	F_RING_INDIRECT_DESC,
	NET_F_MTU,
	F_RING_PACKED,
	NET_F_GUEST_CSUM,
	NET_F_CSUM,
	NET_F_MRG_RXBUF,
}

// minimalFeatures must be present in the negotiated set or Init fails:
// VIRTIO_F_VERSION_1 rules out the legacy (pre-1.0) device model this
// driver does not implement, and VIRTIO_NET_F_MAC is required for
// Driver.MAC to return a meaningful address.
var minimalFeatures = []int{F_VERSION_1, NET_F_MAC}

func featureSetOf(bits []int) FeatureSet {
	return FeatureSet(0).Set(bits...)
}

func isSubsetOf(subset, superset FeatureSet) bool {
	return FeatureSet(subset)&^FeatureSet(superset) == 0
}

// negotiate offers wanted to the device, validating it against the
// dependency graph of VIRTIO 1.2 - 5.1.3.1 before writing it to the
// transport. It returns *IncompatibleFeatureSetsError when the device
// does not offer every bit of wanted, letting the caller retry with a
// reduced set.
func negotiate(t transport.CommonConfig, wanted FeatureSet) error {
	if err := CheckFeatures(wanted); err != nil {
		return err
	}

	device := FeatureSet(t.DeviceFeatures())

	if !isSubsetOf(wanted, device) {
		return &IncompatibleFeatureSetsError{Driver: wanted, Device: device}
	}

	t.SetDriverFeatures(uint64(wanted))

	return nil
}

// Init performs the VirtIO device initialization handshake (VIRTIO 1.2 -
// 3.1.1), negotiates features, and builds a ready-to-use Driver over the
// given transport and device configuration. region supplies the DMA
// memory backing every virtqueue's descriptors and buffers. queueSize is
// the descriptor count requested for each virtqueue, capped to what the
// device reports via QueueMaxSize.
func Init(t transport.CommonConfig, isr transport.IsrStatus, notif transport.NotifCfg, dev transport.DeviceConfig, region *dma.Region, irq int, queueSize int) (*Driver, error) {
	t.ResetDevice()
	t.AckDevice()
	t.SetDriver()

	wanted := featureSetOf(wantedFeatures)

	err := negotiate(t, wanted)

	if ife, ok := err.(*IncompatibleFeatureSetsError); ok {
		minimal := featureSetOf(minimalFeatures)

		if !isSubsetOf(minimal, ife.Device) {
			t.SetFailed()
			return nil, &FeatureNegotiationError{}
		}

		wanted = ife.Driver & ife.Device
		err = negotiate(t, wanted)
	}

	if err != nil {
		t.SetFailed()
		return nil, err
	}

	t.SetFeaturesOK()

	if !t.CheckFeaturesOK() {
		t.SetFailed()
		return nil, &FeatureNegotiationError{}
	}

	d := &Driver{
		common:   t,
		isr:      isr,
		dev:      dev,
		features: wanted,
		irq:      irq,
		mtu:      defaultMTU,
		rx:       NewRxQueueSet(),
		tx:       NewTxQueueSet(),
		irqStats: NewIRQStats(),
	}

	if err := d.setupQueues(t, notif, region, queueSize); err != nil {
		t.SetFailed()
		return nil, err
	}

	t.SetDriverOK()

	switch {
	case wanted.IsFeature(NET_F_CSUM) && wanted.IsFeature(NET_F_GUEST_CSUM):
		d.checksums = ChecksumCapabilities{TCP: ChecksumNone, UDP: ChecksumNone}
	case wanted.IsFeature(NET_F_CSUM):
		d.checksums = ChecksumCapabilities{TCP: ChecksumRx, UDP: ChecksumRx}
	case wanted.IsFeature(NET_F_GUEST_CSUM):
		d.checksums = ChecksumCapabilities{TCP: ChecksumTx, UDP: ChecksumTx}
	default:
		d.checksums = ChecksumCapabilities{TCP: ChecksumBoth, UDP: ChecksumBoth}
	}

	if wanted.IsFeature(NET_F_MTU) {
		d.mtu = dev.MTU()
	}

	return d, nil
}

// setupQueues implements device-specific initialization (VIRTIO 1.2 -
// 5.1.5): it creates one receive/transmit virtqueue pair (this driver
// never negotiates VIRTIO_NET_F_MQ, so num_vqs is always 2), selecting
// the split or packed ring layout according to VIRTIO_F_RING_PACKED, and
// creates the control virtqueue when VIRTIO_NET_F_CTRL_VQ was
// negotiated. wantedFeatures never offers VIRTIO_NET_F_CTRL_VQ, so the
// control virtqueue branch below does not run today; it is kept, sized
// at MaxQueueSize per VIRTIO 1.2 - 5.1.2 rather than the RX/TX
// queueSize, for a driver revision that negotiates the feature through
// a decision point of its own.
func (d *Driver) setupQueues(t transport.CommonConfig, notif transport.NotifCfg, region *dma.Region, queueSize int) error {
	packed := d.features.IsFeature(F_RING_PACKED)

	newQueue := func(index, size int) queue.Virtqueue {
		if max := t.QueueMaxSize(index); max > 0 && max < size {
			size = max
		}

		t.SetQueueSize(index, size)

		notifyFn := func() { notif.Notify(index) }

		var vq queue.Virtqueue

		if packed {
			vq = queue.NewPackedQueue(region, uint16(size), notifyFn)
		} else {
			vq = queue.NewSplitQueue(region, uint16(size), notifyFn)
		}

		// queue.Virtqueue owns its descriptor/buffer memory through
		// region directly rather than exposing fixed ring base
		// addresses, so there is nothing meaningful to register here;
		// the call still flips the device's per-queue enable bit.
		t.SetQueueAddresses(index, 0, 0, 0)

		return vq
	}

	rxVQ := newQueue(0, queueSize)
	rxVQ.EnableNotifications()

	if err := d.rx.Add(rxVQ, d.mtu, d.features); err != nil {
		return err
	}

	txVQ := newQueue(1, queueSize)
	txVQ.DisableNotifications()

	if err := d.tx.Add(txVQ, d.mtu, d.features); err != nil {
		return err
	}

	if d.features.IsFeature(NET_F_CTRL_VQ) {
		ctrlVQ := newQueue(2, MaxQueueSize)
		ctrlVQ.EnableNotifications()
		d.ctrlVQ = ctrlVQ
	}

	return nil
}
