// VirtIO network device driver
// https://github.com/usbarmory/virtio-net
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package net

import (
	"encoding/binary"
	"log"
	"sync"

	"github.com/usbarmory/virtio-net/queue"
	"github.com/usbarmory/virtio-net/transport"
)

// ethernetHeaderLen is the fixed Ethernet II frame header size (6 + 6 +
// 2 bytes), used to locate the IP header when computing checksum
// offload hints.
const ethernetHeaderLen = 14

// ChecksumMode records, for one protocol, which direction(s) of
// checksum processing the driver must still perform itself after
// feature negotiation.
type ChecksumMode int

const (
	// ChecksumBoth means neither VIRTIO_NET_F_CSUM nor
	// VIRTIO_NET_F_GUEST_CSUM was negotiated: the driver computes on
	// transmit and validates on receive, same as a plain NIC with no
	// offload.
	ChecksumBoth ChecksumMode = iota
	// ChecksumNone means both were negotiated: the device computes on
	// transmit (given NEEDS_CSUM) and guarantees validity on receive.
	ChecksumNone
	// ChecksumTx means only VIRTIO_NET_F_GUEST_CSUM was negotiated:
	// the driver still computes on transmit, the device handles
	// receive validation.
	ChecksumTx
	// ChecksumRx means only VIRTIO_NET_F_CSUM was negotiated: the
	// device computes on transmit (given NEEDS_CSUM), the driver
	// still validates on receive.
	ChecksumRx
)

func txComputesChecksum(mode ChecksumMode) bool {
	return mode == ChecksumBoth || mode == ChecksumTx
}

// ChecksumCapabilities records the driver's TCP/UDP checksum
// responsibilities, derived at init time from the negotiated
// VIRTIO_NET_F_CSUM / VIRTIO_NET_F_GUEST_CSUM combination.
type ChecksumCapabilities struct {
	TCP ChecksumMode
	UDP ChecksumMode
}

// Driver is a VirtIO network device driver instance. It owns the
// transport's common configuration, interrupt status and device
// configuration handles, the negotiated feature set and MTU, and the
// control/receive/transmit queue sets populated by Init.
type Driver struct {
	mu sync.Mutex

	common transport.CommonConfig
	isr    transport.IsrStatus
	dev    transport.DeviceConfig

	features  FeatureSet
	irq       int
	mtu       uint16
	checksums ChecksumCapabilities

	ctrlVQ queue.Virtqueue // non-nil only when VIRTIO_NET_F_CTRL_VQ was negotiated; never written to

	rx *RxQueueSet
	tx *TxQueueSet

	irqStats *IRQStats

	polling bool
}

// MAC returns the device's hardware address. Panics if
// VIRTIO_NET_F_MAC was not negotiated: this driver always requests
// that feature, so a missing MAC means the device declined the
// driver's minimal feature set and Init would already have failed.
func (d *Driver) MAC() [6]byte {
	if !d.features.IsFeature(NET_F_MAC) {
		panic("virtio-net: VIRTIO_NET_F_MAC was not negotiated")
	}

	return d.dev.MAC()
}

// MTU returns the negotiated (or default) maximum transmission unit.
func (d *Driver) MTU() uint16 {
	return d.mtu
}

// ChecksumCaps returns the driver's post-negotiation checksum
// responsibilities.
func (d *Driver) ChecksumCaps() ChecksumCapabilities {
	return d.checksums
}

// HasPacket reports whether a received packet is ready to be read by
// Receive, polling the receive queue set once if necessary.
func (d *Driver) HasPacket() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rx.poll()

	return len(d.rx.ch) > 0
}

// Send obtains a transmit buffer of at least length bytes, invokes fill
// to populate the packet body, stamps VIRTIO_NET_F_CSUM offload hints
// into the virtio-net header when the driver is not responsible for
// computing the checksum itself, and hands the buffer to the device.
func (d *Driver) Send(length int, fill func(buf []byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tok, err := d.tx.get(HeaderSize + length)
	if err != nil {
		return err
	}

	send, _, err := tok.Slices()
	if err != nil {
		return err
	}

	if len(send) == 0 || len(send[0]) < HeaderSize+length {
		return &QueueSetupError{Reason: "transmit buffer too small for requested length"}
	}

	buf := send[0]

	hdr := Header{}
	body := buf[HeaderSize : HeaderSize+length]
	fill(body)

	if !txComputesChecksum(d.checksums.TCP) || !txComputesChecksum(d.checksums.UDP) {
		hdr.Flags = HdrFlagNeedsCsum
		hdr.CsumStart, hdr.CsumOffset = checksumHints(body)
	}

	PutHeader(buf, &hdr)

	tok.Provide().DispatchAwait(d.tx.ch, !d.polling)

	return nil
}

// Receive pops a completed receive buffer, reassembling a merged
// multi-buffer frame when the virtio-net header's num_buffers field
// indicates more than one (VIRTIO_NET_F_MRG_RXBUF), and repopulates
// consumed buffers back onto the RX ring. The second return value is
// false when no packet is currently available.
func (d *Driver) Receive() ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tok := d.rx.getNext()
	if tok == nil {
		return nil, false
	}

	fragment, ok := d.consumeRx(tok)
	if !ok {
		return nil, false
	}

	hdr := ParseHeader(fragment)
	data := append([]byte(nil), fragment[HeaderSize:]...)

	for i := uint16(1); i < hdr.NumBuffers; i++ {
		next := d.rx.getNext()
		if next == nil {
			break
		}

		// Continuation buffers carry no virtio-net header, so unlike the
		// first fragment they are not held to the header's minimum size.
		_, recv, err := next.Slices()
		if err != nil || len(recv) != 1 {
			log.Printf("virtio-net: rx buffer resolved to %d receive fragments, want 1", len(recv))
			requeueZeroedRx(next, d.rx.ch)
			break
		}

		data = append(data, recv[0]...)
		next.Reset().Provide().DispatchAwait(d.rx.ch, false)
	}

	return data, true
}

// consumeRx validates a single receive buffer, copies its header-prefixed
// contents out, and requeues the underlying descriptor chain back onto
// the RX ring so the device can reuse it. Two failure shapes are
// distinguished, per VIRTIO 1.2 - 5.1.6.1 receive post-processing: a
// descriptor chain that didn't resolve to exactly one receive fragment
// is logged and re-provided with a zeroed header, so no stale header
// from a previous packet survives on the ring; a lone fragment shorter
// than the virtio-net header is dropped silently and re-provided as-is.
func (d *Driver) consumeRx(tok *queue.BufferToken) ([]byte, bool) {
	tok, err := postProcessing(tok)
	if err != nil {
		log.Printf("virtio-net: rx post-processing failed: %v", err)
		requeueZeroedRx(tok, d.rx.ch)
		return nil, false
	}

	_, recv, err := tok.Slices()
	if err != nil || len(recv) != 1 {
		log.Printf("virtio-net: rx buffer resolved to %d receive fragments, want 1", len(recv))
		requeueZeroedRx(tok, d.rx.ch)
		return nil, false
	}

	if len(recv[0]) < HeaderSize {
		tok.Reset().Provide().DispatchAwait(d.rx.ch, false)
		return nil, false
	}

	fragment := append([]byte(nil), recv[0]...)

	tok.Reset().Provide().DispatchAwait(d.rx.ch, false)

	return fragment, true
}

// requeueZeroedRx rewrites a zero-valued virtio-net header into the
// token's first receive descriptor before handing it back to the ring,
// so a future reassembly can never observe a stale NumBuffers/Flags
// left over from the aborted receive.
func requeueZeroedRx(tok *queue.BufferToken, ch chan *queue.BufferToken) {
	if _, raw := tok.RawPointers(); len(raw) > 0 && len(raw[0]) >= HeaderSize {
		PutHeader(raw[0], &Header{})
	}

	tok.Reset().Provide().DispatchAwait(ch, false)
}

// SetPollingMode switches the receive queue set between interrupt-driven
// and polling operation.
func (d *Driver) SetPollingMode(polling bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.polling = polling

	if polling {
		d.rx.DisableNotifications()
	} else {
		d.rx.EnableNotifications()
	}
}

// Shutdown resets the device to its power-on state, releasing it for a
// future Init call.
func (d *Driver) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.common.ResetDevice()
}

// HandleInterrupt services a device interrupt: it increments the
// per-line counter, reports whether a used-buffer notification was
// pending, logs configuration-change notifications, and acknowledges
// the interrupt cause.
func (d *Driver) HandleInterrupt() bool {
	d.irqStats.Increment(d.irq)

	pending := d.isr.IsInterrupt()

	if d.isr.IsConfigChange() {
		log.Printf("virtio-net: configuration change interrupt, link status may have changed")
	}

	d.isr.Acknowledge()

	return pending
}

// checksumHints locates the checksum field of a TCP or UDP segment
// within an Ethernet frame, returning the byte offset where checksum
// computation should start and the offset of the checksum field itself
// relative to that start, see VIRTIO 1.2 - 5.1.6.1.
func checksumHints(frame []byte) (start, offset uint16) {
	if len(frame) < ethernetHeaderLen+1 {
		return 0, 0
	}

	ethertype := binary.BigEndian.Uint16(frame[12:14])
	payload := frame[ethernetHeaderLen:]

	var ipHeaderLen int
	var protocol byte

	switch ethertype {
	case 0x0800: // IPv4
		if len(payload) < 20 {
			return 0, 0
		}

		ipHeaderLen = int(payload[0]&0x0f) * 4
		protocol = payload[9]
	case 0x86dd: // IPv6
		if len(payload) < 40 {
			return 0, 0
		}

		ipHeaderLen = 40
		protocol = payload[6]
	default:
		return 0, 0
	}

	start = uint16(ethernetHeaderLen + ipHeaderLen)

	switch protocol {
	case 6: // TCP
		offset = 16
	case 17: // UDP
		offset = 6
	}

	return
}
