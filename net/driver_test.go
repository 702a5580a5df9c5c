// VirtIO network device driver
// https://github.com/usbarmory/virtio-net
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package net

import (
	"testing"

	"github.com/usbarmory/virtio-net/dma"
	"github.com/usbarmory/virtio-net/queue"
)

func newTestDriver(t *testing.T, features []int) (*Driver, *fakeTransport) {
	t.Helper()

	ft := &fakeTransport{deviceFeatures: uint64(featureSetOf(features))}
	dev := &fakeDeviceConfig{mac: [6]byte{0x02, 0, 0, 0, 0, 0xaa}, mtu: 1500, pairs: 1}
	region := dma.NewRegion(1 << 20)

	d, err := Init(ft, ft, ft, dev, region, 1, 8)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	return d, ft
}

func buildTCPFrame(body []byte) []byte {
	frame := make([]byte, len(body))
	copy(frame, body)

	frame[12], frame[13] = 0x08, 0x00 // IPv4 ethertype
	frame[14] = 0x45                  // version 4, IHL 5 (20-byte header)
	frame[23] = 6                     // protocol TCP

	return frame
}

func TestDriverSendStampsNeedsCsumWhenOffloaded(t *testing.T) {
	d, _ := newTestDriver(t, []int{F_VERSION_1, NET_F_MAC, NET_F_CSUM, NET_F_GUEST_CSUM})

	payload := buildTCPFrame(make([]byte, 40))

	if err := d.Send(len(payload), func(buf []byte) { copy(buf, payload) }); err != nil {
		t.Fatalf("Send: %v", err)
	}

	d.tx.vqs[0].Poll()

	select {
	case tok := <-d.tx.ch:
		send, _, err := tok.Slices()
		if err != nil {
			t.Fatalf("Slices: %v", err)
		}

		hdr := ParseHeader(send[0])
		if hdr.Flags != HdrFlagNeedsCsum {
			t.Fatalf("Flags = %#x, want HdrFlagNeedsCsum (CSUM+GUEST_CSUM negotiated)", hdr.Flags)
		}

		if hdr.CsumStart != 34 || hdr.CsumOffset != 16 {
			t.Fatalf("CsumStart/CsumOffset = %d/%d, want 34/16 (TCP over IPv4)", hdr.CsumStart, hdr.CsumOffset)
		}

		body := send[0][HeaderSize : HeaderSize+len(payload)]
		if string(body) != string(payload) {
			t.Fatal("transmitted body does not match the filled payload")
		}
	default:
		t.Fatal("expected a completed transmit token")
	}
}

func TestDriverSendLeavesNeedsCsumClearWithoutOffload(t *testing.T) {
	d, _ := newTestDriver(t, minimalFeatures)

	payload := buildTCPFrame(make([]byte, 40))

	if err := d.Send(len(payload), func(buf []byte) { copy(buf, payload) }); err != nil {
		t.Fatalf("Send: %v", err)
	}

	d.tx.vqs[0].Poll()

	select {
	case tok := <-d.tx.ch:
		send, _, _ := tok.Slices()
		hdr := ParseHeader(send[0])

		if hdr.Flags != HdrFlagNone {
			t.Fatalf("Flags = %#x, want HdrFlagNone (no checksum feature negotiated)", hdr.Flags)
		}
	default:
		t.Fatal("expected a completed transmit token")
	}
}

func TestDriverMACPanicsWithoutMACFeature(t *testing.T) {
	d := &Driver{features: FeatureSet(0)}

	defer func() {
		if recover() == nil {
			t.Fatal("expected MAC() to panic when VIRTIO_NET_F_MAC was not negotiated")
		}
	}()

	d.MAC()
}

func TestDriverReceiveStripsHeaderAndReassemblesMergedBuffers(t *testing.T) {
	d, _ := newTestDriver(t, minimalFeatures)

	// Init posts a buffer to every descriptor of the RX ring, so the test
	// buffers come from a spare ring whose completions land in the RX
	// channel ahead of the ring's own.
	spare := queue.NewSplitQueue(dma.NewRegion(1<<16), 2, nil)

	first, err := spare.PrepBuffer(nil, queue.Single(HeaderSize+5))
	if err != nil {
		t.Fatalf("PrepBuffer: %v", err)
	}

	_, recv, _ := first.Slices()
	hdr := Header{NumBuffers: 2}
	PutHeader(recv[0], &hdr)
	copy(recv[0][HeaderSize:], []byte("hello"))
	first.Provide().DispatchAwait(d.rx.ch, false)

	second, err := spare.PrepBuffer(nil, queue.Single(5))
	if err != nil {
		t.Fatalf("PrepBuffer: %v", err)
	}

	_, recv2, _ := second.Slices()
	copy(recv2[0], []byte("world"))
	second.Provide().DispatchAwait(d.rx.ch, false)

	spare.Poll()

	data, ok := d.Receive()
	if !ok {
		t.Fatal("expected a packet")
	}

	if string(data) != "helloworld" {
		t.Fatalf("Receive() = %q, want %q", data, "helloworld")
	}
}

func TestDriverConsumeRxLogsAndZeroesHeaderOnWrongFragmentCount(t *testing.T) {
	d, _ := newTestDriver(t, minimalFeatures)

	// The RX ring's descriptors are all in use after Init; use a spare ring.
	spare := queue.NewSplitQueue(dma.NewRegion(1<<16), 2, nil)

	tok, err := spare.PrepBuffer(nil, &queue.BuffSpec{Sizes: []int{HeaderSize + 5, 5}})
	if err != nil {
		t.Fatalf("PrepBuffer: %v", err)
	}

	_, recv, _ := tok.Slices()
	PutHeader(recv[0], &Header{NumBuffers: 3, Flags: HdrFlagNeedsCsum})

	if _, ok := d.consumeRx(tok); ok {
		t.Fatal("expected consumeRx to report failure for a two-fragment receive chain")
	}

	_, raw := tok.RawPointers()
	if got := ParseHeader(raw[0]); got != (Header{}) {
		t.Fatalf("header = %+v, want a zeroed header after re-provisioning", got)
	}
}

func TestDriverConsumeRxDropsShortFragmentWithoutRewrite(t *testing.T) {
	d, _ := newTestDriver(t, minimalFeatures)

	// The RX ring's descriptors are all in use after Init; use a spare ring.
	spare := queue.NewSplitQueue(dma.NewRegion(1<<16), 1, nil)

	tok, err := spare.PrepBuffer(nil, queue.Single(5))
	if err != nil {
		t.Fatalf("PrepBuffer: %v", err)
	}

	_, recv, _ := tok.Slices()
	copy(recv[0], []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee})

	if _, ok := d.consumeRx(tok); ok {
		t.Fatal("expected consumeRx to report failure for a fragment shorter than the header")
	}

	_, raw := tok.RawPointers()
	if string(raw[0]) != string([]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee}) {
		t.Fatal("short fragment should be dropped without rewriting its contents")
	}
}

func TestDriverReceiveReportsNoPacketWhenEmpty(t *testing.T) {
	d, _ := newTestDriver(t, minimalFeatures)

	// The simulated ring reports every buffer posted by Init as completed
	// on the next poll; take those completions off so none is pending.
	d.rx.poll()

	for len(d.rx.ch) > 0 {
		<-d.rx.ch
	}

	if _, ok := d.Receive(); ok {
		t.Fatal("expected no packet to be available")
	}
}

func TestDriverHandleInterruptCountsAndAcknowledges(t *testing.T) {
	d, ft := newTestDriver(t, minimalFeatures)

	ft.interrupt = true

	if !d.HandleInterrupt() {
		t.Fatal("expected HandleInterrupt to report a pending used-buffer notification")
	}

	if ft.acked != 1 {
		t.Fatalf("acked = %d, want 1", ft.acked)
	}

	if got := d.irqStats.Count(d.irq); got != 1 {
		t.Fatalf("irqStats.Count(%d) = %d, want 1", d.irq, got)
	}
}

func TestDriverSetPollingModeTogglesNotifications(t *testing.T) {
	d, _ := newTestDriver(t, minimalFeatures)

	d.SetPollingMode(true)
	if !d.polling {
		t.Fatal("expected polling mode to be enabled")
	}

	d.SetPollingMode(false)
	if d.polling {
		t.Fatal("expected polling mode to be disabled")
	}
}
