// VirtIO network device driver
// https://github.com/usbarmory/virtio-net
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package link adapts a *net.Driver to gVisor's network stack, grounded
// on the teacher's USB Ethernet gadget wiring (example/usb_ethernet.go):
// a channel.Endpoint ferries packets between the stack and two loops,
// one draining device receive completions into the stack and one
// draining the stack's outbound queue into the device.
package link

import (
	"encoding/binary"
	"log"
	"time"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/buffer"
	"gvisor.dev/gvisor/pkg/tcpip/link/channel"

	virtnet "github.com/usbarmory/virtio-net/net"
)

// queueDepth bounds the number of in-flight packets gVisor's channel
// endpoint will hold before WritePackets blocks, matching the teacher's
// choice for its USB Ethernet gadget link.
const queueDepth = 256

// ethernetHeaderLen is the fixed Ethernet II frame header size.
const ethernetHeaderLen = 14

// pollInterval bounds how often dispatchLoop re-checks the device when
// no packet was available, since this driver's receive path is
// poll-driven rather than blocking.
const pollInterval = time.Millisecond

// Endpoint is a gVisor link endpoint backed by a VirtIO network device
// driver. This is a point-to-point link: outbound frames are always
// addressed to a single configured peer, the way a virtio-net device
// behind a hypervisor's user-mode networking backend typically is.
type Endpoint struct {
	*channel.Endpoint

	driver   *virtnet.Driver
	linkAddr tcpip.LinkAddress
	peerAddr tcpip.LinkAddress

	stop chan struct{}
}

// New returns a channel-backed link endpoint driven by driver, sending
// every outbound frame to peerAddr.
func New(driver *virtnet.Driver, peerAddr tcpip.LinkAddress) *Endpoint {
	mac := driver.MAC()
	linkAddr := tcpip.LinkAddress(mac[:])

	e := &Endpoint{
		Endpoint: channel.New(queueDepth, uint32(driver.MTU()), linkAddr),
		driver:   driver,
		linkAddr: linkAddr,
		peerAddr: peerAddr,
		stop:     make(chan struct{}),
	}

	go e.dispatchLoop()
	go e.transmitLoop()

	return e
}

// Close stops the endpoint's receive and transmit loops. The driver
// itself is left for the caller to shut down.
func (e *Endpoint) Close() {
	close(e.stop)
}

// dispatchLoop polls the device for received Ethernet frames and
// injects them into the gVisor stack.
func (e *Endpoint) dispatchLoop() {
	for {
		select {
		case <-e.stop:
			return
		default:
		}

		if !e.driver.HasPacket() {
			time.Sleep(pollInterval)
			continue
		}

		frame, ok := e.driver.Receive()
		if !ok || len(frame) < ethernetHeaderLen {
			continue
		}

		proto := tcpip.NetworkProtocolNumber(binary.BigEndian.Uint16(frame[12:14]))

		pkt := tcpip.PacketBuffer{
			LinkHeader: buffer.NewViewFromBytes(frame[0:ethernetHeaderLen]),
			Data:       buffer.NewViewFromBytes(frame[ethernetHeaderLen:]).ToVectorisedView(),
		}

		e.Endpoint.InjectInbound(proto, pkt)
	}
}

// transmitLoop drains gVisor's outbound packet queue and hands each
// frame, prefixed with an Ethernet II header, to the device.
func (e *Endpoint) transmitLoop() {
	for {
		select {
		case <-e.stop:
			return
		case info := <-e.Endpoint.C:
			e.transmitOne(info)
		}
	}
}

func (e *Endpoint) transmitOne(info channel.PacketInfo) {
	hdr := info.Pkt.Header.View()
	payload := info.Pkt.Data.ToView()

	protoBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(protoBytes, uint16(info.Proto))

	length := len(e.peerAddr) + len(e.linkAddr) + len(protoBytes) + len(hdr) + len(payload)

	err := e.driver.Send(length, func(buf []byte) {
		n := copy(buf, []byte(e.peerAddr))
		n += copy(buf[n:], []byte(e.linkAddr))
		n += copy(buf[n:], protoBytes)
		n += copy(buf[n:], hdr)
		copy(buf[n:], payload)
	})

	if err != nil {
		log.Printf("virtio-net: transmit failed: %v", err)
	}
}
