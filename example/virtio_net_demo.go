// https://github.com/usbarmory/virtio-net
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package example demonstrates wiring a VirtIO network device driver
// into a gVisor network stack, adapted from the teacher's USB Ethernet
// gadget wiring (configureNetworkStack / startEchoServer) to a VirtIO
// MMIO transport instead of a USB CDC-ECM link. It exposes
// StartVirtioNetworking as the integration point a board-specific
// main package (providing the MMIO register window, DMA region and
// interrupt line) would call into; it has no main of its own since
// this module carries no board support package.
package example

import (
	"log"
	"net"
	"runtime"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/adapters/gonet"
	"gvisor.dev/gvisor/pkg/tcpip/network/arp"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv4"
	"gvisor.dev/gvisor/pkg/tcpip/stack"
	"gvisor.dev/gvisor/pkg/tcpip/transport/icmp"
	"gvisor.dev/gvisor/pkg/tcpip/transport/tcp"
	"gvisor.dev/gvisor/pkg/tcpip/transport/udp"
	"gvisor.dev/gvisor/pkg/waiter"

	"github.com/usbarmory/virtio-net/dma"
	virtlink "github.com/usbarmory/virtio-net/link"
	virtnet "github.com/usbarmory/virtio-net/net"
	"github.com/usbarmory/virtio-net/transport"
)

const (
	queueSize = 256
	localIP   = "10.0.2.15"
	peerMAC   = "52:54:00:12:34:56"
)

// configureNetworkStack builds a minimal gVisor stack carrying ARP,
// IPv4, TCP, UDP and ICMP over a single VirtIO network device NIC.
func configureNetworkStack(driver *virtnet.Driver, addr tcpip.Address, nic tcpip.NICID) *stack.Stack {
	peerAddr, err := tcpip.ParseMACAddress(peerMAC)
	if err != nil {
		log.Fatal(err)
	}

	s := stack.New(stack.Options{
		NetworkProtocols: []stack.NetworkProtocol{
			ipv4.NewProtocol(),
			arp.NewProtocol(),
		},
		TransportProtocols: []stack.TransportProtocol{
			tcp.NewProtocol(),
			udp.NewProtocol(),
			icmp.NewProtocol4(),
		},
	})

	ep := virtlink.New(driver, peerAddr)

	if err := s.CreateNIC(nic, ep); err != nil {
		log.Fatal(err)
	}

	if err := s.AddAddress(nic, arp.ProtocolNumber, arp.ProtocolAddress); err != nil {
		log.Fatal(err)
	}

	if err := s.AddAddress(nic, ipv4.ProtocolNumber, addr); err != nil {
		log.Fatal(err)
	}

	subnet, err := tcpip.NewSubnet("\x00\x00\x00\x00", "\x00\x00\x00\x00")
	if err != nil {
		log.Fatal(err)
	}

	s.SetRouteTable([]tcpip.Route{{Destination: subnet, NIC: nic}})

	return s
}

func startICMPEndpoint(s *stack.Stack, addr tcpip.Address, nic tcpip.NICID) {
	var wq waiter.Queue

	ep, err := s.NewEndpoint(icmp.ProtocolNumber4, ipv4.ProtocolNumber, &wq)
	if err != nil {
		log.Fatalf("endpoint error (icmp): %v", err)
	}

	if err := ep.Bind(tcpip.FullAddress{Addr: addr, NIC: nic}); err != nil {
		log.Fatal("bind error (icmp endpoint): ", err)
	}
}

func startEchoServer(s *stack.Stack, addr tcpip.Address, port uint16, nic tcpip.NICID) {
	fullAddr := tcpip.FullAddress{Addr: addr, Port: port, NIC: nic}

	conn, err := gonet.DialUDP(s, &fullAddr, nil, ipv4.ProtocolNumber)
	if err != nil {
		log.Fatal("listener error: ", err)
	}

	for {
		runtime.Gosched()

		buf := make([]byte, 1500)

		n, raddr, err := conn.ReadFrom(buf)
		if err != nil {
			log.Printf("udp recv error: %v", err)
			continue
		}

		if _, err := conn.WriteTo(buf[0:n], raddr); err != nil {
			log.Printf("udp send error: %v", err)
		}
	}
}

// StartVirtioNetworking brings up a VirtIO network device behind the
// given MMIO register window and starts a UDP echo service on port
// 1234, for interactive testing of the driver against a VMM-provided
// virtio-net device.
func StartVirtioNetworking(io transport.RegisterIO, region *dma.Region, irq int) {
	mmio, err := transport.NewMMIO(io)
	if err != nil {
		log.Fatal(err)
	}

	devCfg := transport.NewMMIONetConfig(io)

	driver, err := virtnet.Init(mmio, mmio, mmio, devCfg, region, irq, queueSize)
	if err != nil {
		log.Fatal(err)
	}

	addr := tcpip.Address(net.ParseIP(localIP)).To4()
	s := configureNetworkStack(driver, addr, 1)

	startICMPEndpoint(s, addr, 1)

	go startEchoServer(s, addr, 1234, 1)

	for {
		runtime.Gosched()

		if driver.HandleInterrupt() {
			continue
		}
	}
}
