// VirtIO network device driver
// https://github.com/usbarmory/virtio-net
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package net

// Control virtqueue command classes, see VIRTIO 1.2 - 5.1.6.5. This
// driver creates the control virtqueue when VIRTIO_NET_F_CTRL_VQ is
// negotiated (see init.go) but never issues a command over it: RX-mode
// filtering, VLAN filtering, MAC table management, link announcement
// acks and multiqueue steering are all out of scope.
const (
	CtrlRX       = 1 << 0
	CtrlMAC      = 1 << 1
	CtrlVLAN     = 1 << 2
	CtrlAnnounce = 1 << 3
	CtrlMQ       = 1 << 4
)

// CtrlRX sub-commands.
const (
	CtrlRXPromisc  = 1 << 0
	CtrlRXAllMulti = 1 << 1
	CtrlRXAllUni   = 1 << 2
	CtrlRXNoMulti  = 1 << 3
	CtrlRXNoUni    = 1 << 4
	CtrlRXNoBcast  = 1 << 5
)

// CtrlMAC sub-commands.
const (
	CtrlMACTableSet = 1 << 0
	CtrlMACAddrSet  = 1 << 1
)

// CtrlVLAN sub-commands.
const (
	CtrlVLANAdd = 1 << 0
	CtrlVLANDel = 1 << 1
)

// CtrlAnnounce sub-commands.
const CtrlAnnounceAck = 1 << 0

// CtrlMQ sub-commands.
const (
	CtrlMQVQPairsSet = 1 << 0
	CtrlMQVQPairsMin = 1 << 1
	CtrlMQVQPairsMax = 0x80
)
