// VirtIO network device driver
// https://github.com/usbarmory/virtio-net
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package net implements a driver for the VirtIO network device (device ID
// 1), following:
//   - Virtual I/O Device (VIRTIO) Version 1.2, section 5.1.
package net

// Feature bits recognised by this driver, see VIRTIO 1.2 - 5.1.3 and
// 6 (reserved feature bits).
const (
	NET_F_CSUM                = 0
	NET_F_GUEST_CSUM          = 1
	NET_F_CTRL_GUEST_OFFLOADS = 2
	NET_F_MTU                 = 3
	NET_F_MAC                 = 5
	NET_F_GUEST_TSO4          = 7
	NET_F_GUEST_TSO6          = 8
	NET_F_GUEST_ECN           = 9
	NET_F_GUEST_UFO           = 10
	NET_F_HOST_TSO4           = 11
	NET_F_HOST_TSO6           = 12
	NET_F_HOST_ECN            = 13
	NET_F_HOST_UFO            = 14
	NET_F_MRG_RXBUF           = 15
	NET_F_STATUS              = 16
	NET_F_CTRL_VQ             = 17
	NET_F_CTRL_RX             = 18
	NET_F_CTRL_VLAN           = 19
	NET_F_GUEST_ANNOUNCE      = 21
	NET_F_MQ                  = 22
	NET_F_CTRL_MAC_ADDR       = 23
	NET_F_GUEST_HDRLEN        = 59
	NET_F_RSC_EXT             = 61
	NET_F_STANDBY             = 62

	F_RING_INDIRECT_DESC = 28
	F_RING_EVENT_IDX     = 29
	F_VERSION_1          = 32
	F_ACCESS_PLATFORM    = 33
	F_RING_PACKED        = 34
	F_IN_ORDER           = 35
	F_ORDER_PLATFORM     = 36
	F_SR_IOV             = 37
	F_NOTIFICATION_DATA  = 38
)

// Device status bits, see VIRTIO 1.2 - 2.1.
const (
	StatusAcknowledge      = 0
	StatusDriver           = 1
	StatusDriverOK         = 2
	StatusFeaturesOK       = 3
	StatusDeviceNeedsReset = 6
	StatusFailed           = 7
)

// StatusLinkUp and StatusAnnounce are device config status bits reported
// through VIRTIO_NET_F_STATUS, see VIRTIO 1.2 - 5.1.4.
const (
	StatusLinkUp    = 1
	StatusAnnounce  = 2
)

// MaxNumVQ is the number of data virtqueues (one receive/transmit pair)
// this driver creates, regardless of how many pairs the device advertises
// through max_virtqueue_pairs. The RX and TX completion channels are
// sized to MaxNumVQ times the ring size.
const MaxNumVQ = 2

// MaxQueueSize is the descriptor count used for the control virtqueue,
// sized independently of the caller-supplied RX/TX queueSize since the
// control path is not on the per-packet fast path and VIRTIO 1.2 - 5.1.2
// imposes no size relationship between it and the data virtqueues.
const MaxQueueSize = 32768

// HeaderSize is the size in bytes of the virtio-net packet header that
// prefixes every TX and RX buffer.
const HeaderSize = 12

// mergedRxBufferBody is the RX buffer body size used when
// VIRTIO_NET_F_MRG_RXBUF has been negotiated, see VIRTIO 1.2 - 5.1.6.3.1.
// The buffer (header plus this body) is aligned up to cachePadding where
// it is sized, in RxQueueSet.Add, as the original driver this repo is
// modeled on pads receive buffers to a cache line to avoid false sharing
// between adjacent DMA'd buffers.
const mergedRxBufferBody = 1514

const cachePadding = 64

func alignUp(size, align int) int {
	if align <= 0 {
		return size
	}

	if r := size % align; r != 0 {
		size += align - r
	}

	return size
}
