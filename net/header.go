// VirtIO network device driver
// https://github.com/usbarmory/virtio-net
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package net

import "encoding/binary"

// NetHdrFlag values for Header.Flags, see VIRTIO 1.2 - 5.1.6.1.
const (
	HdrFlagNone      = 0
	HdrFlagNeedsCsum = 1
	HdrFlagDataValid = 2
	HdrFlagRSCInfo   = 4
)

// NetHdrGSO values for Header.GSOType, see VIRTIO 1.2 - 5.1.6.1.
const (
	GSONone = 0
	GSOTCPv4 = 1
	GSOUDP   = 3
	GSOTCPv6 = 4
	GSOECN   = 0x80
)

// Header is the 12-byte virtio-net packet header that prefixes every TX
// and RX buffer, see VIRTIO 1.2 - 5.1.6.1. It is packed, little-endian.
type Header struct {
	Flags      uint8
	GSOType    uint8
	HdrLen     uint16
	GSOSize    uint16
	CsumStart  uint16
	CsumOffset uint16
	NumBuffers uint16
}

// Bytes encodes the header to its 12-byte wire representation.
func (h *Header) Bytes() []byte {
	buf := make([]byte, HeaderSize)

	buf[0] = h.Flags
	buf[1] = h.GSOType
	binary.LittleEndian.PutUint16(buf[2:], h.HdrLen)
	binary.LittleEndian.PutUint16(buf[4:], h.GSOSize)
	binary.LittleEndian.PutUint16(buf[6:], h.CsumStart)
	binary.LittleEndian.PutUint16(buf[8:], h.CsumOffset)
	binary.LittleEndian.PutUint16(buf[10:], h.NumBuffers)

	return buf
}

// PutHeader writes the header to the first HeaderSize bytes of buf.
func PutHeader(buf []byte, h *Header) {
	copy(buf[:HeaderSize], h.Bytes())
}

// ParseHeader decodes the first HeaderSize bytes of buf into a Header.
func ParseHeader(buf []byte) Header {
	return Header{
		Flags:      buf[0],
		GSOType:    buf[1],
		HdrLen:     binary.LittleEndian.Uint16(buf[2:]),
		GSOSize:    binary.LittleEndian.Uint16(buf[4:]),
		CsumStart:  binary.LittleEndian.Uint16(buf[6:]),
		CsumOffset: binary.LittleEndian.Uint16(buf[8:]),
		NumBuffers: binary.LittleEndian.Uint16(buf[10:]),
	}
}
