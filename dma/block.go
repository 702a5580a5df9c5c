// First-fit memory allocator for DMA buffers
// https://github.com/usbarmory/virtio-net
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dma

type block struct {
	// offset into the owning Region's arena
	addr uint
	// buffer size
	size uint
	// distinguish regular (`Alloc`/`Free`) and reserved
	// (`Reserve`/`Release`) blocks.
	res bool
}

func (dma *Region) readBlock(b *block, off uint, buf []byte) {
	copy(buf, dma.arena[b.addr+off:])
}

func (dma *Region) writeBlock(b *block, off uint, buf []byte) {
	copy(dma.arena[b.addr+off:], buf)
}

func (dma *Region) blockSlice(b *block) []byte {
	return dma.arena[b.addr : b.addr+b.size : b.addr+b.size]
}
