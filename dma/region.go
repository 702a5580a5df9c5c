// First-fit memory allocator for DMA buffers
// https://github.com/usbarmory/virtio-net
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package dma provides a first-fit allocator for the buffers that back
// virtqueue descriptors.
//
// The teacher's original package reserves pointers into physical/virtual
// memory for `GOOS=tamago` bare metal targets, trading a pointer for an
// address so the Go runtime never sees DMA'd memory. That trick needs a real
// physical address space to carve up. This adaptation keeps the exact
// first-fit block bookkeeping but carves up a plain []byte arena instead, so
// the allocator (and everything built on it) is usable and testable under
// any GOOS.
package dma

import (
	"container/list"
	"sync"
)

// Region represents a memory region allocated for DMA purposes.
type Region struct {
	mu sync.Mutex

	start uint
	size  uint
	arena []byte

	freeBlocks *list.List
	usedBlocks map[uint]*block
}

var global *Region

// NewRegion allocates and initializes a new DMA region of the given size.
func NewRegion(size int) *Region {
	r := &Region{
		size:  uint(size),
		arena: make([]byte, size),
	}

	r.freeBlocks = list.New()
	r.freeBlocks.PushFront(&block{addr: 0, size: r.size})
	r.usedBlocks = make(map[uint]*block)

	return r
}

// Init initializes the global DMA region used by the package-level
// Reserve, Alloc and Release functions.
func Init(size int) {
	global = NewRegion(size)
}

// Default returns the global DMA region instance.
func Default() *Region {
	return global
}

// Start returns the DMA region start offset.
func (dma *Region) Start() uint {
	return dma.start
}

// End returns the DMA region end offset.
func (dma *Region) End() uint {
	return dma.start + dma.size
}

// Size returns the DMA region size.
func (dma *Region) Size() uint {
	return dma.size
}

// Reserve allocates a slice of bytes for DMA purposes, by placing its data
// within the DMA region, with optional alignment. It returns the slice along
// with its allocation handle. The buffer can be freed up with Release().
//
// The optional alignment must be a power of 2; an alignment of 0 selects
// word alignment (4).
func (dma *Region) Reserve(size int, align int) (addr uint, buf []byte) {
	if size == 0 {
		return
	}

	dma.mu.Lock()
	defer dma.mu.Unlock()

	b := dma.alloc(uint(size), uint(align))
	b.res = true

	dma.usedBlocks[b.addr] = b

	return b.addr, dma.blockSlice(b)
}

// Alloc reserves a memory region for DMA purposes, copying over a buffer and
// returning its allocation handle, with optional alignment. The region can be
// freed up with Free().
func (dma *Region) Alloc(buf []byte, align int) (addr uint) {
	size := len(buf)

	if size == 0 {
		return 0
	}

	dma.mu.Lock()
	defer dma.mu.Unlock()

	b := dma.alloc(uint(size), uint(align))
	dma.writeBlock(b, 0, buf)

	dma.usedBlocks[b.addr] = b

	return b.addr
}

// Read reads exactly len(buf) bytes from a memory region handle into a
// buffer, the region must have been previously allocated with Alloc() or
// Reserve().
func (dma *Region) Read(addr uint, off int, buf []byte) {
	size := len(buf)

	if size == 0 {
		return
	}

	dma.mu.Lock()
	defer dma.mu.Unlock()

	b, ok := dma.usedBlocks[addr]

	if !ok {
		panic("read of unallocated pointer")
	}

	if uint(off+size) > b.size {
		panic("invalid read parameters")
	}

	dma.readBlock(b, uint(off), buf)
}

// Write writes buffer contents to a memory region handle, the region must
// have been previously allocated with Alloc() or Reserve().
func (dma *Region) Write(addr uint, off int, buf []byte) {
	size := len(buf)

	if size == 0 {
		return
	}

	dma.mu.Lock()
	defer dma.mu.Unlock()

	b, ok := dma.usedBlocks[addr]

	if !ok {
		return
	}

	if uint(off+size) > b.size {
		panic("invalid write parameters")
	}

	dma.writeBlock(b, uint(off), buf)
}

// Free frees the memory region stored at the passed handle, the region must
// have been previously allocated with Alloc().
func (dma *Region) Free(addr uint) {
	dma.freeBlock(addr, false)
}

// Release frees the memory region stored at the passed handle, the region
// must have been previously allocated with Reserve().
func (dma *Region) Release(addr uint) {
	dma.freeBlock(addr, true)
}

func (dma *Region) defrag() {
	var prevBlock *block

	for e := dma.freeBlocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)

		if prevBlock != nil {
			if prevBlock.addr+prevBlock.size == b.addr {
				prevBlock.size += b.size
				defer dma.freeBlocks.Remove(e)
				continue
			}
		}

		prevBlock = e.Value.(*block)
	}
}

func (dma *Region) alloc(size uint, align uint) *block {
	var e *list.Element
	var freeBlock *block
	var pad uint

	if align == 0 {
		// force word alignment
		align = 4
	}

	for e = dma.freeBlocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)

		pad = -b.addr & (align - 1)

		if b.size >= size+pad {
			freeBlock = b
			break
		}
	}

	if freeBlock == nil {
		panic("out of memory")
	}

	defer dma.freeBlocks.Remove(e)

	size += pad

	if r := freeBlock.size - size; r != 0 {
		newBlockAfter := &block{
			addr: freeBlock.addr + size,
			size: r,
		}

		freeBlock.size = size
		dma.freeBlocks.InsertAfter(newBlockAfter, e)
	}

	if pad != 0 {
		newBlockBefore := &block{
			addr: freeBlock.addr,
			size: pad,
		}

		freeBlock.addr += pad
		freeBlock.size -= pad
		dma.freeBlocks.InsertBefore(newBlockBefore, e)
	}

	return freeBlock
}

func (dma *Region) free(usedBlock *block) {
	for e := dma.freeBlocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)

		if b.addr > usedBlock.addr {
			dma.freeBlocks.InsertBefore(usedBlock, e)
			dma.defrag()
			return
		}
	}

	dma.freeBlocks.PushBack(usedBlock)
}

func (dma *Region) freeBlock(addr uint, res bool) {
	dma.mu.Lock()
	defer dma.mu.Unlock()

	b, ok := dma.usedBlocks[addr]

	if !ok {
		return
	}

	if b.res != res {
		return
	}

	dma.free(b)
	delete(dma.usedBlocks, addr)
}

// Reserve is the equivalent of Region.Reserve() on the global DMA region.
func Reserve(size int, align int) (addr uint, buf []byte) {
	return global.Reserve(size, align)
}

// Alloc is the equivalent of Region.Alloc() on the global DMA region.
func Alloc(buf []byte, align int) (addr uint) {
	return global.Alloc(buf, align)
}

// Release is the equivalent of Region.Release() on the global DMA region.
func Release(addr uint) {
	global.Release(addr)
}
