package kernel

import "github.com/c4ke/c4ke/vm"

// Allocator is a first-fit free-list heap carved out of a sub-region of
// the VM's data arena. The original machine hands MALC/FREE straight to
// the host's malloc/free; here the whole data arena is VM-visible memory
// shared by every task, so MALC has to hand out ranges of it itself.
// Blocks carry a 3-word header (size, inUse, nextFree) living in the same
// arena the payload does, so a returned pointer is a plain VM address
// usable directly by MSET/MCPY/MCMP.
type Allocator struct {
	mem      *vm.Memory
	base     vm.Word
	end      vm.Word
	freeList vm.Word // address of the first free block's header, 0 if none
}

const (
	hdrSize   = 0 * vm.WordSize // word 0: payload size in bytes
	hdrInUse  = 1 * vm.WordSize // word 1: 0 free, 1 allocated
	hdrNext   = 2 * vm.WordSize // word 2: next free block header addr, valid only when free
	headerLen = 3 * vm.WordSize
)

// NewAllocator dedicates [base, base+size) to the heap. size must be
// large enough for at least one header; smaller regions make the heap
// permanently exhausted rather than invalid.
func NewAllocator(mem *vm.Memory, base, size vm.Word) *Allocator {
	a := &Allocator{mem: mem, base: base, end: base + size}
	if size > headerLen {
		mem.WriteWord(base+hdrSize, size-headerLen)
		mem.WriteWord(base+hdrInUse, 0)
		mem.WriteWord(base+hdrNext, 0)
		a.freeList = base
	}
	return a
}

// Alloc returns the address of an n-byte payload, or 0 if the heap has no
// block large enough (the MALC syscall surfaces that as A == 0, matching
// malloc's NULL-on-failure convention).
func (a *Allocator) Alloc(n vm.Word) vm.Word {
	if n <= 0 {
		n = vm.WordSize
	}
	n = alignUp(n)

	var prev vm.Word
	cur := a.freeList
	for cur != 0 {
		size, _ := a.mem.ReadWord(cur + hdrSize)
		next, _ := a.mem.ReadWord(cur + hdrNext)
		if size >= n {
			remainder := size - n
			if remainder > headerLen {
				a.mem.WriteWord(cur+hdrSize, n)
				newBlock := cur + headerLen + n
				a.mem.WriteWord(newBlock+hdrSize, remainder-headerLen)
				a.mem.WriteWord(newBlock+hdrInUse, 0)
				a.mem.WriteWord(newBlock+hdrNext, next)
				a.unlink(prev, cur, newBlock)
			} else {
				a.unlink(prev, cur, next)
			}
			a.mem.WriteWord(cur+hdrInUse, 1)
			return cur + headerLen
		}
		prev = cur
		cur = next
	}
	return 0
}

// unlink replaces cur's slot in the free list (pointed to by prev, or the
// list head if prev is 0) with replacement.
func (a *Allocator) unlink(prev, cur, replacement vm.Word) {
	if prev == 0 {
		a.freeList = replacement
		return
	}
	a.mem.WriteWord(prev+hdrNext, replacement)
}

// Free releases a block returned by Alloc. It reports false on a bad
// pointer or a double free rather than corrupting the heap.
func (a *Allocator) Free(addr vm.Word) bool {
	if addr < a.base+headerLen || addr >= a.end {
		return false
	}
	block := addr - headerLen
	inUse, ok := a.mem.ReadWord(block + hdrInUse)
	if !ok || inUse == 0 {
		return false
	}

	size, _ := a.mem.ReadWord(block + hdrSize)

	// Coalesce with the immediately following physical block if it is
	// free. No backward coalescing: the header layout has no "previous
	// block" link, and the task table is small enough that fragmentation
	// from this alone hasn't been a problem in practice.
	next := block + headerLen + size
	if next < a.end {
		nextInUse, ok := a.mem.ReadWord(next + hdrInUse)
		if ok && nextInUse == 0 {
			nextSize, _ := a.mem.ReadWord(next + hdrSize)
			nextNext, _ := a.mem.ReadWord(next + hdrNext)
			a.removeFromFreeList(next)
			size = size + headerLen + nextSize
			a.mem.WriteWord(block+hdrSize, size)
			_ = nextNext
		}
	}

	a.mem.WriteWord(block+hdrInUse, 0)
	a.mem.WriteWord(block+hdrNext, a.freeList)
	a.freeList = block
	return true
}

func (a *Allocator) removeFromFreeList(target vm.Word) {
	var prev vm.Word
	cur := a.freeList
	for cur != 0 {
		next, _ := a.mem.ReadWord(cur + hdrNext)
		if cur == target {
			a.unlink(prev, cur, next)
			return
		}
		prev = cur
		cur = next
	}
}

func alignUp(n vm.Word) vm.Word {
	return (n + vm.WordSize - 1) / vm.WordSize * vm.WordSize
}
