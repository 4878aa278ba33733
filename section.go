package main

import "fmt"

// Section is one ordered element of an Import's output, per spec.md
// §3/§4.6. flatten assigns every section a base address (given the
// running cursor so far) and returns how many bytes of address space
// it consumes; only Bytes/Pool/Align/Include/Embed actually contribute
// bytes to the ROM image, Base/BaseShift/Memory only affect addressing.
type Section interface {
	flatten(cursor int64, mem *MemoryAllocator) (length int64, err error)
	// appendBytes returns this section's contribution to the flattened
	// ROM image, or nil for a section kind that contributes none.
	appendBytes() []byte
}

// BytesSection is a contiguous, append-only run of raw instruction
// and data bytes belonging to a single contiguous address range. Its
// own start address is only known once flatten is called during a
// build pass; reads before then report unresolved via addrAt.
type BytesSection struct {
	start   AddrSlot
	buf     []byte
	pending []pendingHereSlot
}

// NewBytesSection creates an empty section ready to accept appended
// bytes.
func NewBytesSection() *BytesSection {
	return &BytesSection{}
}

// reserve appends n placeholder zero bytes and returns an IRewrite
// handle for patching them later, once their value becomes known
// (used by every ARM/Thumb encoder and the typed-memory writers,
// which must emit something at this source position before all of
// their operands necessarily resolve).
func (b *BytesSection) reserve(n int) *IRewrite {
	off := len(b.buf)
	b.buf = append(b.buf, make([]byte, n)...)
	return &IRewrite{section: b, offset: off, width: n}
}

// appendConst appends fully-known bytes with nothing left to patch.
func (b *BytesSection) appendConst(bs []byte) {
	b.buf = append(b.buf, bs...)
}

// here returns an AddrSlot tracking the address of the next byte that
// would be appended right now — used by label definitions.
func (b *BytesSection) here() *AddrSlot {
	slot := &AddrSlot{}
	// Bound lazily: flatten fills this in by recomputing from start +
	// the byte offset captured at call time.
	offset := int64(len(b.buf))
	b.pending = append(b.pending, pendingHereSlot{offset: offset, slot: slot})
	return slot
}

type pendingHereSlot struct {
	offset int64
	slot   *AddrSlot
}

func (b *BytesSection) addrAt(offset int) (int64, bool) {
	start, ok := b.start.Get()
	if !ok {
		return 0, false
	}
	return start + int64(offset), true
}

func (b *BytesSection) flatten(cursor int64, mem *MemoryAllocator) (int64, error) {
	b.start.Resolve(cursor)
	for _, p := range b.pending {
		p.slot.Resolve(cursor + p.offset)
	}
	return int64(len(b.buf)), nil
}

func (b *BytesSection) appendBytes() []byte { return b.buf }

// AlignSection pads the running cursor up to the next multiple of
// Boundary, per spec.md §4.6. FillByte, when non-nil, is repeated
// across the padding; otherwise the pad is filled with a tiled NOP
// pattern selected by Mode (ARM `00 00 a0 e1`, Thumb `c0 46`) so an
// align gap reached during execution behaves like a no-op rather than
// undefined bytes.
type AlignSection struct {
	Boundary int64
	FillByte *byte
	Mode     Mode
	start    AddrSlot
	padLen   int64
}

var (
	armNop   = []byte{0x00, 0x00, 0xA0, 0xE1}
	thumbNop = []byte{0xC0, 0x46}
)

func (a *AlignSection) flatten(cursor int64, mem *MemoryAllocator) (int64, error) {
	a.start.Resolve(cursor)
	if a.Boundary <= 0 {
		return 0, fmt.Errorf("align: boundary must be positive, got %d", a.Boundary)
	}
	rem := cursor % a.Boundary
	if rem == 0 {
		a.padLen = 0
	} else {
		a.padLen = a.Boundary - rem
	}
	return a.padLen, nil
}

func (a *AlignSection) appendBytes() []byte {
	buf := make([]byte, a.padLen)
	if a.FillByte != nil {
		for i := range buf {
			buf[i] = *a.FillByte
		}
		return buf
	}
	pattern := armNop
	if a.Mode == ModeThumb {
		pattern = thumbNop
	}
	for i := range buf {
		buf[i] = pattern[i%len(pattern)]
	}
	return buf
}

// IncludeSection splices another Import inline at the includer's
// current position, per spec.md §4.6: "delegates to the Project,
// which flattens the named Import inline at the current length/base."
// The target is flattened against THIS cursor, not some base of its
// own — an `include`d file shares its includer's address space, it
// isn't a separately-based unit whose bytes merely get concatenated.
type IncludeSection struct {
	Target *Import
	mem    *MemoryAllocator
}

func (s *IncludeSection) flatten(cursor int64, mem *MemoryAllocator) (int64, error) {
	if err := s.Target.resolvePools(false); err != nil {
		return 0, err
	}
	if err := s.Target.flattenAll(cursor, mem); err != nil {
		return 0, err
	}
	s.mem = mem
	return int64(len(s.Target.assembleBytes())), nil
}

func (s *IncludeSection) appendBytes() []byte {
	return s.Target.Assemble()
}

// EmbedSection splices a raw external file's bytes inline (the
// `embed` directive).
type EmbedSection struct {
	Data []byte
}

func (s *EmbedSection) flatten(cursor int64, mem *MemoryAllocator) (int64, error) {
	return int64(len(s.Data)), nil
}

func (s *EmbedSection) appendBytes() []byte { return s.Data }

// BaseSection sets the absolute address the next section begins at,
// without emitting any bytes of its own — used to jump the cursor to
// the cartridge header's fixed load address, or to IWRAM/EWRAM.
type BaseSection struct {
	Addr  int64
	after int64 // resolved address the following section should use
}

func (s *BaseSection) flatten(cursor int64, mem *MemoryAllocator) (int64, error) {
	s.after = s.Addr
	return 0, nil
}

func (s *BaseSection) appendBytes() []byte { return nil }

// BaseShiftSection offsets the cursor by a relative delta rather than
// an absolute address.
type BaseShiftSection struct {
	Delta int64
}

func (s *BaseShiftSection) flatten(cursor int64, mem *MemoryAllocator) (int64, error) {
	return s.Delta, nil
}

func (s *BaseShiftSection) appendBytes() []byte { return nil }

// MemorySection declares a struct-typed allocation inside IWRAM or
// EWRAM: it contributes no ROM bytes but claims space from the
// MemoryAllocator and resolves the owning Def's address to that
// claimed base.
type MemorySection struct {
	Region RAMRegion
	Def    *StructDef
	Target *AddrSlot
}

func (s *MemorySection) flatten(cursor int64, mem *MemoryAllocator) (int64, error) {
	addr, err := mem.alloc(s.Region, s.Def.Size(), s.Def.Align())
	if err != nil {
		return 0, err
	}
	s.Target.Resolve(addr)
	return 0, nil
}

func (s *MemorySection) appendBytes() []byte { return nil }

// RAMRegion distinguishes the two static RAM regions a Memory section
// can claim from, per spec.md's memory model.
type RAMRegion int

const (
	RegionIWRAM RAMRegion = iota
	RegionEWRAM
)

// iwramBase/iwramSize/ewramBase/ewramSize are the GBA's fixed static
// RAM geography. IWRAM reserves its final 256 bytes for the BIOS
// call stack, matching real hardware behavior.
const (
	iwramBase = 0x0300_0000
	iwramSize = 32*1024 - 256
	ewramBase = 0x0200_0000
	ewramSize = 256 * 1024
)

// MemoryAllocator is a simple bump allocator over IWRAM/EWRAM,
// reset at the start of every build pass alongside every other
// AddrSlot.
type MemoryAllocator struct {
	iwramCursor int64
	ewramCursor int64
}

func NewMemoryAllocator() *MemoryAllocator {
	return &MemoryAllocator{}
}

func (m *MemoryAllocator) reset() {
	m.iwramCursor = 0
	m.ewramCursor = 0
}

func (m *MemoryAllocator) alloc(region RAMRegion, size, align int64) (int64, error) {
	switch region {
	case RegionIWRAM:
		base, cur, limit := int64(iwramBase), m.iwramCursor, int64(iwramSize)
		if align > 0 && cur%align != 0 {
			cur += align - cur%align
		}
		if cur+size > limit {
			return 0, fmt.Errorf("iwram exhausted: need %d bytes at offset %d, only %d available", size, cur, limit)
		}
		m.iwramCursor = cur + size
		return base + cur, nil
	case RegionEWRAM:
		base, cur, limit := int64(ewramBase), m.ewramCursor, int64(ewramSize)
		if align > 0 && cur%align != 0 {
			cur += align - cur%align
		}
		if cur+size > limit {
			return 0, fmt.Errorf("ewram exhausted: need %d bytes at offset %d, only %d available", size, cur, limit)
		}
		m.ewramCursor = cur + size
		return base + cur, nil
	}
	return 0, fmt.Errorf("internal: unknown RAM region %d", region)
}
