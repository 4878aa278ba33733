package main

// AddrSlot is a stable handle onto a virtual address that becomes
// known only once its owning Bytes section (or Memory allocation) is
// placed. Labels, begin-scopes, and address-receivers inside a Bytes
// section all share this one representation, per spec.md's design
// note on cyclic references: "represent both as stable handles... not
// as ownership cycles."
type AddrSlot struct {
	resolved bool
	addr     int64
}

// Resolve assigns a concrete address. Called once per build pass by
// the owning section's flatten, or by the Memory section for
// dynamically-allocated structs.
func (s *AddrSlot) Resolve(addr int64) {
	s.resolved = true
	s.addr = addr
}

// Clear unresolves the slot. Called by makeStart at the beginning of
// every build pass so stale addresses from a previous pass can never
// leak into the next one.
func (s *AddrSlot) Clear() {
	s.resolved = false
	s.addr = 0
}

// Get returns the resolved address, or (0, false) if not yet placed.
func (s *AddrSlot) Get() (int64, bool) {
	if !s.resolved {
		return 0, false
	}
	return s.addr, true
}

// addrSource is anything that can report the resolved address of a
// byte offset within itself — a BytesSection, or (for a literal-pool
// slot, which owns no BytesSection of its own) a staticResolvedSection.
type addrSource interface {
	addrAt(offset int) (int64, bool)
}

// IRewrite is a handle onto a byte slot: addr() reports the slot's
// resolved address (or unresolved), write patches the underlying
// bytes. A PendingWrite or PoolSlot holds one of these instead of a
// direct section+offset pair so the section can move the underlying
// storage (e.g. during a re-flatten) without invalidating outstanding
// references. Only a slot backed by a real BytesSection (section !=
// nil) may be written to; a pool slot's read-only handle sets addrSrc
// instead.
type IRewrite struct {
	section *BytesSection
	addrSrc addrSource
	offset  int // byte offset within section.buf
	width   int // 1, 2, or 4 bytes
}

// addr reports the virtual address this slot will end up at, once the
// owning section has been placed by flatten.
func (r *IRewrite) addr() (int64, bool) {
	if r.section != nil {
		return r.section.addrAt(r.offset)
	}
	return r.addrSrc.addrAt(r.offset)
}

// write patches the reserved bytes with v's low width*8 bits,
// little-endian. It is the only way bytes already appended to a Bytes
// section may change, per spec.md's Bytes-section immutability
// invariant.
func (r *IRewrite) write(v uint32) {
	buf := r.section.buf
	switch r.width {
	case 1:
		buf[r.offset] = byte(v)
	case 2:
		b := bytesLE16(uint16(v))
		copy(buf[r.offset:r.offset+2], b[:])
	case 4:
		b := bytesLE32(v)
		copy(buf[r.offset:r.offset+4], b[:])
	}
}

// writeBytes patches a raw byte slice directly (used by the data-fill
// and `.header` writers, where the payload isn't a simple fixed-width
// scalar).
func (r *IRewrite) writeBytes(bs []byte) {
	copy(r.section.buf[r.offset:r.offset+len(bs)], bs)
}
