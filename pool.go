package main

import "fmt"

// PoolSlot is one entry reserved in a Pool section for a literal
// value referenced by a `ldr rX, =expr` pseudo-instruction, per
// spec.md §4.5. Several pool loads whose literal evaluates to the
// same word share one PoolSlot once deduplication runs.
type PoolSlot struct {
	expr     Expression
	ctx      *ExprContext
	width    int64 // convertAndAllocate always allocates 4; appendBytes/encodePoolLoad also accept 1 and 2
	resolved bool
	value    uint32
	slot     *IRewrite
}

// PoolLoad is one `ldr rX, =expr` site: before the pool engine has
// run, it doesn't yet know whether it will end up as a real pool load
// or get rewritten in place to a `mov`/`mvn` immediate.
type PoolLoad struct {
	dst     *IRewrite // reserved bytes at the load's own instruction position
	ctx     *ExprContext
	expr    Expression
	regVal  Expression
	thumb   bool
	pool    *PoolSection
	slot    *PoolSlot // set once assigned, after dedup/allocation
	done    bool
	// inline, when true, means this load was converted to an in-place
	// rewrite and no PoolSlot will ever be assigned.
	inline      bool
	inlineWord  uint32
	inlineIsMvn bool
	// thumbAdd, when true alongside inline, means the in-place rewrite
	// is Thumb's `add rd, pc, #off` form (inlineWord holds the byte
	// offset) rather than ARM's mov/mvn rotated immediate.
	thumbAdd bool
}

// PoolSection is a deferred literal-pool placement point (the `.pool`
// directive): it doesn't contribute bytes until convertAndAllocate
// has run, at which point its size is exactly known and fixed for the
// remainder of the build. Slots are laid out back to back from the
// section's start; no alignment padding is added before or after them.
type PoolSection struct {
	loads     []*PoolLoad
	slots     []*PoolSlot
	start     AddrSlot
	allocated bool
}

func NewPoolSection() *PoolSection {
	return &PoolSection{}
}

// addLoad registers a pending pool load against this pool, to be
// resolved when convertAndAllocate runs (normally once, right before
// the owning Import's first flatten of the pass that follows the
// parse pass, but re-run from scratch at the top of every fresh build
// pass since the inline-vs-pool decision can change as Expressions'
// resolvability changes).
func (p *PoolSection) addLoad(l *PoolLoad) {
	l.pool = p
	p.loads = append(p.loads, l)
}

// convertAndAllocate runs the full three-stage pool algorithm from
// spec.md §4.5: inline conversion, deduplication, allocation. It must
// run before flatten is ever called on this section (flatten just
// reports the already-computed size).
//
// Because a literal's value may not be resolvable yet on an early
// pass, any load whose expression can't be evaluated this pass is
// left pending; it's retried on the next call rather than treated as
// an error (final-pass failure is reported the normal way, through
// the load's own PendingWrite once emitted).
func (p *PoolSection) convertAndAllocate(failIfNotFound bool) error {
	p.slots = nil
	p.allocated = false

	type resolved struct {
		load  *PoolLoad
		value uint32
		width int64
	}
	var toPlace []resolved

	for _, l := range p.loads {
		if l.inline {
			continue
		}
		if l.done {
			// Already written against its slot: keep that entry in the pool.
			toPlace = append(toPlace, resolved{load: l, value: l.slot.value, width: l.slot.width})
			continue
		}
		v, ok, err := l.expr.Value(l.ctx, failIfNotFound)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		if l.thumb {
			// Thumb: attempt `add rd, pc, #off` when the loaded literal
			// is itself reachable as a PC-relative, 4-aligned offset in
			// [0, 1020] from this load's own (not-yet-final, but
			// converged-by-the-previous-pass) address. No inline
			// mov/mvn-style conversion exists in Thumb — only ARM has a
			// rotated-immediate data-processing form.
			if selfAddr, ok := l.dst.addr(); ok {
				base := (selfAddr + 4) &^ 3
				off := v - base
				if off >= 0 && off <= 1020 && off%4 == 0 {
					l.inline, l.thumbAdd, l.inlineWord = true, true, uint32(off)
					continue
				}
			}
			toPlace = append(toPlace, resolved{load: l, value: uint32(v), width: 4})
			continue
		}

		if imm8, rot4, ok := tryMovImmediate(uint32(v)); ok {
			l.inline, l.inlineIsMvn, l.inlineWord = true, false, rotatedWord(imm8, rot4)
			continue
		}
		if imm8, rot4, ok := tryMvnImmediate(uint32(v)); ok {
			l.inline, l.inlineIsMvn, l.inlineWord = true, true, rotatedWord(imm8, rot4)
			continue
		}
		toPlace = append(toPlace, resolved{load: l, value: uint32(v), width: 4})
	}

	// Deduplication: group by identical (value, width); assign all
	// loads in a group to one shared slot.
	byKey := make(map[uint64]*PoolSlot)
	for _, r := range toPlace {
		key := uint64(r.width)<<32 | uint64(r.value)
		slot, ok := byKey[key]
		if !ok {
			slot = &PoolSlot{expr: r.load.expr, ctx: r.load.ctx, width: r.width, resolved: true, value: r.value}
			byKey[key] = slot
			p.slots = append(p.slots, slot)
		}
		r.load.slot = slot
	}

	p.allocated = true
	return nil
}

// rotatedWord reproduces ROR(imm8, rot4*2), the inverse of
// encodeRotatedImmediate, so the inline-conversion pre-pass can
// double check (and so tests can assert on) the exact constant a
// `mov`/`mvn` would materialize.
func rotatedWord(imm8, rot4 uint32) uint32 {
	shift := rot4 * 2
	if shift == 0 {
		return imm8
	}
	return (imm8 >> shift) | (imm8 << (32 - shift))
}

func (p *PoolSection) flatten(cursor int64, mem *MemoryAllocator) (int64, error) {
	if !p.allocated {
		return 0, fmt.Errorf("pool: flatten called before convertAndAllocate")
	}
	p.start.Resolve(cursor)
	var off int64
	for _, s := range p.slots {
		off += s.width
	}
	p.bindAddresses()
	return off, nil
}

func (p *PoolSection) appendBytes() []byte {
	buf := make([]byte, 0, 4*len(p.slots))
	for _, s := range p.slots {
		switch s.width {
		case 4:
			b := bytesLE32(s.value)
			buf = append(buf, b[:]...)
		case 2:
			b := bytesLE16(uint16(s.value))
			buf = append(buf, b[:]...)
		case 1:
			buf = append(buf, byte(s.value))
		}
	}
	return buf
}

// attemptWrite implements PendingWrite for a PoolLoad: either the
// inline mov/mvn rewrite, or the real pool-relative load, whichever
// convertAndAllocate decided on. "Pool too far" is raised by the load's
// own pending write, not by the pool section; the error message carries
// no source position.
func (l *PoolLoad) attemptWrite(failIfNotFound bool) (bool, error) {
	if l.done {
		return true, nil
	}
	if l.inline {
		regVal, ok, err := l.regVal.Value(l.ctx, failIfNotFound)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		if l.thumbAdd {
			word, err := encodeThumb(ThumbAddPCImm(), OperandValues{"Rd": regVal, "imm": int64(l.inlineWord)}, 0, true)
			if err != nil {
				return false, err
			}
			l.dst.write(word)
			l.done = true
			return true, nil
		}
		word, err := encodeInlinePoolLoad(l.inlineWord, l.inlineIsMvn, regVal, l.thumb)
		if err != nil {
			return false, err
		}
		l.dst.write(word)
		l.done = true
		return true, nil
	}

	if l.slot == nil {
		if failIfNotFound {
			return false, fmt.Errorf("pool load was never placed in a pool (no following pool directive, or its value never resolved)")
		}
		return false, nil // convertAndAllocate hasn't placed this load yet
	}

	slotAddr, ok := l.slot.slotAddr()
	selfAddr, ok2 := l.dst.addr()
	if !ok || !ok2 {
		if failIfNotFound {
			return false, fmt.Errorf("pool load: address not resolved")
		}
		return false, nil
	}
	regVal, ok, err := l.regVal.Value(l.ctx, failIfNotFound)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	word, err := encodePoolLoad(slotAddr, selfAddr, uint32(regVal), l.slot.width, l.thumb)
	if err != nil {
		if failIfNotFound {
			return false, fmt.Errorf("pool load out of range: %w", err)
		}
		return false, nil
	}
	l.dst.write(word)
	l.done = true
	return true, nil
}

// reset clears a pool load's per-pass decisions (inline-or-pooled,
// assigned slot, committed) so a fresh build pass re-derives them
// from scratch via convertAndAllocate rather than trusting a
// previous pass's placement, which may no longer be valid once
// addresses have shifted.
func (l *PoolLoad) reset() {
	l.done = false
	l.inline = false
	l.inlineIsMvn = false
	l.inlineWord = 0
	l.slot = nil
}

// slotAddr needs the owning section placed; PoolSlot doesn't carry an
// IRewrite of its own until the section appends bytes, so its address
// is derived from the pool's own start plus the cumulative width of
// slots before it, as bound by bindAddresses on the pool's most
// recent flatten.
func (s *PoolSlot) slotAddr() (int64, bool) {
	return s.cachedAddr()
}

func (s *PoolSlot) cachedAddr() (int64, bool) {
	if s.slot != nil {
		return s.slot.addr()
	}
	return 0, false
}

// bindAddresses is called once by PoolSection after its own flatten
// has assigned a start address, to give each slot a concrete
// IRewrite-style handle for slotAddr to read from.
func (p *PoolSection) bindAddresses() {
	base, ok := p.start.Get()
	if !ok {
		return
	}
	var off int64
	for _, s := range p.slots {
		addrCopy := base + off
		resolved := &AddrSlot{}
		resolved.Resolve(addrCopy)
		s.slot = &IRewrite{addrSrc: &staticResolvedSection{addr: resolved}, offset: 0, width: int(s.width)}
		off += s.width
	}
}

// staticResolvedSection is a trivial Section-shaped stand-in that
// lets a PoolSlot's IRewrite report a fixed, already-known address
// without needing its own real BytesSection — the pool's bytes are
// owned by PoolSection.appendBytes, not by any BytesSection.
type staticResolvedSection struct {
	addr *AddrSlot
}

func (s *staticResolvedSection) addrAt(offset int) (int64, bool) {
	base, ok := s.addr.Get()
	if !ok {
		return 0, false
	}
	return base + int64(offset), true
}

func encodeInlinePoolLoad(rotatedValue uint32, isMvn bool, regVal int64, thumb bool) (uint32, error) {
	if thumb {
		return 0, fmt.Errorf("thumb mode has no inline mov/mvn-immediate pool rewrite; rotated immediates are ARM-only")
	}
	op := ARMMovImm(armConditions["al"])
	mnemonic := "mov"
	if isMvn {
		op = ARMMvnImm(armConditions["al"])
		mnemonic = "mvn"
	}
	imm8, rot4, err := encodeRotatedImmediate(rotatedValue)
	if err != nil {
		return 0, fmt.Errorf("internal: %s inline rewrite value 0x%x no longer encodable: %w", mnemonic, rotatedValue, err)
	}
	values := OperandValues{"Rd": regVal, "imm": int64(rotatedWord(imm8, rot4))}
	return encodeARM(op, values, 0, true)
}

func encodePoolLoad(slotAddr, selfAddr int64, regVal int64, width int64, thumb bool) (uint32, error) {
	if thumb {
		if width != 4 {
			return 0, fmt.Errorf("thumb pool loads are always 4 bytes wide")
		}
		op := ThumbLdrPC()
		return encodeThumb(op, OperandValues{"Rd": regVal, "target": slotAddr}, selfAddr, true)
	}
	var op *Operation
	switch width {
	case 4:
		op = ARMLdrPC(armConditions["al"])
	case 2:
		op = ARMLdrhPC(armConditions["al"])
	case 1:
		op = ARMLdrsbPC(armConditions["al"])
	default:
		return 0, fmt.Errorf("internal: unsupported pool slot width %d", width)
	}
	return encodeARM(op, OperandValues{"Rd": regVal, "target": slotAddr}, selfAddr, true)
}
