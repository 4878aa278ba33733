package main

import "fmt"

// Import is the in-memory representation of one source file's parsed
// assembly program, per spec.md §3/§6. Parsing populates Sections and
// queues every PendingWrite and PoolSection as it goes; makeStart/
// makeEnd drive the section list through repeated build passes.
type Import struct {
	Path string

	scope    *ScopeChain
	sections []Section
	pending  PendingQueue
	pools    []*PoolSection
	errs     *ErrorCollector

	// flatBytes holds the bytes of this Import's most recent Assemble
	// call; IncludeSection calls Assemble when a different Import
	// `include`s this one.
	flatBytes []byte

	// includes lists every other Import this one references via
	// `include`, so Project can compute a transitive used-file set.
	includes []*Import

	// pendingCRC holds every byte slot reserved by a `writeCRC`
	// directive. These are deliberately kept out of the generic
	// PendingQueue: the CRC value isn't known until the Project has
	// assembled the full ROM image and summed the header range, which
	// happens only once, after every other pending write in every
	// cached Import has settled.
	pendingCRC []*IRewrite

	// debugStatements records every debugLog message emitted by this
	// Import's pending writes, in emission order, for a caller that
	// wants the transcript after a build completes.
	debugStatements []string

	// logger is invoked by printf/debugLog/assert diagnostics. Set by
	// the Project that owns this Import; nil means "discard".
	logger func(string)

	// unassignedPoolLoads holds every `ldr rX, =expr` pool load queued
	// since the last `.pool` directive (or since the start of the
	// file, if none yet): spec.md §4.1's invariant that "a pool-load
	// pending write is resolved by exactly one Pool section — the
	// first one that follows it" is enforced by capturing this whole
	// list into the PoolSection the next `.pool` directive creates.
	unassignedPoolLoads []*PoolLoad

	stdlibDefined bool
}

// NewImport creates an empty Import ready to receive parsed sections.
func NewImport(path string) *Import {
	return &Import{
		Path:  path,
		scope: NewScopeChain(),
		errs:  NewErrorCollector(200),
	}
}

// addSection appends one already-constructed Section (emitted by the
// parser as it consumes a directive).
func (im *Import) addSection(s Section) {
	im.sections = append(im.sections, s)
	if pool, ok := s.(*PoolSection); ok {
		im.pools = append(im.pools, pool)
	}
}

// reserveBytes is a convenience the parser uses for every
// instruction/data directive: ensure the current section is a
// BytesSection (starting a new one if the last section was some
// other kind), then reserve n bytes in it.
func (im *Import) reserveBytes(n int) *IRewrite {
	cur := im.currentBytesSection()
	return cur.reserve(n)
}

func (im *Import) currentBytesSection() *BytesSection {
	if len(im.sections) > 0 {
		if b, ok := im.sections[len(im.sections)-1].(*BytesSection); ok {
			return b
		}
	}
	b := NewBytesSection()
	im.addSection(b)
	return b
}

// here returns an AddrSlot tracking the current write position,
// backing a `label:` definition.
func (im *Import) here() *AddrSlot {
	return im.currentBytesSection().here()
}

// makeStart prepares this Import for a fresh build: it clears the
// address of every label/begin Def still on the scope stack and every
// struct's memory-allocation base, and resets every pending write
// (including each pool load's inline-or-pooled decision and slot).
// Section start addresses are not cleared here; flatten reassigns
// them on every pass.
func (im *Import) makeStart() {
	im.scope.clearAddrSlots()
	im.pending.reset()
}

// resolvePools runs convertAndAllocate on every Pool section this
// Import declared, ahead of flatten — a Pool section's size must be
// known before flatten walks the section list, since every later
// section's address depends on it.
func (im *Import) resolvePools(failIfNotFound bool) error {
	for _, p := range im.pools {
		if err := p.convertAndAllocate(failIfNotFound); err != nil {
			return err
		}
	}
	return nil
}

// flattenAll walks this Import's section list in order, assigning
// each one a base address and accumulating the running cursor,
// matching spec.md §4.6. base is the address the first section
// starts at (normally the cartridge's fixed ROM base, 0x0800_0000,
// unless a `base` directive has repositioned it).
func (im *Import) flattenAll(base int64, mem *MemoryAllocator) error {
	cursor := base
	for _, s := range im.sections {
		switch t := s.(type) {
		case *BaseSection:
			if _, err := t.flatten(cursor, mem); err != nil {
				return err
			}
			cursor = t.after
			continue
		case *BaseShiftSection:
			delta, err := t.flatten(cursor, mem)
			if err != nil {
				return err
			}
			cursor += delta
			continue
		}
		n, err := s.flatten(cursor, mem)
		if err != nil {
			return err
		}
		cursor += n
	}
	return nil
}

// assembleBytes concatenates every section's contributed bytes, in
// order, once flattenAll has placed them all. Call only after a pass
// that resolved every pending write; the caller is responsible for
// ensuring no write remains outstanding.
func (im *Import) assembleBytes() []byte {
	var out []byte
	for _, s := range im.sections {
		out = append(out, s.appendBytes()...)
	}
	return out
}

// endOfFile is the opportunistic sweep spec.md §4.9 runs once parsing
// of this Import finishes: one more attemptWrite(failIfNotFound=false)
// over every pending write, so any write that only needed a
// same-file forward reference doesn't have to wait for a whole build
// pass to notice it's already resolvable.
func (im *Import) endOfFile() error {
	_, err := im.pending.runPass(false)
	return err
}

// makeEnd is the terminal pass spec.md §4.9 describes: patch every
// pending-CRC slot (the caller supplies the computed byte; passing
// ok=false means the CRC could not be computed and is an error if
// this Import reserved any CRC slot), then force every remaining
// pending write with failIfNotFound=true.
func (im *Import) makeEnd(crc byte, crcOK bool) error {
	if len(im.pendingCRC) > 0 {
		if !crcOK {
			return fmt.Errorf("%s: CRC unavailable: header byte range not fully resolved", im.Path)
		}
		for _, r := range im.pendingCRC {
			r.write(uint32(crc))
		}
	}
	if _, err := im.pending.runPass(true); err != nil {
		return fmt.Errorf("%s: %w", im.Path, err)
	}
	return nil
}

// resolveToFixpoint repeatedly runs one pending-write pass (and,
// ahead of each, a pool re-evaluation and a full re-flatten) until no
// pass makes further progress. It deliberately stops short of the
// final failIfNotFound=true pass and of assembling bytes — those are
// Project.make's job, once every cached Import (not just this one)
// has reached this same fixpoint and the global CRC is known. maxPasses
// bounds the loop — spec.md's multi-pass termination design note
// observes that forward progress is monotonic (bytes only go from
// unresolved to resolved, never back), so a fixed small bound is
// enough in practice; exceeding it without error still lets the
// caller's own final forced pass report the real failure.
func (im *Import) resolveToFixpoint(base int64, mem *MemoryAllocator, maxPasses int) error {
	prevRemaining := -1
	for pass := 0; pass < maxPasses; pass++ {
		if err := im.resolvePools(false); err != nil {
			return err
		}
		if err := im.flattenAll(base, mem); err != nil {
			return err
		}
		remaining, err := im.pending.runPass(false)
		if err != nil {
			return err
		}
		if remaining == 0 {
			break
		}
		if remaining == prevRemaining {
			break
		}
		prevRemaining = remaining
	}
	if err := im.resolvePools(false); err != nil {
		return err
	}
	return im.flattenAll(base, mem)
}

// Assemble concatenates every section's contributed bytes in flatten
// order and caches the result on im.flatBytes, so a later
// IncludeSection targeting this Import can splice it in. Callers may
// call this more than once (e.g. once before a CRC patch to read the
// header bytes, once after to pick up the patched value) — each call
// recomputes from the current section buffers.
func (im *Import) Assemble() []byte {
	im.flatBytes = im.assembleBytes()
	return im.flatBytes
}
