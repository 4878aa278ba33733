package main

import "fmt"

// MemberType names one of the fixed-width scalar types a struct
// member can declare, per spec.md §4.8. The `M` variants are the
// GLOSSARY's "misaligned data type" — an `m`-suffixed type that opts
// out of natural alignment enforcement and may straddle a boundary
// its aligned counterpart couldn't.
type MemberType int

const (
	TypeU8 MemberType = iota
	TypeS8
	TypeU16
	TypeS16
	TypeU32
	TypeS32
	TypeU16M
	TypeS16M
	TypeU32M
	TypeS32M
)

func (t MemberType) size() int64 {
	switch t {
	case TypeU8, TypeS8:
		return 1
	case TypeU16, TypeS16, TypeU16M, TypeS16M:
		return 2
	default:
		return 4
	}
}

func (t MemberType) signed() bool {
	switch t {
	case TypeS8, TypeS16, TypeS32, TypeS16M, TypeS32M:
		return true
	default:
		return false
	}
}

// misaligned reports whether t is one of the `m`-suffixed types that
// opt out of natural alignment enforcement (spec.md §4.8, GLOSSARY
// "Misaligned data type").
func (t MemberType) misaligned() bool {
	switch t {
	case TypeU16M, TypeS16M, TypeU32M, TypeS32M:
		return true
	default:
		return false
	}
}

// StructMemberKind discriminates spec.md §4.8's four member forms:
// `data {dataType, optional length}`, `label`, `align {amount}`, and
// nested `struct`.
type StructMemberKind int

const (
	MemberData StructMemberKind = iota
	MemberLabel
	MemberAlign
	MemberNestedStruct
)

// StructMember is one field of a StructDef. Name is unused by
// MemberAlign (it's a positional padding instruction, not a named
// field); AlignAmount is unused by every other kind.
type StructMember struct {
	Kind        StructMemberKind
	Name        string
	Type        MemberType
	ArrayLen    int64 // 1 for a plain scalar or nested-struct member
	NestedRef   *StructDef
	AlignAmount int64 // MemberAlign only
}

func (m *StructMember) oneSize() int64 {
	switch m.Kind {
	case MemberNestedStruct:
		return m.NestedRef.Size()
	case MemberLabel, MemberAlign:
		return 0
	default:
		return m.Type.size()
	}
}

func (m *StructMember) totalSize() int64 {
	return m.oneSize() * m.ArrayLen
}

// align is the alignment this member's *start* must satisfy. A
// misaligned (`m`-suffix) data type, a label (a pure positional
// marker), and an align member (which IS the alignment action, not
// something that needs pre-alignment itself) all require none.
func (m *StructMember) align() int64 {
	switch m.Kind {
	case MemberNestedStruct:
		return m.NestedRef.Align()
	case MemberLabel, MemberAlign:
		return 1
	default:
		if m.Type.misaligned() {
			return 1
		}
		return m.oneSize()
	}
}

// StructDef is a typed-memory layout: an ordered list of members laid
// out with natural alignment, per spec.md §4.8. memoryStart, when
// set, is the struct's own alignment-resolved base address for a
// Memory-section allocation; it is cleared and recomputed every build
// pass like any other AddrSlot-backed value.
type StructDef struct {
	Name        string
	Members     []StructMember
	size        int64
	align       int64
	offsets     map[string]int64
	memoryStart *AddrSlot
}

// NewStructDef computes a struct's size and per-member byte offsets
// by walking its members in declaration order, tracking natural
// alignment as it goes: each member starts at the next offset that is
// a multiple of its own alignment (its element size, or its nested
// struct's alignment), and the struct's overall size is rounded up to
// its own alignment (the widest member alignment) at the end.
//
// MemberAlign bumps the running alignment accumulator by its own
// AlignAmount and rounds the cursor up to it, without occupying an
// offset of its own. MemberLabel records its name at the current
// cursor as a pure positional marker — it neither advances the cursor
// nor contributes to maxAlign.
func NewStructDef(name string, members []StructMember) (*StructDef, error) {
	d := &StructDef{Name: name, Members: members, offsets: make(map[string]int64), memoryStart: &AddrSlot{}}
	var cursor int64
	var maxAlign int64 = 1
	for i := range members {
		m := &members[i]
		switch m.Kind {
		case MemberAlign:
			a := m.AlignAmount
			if a > maxAlign {
				maxAlign = a
			}
			if a > 0 && cursor%a != 0 {
				cursor += a - cursor%a
			}
			continue
		case MemberLabel:
			d.offsets[m.Name] = cursor
			continue
		}
		a := m.align()
		if a > maxAlign {
			maxAlign = a
		}
		if a > 0 && cursor%a != 0 {
			cursor += a - cursor%a
		}
		if err := checkArrayAlignment(m, cursor); err != nil {
			return nil, fmt.Errorf("struct %q: %w", name, err)
		}
		d.offsets[m.Name] = cursor
		cursor += m.totalSize()
	}
	if maxAlign > 0 && cursor%maxAlign != 0 {
		cursor += maxAlign - cursor%maxAlign
	}
	d.size = cursor
	d.align = maxAlign
	return d, nil
}

// checkArrayAlignment enforces spec.md's array-length alignment
// invariant: every element of an array member must land at the same
// alignment as the first, i.e. (base mod a) == ((base + oneSize) mod
// a) for the member's own alignment a. A per-element size that isn't
// a multiple of its own alignment would violate this for any array of
// length > 1, so it's rejected up front rather than silently
// producing misaligned elements.
func checkArrayAlignment(m *StructMember, base int64) error {
	if m.ArrayLen <= 1 {
		return nil
	}
	a := m.align()
	one := m.oneSize()
	if base%a != (base+one)%a {
		return fmt.Errorf("member %q: element size %d is not a multiple of its own alignment %d", m.Name, one, a)
	}
	return nil
}

// Size returns the struct's total byte size, including trailing
// alignment padding.
func (d *StructDef) Size() int64 { return d.size }

// Align returns the struct's own alignment requirement.
func (d *StructDef) Align() int64 { return d.align }

// MemberOffset resolves a member reference, which may include an
// array index ("arr[3]") or one of the "_length"/"_bytes"
// pseudo-members (spec.md §4.8's member-lookup table):
//
//	name        -> offset of the member's first element, its declared width
//	name[i]     -> offset of element i, its declared width
//	name_length -> the member's declared array length, as a value (width 0)
//	name_bytes  -> the member's total byte span, as a value (width 0)
func (d *StructDef) MemberOffset(ref string) (offset int64, width int64, ok bool, err error) {
	if base, found := stripSuffix(ref, "_length"); found {
		m, mok := d.find(base)
		if !mok {
			return 0, 0, false, nil
		}
		return m.ArrayLen, 0, true, nil
	}
	if base, found := stripSuffix(ref, "_bytes"); found {
		m, mok := d.find(base)
		if !mok {
			return 0, 0, false, nil
		}
		return m.totalSize(), 0, true, nil
	}

	name, idx, hasIdx, perr := parseMemberIndex(ref)
	if perr != nil {
		return 0, 0, false, perr
	}
	m, mok := d.find(name)
	if !mok {
		return 0, 0, false, nil
	}
	if hasIdx && idx >= m.ArrayLen {
		return 0, 0, false, fmt.Errorf("member %q: index %d out of range (length %d)", name, idx, m.ArrayLen)
	}
	base := d.offsets[name]
	off := base + idx*m.oneSize()
	return off, m.oneSize(), true, nil
}

// MemberDataType reports the scalar type a typed-memory directive
// should use for ref ("name" or "name[i]"); the "_length"/"_bytes"
// pseudo-members have no natural per-element type and resolve to a
// plain 32-bit value.
func (d *StructDef) MemberDataType(ref string) (MemberType, bool) {
	if base, found := stripSuffix(ref, "_length"); found {
		if _, ok := d.find(base); ok {
			return TypeU32, true
		}
		return 0, false
	}
	if base, found := stripSuffix(ref, "_bytes"); found {
		if _, ok := d.find(base); ok {
			return TypeU32, true
		}
		return 0, false
	}
	name, _, _, err := parseMemberIndex(ref)
	if err != nil {
		return 0, false
	}
	m, ok := d.find(name)
	if !ok || m.Kind != MemberData {
		return 0, false
	}
	return m.Type, true
}

func (d *StructDef) find(name string) (*StructMember, bool) {
	for i := range d.Members {
		if d.Members[i].Name == name {
			return &d.Members[i], true
		}
	}
	return nil, false
}

func stripSuffix(s, suffix string) (string, bool) {
	if len(s) <= len(suffix) || s[len(s)-len(suffix):] != suffix {
		return "", false
	}
	return s[:len(s)-len(suffix)], true
}

// parseMemberIndex splits "name[i]" into name and i, or reports
// hasIdx=false for a plain "name".
func parseMemberIndex(ref string) (name string, idx int64, hasIdx bool, err error) {
	open := -1
	for i, c := range ref {
		if c == '[' {
			open = i
			break
		}
	}
	if open < 0 {
		return ref, 0, false, nil
	}
	if ref[len(ref)-1] != ']' {
		return "", 0, false, fmt.Errorf("malformed member index %q", ref)
	}
	name = ref[:open]
	numStr := ref[open+1 : len(ref)-1]
	var n int64
	for _, c := range numStr {
		if c < '0' || c > '9' {
			return "", 0, false, fmt.Errorf("malformed member index %q", ref)
		}
		n = n*10 + int64(c-'0')
	}
	return name, n, true, nil
}

func (d *StructDef) clearMemoryStart() {
	d.memoryStart.Clear()
}
