package main

import "testing"

// TestStructLayoutNaturalAlignment checks spec.md §4.8's layout rule:
// each member starts at the next offset that is a multiple of its own
// alignment, and the struct's total size is rounded up to its widest
// member's alignment.
func TestStructLayoutNaturalAlignment(t *testing.T) {
	def, err := NewStructDef("Entity", []StructMember{
		{Name: "flags", Type: TypeU8, ArrayLen: 1},
		{Name: "hp", Type: TypeU16, ArrayLen: 1},
		{Name: "x", Type: TypeS32, ArrayLen: 1},
	})
	if err != nil {
		t.Fatalf("NewStructDef: %v", err)
	}
	// flags @0 (u8, 1 byte), pad to 2, hp @2 (u16, 2 bytes), pad to 4, x @4 (s32, 4 bytes).
	cases := []struct {
		name string
		want int64
	}{
		{"flags", 0},
		{"hp", 2},
		{"x", 4},
	}
	for _, c := range cases {
		off, width, ok, err := def.MemberOffset(c.name)
		if err != nil {
			t.Fatalf("MemberOffset(%q): %v", c.name, err)
		}
		if !ok {
			t.Fatalf("MemberOffset(%q): not found", c.name)
		}
		if off != c.want {
			t.Errorf("offset of %q = %d, want %d", c.name, off, c.want)
		}
		_ = width
	}
	if got := def.Size(); got != 8 {
		t.Errorf("Size() = %d, want 8 (rounded up to s32 alignment)", got)
	}
	if got := def.Align(); got != 4 {
		t.Errorf("Align() = %d, want 4", got)
	}
}

// TestStructLayoutArrayIndexAndPseudoMembers checks the "_length"/
// "_bytes" pseudo-member lookups and indexed array access spec.md
// §4.8 documents.
func TestStructLayoutArrayIndexAndPseudoMembers(t *testing.T) {
	def, err := NewStructDef("Row", []StructMember{
		{Name: "cells", Type: TypeU8, ArrayLen: 4},
	})
	if err != nil {
		t.Fatalf("NewStructDef: %v", err)
	}
	off, _, ok, err := def.MemberOffset("cells[2]")
	if err != nil || !ok {
		t.Fatalf("MemberOffset(cells[2]): ok=%v err=%v", ok, err)
	}
	if off != 2 {
		t.Errorf("offset of cells[2] = %d, want 2", off)
	}

	length, _, ok, err := def.MemberOffset("cells_length")
	if err != nil || !ok {
		t.Fatalf("MemberOffset(cells_length): ok=%v err=%v", ok, err)
	}
	if length != 4 {
		t.Errorf("cells_length = %d, want 4", length)
	}

	size, _, ok, err := def.MemberOffset("cells_bytes")
	if err != nil || !ok {
		t.Fatalf("MemberOffset(cells_bytes): ok=%v err=%v", ok, err)
	}
	if size != 4 {
		t.Errorf("cells_bytes = %d, want 4", size)
	}

	if _, _, ok, _ := def.MemberOffset("nope"); ok {
		t.Error("MemberOffset(nope): expected not-found, got ok")
	}
}

// TestStructLayoutRejectsMisalignedArrayElement checks
// checkArrayAlignment's invariant: an array element size that isn't a
// multiple of its own alignment is rejected rather than silently
// producing misaligned elements.
func TestStructLayoutRejectsMisalignedArrayElement(t *testing.T) {
	nested, err := NewStructDef("Odd", []StructMember{
		{Name: "a", Type: TypeU8, ArrayLen: 1},
		{Name: "b", Type: TypeU16, ArrayLen: 1},
	})
	if err != nil {
		t.Fatalf("NewStructDef(Odd): %v", err)
	}
	// Odd is 1 (a) -> pad to 2 -> b @2 (2 bytes) = 4, rounded to align 2 = 4.
	// Its own size (4) is a multiple of its align (2), so this case is
	// actually valid; exercise the rejection path with a genuinely
	// misaligned hand-built member instead.
	_ = nested
	bad := StructMember{Kind: MemberNestedStruct, Name: "odd", ArrayLen: 3, NestedRef: &StructDef{size: 3, align: 2}}
	if err := checkArrayAlignment(&bad, 0); err == nil {
		t.Fatal("checkArrayAlignment: expected error for element size not a multiple of its alignment")
	}
}

func TestMemberTypeSizeAndSign(t *testing.T) {
	cases := []struct {
		typ    MemberType
		size   int64
		signed bool
	}{
		{TypeU8, 1, false},
		{TypeS8, 1, true},
		{TypeU16, 2, false},
		{TypeS16, 2, true},
		{TypeU32, 4, false},
		{TypeS32, 4, true},
	}
	for _, c := range cases {
		if got := c.typ.size(); got != c.size {
			t.Errorf("%v.size() = %d, want %d", c.typ, got, c.size)
		}
		if got := c.typ.signed(); got != c.signed {
			t.Errorf("%v.signed() = %v, want %v", c.typ, got, c.signed)
		}
	}
}
