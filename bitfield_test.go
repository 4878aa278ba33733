package main

import "testing"

// TestBitWriterAssemblesFields checks that push places each field at
// the expected bit position (first pushed at the top of the word) and
// get returns the combined word, the same low-level check the
// ARM/Thumb encoders depend on implicitly.
func TestBitWriterAssemblesFields(t *testing.T) {
	w := NewBitWriter(32)
	must := func(err error) {
		if err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	must(w.push(4, 0x3))    // bits 31-28
	must(w.push(4, 0xA))    // bits 27-24
	must(w.push(24, 0x123)) // bits 23-0

	got, err := w.get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := uint32(0x3)<<28 | uint32(0xA)<<24 | uint32(0x123)
	if got != want {
		t.Errorf("word = %#08x, want %#08x", got, want)
	}
}

// TestBitWriterTruncatesOverWidthValue checks push masks its input to
// the declared field width rather than letting high bits bleed into
// the next field.
func TestBitWriterTruncatesOverWidthValue(t *testing.T) {
	w := NewBitWriter(16)
	if err := w.push(4, 0xFF); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := w.push(12, 0); err != nil {
		t.Fatalf("push: %v", err)
	}
	got, err := w.get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != 0xF000 {
		t.Errorf("word = %#04x, want 0xf000 (high bits of 0xff truncated, field at top)", got)
	}
}

// TestBitWriterRejectsOverflow checks push reports an error rather
// than silently wrapping when a field would exceed the declared word
// width.
func TestBitWriterRejectsOverflow(t *testing.T) {
	w := NewBitWriter(8)
	if err := w.push(4, 1); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := w.push(8, 1); err == nil {
		t.Fatal("push: expected overflow error, got nil")
	}
}

// TestBitWriterRejectsIncompleteWord checks get fails if the declared
// width hasn't been fully populated yet.
func TestBitWriterRejectsIncompleteWord(t *testing.T) {
	w := NewBitWriter(32)
	if err := w.push(8, 1); err != nil {
		t.Fatalf("push: %v", err)
	}
	if _, err := w.get(); err == nil {
		t.Fatal("get: expected incomplete-word error, got nil")
	}
}

func TestBytesLE32(t *testing.T) {
	got := bytesLE32(0x12345678)
	want := [4]byte{0x78, 0x56, 0x34, 0x12}
	if got != want {
		t.Errorf("bytesLE32 = %x, want %x", got, want)
	}
}

func TestBytesLE16(t *testing.T) {
	got := bytesLE16(0xABCD)
	want := [2]byte{0xCD, 0xAB}
	if got != want {
		t.Errorf("bytesLE16 = %x, want %x", got, want)
	}
}
