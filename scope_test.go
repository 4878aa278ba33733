package main

import "testing"

// TestScopeChainDefineAndLookup checks that a name defined at the
// root scope resolves from Lookup, and that an unknown name doesn't.
func TestScopeChainDefineAndLookup(t *testing.T) {
	s := NewScopeChain()
	if err := s.Define("answer", &Def{Kind: DefNum, Name: "answer", Num: 42}); err != nil {
		t.Fatalf("Define: %v", err)
	}
	d, rest, ok := s.Lookup("answer")
	if !ok {
		t.Fatal("Lookup(answer): not found")
	}
	if rest != "" {
		t.Errorf("Lookup(answer) rest = %q, want empty", rest)
	}
	if d.Num != 42 {
		t.Errorf("Lookup(answer).Num = %d, want 42", d.Num)
	}
	if _, _, ok := s.Lookup("nope"); ok {
		t.Error("Lookup(nope): expected not-found")
	}
}

// TestScopeChainRedefinitionRejected checks spec.md's naming rule:
// redefining a name already in the same scope is an error.
func TestScopeChainRedefinitionRejected(t *testing.T) {
	s := NewScopeChain()
	if err := s.Define("x", &Def{Kind: DefNum, Name: "x"}); err != nil {
		t.Fatalf("first Define: %v", err)
	}
	if err := s.Define("x", &Def{Kind: DefNum, Name: "x"}); err == nil {
		t.Fatal("second Define: expected redefinition error, got nil")
	}
}

// TestScopeChainNestedShadowing checks that a begin-scope can shadow
// an outer definition, and that the outer one reappears after End.
func TestScopeChainNestedShadowing(t *testing.T) {
	s := NewScopeChain()
	if err := s.Define("v", &Def{Kind: DefNum, Name: "v", Num: 1}); err != nil {
		t.Fatalf("outer Define: %v", err)
	}
	s.BeginScope()
	if err := s.Define("v", &Def{Kind: DefNum, Name: "v", Num: 2}); err != nil {
		t.Fatalf("inner Define: %v", err)
	}
	d, _, _ := s.Lookup("v")
	if d.Num != 2 {
		t.Errorf("inner lookup v.Num = %d, want 2", d.Num)
	}
	if err := s.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	d, _, _ = s.Lookup("v")
	if d.Num != 1 {
		t.Errorf("outer lookup after End, v.Num = %d, want 1", d.Num)
	}
}

// TestScopeChainEndWithoutBeginFails checks that End rejects an
// unbalanced end() with no matching begin/if.
func TestScopeChainEndWithoutBeginFails(t *testing.T) {
	s := NewScopeChain()
	if err := s.End(); err == nil {
		t.Fatal("End: expected error at root level, got nil")
	}
}

// TestScopeChainIfStartGatesActive checks that a false condition
// deactivates everything nested inside it, and IfStart frames don't
// introduce their own DefMap (a Define inside one lands in the
// enclosing scope).
func TestScopeChainIfStartGatesActive(t *testing.T) {
	s := NewScopeChain()
	s.IfStart(false)
	if s.Active() {
		t.Fatal("Active() after IfStart(false): want false")
	}
	if err := s.Define("inner", &Def{Kind: DefNum, Name: "inner"}); err != nil {
		t.Fatalf("Define inside inactive scope: %v", err)
	}
	if err := s.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if !s.Active() {
		t.Fatal("Active() after End: want true")
	}
	// IfStart doesn't push a DefMap, so "inner" landed in the root scope
	// and is still visible after End.
	if _, _, ok := s.Lookup("inner"); !ok {
		t.Error("Lookup(inner) after End: expected still defined (IfStart has no own scope)")
	}
}

// TestScopeChainForwardReference checks spec.md's "+name" forward
// reference: LookupForward returns a placeholder slot that is filled
// in once the matching label is later Defined.
func TestScopeChainForwardReference(t *testing.T) {
	s := NewScopeChain()
	slot := s.LookupForward("target", 1)
	if _, ok := slot.Get(); ok {
		t.Fatal("forward slot should be unresolved before definition")
	}
	target := &AddrSlot{}
	target.Resolve(0x1000)
	if err := s.Define("target", &Def{Kind: DefLabel, Name: "target", Addr: target}); err != nil {
		t.Fatalf("Define: %v", err)
	}
	addr, ok := slot.Get()
	if !ok || addr != 0x1000 {
		t.Errorf("forward slot after definition = (%d, %v), want (0x1000, true)", addr, ok)
	}
}

// TestScopeChainReverseReference checks spec.md's "-name" reverse
// reference: the most recently defined matching label wins, and
// "--name" (dashes=2) walks one further back.
func TestScopeChainReverseReference(t *testing.T) {
	s := NewScopeChain()
	first := &AddrSlot{}
	first.Resolve(0x100)
	second := &AddrSlot{}
	second.Resolve(0x200)
	if err := s.Define("loop", &Def{Kind: DefLabel, Name: "loop", Addr: first}); err != nil {
		t.Fatalf("Define first: %v", err)
	}
	s.BeginScope()
	if err := s.Define("loop", &Def{Kind: DefLabel, Name: "loop", Addr: second}); err != nil {
		t.Fatalf("Define second: %v", err)
	}
	got, ok := s.LookupReverse("loop", 1)
	if !ok || got != second {
		t.Errorf("LookupReverse(loop, 1) = %v, ok=%v, want the most recent definition", got, ok)
	}
	got, ok = s.LookupReverse("loop", 2)
	if !ok || got != first {
		t.Errorf("LookupReverse(loop, 2) = %v, ok=%v, want the one before that", got, ok)
	}
	if _, ok := s.LookupReverse("loop", 3); ok {
		t.Error("LookupReverse(loop, 3): expected not-found, only two definitions exist")
	}
}

// TestModeString checks Mode's String method covers all three
// values, matching the directive names spec.md §6 uses.
func TestModeString(t *testing.T) {
	cases := map[Mode]string{ModeNone: "none", ModeARM: "arm", ModeThumb: "thumb"}
	for m, want := range cases {
		if got := m.String(); got != want {
			t.Errorf("Mode(%d).String() = %q, want %q", m, got, want)
		}
	}
}
