package main

import "fmt"

// This file is the directive surface spec.md §6 describes: every
// method a parser calls once it has recognised a complete statement.
// Each one either mutates scope/section state immediately (labels,
// scope frames, mode switches — anything whose value is already
// known at parse time) or reserves bytes and queues a PendingWrite
// (instructions, typed memory, data, pool loads — anything that may
// still depend on an address not yet resolved).

// addSymNum defines a plain numeric constant (`name = expr` where expr
// was already fully evaluated by the parser).
func (im *Import) addSymNum(name string, value int64) error {
	return im.scope.Define(name, &Def{Kind: DefNum, Name: name, Num: value})
}

// addSymConst defines a deferred constant expression, captured with
// the scope it was written in so a later reference evaluates it there
// rather than at the reference site.
func (im *Import) addSymConst(name string, expr Expression) error {
	return im.scope.Define(name, &Def{Kind: DefConst, Name: name, ConstExpr: expr, ConstCtx: &ExprContext{Scope: im.scope}})
}

// addSymNamedLabel defines `name:` at the current write position.
func (im *Import) addSymNamedLabel(name string) (*AddrSlot, error) {
	addr := im.here()
	if err := im.scope.Define(name, &Def{Kind: DefLabel, Name: name, Addr: addr}); err != nil {
		return nil, err
	}
	return addr, nil
}

// addSymStruct registers a struct type name so later typed-memory
// directives and Memory-section declarations can refer to it.
func (im *Import) addSymStruct(name string, sd *StructDef) error {
	return im.scope.Define(name, &Def{Kind: DefStruct, Name: name, Struct: sd})
}

// stdlibConstants is the small set of always-available GBA hardware
// register/memory-map names the `stdlib` directive bulk-defines —
// spec.md §6's "bulk-define system names (once per file)".
var stdlibConstants = map[string]int64{
	"REG_DISPCNT":  0x0400_0000,
	"REG_DISPSTAT": 0x0400_0004,
	"REG_VCOUNT":   0x0400_0006,
	"REG_BG0CNT":   0x0400_0008,
	"REG_BG1CNT":   0x0400_000A,
	"REG_BG2CNT":   0x0400_000C,
	"REG_BG3CNT":   0x0400_000E,
	"REG_KEYINPUT": 0x0400_0130,
	"REG_IE":       0x0400_0200,
	"REG_IF":       0x0400_0202,
	"REG_IME":      0x0400_0208,
	"MEM_VRAM":     0x0600_0000,
	"MEM_OAM":      0x0700_0000,
	"MEM_PALRAM":   0x0500_0000,
	"MEM_IWRAM":    iwramBase,
	"MEM_EWRAM":    ewramBase,
	"MEM_ROM":      romBase,
}

// stdlib defines the standard constant set, once per file — a second
// call is a harmless no-op rather than a redefinition error.
func (im *Import) stdlib() error {
	if im.stdlibDefined {
		return nil
	}
	im.stdlibDefined = true
	for name, v := range stdlibConstants {
		if err := im.scope.Define(name, &Def{Kind: DefNum, Name: name, Num: v}); err != nil {
			return err
		}
	}
	return nil
}

// importAll makes every top-level name in target's file visible
// through `name.member`.
func (im *Import) importAll(target *Import, name string) error {
	im.includes = append(im.includes, target)
	return im.scope.Define(name, &Def{
		Kind: DefImportAll, Name: name, ImportPath: target.Path, TargetRoot: target.scope.Root(),
	})
}

// importNames pulls specific top-level names out of target's file
// under their own names, without exposing the rest of it.
func (im *Import) importNames(target *Import, names []string) error {
	im.includes = append(im.includes, target)
	root := target.scope.Root()
	for _, n := range names {
		if err := im.scope.Define(n, &Def{
			Kind: DefImportName, Name: n, ImportPath: target.Path, ImportSymbol: n, TargetRoot: root,
		}); err != nil {
			return err
		}
	}
	return nil
}

// include splices target's assembled bytes inline at this position.
func (im *Import) include(target *Import) {
	im.includes = append(im.includes, target)
	im.addSection(&IncludeSection{Target: target})
}

// embed splices a raw external file's bytes inline.
func (im *Import) embed(data []byte) {
	im.addSection(&EmbedSection{Data: data})
}

// beginStart pushes a new lexical scope, optionally naming its start
// address like an ordinary label (spec.md's `begin name?:` form).
func (im *Import) beginStart(name string) error {
	if name != "" {
		addr := im.here()
		if err := im.scope.Define(name, &Def{Kind: DefBegin, Name: name, Addr: addr}); err != nil {
			return err
		}
	}
	im.scope.BeginScope()
	return nil
}

// enterScope is beginStart with a mandatory name — spec.md lists both
// a named and an anonymous scope-opening form; this is the named one.
func (im *Import) enterScope(name string) error {
	if name == "" {
		return fmt.Errorf("enterScope requires a name")
	}
	return im.beginStart(name)
}

// ifStart pushes a conditional frame: active is the already-evaluated
// condition result (the parser evaluates the guard expression itself,
// since the frame's own active-ness can't depend on something inside
// the frame it gates).
func (im *Import) ifStart(active bool) {
	im.scope.IfStart(active)
}

// end pops the innermost scope or conditional frame.
func (im *Import) end() error {
	return im.scope.End()
}

// setMode switches the active instruction-set mode for subsequently
// parsed instructions in the current scope.
func (im *Import) setMode(m Mode) {
	im.scope.SetMode(m)
}

// setRegs installs register aliases (e.g. "sp" -> "r13") visible for
// the rest of the current scope.
func (im *Import) setRegs(aliases map[string]string) {
	im.scope.SetRegs(aliases)
}

// setBase repositions the cursor: overwrite=true replaces the running
// address outright (e.g. to the cartridge's fixed ROM base or an
// IWRAM/EWRAM window); overwrite=false shifts it by a relative delta.
func (im *Import) setBase(addr int64, overwrite bool) {
	if overwrite {
		im.addSection(&BaseSection{Addr: addr})
		return
	}
	im.addSection(&BaseShiftSection{Delta: addr})
}

// declareMemory claims a struct-typed allocation from IWRAM or EWRAM
// and binds name to its base address.
func (im *Import) declareMemory(region RAMRegion, sd *StructDef, name string) error {
	target := sd.memoryStart
	im.addSection(&MemorySection{Region: region, Def: sd, Target: target})
	return im.scope.Define(name, &Def{Kind: DefLabel, Name: name, Addr: target})
}

// align pads to the next multiple of boundary. fill is nil for the
// default NOP-pattern fill, matching the active mode.
func (im *Import) align(boundary int64, fill *byte) {
	im.addSection(&AlignSection{Boundary: boundary, FillByte: fill, Mode: im.scope.CurrentLevel().Mode})
}

// pool places a literal pool here, capturing every load queued since
// the last one.
func (im *Import) pool() {
	ps := NewPoolSection()
	for _, l := range im.unassignedPoolLoads {
		ps.addLoad(l)
	}
	im.unassignedPoolLoads = nil
	im.addSection(ps)
}

// writeInstARM queues a 32-bit ARM instruction. self (the `.` operand
// and this instruction's own address, for PC-relative encodings) is
// the position the bytes are reserved at, same as every other write.
func (im *Import) writeInstARM(op *Operation, operands map[string]Expression) {
	self := im.here()
	dst := im.reserveBytes(op.Width / 8)
	ctx := &ExprContext{Scope: im.scope, Self: self}
	w := newInstrWrite(dst, ctx, operands, op.Width/8, func(vals OperandValues, c *ExprContext, fail bool) (uint32, error) {
		selfAddr, ok := c.Self.Get()
		if !ok {
			if fail {
				return 0, fmt.Errorf("instruction address not resolved")
			}
			return 0, notReady("instruction address not resolved")
		}
		return encodeARM(op, vals, selfAddr, fail)
	})
	im.pending.add(w)
}

// writeInstThumb queues a 16- or 32-bit Thumb instruction.
func (im *Import) writeInstThumb(op *Operation, operands map[string]Expression) {
	self := im.here()
	dst := im.reserveBytes(op.Width / 8)
	ctx := &ExprContext{Scope: im.scope, Self: self}
	w := newInstrWrite(dst, ctx, operands, op.Width/8, func(vals OperandValues, c *ExprContext, fail bool) (uint32, error) {
		selfAddr, ok := c.Self.Get()
		if !ok {
			if fail {
				return 0, fmt.Errorf("instruction address not resolved")
			}
			return 0, notReady("instruction address not resolved")
		}
		return encodeThumb(op, vals, selfAddr, fail)
	})
	im.pending.add(w)
}

// writeTypedMem queues a typed load/store against a struct member:
// sd/member resolve the offset and data type synchronously (struct
// layouts are fully known at parse time), leaving only the pointer
// expression and the register operand deferred.
func (im *Import) writeTypedMem(store, thumb bool, ptr Expression, sd *StructDef, member string, regExpr Expression) error {
	if n, ok := regExpr.(*NumberExpr); ok && thumb && !isThumbLowRegister(uint32(n.N)) {
		return fmt.Errorf("typed memory register must be r0-r7 in Thumb mode")
	}
	base := ptr
	width := int64(4)
	signed := false
	if sd != nil && member != "" {
		off, _, ok, err := sd.MemberOffset(member)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("struct %q has no member %q", sd.Name, member)
		}
		if off != 0 {
			base = &BinaryExpr{Op: OpAdd, Left: ptr, Right: &NumberExpr{N: off}}
		}
		if dt, ok := sd.MemberDataType(member); ok {
			width = dt.size()
			signed = dt.signed()
		}
	}
	self := im.here()
	dst := im.reserveBytes(4)
	ctx := &ExprContext{Scope: im.scope, Self: self}
	w := &typedMemWrite{
		dst: dst, ctx: ctx, base: base, member: member, reg: regExpr,
		store: store, width: width, signed: signed, thumb: thumb,
	}
	im.pending.add(w)
	return nil
}

// emitPoolLoad queues a `ldr rX, =expr` pool-load site. The load isn't
// assigned to any PoolSection yet — that happens when the next `pool`
// directive runs, and that section's convertAndAllocate then decides
// whether the load becomes an inline rewrite or a pool entry. A load
// with no following `pool` directive is never placed.
func (im *Import) emitPoolLoad(thumb bool, regExpr, litExpr Expression) {
	self := im.here()
	dst := im.reserveBytes(4)
	ctx := &ExprContext{Scope: im.scope, Self: self}
	pl := &PoolLoad{dst: dst, ctx: ctx, expr: litExpr, regVal: regExpr, thumb: thumb}
	im.unassignedPoolLoads = append(im.unassignedPoolLoads, pl)
	im.pending.add(pl)
}

// writeData queues one fixed-width scalar write per value (the
// `.u8`/`.u16`/`.u32`/`.s8`/`.s16`/`.s32` directives).
func (im *Import) writeData(typ MemberType, values []Expression) {
	width := int(typ.size())
	for _, v := range values {
		dst := im.reserveBytes(width)
		w := &dataLiteralWrite{dst: dst, ctx: &ExprContext{Scope: im.scope}, expr: v, width: width}
		im.pending.add(w)
	}
}

// writeDataFill queues the `.fill` directive: count elements of typ,
// each set to fill's eventual value. count must already be a
// compile-time constant (the byte span it reserves can't itself be
// deferred), but fill may still depend on a forward reference.
func (im *Import) writeDataFill(typ MemberType, count int64, fill Expression) error {
	if count < 0 {
		return fmt.Errorf(".fill: count must not be negative, got %d", count)
	}
	width := typ.size()
	dst := im.reserveBytes(int(count * width))
	w := &dataFillWrite{dst: dst, ctx: &ExprContext{Scope: im.scope}, countExp: &NumberExpr{N: count * width}, valueExp: fill}
	im.pending.add(w)
	return nil
}

// writeStr appends a raw ASCII string. A string literal is always
// fully known at parse time, so this writes bytes directly rather
// than going through the pending-write machinery.
func (im *Import) writeStr(s string) {
	im.currentBytesSection().appendConst([]byte(s))
}

// writeLogo appends the fixed 156-byte Nintendo boot logo.
func (im *Import) writeLogo() {
	im.currentBytesSection().appendConst(nintendoLogo[:])
}

// writeTitle appends a 12-byte, zero-padded ASCII title field.
func (im *Import) writeTitle(s string) {
	buf := make([]byte, 12)
	writeFixedASCII(buf, s, 12)
	im.currentBytesSection().appendConst(buf)
}

// writeCRC reserves the one header checksum byte. Its value isn't
// known until Project has assembled the whole ROM and summed the
// header range, so it's tracked on pendingCRC rather than the normal
// PendingQueue.
func (im *Import) writeCRC() {
	dst := im.reserveBytes(1)
	im.pendingCRC = append(im.pendingCRC, dst)
}

// writeHeaderExpr is the bundled convenience form of the header
// directives above: one call that reserves the whole 0xC0-byte header
// block (boot branch, logo, title/game/maker codes, and an internally
// computed checksum) and defers only on entry's value resolving. entry
// is an ordinary expression — typically a forward reference to the
// file's real start label.
func (im *Import) writeHeaderExpr(title, gameCode, makerCode string, entry Expression) {
	dst := im.reserveBytes(0xC0)
	ctx := &ExprContext{Scope: im.scope}
	im.pending.add(&headerWrite{dst: dst, entry: entry, ctx: ctx, title: title, gameCode: gameCode, makerCode: makerCode})
}

// printf emits a diagnostic once its arguments resolve.
func (im *Import) printf(format string, args []Expression, asError bool) {
	sink := im.sink()
	if asError {
		inner := sink
		sink = func(s string) { inner("error: " + s) }
	}
	im.pending.add(&printfWrite{ctx: &ExprContext{Scope: im.scope}, format: format, args: args, sink: sink})
}

// debugLog behaves like printf but also records the message in
// debugStatements for a caller to inspect after the build completes.
func (im *Import) debugLog(format string, args []Expression) {
	logger := im.logger
	sink := func(s string) {
		im.debugStatements = append(im.debugStatements, s)
		if logger != nil {
			logger(s)
		}
	}
	im.pending.add(&printfWrite{ctx: &ExprContext{Scope: im.scope}, format: format, args: args, sink: sink})
}

// assert fails the build on its final pass if expr evaluates to zero.
func (im *Import) assert(msg string, expr Expression) {
	im.pending.add(&assertWrite{ctx: &ExprContext{Scope: im.scope}, expr: expr, message: msg})
}

// debugExit behaves like an assert that's never meant to pass: it
// exists so a source file can mark "assembly should never reach
// here" without an explicit condition to negate.
func (im *Import) debugExit(msg string) {
	if msg == "" {
		msg = "debugExit reached"
	}
	im.pending.add(&assertWrite{ctx: &ExprContext{Scope: im.scope}, expr: &NumberExpr{N: 0}, message: msg})
}

func (im *Import) sink() func(string) {
	if im.logger != nil {
		return im.logger
	}
	return func(string) {}
}

// headerWrite defers the bundled `.header` directive until entry's
// address resolves; buildHeader computes everything else (including
// the checksum) synchronously once that one value is in hand.
type headerWrite struct {
	dst                        *IRewrite
	entry                      Expression
	ctx                        *ExprContext
	title, gameCode, makerCode string
	done                       bool
}

func (w *headerWrite) attemptWrite(failIfNotFound bool) (bool, error) {
	if w.done {
		return true, nil
	}
	entry, ok, err := w.entry.Value(w.ctx, failIfNotFound)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	data, err := buildHeader(HeaderFields{Title: w.title, GameCode: w.gameCode, MakerCode: w.makerCode, EntryPoint: entry})
	if err != nil {
		return false, err
	}
	w.dst.writeBytes(data)
	w.done = true
	return true, nil
}

func (w *headerWrite) reset() { w.done = false }
