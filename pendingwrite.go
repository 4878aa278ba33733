package main

import "fmt"

// PendingWrite is one deferred byte-patching obligation: an
// instruction, typed-memory access, data literal, or pool load whose
// encoding depends on one or more addresses/operands that may not be
// resolvable yet. Per spec.md §4.4, attemptWrite is retried once per
// build pass until it either succeeds, or the final pass calls it
// with failIfNotFound=true and it must report a hard error.
type PendingWrite interface {
	// attemptWrite tries to resolve and patch this write's bytes. It
	// returns true once the write has been committed (further calls
	// are then no-ops). When failIfNotFound is true and resolution is
	// still impossible, it returns a non-nil error instead of false.
	attemptWrite(failIfNotFound bool) (bool, error)

	// reset clears the done/memoised state of this write so a fresh
	// build pass (after makeStart has cleared every AddrSlot) retries
	// resolution instead of trusting a previous pass's patched bytes,
	// which may now be stale if an address shifted.
	reset()
}

// instrWrite is the common shape shared by every ARM/Thumb
// instruction pending-write: an operand list to evaluate, a target
// encoder function, and the reserved byte slot to patch once the
// encoder succeeds.
type instrWrite struct {
	dst     *IRewrite
	ctx     *ExprContext
	operand map[string]Expression
	encode  func(OperandValues, *ExprContext, bool) (uint32, error)
	width   int
	done    bool
}

func newInstrWrite(dst *IRewrite, ctx *ExprContext, operand map[string]Expression, width int, encode func(OperandValues, *ExprContext, bool) (uint32, error)) *instrWrite {
	return &instrWrite{dst: dst, ctx: ctx, operand: operand, encode: encode, width: width}
}

func (w *instrWrite) attemptWrite(failIfNotFound bool) (bool, error) {
	if w.done {
		return true, nil
	}
	values, ok, err := evalOperands(w.operand, w.ctx, failIfNotFound)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	word, err := w.encode(values, w.ctx, failIfNotFound)
	if err != nil {
		if isNotReady(err) {
			if failIfNotFound {
				return false, fmt.Errorf("instruction could not be encoded: %w", err)
			}
			return false, nil
		}
		return false, err
	}
	w.dst.write(word)
	w.done = true
	return true, nil
}

func (w *instrWrite) reset() { w.done = false }

// evalOperands resolves every named expression in a pending write's
// operand map. Evaluation order follows Go's map iteration order and
// is not deterministic, so when several operands fail, which error is
// reported can vary; only the aggregate ok/err matters here.
func evalOperands(operand map[string]Expression, ctx *ExprContext, failIfNotFound bool) (OperandValues, bool, error) {
	out := make(OperandValues, len(operand))
	for name, expr := range operand {
		v, ok, err := expr.Value(ctx, failIfNotFound)
		if err != nil {
			return nil, false, fmt.Errorf("operand %q: %w", name, err)
		}
		if !ok {
			return nil, false, nil
		}
		out[name] = v
	}
	return out, true, nil
}

// dataLiteralWrite patches a single scalar data value (the `.u8`/
// `.u16`/`.u32`/`.s8`/`.s16`/`.s32` directives).
type dataLiteralWrite struct {
	dst   *IRewrite
	ctx   *ExprContext
	expr  Expression
	width int
	done  bool
}

func (w *dataLiteralWrite) attemptWrite(failIfNotFound bool) (bool, error) {
	if w.done {
		return true, nil
	}
	v, ok, err := w.expr.Value(w.ctx, failIfNotFound)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	w.dst.write(uint32(v))
	w.done = true
	return true, nil
}

func (w *dataLiteralWrite) reset() { w.done = false }

// dataFillWrite patches a repeated fill region (the `.fill` directive:
// count copies of a byte value).
type dataFillWrite struct {
	dst      *IRewrite
	ctx      *ExprContext
	countExp Expression
	valueExp Expression
	done     bool
}

func (w *dataFillWrite) attemptWrite(failIfNotFound bool) (bool, error) {
	if w.done {
		return true, nil
	}
	count, ok, err := w.countExp.Value(w.ctx, failIfNotFound)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	val, ok, err := w.valueExp.Value(w.ctx, failIfNotFound)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	bs := make([]byte, count)
	for i := range bs {
		bs[i] = byte(val)
	}
	w.dst.writeBytes(bs)
	w.done = true
	return true, nil
}

func (w *dataFillWrite) reset() { w.done = false }

// printfWrite is the `.printf` script-time diagnostic directive: it
// produces no bytes, only a side-effecting message once its arguments
// are resolvable, emitted at most once per build (guarded by done so
// a multi-pass build doesn't print the same line repeatedly).
type printfWrite struct {
	ctx    *ExprContext
	format string
	args   []Expression
	sink   func(string)
	done   bool
}

func (w *printfWrite) attemptWrite(failIfNotFound bool) (bool, error) {
	if w.done {
		return true, nil
	}
	vals := make([]interface{}, len(w.args))
	for i, a := range w.args {
		v, ok, err := a.Value(w.ctx, failIfNotFound)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		vals[i] = v
	}
	w.sink(fmt.Sprintf(w.format, vals...))
	w.done = true
	return true, nil
}

func (w *printfWrite) reset() { w.done = false }

// assertWrite is the `.assert` directive: a build-time invariant
// check with no byte output. It fails the build (on the final pass)
// if the expression evaluates to zero.
type assertWrite struct {
	ctx     *ExprContext
	expr    Expression
	message string
	done    bool
}

func (w *assertWrite) attemptWrite(failIfNotFound bool) (bool, error) {
	if w.done {
		return true, nil
	}
	v, ok, err := w.expr.Value(w.ctx, failIfNotFound)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if v == 0 {
		if !failIfNotFound {
			return false, nil // addresses may still move; judge only on the final pass
		}
		msg := w.message
		if msg == "" {
			msg = "assertion failed"
		}
		return false, fmt.Errorf("%s", msg)
	}
	w.done = true
	return true, nil
}

func (w *assertWrite) reset() { w.done = false }

// typedMemWrite patches a typed-memory load/store instruction: the
// encoding additionally depends on a resolved struct-member
// offset/width, obtained from the owning StructDef rather than a
// plain operand expression.
type typedMemWrite struct {
	dst    *IRewrite
	ctx    *ExprContext
	base   Expression // the pointer/label expression
	member string     // "" for a bare pointer access
	reg    Expression // register operand
	store  bool       // true for store, false for load
	width  int64      // 1, 2, or 4
	signed bool
	thumb  bool
	done   bool
}

func (w *typedMemWrite) attemptWrite(failIfNotFound bool) (bool, error) {
	if w.done {
		return true, nil
	}
	baseAddr, ok, err := w.base.Value(w.ctx, failIfNotFound)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	regVal, ok, err := w.reg.Value(w.ctx, failIfNotFound)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	selfAddr, ok := w.ctx.Self.Get()
	if !ok {
		if failIfNotFound {
			return false, fmt.Errorf("typed memory access: instruction address not resolved")
		}
		return false, nil
	}
	word, err := encodeTypedMem(selfAddr, baseAddr, regVal, w.width, w.signed, w.store, w.thumb)
	if err != nil {
		if isNotReady(err) && !failIfNotFound {
			return false, nil
		}
		return false, err
	}
	w.dst.write(word)
	w.done = true
	return true, nil
}

func (w *typedMemWrite) reset() { w.done = false }

// PendingQueue collects every PendingWrite an Import produces while
// parsing, and drives them through successive build passes.
type PendingQueue struct {
	writes []PendingWrite
}

func (q *PendingQueue) add(w PendingWrite) {
	q.writes = append(q.writes, w)
}

// runPass retries every not-yet-committed write once. It returns the
// count still unresolved, so the caller (Project.make) can detect
// when a pass makes no further progress and declare the file either
// complete or stuck.
func (q *PendingQueue) runPass(failIfNotFound bool) (remaining int, err error) {
	for _, w := range q.writes {
		done, werr := w.attemptWrite(failIfNotFound)
		if werr != nil {
			return 0, werr
		}
		if !done {
			remaining++
		}
	}
	return remaining, nil
}

// reset marks every write as not-yet-done for a fresh build pass,
// without discarding the queue itself: the writes were created once
// during parsing and must survive across repeated Project.make calls
// against the same cached Import.
func (q *PendingQueue) reset() {
	for _, w := range q.writes {
		w.reset()
	}
}
