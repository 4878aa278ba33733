package main

import "fmt"

// thumbLowRegisters maps a canonical register name to its 3-bit
// encoding, restricted to r0-r7 — the set most 16-bit Thumb
// instruction forms can address.
var thumbLowRegisters = map[string]uint32{
	"r0": 0, "r1": 1, "r2": 2, "r3": 3, "r4": 4, "r5": 5, "r6": 6, "r7": 7,
}

// isThumbLowRegister reports whether register number regVal is one of r0-r7,
// the constraint most Thumb operand forms enforce (spec.md §4.2's
// Thumb low-register rule, also load-bearing for typed memory access
// in Thumb mode).
func isThumbLowRegister(regVal uint32) bool {
	return regVal <= 7
}

// encodeThumb assembles one Thumb instruction from its Operation
// schema and resolved operand values. Width is 16 for ordinary Thumb
// instructions, or 32 for the two-halfword BL/BLX long-branch form,
// which this function also emits as a single combined word (the
// caller is responsible for splitting it into two 16-bit halfwords
// when writing bytes, same as any other 32-bit little-endian value).
func encodeThumb(op *Operation, values OperandValues, selfAddr int64, failIfNotFound bool) (uint32, error) {
	w := NewBitWriter(op.Width)
	for _, part := range op.Parts {
		if err := encodeThumbPart(w, part, values, selfAddr); err != nil {
			if isNotReady(err) && !failIfNotFound {
				return 0, err
			}
			return 0, fmt.Errorf("%s: %w", op.Mnemonic, err)
		}
	}
	return w.get()
}

func encodeThumbPart(w *BitWriter, part CodePart, values OperandValues, selfAddr int64) error {
	switch part.Kind {
	case KindValue, KindEnum, KindIgnored:
		return w.push(part.Width, part.Value)

	case KindImmediate:
		v, ok := values[part.Name]
		if !ok {
			return notReady("immediate " + part.Name + " not resolved")
		}
		if v < 0 || v >= int64(1)<<uint(part.Width) {
			return fmt.Errorf("immediate %s = %d out of range for %d bits", part.Name, v, part.Width)
		}
		return w.push(part.Width, uint32(v))

	case KindRegister:
		v, ok := values[part.Name]
		if !ok {
			return notReady("register " + part.Name + " not resolved")
		}
		if part.Width == 3 && !isThumbLowRegister(uint32(v)) {
			return fmt.Errorf("register operand %q must be r0-r7 in Thumb mode, got register %d", part.Name, v)
		}
		return w.push(part.Width, uint32(v))

	case KindRegisterHigh:
		v, ok := values[part.Name]
		if !ok {
			return notReady("register " + part.Name + " not resolved")
		}
		return w.push(part.Width, uint32(v)-8)

	case KindRegList:
		v, ok := values[part.Name]
		if !ok {
			return notReady("register list " + part.Name + " not resolved")
		}
		return w.push(part.Width, uint32(v))

	case KindSHalfword:
		v, ok := values[part.Name]
		if !ok {
			return notReady("branch target " + part.Name + " not resolved")
		}
		delta := v - (selfAddr + 4)
		if delta%2 != 0 {
			return fmt.Errorf("branch target %d is not halfword-aligned relative to %d", v, selfAddr+4)
		}
		signedHalf := delta >> 1
		limit := int64(1) << uint(part.Width-1)
		if signedHalf < -limit || signedHalf >= limit {
			return fmt.Errorf("branch target out of range: %d halfwords", signedHalf)
		}
		return w.push(part.Width, uint32(signedHalf)&((1<<uint(part.Width))-1))

	case KindPCOffset:
		v, ok := values[part.Name]
		if !ok {
			return notReady("pc-relative offset " + part.Name + " not resolved")
		}
		// Thumb PC-relative loads compute the base as (selfAddr+4) with
		// bit 1 forced to zero (the documented word-alignment quirk for
		// PC in Thumb state), then divide by 4.
		base := (selfAddr + 4) &^ 3
		delta := v - base
		if delta < 0 || delta%4 != 0 {
			return fmt.Errorf("pc-relative load offset %d is not a non-negative multiple of 4", delta)
		}
		word := delta / 4
		if word > 0xFF {
			return fmt.Errorf("pc-relative load offset %d exceeds 8-bit word range", word)
		}
		return w.push(part.Width, uint32(word))

	case KindWord:
		v, ok := values[part.Name]
		if !ok {
			return notReady("word immediate " + part.Name + " not resolved")
		}
		if v < 0 || v%4 != 0 {
			return fmt.Errorf("word immediate %d is not a non-negative multiple of 4", v)
		}
		word := v / 4
		if word > (1<<uint(part.Width))-1 {
			return fmt.Errorf("word immediate %d exceeds %d-bit word range", v, part.Width)
		}
		return w.push(part.Width, uint32(word))

	case KindHalfword:
		v, ok := values[part.Name]
		if !ok {
			return notReady("halfword immediate " + part.Name + " not resolved")
		}
		if v < 0 || v%2 != 0 {
			return fmt.Errorf("halfword immediate %d is not a non-negative multiple of 2", v)
		}
		half := v / 2
		if half > (1<<uint(part.Width))-1 {
			return fmt.Errorf("halfword immediate %d exceeds %d-bit halfword range", v, part.Width)
		}
		return w.push(part.Width, uint32(half))

	case KindNegWord:
		v, ok := values[part.Name]
		if !ok {
			return notReady("word immediate " + part.Name + " not resolved")
		}
		if v > 0 || v%4 != 0 {
			return fmt.Errorf("negword immediate %d is not a non-positive multiple of 4", v)
		}
		word := -v / 4
		if word > (1<<uint(part.Width))-1 {
			return fmt.Errorf("negword immediate %d exceeds %d-bit word range", v, part.Width)
		}
		return w.push(part.Width, uint32(word))

	case KindOffsetSplitThumbHigh:
		v, ok := values[part.Name]
		if !ok {
			return notReady("long branch target " + part.Name + " not resolved")
		}
		off, err := thumbLongBranchOffset(v, selfAddr)
		if err != nil {
			return err
		}
		return w.push(part.Width, uint32(off>>11)&0x7FF)

	case KindOffsetSplitThumbLow:
		v, ok := values[part.Name]
		if !ok {
			return notReady("long branch target " + part.Name + " not resolved")
		}
		off, err := thumbLongBranchOffset(v, selfAddr)
		if err != nil {
			return err
		}
		return w.push(part.Width, uint32(off)&0x7FF)

	default:
		return fmt.Errorf("internal: unsupported Thumb code-part kind %d for %q", part.Kind, part.Name)
	}
}

// thumbLongBranchOffset computes the 22-bit signed halfword offset used
// by Thumb's BL/BLX long-branch pair, relative to selfAddr+4 (the
// first halfword's own PC-relative base).
func thumbLongBranchOffset(target, selfAddr int64) (int64, error) {
	delta := target - (selfAddr + 4)
	if delta%2 != 0 {
		return 0, fmt.Errorf("long branch target %d is not halfword-aligned", target)
	}
	half := delta >> 1
	if half < -(1<<21) || half >= (1<<21) {
		return 0, fmt.Errorf("long branch target out of range: %d halfwords", half)
	}
	return half, nil
}
