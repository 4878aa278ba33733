package main

import "fmt"

// armRegisters maps a canonical ARM register name to its 4-bit
// encoding, r0-r12 plus the three aliases sp/lr/pc.
var armRegisters = map[string]uint32{
	"r0": 0, "r1": 1, "r2": 2, "r3": 3, "r4": 4, "r5": 5, "r6": 6, "r7": 7,
	"r8": 8, "r9": 9, "r10": 10, "r11": 11, "r12": 12,
	"r13": 13, "sp": 13,
	"r14": 14, "lr": 14,
	"r15": 15, "pc": 15,
}

// encodeARM assembles one ARM32 instruction word from its Operation
// schema and resolved operand values, per spec.md §4.2. selfAddr is
// the instruction's own address (PC during execution is selfAddr+8,
// ARM's documented two-stage pipeline offset).
func encodeARM(op *Operation, values OperandValues, selfAddr int64, failIfNotFound bool) (uint32, error) {
	if op.Width != 32 {
		return 0, fmt.Errorf("internal: %s is not a 32-bit ARM operation", op.Mnemonic)
	}
	w := NewBitWriter(32)
	for _, part := range op.Parts {
		if err := encodeARMPart(w, part, values, selfAddr); err != nil {
			if isNotReady(err) && !failIfNotFound {
				return 0, err
			}
			return 0, fmt.Errorf("%s: %w", op.Mnemonic, err)
		}
	}
	return w.get()
}

func encodeARMPart(w *BitWriter, part CodePart, values OperandValues, selfAddr int64) error {
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
		return pushARMRegister(w, part, values)

	case KindRegList:
		v, ok := values[part.Name]
		if !ok {
			return notReady("register list " + part.Name + " not resolved")
		}
		return w.push(16, uint32(v))

	case KindRotImm:
		v, ok := values[part.Name]
		if !ok {
			return notReady("rotated immediate " + part.Name + " not resolved")
		}
		imm8, rot4, err := encodeRotatedImmediate(uint32(v))
		if err != nil {
			return err
		}
		if err := w.push(4, rot4); err != nil {
			return err
		}
		return w.push(8, imm8)

	case KindWordBranch:
		v, ok := values[part.Name]
		if !ok {
			return notReady("branch target " + part.Name + " not resolved")
		}
		delta := v - (selfAddr + 8)
		if delta%4 != 0 {
			return fmt.Errorf("branch target %d is not word-aligned relative to %d", v, selfAddr+8)
		}
		signedWord := delta >> 2
		if signedWord < -(1<<23) || signedWord >= (1<<23) {
			return fmt.Errorf("branch target out of range: %d words", signedWord)
		}
		return w.push(24, uint32(signedWord)&0xFFFFFF)

	case KindOffset12Body, KindPCOffset12Body:
		v, ok := values[part.Name]
		if !ok {
			return notReady("offset " + part.Name + " not resolved")
		}
		mag, err := offset12Magnitude(v, part.Kind == KindPCOffset12Body, selfAddr)
		if err != nil {
			return err
		}
		return w.push(12, mag)

	case KindOffset12Sign, KindPCOffset12Sign:
		v, ok := values[part.Name]
		if !ok {
			return notReady("offset " + part.Name + " not resolved")
		}
		sign := offsetSignBit(v, part.Kind == KindPCOffset12Sign, selfAddr)
		return w.push(1, sign)

	case KindOffsetSplitLow, KindOffsetSplitHigh, KindOffsetSplitSign,
		KindPCOffsetSplitLow, KindPCOffsetSplitHigh, KindPCOffsetSplitSign:
		v, ok := values[part.Name]
		if !ok {
			return notReady("split offset " + part.Name + " not resolved")
		}
		isPC := part.Kind == KindPCOffsetSplitLow || part.Kind == KindPCOffsetSplitHigh || part.Kind == KindPCOffsetSplitSign
		mag8, sign, err := offsetSplitMagnitude(v, isPC, selfAddr)
		if err != nil {
			return err
		}
		switch part.Kind {
		case KindOffsetSplitLow, KindPCOffsetSplitLow:
			return w.push(4, mag8&0xF)
		case KindOffsetSplitHigh, KindPCOffsetSplitHigh:
			return w.push(4, (mag8>>4)&0xF)
		default:
			return w.push(1, sign)
		}

	default:
		return fmt.Errorf("internal: unsupported ARM code-part kind %d for %q", part.Kind, part.Name)
	}
}

func pushARMRegister(w *BitWriter, part CodePart, values OperandValues) error {
	v, ok := values[part.Name]
	if !ok {
		return notReady("register " + part.Name + " not resolved")
	}
	return w.push(part.Width, uint32(v))
}

// encodeRotatedImmediate finds an (imm8, rot4) pair such that
// ROR(imm8, rot4*2) == value, the classic ARM data-processing
// rotated-immediate encoding. rot4 is tried across all 16 even
// rotation amounts (0, 2, 4, ..., 30 bits); this is also the shortcut
// used by the literal-pool inline-conversion pre-pass to decide
// whether a `ldr rX, =value` can become a plain `mov`/`mvn`.
func encodeRotatedImmediate(value uint32) (imm8, rot4 uint32, err error) {
	for rot := uint32(0); rot < 16; rot++ {
		shift := rot * 2
		rotated := (value << shift) | (value >> (32 - shift))
		if shift == 0 {
			rotated = value
		}
		if rotated <= 0xFF {
			return rotated, rot, nil
		}
	}
	return 0, 0, fmt.Errorf("value 0x%08x cannot be expressed as an 8-bit rotated immediate", value)
}

// tryMovImmediate reports whether value can be loaded with a single
// `mov`, returning its rotated-immediate encoding. tryMvnImmediate
// does the same for `mvn` (bitwise-NOT'd value), since `mvn` can
// cover many constants `mov` can't (and vice versa).
func tryMovImmediate(value uint32) (imm8, rot4 uint32, ok bool) {
	i, r, err := encodeRotatedImmediate(value)
	return i, r, err == nil
}

func tryMvnImmediate(value uint32) (imm8, rot4 uint32, ok bool) {
	i, r, err := encodeRotatedImmediate(^value)
	return i, r, err == nil
}

// offset12Magnitude computes the 12-bit unsigned magnitude for
// ARM's LDR/STR immediate offset forms. pc selects the PC-relative
// variant, whose base is selfAddr+8 instead of the pointer operand's
// own resolved address (the pointer operand is not used by the PC
// form at all — pcoffset12 addresses are always "."-relative).
func offset12Magnitude(target int64, pc bool, selfAddr int64) (uint32, error) {
	var delta int64
	if pc {
		delta = target - (selfAddr + 8)
	} else {
		delta = target
	}
	if delta < 0 {
		delta = -delta
	}
	if delta > 0xFFF {
		return 0, fmt.Errorf("offset %d exceeds 12-bit range", delta)
	}
	return uint32(delta), nil
}

func offsetSignBit(target int64, pc bool, selfAddr int64) uint32 {
	var delta int64
	if pc {
		delta = target - (selfAddr + 8)
	} else {
		delta = target
	}
	if delta < 0 {
		return 0
	}
	return 1
}

// offsetSplitMagnitude computes the 8-bit unsigned magnitude (split
// by the caller into two 4-bit halves) plus sign bit used by ARM's
// halfword/signed-byte LDRH/LDRSH/LDRSB immediate-offset forms.
func offsetSplitMagnitude(target int64, pc bool, selfAddr int64) (mag8 uint32, sign uint32, err error) {
	var delta int64
	if pc {
		delta = target - (selfAddr + 8)
	} else {
		delta = target
	}
	s := uint32(1)
	if delta < 0 {
		delta = -delta
		s = 0
	}
	if delta > 0xFF {
		return 0, 0, fmt.Errorf("offset %d exceeds 8-bit split range", delta)
	}
	return uint32(delta), s, nil
}
