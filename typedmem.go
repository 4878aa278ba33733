package main

import "fmt"

// encodeTypedMem assembles a single typed memory-access instruction
// (spec.md §4.3): a struct-lookup-resolved address, a width/
// signedness pair, and a load/store direction. ARM always has a
// usable single-instruction encoding for byte/halfword/word, signed
// or not; Thumb has no LDRSB/LDRSH immediate-offset form, and signed
// halfword/byte Thumb accesses are rejected with an error (no
// multi-instruction sign-extension sequence is generated). delta is
// measured from the PC value each encoding reads: selfAddr+8 in ARM,
// (selfAddr+4)&^3 in Thumb.
func encodeTypedMem(selfAddr, baseAddr int64, regVal int64, width int64, signed bool, store bool, thumb bool) (uint32, error) {
	if thumb {
		return encodeThumbTypedMem(regVal, baseAddr-((selfAddr+4)&^3), width, signed, store)
	}
	return encodeARMTypedMem(regVal, baseAddr-(selfAddr+8), width, signed, store)
}

func encodeARMTypedMem(regVal int64, delta int64, width int64, signed bool, store bool) (uint32, error) {
	neg := delta < 0
	mag := delta
	if neg {
		mag = -mag
	}

	switch width {
	case 4:
		if mag > 0xFFF {
			return 0, fmt.Errorf("typed memory offset %d exceeds 12-bit range", delta)
		}
		return assembleARMLS(uint32(regVal), uint32(mag), neg, store, false), nil
	case 2:
		if signed && store {
			return 0, fmt.Errorf("signed halfword store is not a distinct ARM form; use an unsigned halfword store")
		}
		if mag > 0xFF {
			return 0, fmt.Errorf("typed memory offset %d exceeds 8-bit split range", delta)
		}
		if signed {
			return assembleARMLSH(uint32(regVal), uint32(mag), neg, false, true) | (1 << 5), nil
		}
		return assembleARMLSH(uint32(regVal), uint32(mag), neg, store, false), nil
	case 1:
		if signed && store {
			return 0, fmt.Errorf("signed byte store is not a distinct ARM form; use an unsigned byte store")
		}
		if signed {
			if mag > 0xFF {
				return 0, fmt.Errorf("typed memory offset %d exceeds 8-bit split range", delta)
			}
			return assembleARMLSH(uint32(regVal), uint32(mag), neg, false, true), nil
		}
		if mag > 0xFFF {
			return 0, fmt.Errorf("typed memory offset %d exceeds 12-bit range", delta)
		}
		return assembleARMLS(uint32(regVal), uint32(mag), neg, store, true), nil
	}
	return 0, fmt.Errorf("internal: unsupported typed memory width %d", width)
}

// assembleARMLS builds the classic LDR/STR (immediate, pre-indexed,
// base register r15/PC-relative form folded into delta already)
// single-data-transfer encoding: cond=1110, 01, I=0, P=1, U=!neg,
// B=byte, W=0, L=!store, Rn=1111 (PC), Rd=regVal, imm12=mag.
func assembleARMLS(regVal, mag uint32, neg bool, store bool, byteAccess bool) uint32 {
	u := uint32(1)
	if neg {
		u = 0
	}
	l := uint32(1)
	if store {
		l = 0
	}
	b := uint32(0)
	if byteAccess {
		b = 1
	}
	word := uint32(0xE0000000) // cond=1110
	word |= 1 << 26            // bits 27:26 = 01
	word |= 1 << 24            // P=1 (pre-indexed)
	word |= u << 23
	word |= b << 22
	word |= l << 20
	word |= 0xF << 16 // Rn = PC
	word |= regVal << 12
	word |= mag & 0xFFF
	return word
}

// assembleARMLSH builds the halfword/signed-byte single-data-transfer
// encoding (bits 27:25=000, bit 7=1, bit 4=1, SH in bits 6:5).
func assembleARMLSH(regVal, mag uint32, neg bool, store bool, signedAccess bool) uint32 {
	u := uint32(1)
	if neg {
		u = 0
	}
	l := uint32(1)
	if store {
		l = 0
	}
	sh := uint32(0b01) // unsigned halfword
	if signedAccess {
		sh = 0b10 // signed byte; caller promotes to 0b11 for signed halfword
	}
	word := uint32(0xE0000000)
	word |= 1 << 24 // P
	word |= u << 23
	word |= 1 << 22 // immediate offset form
	word |= l << 20
	word |= 0xF << 16 // Rn = PC
	word |= regVal << 12
	word |= (mag >> 4 & 0xF) << 8
	word |= 1 << 7
	word |= sh << 5
	word |= 1 << 4
	word |= mag & 0xF
	return word
}

func encodeThumbTypedMem(regVal int64, delta int64, width int64, signed bool, store bool) (uint32, error) {
	if !isThumbLowRegister(uint32(regVal)) {
		return 0, fmt.Errorf("typed memory register must be r0-r7 in Thumb mode")
	}
	if delta < 0 {
		return 0, fmt.Errorf("typed memory offset %d must be non-negative in Thumb mode (PC-relative loads only count forward)", delta)
	}
	switch width {
	case 4:
		if store {
			return 0, fmt.Errorf("word store has no Thumb PC-relative form")
		}
		if delta%4 != 0 || delta > 0xFF*4 {
			return 0, fmt.Errorf("typed memory offset %d invalid for 4-byte Thumb PC-relative access", delta)
		}
		return 0b01001_000_00000000 | (uint32(regVal) << 8) | uint32(delta/4), nil
	case 2:
		if signed {
			return 0, fmt.Errorf("signed halfword typed memory access has no direct Thumb PC-relative form")
		}
		if delta%2 != 0 || delta > 0x1F*2 {
			return 0, fmt.Errorf("typed memory offset %d invalid for 2-byte Thumb access", delta)
		}
		l := uint32(0)
		if !store {
			l = 1
		}
		return 0b1000_0_00000_000_000 | (l << 11) | (uint32(delta/2) << 6) | (7 << 3) | uint32(regVal), nil
	case 1:
		if signed {
			return 0, fmt.Errorf("signed byte typed memory access has no direct Thumb PC-relative form")
		}
		if delta > 0x1F {
			return 0, fmt.Errorf("typed memory offset %d invalid for 1-byte Thumb access", delta)
		}
		l := uint32(0)
		if !store {
			l = 1
		}
		return 0b0111_0_00000_000_000 | (l << 11) | (uint32(delta) << 6) | (7 << 3) | uint32(regVal), nil
	}
	return 0, fmt.Errorf("internal: unsupported typed memory width %d", width)
}
