package main

// armConditions maps the mnemonic suffix of a conditional ARM
// instruction (e.g. "eq" in "beq") to its 4-bit condition code.
var armConditions = map[string]uint32{
	"eq": 0x0, "ne": 0x1, "cs": 0x2, "hs": 0x2, "cc": 0x3, "lo": 0x3,
	"mi": 0x4, "pl": 0x5, "vs": 0x6, "vc": 0x7,
	"hi": 0x8, "ls": 0x9, "ge": 0xA, "lt": 0xB, "gt": 0xC, "le": 0xD,
	"al": 0xE, "": 0xE,
}

func condPart(cond uint32) CodePart {
	return CodePart{Kind: KindValue, Width: 4, Name: "cond", Value: cond}
}

func reg(width int, name string) CodePart {
	return CodePart{Kind: KindRegister, Width: width, Name: name}
}

func imm(width int, name string) CodePart {
	return CodePart{Kind: KindImmediate, Width: width, Name: name}
}

func val(width int, v uint32) CodePart {
	return CodePart{Kind: KindValue, Width: width, Value: v}
}

// armDataProcImm builds the rotated-immediate form of a
// data-processing instruction: cond 00 1 opcode S Rn Rd rotimm(12)
func armDataProcImm(mnemonic string, opcode uint32, setFlags bool, hasRn bool, hasRd bool, cond uint32) *Operation {
	s := uint32(0)
	if setFlags {
		s = 1
	}
	parts := []CodePart{
		condPart(cond),
		val(2, 0b00),
		val(1, 1), // I
		val(4, opcode),
		val(1, s),
	}
	if hasRn {
		parts = append(parts, reg(4, "Rn"))
	} else {
		parts = append(parts, val(4, 0))
	}
	if hasRd {
		parts = append(parts, reg(4, "Rd"))
	} else {
		parts = append(parts, val(4, 0))
	}
	parts = append(parts, CodePart{Kind: KindRotImm, Width: 12, Name: "imm"})
	return &Operation{Mnemonic: mnemonic, Width: 32, Parts: parts}
}

// ARMMovImm returns the `mov Rd, #imm` schema: cond 00 1 1101 S 0000 Rd rotimm
func ARMMovImm(cond uint32) *Operation {
	return armDataProcImm("mov", 0b1101, false, false, true, cond)
}

// ARMMvnImm returns the `mvn Rd, #imm` schema.
func ARMMvnImm(cond uint32) *Operation {
	return armDataProcImm("mvn", 0b1111, false, false, true, cond)
}

// ARMAddImm / ARMSubImm / ARMCmpImm return the common three-operand
// and compare immediate data-processing schemas.
func ARMAddImm(cond uint32) *Operation { return armDataProcImm("add", 0b0100, false, true, true, cond) }
func ARMSubImm(cond uint32) *Operation { return armDataProcImm("sub", 0b0010, false, true, true, cond) }
func ARMCmpImm(cond uint32) *Operation { return armDataProcImm("cmp", 0b1010, true, true, false, cond) }

// ARMBranch returns the `b{cond} target` schema: cond 101 L=0 offset(24)
func ARMBranch(cond uint32, link bool) *Operation {
	l := uint32(0)
	mnemonic := "b"
	if link {
		l = 1
		mnemonic = "bl"
	}
	return &Operation{
		Mnemonic: mnemonic,
		Width:    32,
		Parts: []CodePart{
			condPart(cond),
			val(3, 0b101),
			val(1, l),
			{Kind: KindWordBranch, Width: 24, Name: "target"},
		},
	}
}

// ARMBx returns the `bx Rm` schema used for ARM<->Thumb interworking
// branches: cond 0001 0010 1111 1111 1111 0001 Rm
func ARMBx(cond uint32) *Operation {
	return &Operation{
		Mnemonic: "bx",
		Width:    32,
		Parts: []CodePart{
			condPart(cond),
			val(24, 0b0001_0010_1111_1111_1111_0001),
			reg(4, "Rm"),
		},
	}
}

// armLdrStrPC builds the PC-relative LDR/STR word form; ARMLdrPC (the
// only constructor using it) is the load pool.go's rewritten
// `ldr rX, =literal` loads use: cond 01 I=0 P=1
// U(depends) B=0 W=0 L Rn=1111 Rd offset12
func armLdrStrPC(mnemonic string, load bool, cond uint32) *Operation {
	l := uint32(0)
	if load {
		l = 1
	}
	return &Operation{
		Mnemonic: mnemonic,
		Width:    32,
		Parts: []CodePart{
			condPart(cond),
			val(2, 0b01),
			val(1, 0), // I
			val(1, 1), // P
			{Kind: KindPCOffset12Sign, Width: 1, Name: "target"},
			val(1, 0), // B
			val(1, 0), // W
			val(1, l),
			val(4, 0b1111), // Rn = PC
			reg(4, "Rd"),
			{Kind: KindPCOffset12Body, Width: 12, Name: "target"},
		},
	}
}

func ARMLdrPC(cond uint32) *Operation { return armLdrStrPC("ldr", true, cond) }

// ARMLdrhPC / ARMLdrsbPC / ARMLdrshPC are the halfword/signed-byte
// pool-load forms the literal-pool rewriter picks when the literal
// fits in a narrower typed width.
func armLdrhStrhPC(mnemonic string, load bool, signedAccess bool, cond uint32) *Operation {
	l := uint32(0)
	if load {
		l = 1
	}
	sh := uint32(0b01)
	if signedAccess {
		sh = 0b11
		if mnemonic == "ldrsb" {
			sh = 0b10
		}
	}
	return &Operation{
		Mnemonic: mnemonic,
		Width:    32,
		Parts: []CodePart{
			condPart(cond),
			val(3, 0b000),
			val(1, 1), // P
			{Kind: KindPCOffsetSplitSign, Width: 1, Name: "target"},
			val(1, 1), // immediate offset form
			val(1, 0), // W
			val(1, l),
			val(4, 0b1111), // Rn = PC
			reg(4, "Rd"),
			{Kind: KindPCOffsetSplitHigh, Width: 4, Name: "target"},
			val(1, 1),
			val(2, sh),
			val(1, 1),
			{Kind: KindPCOffsetSplitLow, Width: 4, Name: "target"},
		},
	}
}

func ARMLdrhPC(cond uint32) *Operation  { return armLdrhStrhPC("ldrh", true, false, cond) }
func ARMLdrsbPC(cond uint32) *Operation { return armLdrhStrhPC("ldrsb", true, true, cond) }
func ARMLdrshPC(cond uint32) *Operation { return armLdrhStrhPC("ldrsh", true, true, cond) }

// --- Thumb schemas ---

// ThumbMovImm returns the `mov rD, #imm8` schema (format 3):
// 001 00 Rd(3) imm8
func ThumbMovImm() *Operation {
	return &Operation{
		Mnemonic: "mov",
		Width:    16,
		Parts: []CodePart{
			val(3, 0b001),
			val(2, 0b00),
			reg(3, "Rd"),
			imm(8, "imm"),
		},
	}
}

// ThumbAddImm8 / ThumbSubImm8 / ThumbCmpImm8 return the format-3
// `add/sub/cmp rD, #imm8` schemas: 001 op Rd imm8
func thumbFormat3(mnemonic string, op uint32) *Operation {
	return &Operation{
		Mnemonic: mnemonic,
		Width:    16,
		Parts: []CodePart{
			val(3, 0b001),
			val(2, op),
			reg(3, "Rd"),
			imm(8, "imm"),
		},
	}
}

func ThumbAddImm8() *Operation { return thumbFormat3("add", 0b10) }
func ThumbSubImm8() *Operation { return thumbFormat3("sub", 0b11) }
func ThumbCmpImm8() *Operation { return thumbFormat3("cmp", 0b01) }

// ThumbAddImm3 / ThumbSubImm3 return the format-2 three-bit-immediate
// add/sub forms: 000 11 I(1) Op(1) Rn/imm3(3) Rs(3) Rd(3)
func thumbFormat2(mnemonic string, immediate bool, sub bool) *Operation {
	i := uint32(0)
	if immediate {
		i = 1
	}
	op := uint32(0)
	if sub {
		op = 1
	}
	var operand CodePart
	if immediate {
		operand = imm(3, "imm")
	} else {
		operand = reg(3, "Rn")
	}
	return &Operation{
		Mnemonic: mnemonic,
		Width:    16,
		Parts: []CodePart{
			val(5, 0b00011),
			val(1, i),
			val(1, op),
			operand,
			reg(3, "Rs"),
			reg(3, "Rd"),
		},
	}
}

func ThumbAddImm3() *Operation { return thumbFormat2("add", true, false) }
func ThumbSubImm3() *Operation { return thumbFormat2("sub", true, true) }

// ThumbBranch returns the conditional short-branch schema (format
// 16): 1101 cond(4) soffset8, or the unconditional format-18 branch
// (11100 offset11) when cond == "al".
func ThumbBranch(cond string) *Operation {
	if cond == "al" || cond == "" {
		return &Operation{
			Mnemonic: "b",
			Width:    16,
			Parts: []CodePart{
				val(5, 0b11100),
				{Kind: KindSHalfword, Width: 11, Name: "target"},
			},
		}
	}
	return &Operation{
		Mnemonic: "b" + cond,
		Width:    16,
		Parts: []CodePart{
			val(4, 0b1101),
			val(4, armConditions[cond]),
			{Kind: KindSHalfword, Width: 8, Name: "target"},
		},
	}
}

// ThumbBL returns the 32-bit-wide long-branch-with-link schema
// (format 19): two 16-bit halves, H=10 then H=11, emitted to memory in
// that order. Its Parts list pushes the H=11 half first and H=10
// second — backwards from instruction-stream order — because the
// combined word is later split into bytes by the same little-endian
// bytesLE32 a plain 32-bit ARM word uses: with BitWriter packing the
// first-pushed part at the top of the word, the half that needs to
// land in the word's low 16 bits (and so in the first two emitted
// bytes) has to be pushed last.
func ThumbBL() *Operation {
	return &Operation{
		Mnemonic: "bl",
		Width:    32,
		Parts: []CodePart{
			val(5, 0b11111),
			{Kind: KindOffsetSplitThumbLow, Width: 11, Name: "target"},
			val(5, 0b11110),
			{Kind: KindOffsetSplitThumbHigh, Width: 11, Name: "target"},
		},
	}
}

// ThumbBX returns the format-5 `bx Rm` interworking branch; Rm is a
// plain 4-bit register field (r0-r15), so its top bit doubles as H2:
// 0100 0111 0 Rm(4) SBZ(3)
func ThumbBX() *Operation {
	return &Operation{
		Mnemonic: "bx",
		Width:    16,
		Parts: []CodePart{
			val(8, 0b01000111),
			val(1, 0),
			reg(4, "Rm"),
			val(3, 0),
		},
	}
}

// ThumbLdrPC returns the format-6 `ldr rD, [pc, #imm]` pool-load
// schema: 01001 Rd(3) imm8
func ThumbLdrPC() *Operation {
	return &Operation{
		Mnemonic: "ldr",
		Width:    16,
		Parts: []CodePart{
			val(5, 0b01001),
			reg(3, "Rd"),
			{Kind: KindPCOffset, Width: 8, Name: "target"},
		},
	}
}

// ThumbAddPCImm returns the format-12 `add rD, pc, #imm8*4` schema,
// the inline rewrite the literal-pool engine picks when a `ldr rX,
// =expr` literal is itself a nearby PC-relative address: 1010 0 Rd(3)
// imm8, imm8 a word-count (spec.md §4.5's KindWord: the byte offset
// must be a non-negative multiple of 4).
func ThumbAddPCImm() *Operation {
	return &Operation{
		Mnemonic: "add",
		Width:    16,
		Parts: []CodePart{
			val(5, 0b10100),
			reg(3, "Rd"),
			{Kind: KindWord, Width: 8, Name: "imm"},
		},
	}
}

// ThumbAddSPImmTo returns the format-12 `add rD, sp, #imm8*4` schema:
// 1010 1 Rd(3) imm8.
func ThumbAddSPImmTo() *Operation {
	return &Operation{
		Mnemonic: "add",
		Width:    16,
		Parts: []CodePart{
			val(5, 0b10101),
			reg(3, "Rd"),
			{Kind: KindWord, Width: 8, Name: "imm"},
		},
	}
}

// ThumbAddSPImm / ThumbSubSPImm return the format-13 `add/sub sp,
// #imm7*4` schemas: 1011 0000 S(1) imm7. ThumbSubSPImm's imm operand
// is expected to arrive as a non-positive value (the parser negates
// the user's written magnitude), per KindNegWord.
func ThumbAddSPImm() *Operation {
	return &Operation{
		Mnemonic: "add",
		Width:    16,
		Parts: []CodePart{
			val(8, 0b10110000),
			val(1, 0),
			{Kind: KindWord, Width: 7, Name: "imm"},
		},
	}
}

func ThumbSubSPImm() *Operation {
	return &Operation{
		Mnemonic: "sub",
		Width:    16,
		Parts: []CodePart{
			val(8, 0b10110000),
			val(1, 1),
			{Kind: KindNegWord, Width: 7, Name: "imm"},
		},
	}
}

// ThumbLdrhImm / ThumbStrhImm return the format-8 `ldrh/strh rD,
// [rB, #imm5*2]` schemas: 1000 L(1) imm5 Rb(3) Rd(3).
func thumbFormat8(mnemonic string, load bool) *Operation {
	l := uint32(0)
	if load {
		l = 1
	}
	return &Operation{
		Mnemonic: mnemonic,
		Width:    16,
		Parts: []CodePart{
			val(4, 0b1000),
			val(1, l),
			{Kind: KindHalfword, Width: 5, Name: "imm"},
			reg(3, "Rb"),
			reg(3, "Rd"),
		},
	}
}

func ThumbLdrhImm() *Operation { return thumbFormat8("ldrh", true) }
func ThumbStrhImm() *Operation { return thumbFormat8("strh", false) }

// ThumbLslImm / ThumbLsrImm / ThumbAsrImm return the format-1
// shift-by-immediate schemas: 000 op(2) imm5 Rs(3) Rd(3)
func thumbFormat1(mnemonic string, op uint32) *Operation {
	return &Operation{
		Mnemonic: mnemonic,
		Width:    16,
		Parts: []CodePart{
			val(3, 0b000),
			val(2, op),
			imm(5, "imm"),
			reg(3, "Rs"),
			reg(3, "Rd"),
		},
	}
}

func ThumbLslImm() *Operation { return thumbFormat1("lsl", 0b00) }
func ThumbLsrImm() *Operation { return thumbFormat1("lsr", 0b01) }
func ThumbAsrImm() *Operation { return thumbFormat1("asr", 0b10) }

// armUnconditionalTable is the static mnemonic -> Operation lookup the parser
// consults once operand count/kind have narrowed which encoding
// variant applies. Variants needing a run-time condition code
// (branches and any conditional data-processing form) are produced
// lazily by the factory functions above rather than pre-populated
// here for every one of the 15 condition suffixes.
var armUnconditionalTable = map[string]func(cond uint32) *Operation{
	"mov": ARMMovImm,
	"mvn": ARMMvnImm,
	"add": ARMAddImm,
	"sub": ARMSubImm,
	"cmp": ARMCmpImm,
	"bx":  ARMBx,
}

// thumbTable only holds mnemonics parseThumbInstruction actually
// reaches via this map: "bx" and "ldr" are intercepted by their own
// explicit switch cases first (ldr's =literal form needs the pool
// engine, bx takes a bare register with no immediate), so they have
// no entry here.
var thumbTable = map[string]func() *Operation{
	"lsl": ThumbLslImm,
	"lsr": ThumbLsrImm,
	"asr": ThumbAsrImm,
}
