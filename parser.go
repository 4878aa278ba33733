package main

import "fmt"

// ImportResolver is the hook a Parser uses to turn a source-level file
// reference (`include`, `embed`, `.importAll`, `.importNames`) into
// real content. Project is the only implementation; the interface
// exists so parser.go doesn't need to know about Project's caching.
type ImportResolver interface {
	ResolveImport(fromPath, refPath string) (*Import, error)
	ResolveEmbed(fromPath, refPath string) ([]byte, error)
}

// dataTypeByName maps a scalar type keyword to its MemberType, shared
// by struct-body parsing and the `.u8`/.../`.fill` data directives.
var dataTypeByName = map[string]MemberType{
	"u8": TypeU8, "s8": TypeS8,
	"u16": TypeU16, "s16": TypeS16,
	"u32": TypeU32, "s32": TypeS32,
	"u16m": TypeU16M, "s16m": TypeS16M,
	"u32m": TypeU32M, "s32m": TypeS32M,
}

// bareKeywords is the statement-leading identifier set spec.md's
// naming rules reserve from redefinition (scope.go's reservedWords);
// the parser recognizes exactly these as control statements rather
// than instruction mnemonics or label/assignment targets.
var bareKeywords = map[string]bool{
	"begin": true, "end": true, "if": true, "pool": true, "align": true,
	"include": true, "embed": true, "base": true, "shift": true,
	"arm": true, "thumb": true,
}

// Parser drives one Import's worth of source text through the
// directive API, token by token.
type Parser struct {
	toks     []Token
	pos      int
	im       *Import
	path     string
	resolver ImportResolver
}

// NewParser tokenizes src up front (the grammar is simple enough that
// a flat token slice needs no streaming) and returns a Parser ready to
// populate im.
func NewParser(src, path string, im *Import, resolver ImportResolver) (*Parser, error) {
	toks, err := NewLexer(src).Tokenize()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Parser{toks: toks, im: im, path: path, resolver: resolver}, nil
}

// Parse consumes every statement in the token stream, in order,
// calling into im's directive methods as it goes.
func (p *Parser) Parse() error {
	for {
		p.skipNewlines()
		if p.cur().Kind == TokEOF {
			return nil
		}
		line := p.cur().Line
		if err := p.parseStatement(); err != nil {
			return fmt.Errorf("%s:%d: %w", p.path, line, err)
		}
		if p.cur().Kind != TokNewline && p.cur().Kind != TokEOF {
			return fmt.Errorf("%s:%d: unexpected trailing token %q", p.path, p.cur().Line, p.cur().Text)
		}
	}
}

// --- token-stream primitives ---

func (p *Parser) cur() Token {
	return p.toks[p.pos]
}

func (p *Parser) peekAhead(n int) Token {
	i := p.pos + n
	if i >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[i]
}

func (p *Parser) advance() Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) skipNewlines() {
	for p.cur().Kind == TokNewline {
		p.advance()
	}
}

func (p *Parser) skipNewlinesAndCommas() {
	for p.cur().Kind == TokNewline || p.curIsPunct(",") {
		p.advance()
	}
}

func (p *Parser) curIsPunct(s string) bool {
	t := p.cur()
	return t.Kind == TokPunct && t.Text == s
}

func (p *Parser) expectPunct(s string) error {
	if !p.curIsPunct(s) {
		return fmt.Errorf("expected %q, got %q", s, p.cur().Text)
	}
	p.advance()
	return nil
}

func (p *Parser) expectIdent() (Token, error) {
	if p.cur().Kind != TokIdent {
		return Token{}, fmt.Errorf("expected identifier, got %q", p.cur().Text)
	}
	return p.advance(), nil
}

func (p *Parser) expectString() (string, error) {
	if p.cur().Kind != TokString {
		return "", fmt.Errorf("expected string literal, got %q", p.cur().Text)
	}
	return p.advance().Text, nil
}

func (p *Parser) expectNumber() (int64, error) {
	if p.cur().Kind != TokNumber {
		return 0, fmt.Errorf("expected number, got %q", p.cur().Text)
	}
	return p.advance().Num, nil
}

// --- statement dispatch ---

func (p *Parser) parseStatement() error {
	tok := p.cur()

	if tok.Kind == TokPunct && tok.Text == "." {
		return p.parseDotDirective()
	}

	if tok.Kind != TokIdent {
		return fmt.Errorf("unexpected token %q", tok.Text)
	}

	if bareKeywords[tok.Text] {
		p.advance()
		return p.parseBareKeyword(tok.Text)
	}
	if tok.Text == "ld" {
		p.advance()
		return p.parseTypedMem(false)
	}
	if tok.Text == "st" {
		p.advance()
		return p.parseTypedMem(true)
	}

	next := p.peekAhead(1)
	if next.Kind == TokPunct && next.Text == ":" {
		p.advance()
		p.advance()
		_, err := p.im.addSymNamedLabel(tok.Text)
		return err
	}
	if next.Kind == TokPunct && next.Text == "=" {
		p.advance()
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return err
		}
		if n, ok := e.(*NumberExpr); ok {
			return p.im.addSymNum(tok.Text, n.N)
		}
		return p.im.addSymConst(tok.Text, e)
	}

	p.advance()
	if p.im.scope.CurrentLevel().Mode == ModeThumb {
		return p.parseThumbInstruction(tok.Text)
	}
	return p.parseARMInstruction(tok.Text)
}

func (p *Parser) parseBareKeyword(word string) error {
	switch word {
	case "begin":
		name := ""
		if p.cur().Kind == TokIdent {
			name = p.advance().Text
		}
		return p.im.beginStart(name)

	case "end":
		return p.im.end()

	case "if":
		e, err := p.parseExpr()
		if err != nil {
			return err
		}
		v, ok, err := e.Value(&ExprContext{Scope: p.im.scope}, true)
		if err != nil {
			return err
		}
		p.im.ifStart(ok && v != 0)
		return nil

	case "pool":
		p.im.pool()
		return nil

	case "align":
		boundary, err := p.parseConstInt()
		if err != nil {
			return err
		}
		var fill *byte
		if p.cur().Kind == TokNumber {
			n, _ := p.expectNumber()
			b := byte(n)
			fill = &b
		}
		p.im.align(boundary, fill)
		return nil

	case "include":
		path, err := p.expectString()
		if err != nil {
			return err
		}
		target, err := p.resolver.ResolveImport(p.path, path)
		if err != nil {
			return err
		}
		p.im.include(target)
		return nil

	case "embed":
		path, err := p.expectString()
		if err != nil {
			return err
		}
		data, err := p.resolver.ResolveEmbed(p.path, path)
		if err != nil {
			return err
		}
		p.im.embed(data)
		return nil

	case "base":
		v, err := p.parseConstInt()
		if err != nil {
			return err
		}
		p.im.setBase(v, true)
		return nil

	case "shift":
		v, err := p.parseConstInt()
		if err != nil {
			return err
		}
		p.im.setBase(v, false)
		return nil

	case "arm":
		p.im.setMode(ModeARM)
		return nil

	case "thumb":
		p.im.setMode(ModeThumb)
		return nil
	}
	return fmt.Errorf("internal: unhandled bare keyword %q", word)
}

// parseConstInt parses an expression required to be resolvable right
// now — used for anything whose byte-layout impact (an align
// boundary, a base address, a `.fill` count) can't itself be deferred.
func (p *Parser) parseConstInt() (int64, error) {
	e, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	v, ok, err := e.Value(&ExprContext{Scope: p.im.scope}, true)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("expected a compile-time constant")
	}
	return v, nil
}

// --- dot-prefixed directives ---

func (p *Parser) parseDotDirective() error {
	if err := p.expectPunct("."); err != nil {
		return err
	}
	nameTok, err := p.expectIdent()
	if err != nil {
		return err
	}

	switch nameTok.Text {
	case "u8", "s8", "u16", "s16", "u32", "s32":
		vals, err := p.parseExprList()
		if err != nil {
			return err
		}
		p.im.writeData(dataTypeByName[nameTok.Text], vals)
		return nil

	case "fill":
		count, err := p.parseConstInt()
		if err != nil {
			return err
		}
		if err := p.expectPunct(","); err != nil {
			return err
		}
		typTok, err := p.expectIdent()
		if err != nil {
			return err
		}
		typ, ok := dataTypeByName[typTok.Text]
		if !ok {
			return fmt.Errorf(".fill: unknown element type %q", typTok.Text)
		}
		if err := p.expectPunct(","); err != nil {
			return err
		}
		fill, err := p.parseExpr()
		if err != nil {
			return err
		}
		return p.im.writeDataFill(typ, count, fill)

	case "str":
		s, err := p.expectString()
		if err != nil {
			return err
		}
		p.im.writeStr(s)
		return nil

	case "struct":
		nameTok, err := p.expectIdent()
		if err != nil {
			return err
		}
		members, err := p.parseStructBody()
		if err != nil {
			return err
		}
		sd, err := NewStructDef(nameTok.Text, members)
		if err != nil {
			return err
		}
		return p.im.addSymStruct(nameTok.Text, sd)

	case "mem":
		regionTok, err := p.expectIdent()
		if err != nil {
			return err
		}
		region := RegionIWRAM
		if regionTok.Text == "ewram" {
			region = RegionEWRAM
		}
		typeTok, err := p.expectIdent()
		if err != nil {
			return err
		}
		sd, err := p.lookupStruct(typeTok.Text)
		if err != nil {
			return err
		}
		instTok, err := p.expectIdent()
		if err != nil {
			return err
		}
		return p.im.declareMemory(region, sd, instTok.Text)

	case "logo":
		p.im.writeLogo()
		return nil

	case "title":
		s, err := p.expectString()
		if err != nil {
			return err
		}
		p.im.writeTitle(s)
		return nil

	case "crc":
		p.im.writeCRC()
		return nil

	case "header":
		title, err := p.expectString()
		if err != nil {
			return err
		}
		if err := p.expectPunct(","); err != nil {
			return err
		}
		code, err := p.expectString()
		if err != nil {
			return err
		}
		if err := p.expectPunct(","); err != nil {
			return err
		}
		maker, err := p.expectString()
		if err != nil {
			return err
		}
		if err := p.expectPunct(","); err != nil {
			return err
		}
		entry, err := p.parseExpr()
		if err != nil {
			return err
		}
		im := p.im
		im.writeHeaderExpr(title, code, maker, entry)
		return nil

	case "printf":
		format, err := p.expectString()
		if err != nil {
			return err
		}
		args, err := p.parseOptionalArgList()
		if err != nil {
			return err
		}
		p.im.printf(format, args, false)
		return nil

	case "assert":
		e, err := p.parseExpr()
		if err != nil {
			return err
		}
		msg := ""
		if p.curIsPunct(",") {
			p.advance()
			msg, err = p.expectString()
			if err != nil {
				return err
			}
		}
		p.im.assert(msg, e)
		return nil

	case "debugLog":
		format, err := p.expectString()
		if err != nil {
			return err
		}
		args, err := p.parseOptionalArgList()
		if err != nil {
			return err
		}
		p.im.debugLog(format, args)
		return nil

	case "debugExit":
		msg := ""
		if p.cur().Kind == TokString {
			msg, _ = p.expectString()
		}
		p.im.debugExit(msg)
		return nil

	case "stdlib":
		return p.im.stdlib()

	case "importAll":
		path, err := p.expectString()
		if err != nil {
			return err
		}
		asTok, err := p.expectIdent()
		if err != nil || asTok.Text != "as" {
			return fmt.Errorf("expected \"as\" after importAll path")
		}
		aliasTok, err := p.expectIdent()
		if err != nil {
			return err
		}
		target, err := p.resolver.ResolveImport(p.path, path)
		if err != nil {
			return err
		}
		return p.im.importAll(target, aliasTok.Text)

	case "importNames":
		path, err := p.expectString()
		if err != nil {
			return err
		}
		var names []string
		for {
			t, err := p.expectIdent()
			if err != nil {
				return err
			}
			names = append(names, t.Text)
			if !p.curIsPunct(",") {
				break
			}
			p.advance()
		}
		target, err := p.resolver.ResolveImport(p.path, path)
		if err != nil {
			return err
		}
		return p.im.importNames(target, names)

	case "regs":
		aliases := map[string]string{}
		for {
			k, err := p.expectIdent()
			if err != nil {
				return err
			}
			if err := p.expectPunct("="); err != nil {
				return err
			}
			v, err := p.expectIdent()
			if err != nil {
				return err
			}
			aliases[k.Text] = v.Text
			if !p.curIsPunct(",") {
				break
			}
			p.advance()
		}
		p.im.setRegs(aliases)
		return nil
	}
	return fmt.Errorf("unknown directive %q", nameTok.Text)
}

func (p *Parser) parseOptionalArgList() ([]Expression, error) {
	var args []Expression
	for p.curIsPunct(",") {
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, e)
	}
	return args, nil
}

func (p *Parser) lookupStruct(name string) (*StructDef, error) {
	d, _, ok := p.im.scope.Lookup(name)
	if !ok || d.Kind != DefStruct {
		return nil, fmt.Errorf("%q is not a defined struct type", name)
	}
	return d.Struct, nil
}

// parseStructBody parses spec.md §4.8's four member forms: `data
// {dataType, optional length}` (`name: type[count]`), `label`
// (`name: label`), `align {amount}` (bare `align <amount>`, no name —
// it's a positional padding instruction, not a field), and nested
// `struct` (`name: otherStructType[count]`).
func (p *Parser) parseStructBody() ([]StructMember, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	var members []StructMember
	for {
		p.skipNewlinesAndCommas()
		if p.curIsPunct("}") {
			p.advance()
			break
		}
		if p.cur().Kind == TokIdent && p.cur().Text == "align" && !p.identAheadIsColon() {
			p.advance()
			n, err := p.expectNumber()
			if err != nil {
				return nil, err
			}
			members = append(members, StructMember{Kind: MemberAlign, AlignAmount: n})
			continue
		}
		nameTok, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		if p.cur().Kind == TokIdent && p.cur().Text == "label" {
			p.advance()
			members = append(members, StructMember{Kind: MemberLabel, Name: nameTok.Text, ArrayLen: 1})
			continue
		}
		typeTok, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		m := StructMember{Kind: MemberData, Name: nameTok.Text, ArrayLen: 1}
		if mt, ok := dataTypeByName[typeTok.Text]; ok {
			m.Type = mt
		} else {
			sd, err := p.lookupStruct(typeTok.Text)
			if err != nil {
				return nil, err
			}
			m.Kind = MemberNestedStruct
			m.NestedRef = sd
		}
		if p.curIsPunct("[") {
			p.advance()
			n, err := p.expectNumber()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct("]"); err != nil {
				return nil, err
			}
			m.ArrayLen = n
		}
		members = append(members, m)
	}
	return members, nil
}

// identAheadIsColon reports whether the token right after the current
// one is ":", the signal that the current identifier is actually a
// member name (possibly named "align") rather than the bare `align`
// padding keyword.
func (p *Parser) identAheadIsColon() bool {
	next := p.peekAhead(1)
	return next.Kind == TokPunct && next.Text == ":"
}

// --- typed memory access ---

func (p *Parser) parseTypedMem(store bool) error {
	reg, err := p.parseRegister()
	if err != nil {
		return err
	}
	if err := p.expectPunct(","); err != nil {
		return err
	}
	ptr, err := p.parseExpr()
	if err != nil {
		return err
	}
	if err := p.expectPunct(","); err != nil {
		return err
	}
	structTok, err := p.expectIdent()
	if err != nil {
		return err
	}
	sd, err := p.lookupStruct(structTok.Text)
	if err != nil {
		return err
	}
	if err := p.expectPunct(","); err != nil {
		return err
	}
	memberTok, err := p.expectIdent()
	if err != nil {
		return err
	}
	thumb := p.im.scope.CurrentLevel().Mode == ModeThumb
	return p.im.writeTypedMem(store, thumb, ptr, sd, memberTok.Text, reg)
}

// --- instructions ---

// classifyBranch recognizes "b", "bl", and conditional "b<cc>"
// mnemonics, shared by both ARM and Thumb dispatch.
func classifyBranch(mnemonic string) (link bool, cond string, ok bool) {
	if mnemonic == "b" {
		return false, "", true
	}
	if mnemonic == "bl" {
		return true, "", true
	}
	if len(mnemonic) > 1 && mnemonic[0] == 'b' {
		suf := mnemonic[1:]
		if _, ok := armConditions[suf]; ok {
			return false, suf, true
		}
	}
	return false, "", false
}

// curIsRegisterNamed reports whether the current token is an
// identifier that resolves (through any `.regs` alias) to name,
// without consuming it.
func (p *Parser) curIsRegisterNamed(name string) bool {
	tok := p.cur()
	if tok.Kind != TokIdent {
		return false
	}
	return p.im.scope.ResolveRegister(tok.Text) == name
}

func (p *Parser) parseRegister() (Expression, error) {
	tok, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	name := p.im.scope.ResolveRegister(tok.Text)
	num, ok := armRegisters[name]
	if !ok {
		return nil, fmt.Errorf("unknown register %q", tok.Text)
	}
	return &NumberExpr{N: int64(num)}, nil
}

// parseImmExpr parses an immediate operand, accepting an optional
// leading '#' for assembly-syntax familiarity.
func (p *Parser) parseImmExpr() (Expression, error) {
	if p.curIsPunct("#") {
		p.advance()
	}
	return p.parseExpr()
}

func (p *Parser) parseARMInstruction(mnemonic string) error {
	if link, cond, ok := classifyBranch(mnemonic); ok {
		target, err := p.parseExpr()
		if err != nil {
			return err
		}
		p.im.writeInstARM(ARMBranch(armConditions[cond], link), map[string]Expression{"target": target})
		return nil
	}

	switch mnemonic {
	case "bx":
		rm, err := p.parseRegister()
		if err != nil {
			return err
		}
		p.im.writeInstARM(ARMBx(armConditions[""]), map[string]Expression{"Rm": rm})
		return nil

	case "mov", "mvn":
		rd, err := p.parseRegister()
		if err != nil {
			return err
		}
		if err := p.expectPunct(","); err != nil {
			return err
		}
		imm, err := p.parseImmExpr()
		if err != nil {
			return err
		}
		op := armUnconditionalTable[mnemonic](armConditions[""])
		p.im.writeInstARM(op, map[string]Expression{"Rd": rd, "imm": imm})
		return nil

	case "add", "sub":
		rd, err := p.parseRegister()
		if err != nil {
			return err
		}
		if err := p.expectPunct(","); err != nil {
			return err
		}
		rn, err := p.parseRegister()
		if err != nil {
			return err
		}
		if err := p.expectPunct(","); err != nil {
			return err
		}
		imm, err := p.parseImmExpr()
		if err != nil {
			return err
		}
		op := armUnconditionalTable[mnemonic](armConditions[""])
		p.im.writeInstARM(op, map[string]Expression{"Rd": rd, "Rn": rn, "imm": imm})
		return nil

	case "cmp":
		rn, err := p.parseRegister()
		if err != nil {
			return err
		}
		if err := p.expectPunct(","); err != nil {
			return err
		}
		imm, err := p.parseImmExpr()
		if err != nil {
			return err
		}
		p.im.writeInstARM(ARMCmpImm(armConditions[""]), map[string]Expression{"Rn": rn, "imm": imm})
		return nil

	case "ldr":
		rd, err := p.parseRegister()
		if err != nil {
			return err
		}
		if err := p.expectPunct(","); err != nil {
			return err
		}
		if err := p.expectPunct("="); err != nil {
			return err
		}
		lit, err := p.parseExpr()
		if err != nil {
			return err
		}
		p.im.emitPoolLoad(false, rd, lit)
		return nil
	}
	return fmt.Errorf("unknown ARM mnemonic %q", mnemonic)
}

func (p *Parser) parseThumbInstruction(mnemonic string) error {
	if link, cond, ok := classifyBranch(mnemonic); ok {
		target, err := p.parseExpr()
		if err != nil {
			return err
		}
		if link {
			p.im.writeInstThumb(ThumbBL(), map[string]Expression{"target": target})
			return nil
		}
		p.im.writeInstThumb(ThumbBranch(cond), map[string]Expression{"target": target})
		return nil
	}

	switch mnemonic {
	case "bx":
		rm, err := p.parseRegister()
		if err != nil {
			return err
		}
		p.im.writeInstThumb(ThumbBX(), map[string]Expression{"Rm": rm})
		return nil

	case "mov":
		rd, imm, err := p.parseRegImmPair()
		if err != nil {
			return err
		}
		p.im.writeInstThumb(ThumbMovImm(), map[string]Expression{"Rd": rd, "imm": imm})
		return nil

	case "add":
		if p.curIsRegisterNamed("sp") {
			p.advance()
			if err := p.expectPunct(","); err != nil {
				return err
			}
			imm, err := p.parseImmExpr()
			if err != nil {
				return err
			}
			p.im.writeInstThumb(ThumbAddSPImm(), map[string]Expression{"imm": imm})
			return nil
		}
		rd, err := p.parseRegister()
		if err != nil {
			return err
		}
		if err := p.expectPunct(","); err != nil {
			return err
		}
		if p.curIsRegisterNamed("sp") {
			p.advance()
			if err := p.expectPunct(","); err != nil {
				return err
			}
			imm, err := p.parseImmExpr()
			if err != nil {
				return err
			}
			p.im.writeInstThumb(ThumbAddSPImmTo(), map[string]Expression{"Rd": rd, "imm": imm})
			return nil
		}
		imm, err := p.parseImmExpr()
		if err != nil {
			return err
		}
		p.im.writeInstThumb(ThumbAddImm8(), map[string]Expression{"Rd": rd, "imm": imm})
		return nil

	case "add3":
		rd, rs, imm, err := p.parseRegRegImmTriple()
		if err != nil {
			return err
		}
		p.im.writeInstThumb(ThumbAddImm3(), map[string]Expression{"Rd": rd, "Rs": rs, "imm": imm})
		return nil

	case "sub":
		if p.curIsRegisterNamed("sp") {
			p.advance()
			if err := p.expectPunct(","); err != nil {
				return err
			}
			imm, err := p.parseImmExpr()
			if err != nil {
				return err
			}
			p.im.writeInstThumb(ThumbSubSPImm(), map[string]Expression{"imm": &UnaryExpr{Op: OpNeg, Expr: imm}})
			return nil
		}
		rd, imm, err := p.parseRegImmPair()
		if err != nil {
			return err
		}
		p.im.writeInstThumb(ThumbSubImm8(), map[string]Expression{"Rd": rd, "imm": imm})
		return nil

	case "sub3":
		rd, rs, imm, err := p.parseRegRegImmTriple()
		if err != nil {
			return err
		}
		p.im.writeInstThumb(ThumbSubImm3(), map[string]Expression{"Rd": rd, "Rs": rs, "imm": imm})
		return nil

	case "cmp":
		rd, imm, err := p.parseRegImmPair()
		if err != nil {
			return err
		}
		p.im.writeInstThumb(ThumbCmpImm8(), map[string]Expression{"Rd": rd, "imm": imm})
		return nil

	case "ldr":
		rd, err := p.parseRegister()
		if err != nil {
			return err
		}
		if err := p.expectPunct(","); err != nil {
			return err
		}
		if err := p.expectPunct("="); err != nil {
			return err
		}
		lit, err := p.parseExpr()
		if err != nil {
			return err
		}
		p.im.emitPoolLoad(true, rd, lit)
		return nil

	case "ldrh", "strh":
		rd, err := p.parseRegister()
		if err != nil {
			return err
		}
		if err := p.expectPunct(","); err != nil {
			return err
		}
		if err := p.expectPunct("["); err != nil {
			return err
		}
		rb, err := p.parseRegister()
		if err != nil {
			return err
		}
		var imm Expression = &NumberExpr{N: 0}
		if p.curIsPunct(",") {
			p.advance()
			imm, err = p.parseImmExpr()
			if err != nil {
				return err
			}
		}
		if err := p.expectPunct("]"); err != nil {
			return err
		}
		op := ThumbLdrhImm()
		if mnemonic == "strh" {
			op = ThumbStrhImm()
		}
		p.im.writeInstThumb(op, map[string]Expression{"Rd": rd, "Rb": rb, "imm": imm})
		return nil

	case "lsl", "lsr", "asr":
		rd, err := p.parseRegister()
		if err != nil {
			return err
		}
		if err := p.expectPunct(","); err != nil {
			return err
		}
		rs, err := p.parseRegister()
		if err != nil {
			return err
		}
		if err := p.expectPunct(","); err != nil {
			return err
		}
		imm, err := p.parseImmExpr()
		if err != nil {
			return err
		}
		p.im.writeInstThumb(thumbTable[mnemonic](), map[string]Expression{"Rd": rd, "Rs": rs, "imm": imm})
		return nil
	}
	return fmt.Errorf("unknown Thumb mnemonic %q", mnemonic)
}

func (p *Parser) parseRegImmPair() (Expression, Expression, error) {
	rd, err := p.parseRegister()
	if err != nil {
		return nil, nil, err
	}
	if err := p.expectPunct(","); err != nil {
		return nil, nil, err
	}
	imm, err := p.parseImmExpr()
	if err != nil {
		return nil, nil, err
	}
	return rd, imm, nil
}

// parseRegRegImmTriple parses `Rd, Rs, #imm` for Thumb's three-operand
// format-2 add/sub (add3/sub3): Rd and Rs are separate registers, unlike
// parseRegImmPair's two-operand Rd,#imm forms.
func (p *Parser) parseRegRegImmTriple() (Expression, Expression, Expression, error) {
	rd, err := p.parseRegister()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := p.expectPunct(","); err != nil {
		return nil, nil, nil, err
	}
	rs, err := p.parseRegister()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := p.expectPunct(","); err != nil {
		return nil, nil, nil, err
	}
	imm, err := p.parseImmExpr()
	if err != nil {
		return nil, nil, nil, err
	}
	return rd, rs, imm, nil
}

// --- expressions ---

func (p *Parser) parseExprList() ([]Expression, error) {
	var out []Expression
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		if !p.curIsPunct(",") {
			break
		}
		p.advance()
	}
	return out, nil
}

func (p *Parser) parseExpr() (Expression, error) { return p.parseLogicalOr() }

func (p *Parser) parseLogicalOr() (Expression, error) {
	return p.parseBinaryLevel(p.parseLogicalAnd, map[string]BinaryOp{"||": OpLogicalOr})
}
func (p *Parser) parseLogicalAnd() (Expression, error) {
	return p.parseBinaryLevel(p.parseBitOr, map[string]BinaryOp{"&&": OpLogicalAnd})
}
func (p *Parser) parseBitOr() (Expression, error) {
	return p.parseBinaryLevel(p.parseBitXor, map[string]BinaryOp{"|": OpOr})
}
func (p *Parser) parseBitXor() (Expression, error) {
	return p.parseBinaryLevel(p.parseBitAnd, map[string]BinaryOp{"^": OpXor})
}
func (p *Parser) parseBitAnd() (Expression, error) {
	return p.parseBinaryLevel(p.parseEquality, map[string]BinaryOp{"&": OpAnd})
}
func (p *Parser) parseEquality() (Expression, error) {
	return p.parseBinaryLevel(p.parseRelational, map[string]BinaryOp{"==": OpEq, "!=": OpNe})
}
func (p *Parser) parseRelational() (Expression, error) {
	return p.parseBinaryLevel(p.parseShift, map[string]BinaryOp{"<": OpLt, "<=": OpLe, ">": OpGt, ">=": OpGe})
}
func (p *Parser) parseShift() (Expression, error) {
	return p.parseBinaryLevel(p.parseAdditive, map[string]BinaryOp{"<<": OpShl, ">>": OpShr})
}
func (p *Parser) parseAdditive() (Expression, error) {
	return p.parseBinaryLevel(p.parseMultiplicative, map[string]BinaryOp{"+": OpAdd, "-": OpSub})
}
func (p *Parser) parseMultiplicative() (Expression, error) {
	return p.parseBinaryLevel(p.parseUnary, map[string]BinaryOp{"*": OpMul, "/": OpDiv, "%": OpMod})
}

func (p *Parser) parseBinaryLevel(next func() (Expression, error), ops map[string]BinaryOp) (Expression, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		t := p.cur()
		if t.Kind != TokPunct {
			return left, nil
		}
		op, ok := ops[t.Text]
		if !ok {
			return left, nil
		}
		p.advance()
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseUnary() (Expression, error) {
	t := p.cur()
	if t.Kind == TokPunct {
		switch t.Text {
		case "-":
			p.advance()
			e, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return &UnaryExpr{Op: OpNeg, Expr: e}, nil
		case "!":
			p.advance()
			e, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return &UnaryExpr{Op: OpNot, Expr: e}, nil
		case "~":
			p.advance()
			e, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return &UnaryExpr{Op: OpBitNot, Expr: e}, nil
		}
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expression, error) {
	t := p.cur()
	switch t.Kind {
	case TokNumber:
		p.advance()
		return &NumberExpr{N: t.Num}, nil

	case TokRelLabel:
		p.advance()
		forward := t.Num > 0
		count := int(t.Num)
		if count < 0 {
			count = -count
		}
		e := &RelativeLabelExpr{Name: t.Text, Forward: forward, Count: count}
		if forward {
			e.cached = p.im.scope.LookupForward(t.Text, count)
		} else if slot, ok := p.im.scope.LookupReverse(t.Text, count); ok {
			e.cached = slot
		} else {
			return nil, fmt.Errorf("no prior definition of %q for reverse reference", t.Text)
		}
		return e, nil

	case TokIdent:
		p.advance()
		path := t.Text
		for p.curIsPunct(".") {
			p.advance()
			seg, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			path += "." + seg.Text
		}
		return &IdentExpr{Path: path}, nil

	case TokPunct:
		if t.Text == "." {
			p.advance()
			return &SelfExpr{}, nil
		}
		if t.Text == "(" {
			p.advance()
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return e, nil
		}
	}
	return nil, fmt.Errorf("unexpected token %q in expression", t.Text)
}
