package main

import (
	"fmt"
	"strings"
)

// ErrorLevel mirrors the teacher's three-tier severity model
// (warning, error, fatal). The level classifies a diagnostic:
// ErrorCollector.ShouldStop treats any fatal error as a reason to
// stop, while Project.Make returns on the first error of any level.
type ErrorLevel int

const (
	LevelWarning ErrorLevel = iota
	LevelError
	LevelFatal
)

func (l ErrorLevel) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelFatal:
		return "fatal error"
	default:
		return "error"
	}
}

// ErrorCategory classifies where in the pipeline a CompilerError
// originated, extending the teacher's syntax/semantic/codegen/
// internal split with the three categories this assembler's extra
// pipeline stages need: a struct layout violation, an address that
// never resolved across every available build pass, and a file or
// cartridge I/O failure.
type ErrorCategory int

const (
	CategorySyntax ErrorCategory = iota
	CategorySemantic
	CategoryCodegen
	CategoryInternal
	CategoryLayout
	CategoryResolution
	CategoryIO
)

func (c ErrorCategory) String() string {
	switch c {
	case CategorySyntax:
		return "syntax"
	case CategorySemantic:
		return "semantic"
	case CategoryCodegen:
		return "codegen"
	case CategoryLayout:
		return "layout"
	case CategoryResolution:
		return "resolution"
	case CategoryIO:
		return "io"
	default:
		return "internal"
	}
}

// SourceLocation pinpoints a single source position for diagnostics.
type SourceLocation struct {
	File   string
	Line   int
	Column int
	Length int
}

// ErrorContext carries the optional extra detail attached to a
// CompilerError: the offending source line itself, plus an optional
// one-line suggestion and longer help text.
type ErrorContext struct {
	SourceLine string
	Suggestion string
	HelpText   string
}

// CompilerError is one diagnostic, following the teacher's
// Level/Category/Message/Location/Context shape.
type CompilerError struct {
	Level    ErrorLevel
	Category ErrorCategory
	Message  string
	Location SourceLocation
	Context  ErrorContext
}

func (e *CompilerError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s: %s", e.Location.File, e.Location.Line, e.Location.Column, e.Level, e.Message)
}

// Format renders a multi-line diagnostic with a source-context
// underline, matching the teacher's error.Format rendering (minus
// ANSI color, since this assembler's CLI writes to file logs as
// often as to a terminal).
func (e *CompilerError) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", e.Level, e.Message)
	fmt.Fprintf(&b, "  --> %s:%d:%d\n", e.Location.File, e.Location.Line, e.Location.Column)
	if e.Context.SourceLine != "" {
		fmt.Fprintf(&b, "   |\n %2d| %s\n", e.Location.Line, e.Context.SourceLine)
		underline := strings.Repeat(" ", e.Location.Column-1) + strings.Repeat("^", max1(e.Location.Length))
		fmt.Fprintf(&b, "   | %s\n", underline)
	}
	if e.Context.Suggestion != "" {
		fmt.Fprintf(&b, "   = help: %s\n", e.Context.Suggestion)
	}
	if e.Context.HelpText != "" {
		fmt.Fprintf(&b, "   = note: %s\n", e.Context.HelpText)
	}
	return b.String()
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// ErrorCollector accumulates diagnostics across one Import's parse
// and resolve passes, following the teacher's collector shape.
type ErrorCollector struct {
	errors     []*CompilerError
	warnings   []*CompilerError
	maxErrors  int
	sourceCode map[string][]string // file -> lines, for Format's source-context lookup
}

// NewErrorCollector creates a collector that stops accepting new
// errors past maxErrors (0 means unlimited).
func NewErrorCollector(maxErrors int) *ErrorCollector {
	return &ErrorCollector{maxErrors: maxErrors, sourceCode: make(map[string][]string)}
}

// SetSourceCode registers a file's lines so later AddError calls can
// populate Context.SourceLine automatically.
func (c *ErrorCollector) SetSourceCode(file string, lines []string) {
	c.sourceCode[file] = lines
}

func (c *ErrorCollector) fillSourceLine(e *CompilerError) {
	if e.Context.SourceLine != "" {
		return
	}
	lines, ok := c.sourceCode[e.Location.File]
	if !ok || e.Location.Line < 1 || e.Location.Line > len(lines) {
		return
	}
	e.Context.SourceLine = lines[e.Location.Line-1]
}

// AddError records an error or fatal-level diagnostic.
func (c *ErrorCollector) AddError(e *CompilerError) {
	c.fillSourceLine(e)
	if c.maxErrors > 0 && len(c.errors) >= c.maxErrors {
		return
	}
	c.errors = append(c.errors, e)
}

// AddWarning records a warning-level diagnostic.
func (c *ErrorCollector) AddWarning(e *CompilerError) {
	c.fillSourceLine(e)
	c.warnings = append(c.warnings, e)
}

func (c *ErrorCollector) HasErrors() bool { return len(c.errors) > 0 }

func (c *ErrorCollector) HasFatalError() bool {
	for _, e := range c.errors {
		if e.Level == LevelFatal {
			return true
		}
	}
	return false
}

func (c *ErrorCollector) ErrorCount() int   { return len(c.errors) }
func (c *ErrorCollector) WarningCount() int { return len(c.warnings) }

// ShouldStop reports whether the collector has seen enough to abandon
// the current file: any fatal error, or the max-errors cap reached.
func (c *ErrorCollector) ShouldStop() bool {
	return c.HasFatalError() || (c.maxErrors > 0 && len(c.errors) >= c.maxErrors)
}

// Report renders every collected warning then error as one string,
// in the order they were added.
func (c *ErrorCollector) Report() string {
	var b strings.Builder
	for _, w := range c.warnings {
		b.WriteString(w.Format())
	}
	for _, e := range c.errors {
		b.WriteString(e.Format())
	}
	return b.String()
}

func (c *ErrorCollector) Clear() {
	c.errors = nil
	c.warnings = nil
}

// Constructor helpers mirroring the teacher's per-situation error
// factories, adapted to this assembler's own failure modes.

func UndefinedSymbolError(loc SourceLocation, name string) *CompilerError {
	return &CompilerError{
		Level: LevelError, Category: CategorySemantic,
		Message:  fmt.Sprintf("undefined symbol %q", name),
		Location: loc,
	}
}

func LabelRedefinitionError(loc SourceLocation, name string) *CompilerError {
	return &CompilerError{
		Level: LevelError, Category: CategorySemantic,
		Message:  fmt.Sprintf("%q is already defined in this scope", name),
		Location: loc,
	}
}

func UnresolvedAddressError(loc SourceLocation, detail string) *CompilerError {
	return &CompilerError{
		Level: LevelFatal, Category: CategoryResolution,
		Message:  fmt.Sprintf("address never resolved: %s", detail),
		Location: loc,
	}
}

func StructLayoutError(loc SourceLocation, detail string) *CompilerError {
	return &CompilerError{
		Level: LevelError, Category: CategoryLayout,
		Message:  detail,
		Location: loc,
	}
}

func SyntaxError(loc SourceLocation, detail string) *CompilerError {
	return &CompilerError{
		Level: LevelError, Category: CategorySyntax,
		Message:  detail,
		Location: loc,
	}
}

func UnexpectedTokenError(loc SourceLocation, got, want string) *CompilerError {
	return &CompilerError{
		Level: LevelError, Category: CategorySyntax,
		Message:  fmt.Sprintf("unexpected token %q, expected %s", got, want),
		Location: loc,
	}
}

func IOFatalError(path string, err error) *CompilerError {
	return &CompilerError{
		Level: LevelFatal, Category: CategoryIO,
		Message:  fmt.Sprintf("%s: %v", path, err),
		Location: SourceLocation{File: path},
	}
}
