package main

import "github.com/xyproto/env/v2"

// Environment-variable defaults for the CLI flags below, read once at
// flag-registration time the same way a cobra command typically wires
// os.Getenv fallbacks — except via xyproto/env/v2 instead of the
// stdlib, since that's the dependency the teacher's go.mod already
// names (see DESIGN.md: listed there but never imported in the
// teacher's own 214 files).
const (
	envOutputFile = "GBASM_OUT"
	envVerbose    = "GBASM_VERBOSE"
	envMaxPasses  = "GBASM_MAX_PASSES"
)

func defaultOutputFile() string {
	return env.Str(envOutputFile, "out.gba")
}

func defaultVerbose() bool {
	return env.Bool(envVerbose)
}

func defaultMaxPasses() int {
	return env.Int(envMaxPasses, 64)
}
