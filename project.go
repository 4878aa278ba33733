package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// crcRangeStart/crcRangeEnd are the fixed window spec.md §4.10/§6
// ties the ROM's header checksum to: bytes 0xA0 (inclusive) through
// 0xBD (exclusive), and crcByteOffset is where the checksum byte
// itself sits. The range is read from the fully assembled image rather than
// from any one Import's buffer, since `include`d files can shift where
// those offsets actually land in the final byte vector.
const (
	crcRangeStart = 0xA0
	crcRangeEnd   = 0xBD
	crcByteOffset = 0xBD
)

// cacheEntry is one Project-owned file-cache slot: either a parsed
// source Import or a raw embedded blob, plus the "seen this make()"
// bit Project.Make uses to evict anything no longer reachable from
// the main file.
type cacheEntry struct {
	path   string
	im     *Import // nil for an embed-only entry
	blob   []byte  // nil for a source entry
	used   bool
	source string // original text, kept for ErrorCollector line lookups on re-flatten
}

// Project is the build driver spec.md §3/§4.10 describes: it owns the
// file cache and the set of Imports for one build, and exposes make()
// to produce a ROM image plus the list of files that went into it.
// A Project instance is reused across incremental rebuilds; Invalidate
// evicts specific cached files ahead of the next Make call.
type Project struct {
	MainFile string
	Logger   func(string)

	// WorkDir roots every relative include/embed path, and is stripped
	// from file paths surfaced in diagnostics (spec.md §7: "the Project
	// re-roots the filename relative to the working directory").
	WorkDir string

	// MaxPasses bounds the fixpoint loop resolveToFixpoint and Make
	// both use; spec.md's termination argument (monotone progress)
	// means a generous fixed bound never needs to be reached in
	// practice, it only guards against a genuinely stuck build looping
	// forever before the final forced pass reports the real error.
	MaxPasses int

	cache   map[string]*cacheEntry
	order   []string // insertion order, for spec.md §5's deterministic retry/iteration order
	readSrc func(path string) (string, error)
	readBin func(path string) ([]byte, error)
}

// NewProject creates a Project ready to build mainFile. workDir, when
// non-empty, roots relative include/embed paths and is stripped from
// diagnostic file names; an empty workDir falls back to the process's
// current directory.
func NewProject(mainFile, workDir string) *Project {
	return &Project{
		MainFile:  mainFile,
		WorkDir:   workDir,
		MaxPasses: 64,
		cache:     make(map[string]*cacheEntry),
		readSrc: func(path string) (string, error) {
			b, err := os.ReadFile(path)
			return string(b), err
		},
		readBin: os.ReadFile,
	}
}

// resolvePath turns a reference path (possibly relative to the file
// that named it) into the canonical key this Project's cache keys
// entries by: relative to fromPath's directory if not already
// absolute, then cleaned.
func (p *Project) resolvePath(fromPath, refPath string) string {
	if filepath.IsAbs(refPath) {
		return filepath.Clean(refPath)
	}
	base := p.WorkDir
	if fromPath != "" {
		base = filepath.Dir(fromPath)
	}
	return filepath.Clean(filepath.Join(base, refPath))
}

// displayPath re-roots an absolute cache key relative to WorkDir for
// diagnostics, per spec.md §7.
func (p *Project) displayPath(path string) string {
	if p.WorkDir == "" {
		return path
	}
	rel, err := filepath.Rel(p.WorkDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

// Invalidate evicts one cached file (source or embed) ahead of the
// next Make call, so an incremental rebuild re-reads it from disk
// instead of reusing the stale parse. A relative path is taken
// relative to WorkDir. Files that `include`d or `importAll`-ed the
// invalidated one are not evicted: their cached Import keeps its
// pointer to the old parse, since ResolveImport only runs again for
// files that are themselves re-parsed. Callers that need a dependent
// file to pick up the change must invalidate that file too.
func (p *Project) Invalidate(path string) {
	key := p.resolvePath("", path)
	delete(p.cache, key)
	for i, k := range p.order {
		if k == key {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// ResolveImport implements ImportResolver: parse-and-cache (or reuse
// the cached) Import for refPath, relative to fromPath.
func (p *Project) ResolveImport(fromPath, refPath string) (*Import, error) {
	key := p.resolvePath(fromPath, refPath)
	if e, ok := p.cache[key]; ok && e.im != nil {
		e.used = true
		return e.im, nil
	}
	src, err := p.readSrc(key)
	if err != nil {
		return nil, IOFatalError(p.displayPath(key), err)
	}
	im := NewImport(key)
	im.logger = p.Logger
	im.errs.SetSourceCode(key, strings.Split(src, "\n"))
	parser, err := NewParser(src, key, im, p)
	if err != nil {
		return nil, err
	}
	if err := parser.Parse(); err != nil {
		return nil, fmt.Errorf("%s: %w", p.displayPath(key), err)
	}
	if im.errs.HasErrors() {
		return nil, fmt.Errorf("%s", im.errs.Report())
	}
	if err := im.endOfFile(); err != nil {
		return nil, err
	}
	e := &cacheEntry{path: key, im: im, used: true, source: src}
	p.cache[key] = e
	p.order = append(p.order, key)
	return im, nil
}

// ResolveEmbed implements ImportResolver: read-and-cache (or reuse the
// cached) raw bytes for refPath, relative to fromPath.
func (p *Project) ResolveEmbed(fromPath, refPath string) ([]byte, error) {
	key := p.resolvePath(fromPath, refPath)
	if e, ok := p.cache[key]; ok && e.blob != nil {
		e.used = true
		return e.blob, nil
	}
	data, err := p.readBin(key)
	if err != nil {
		return nil, IOFatalError(p.displayPath(key), err)
	}
	e := &cacheEntry{path: key, blob: data, used: true}
	p.cache[key] = e
	p.order = append(p.order, key)
	return data, nil
}

// sourceEntries returns every cached entry that holds a parsed Import
// (not a raw embed blob), in file-cache insertion order — the
// iteration order spec.md §5 requires for deterministic pending-write
// retry.
func (p *Project) sourceEntries() []*cacheEntry {
	var out []*cacheEntry
	for _, k := range p.order {
		if e := p.cache[k]; e != nil && e.im != nil {
			out = append(out, e)
		}
	}
	return out
}

// BuildResult is what Make returns: the assembled ROM bytes plus the
// sorted list of source files (relative to WorkDir) that contributed
// to it, per spec.md §1's "a list of used source files".
type BuildResult struct {
	ROM       []byte
	UsedFiles []string
}

// Make executes spec.md §4.10's four-step build:
//  1. mark every cached file unused, makeStart() every cached Import.
//  2. flatten the main file (transitively flattening anything it
//     `include`s) starting at the fixed ROM load address.
//  3. compute the header CRC over the assembled image.
//  4. makeEnd(crc) every used Import; evict every unused one.
func (p *Project) Make() (*BuildResult, error) {
	for _, e := range p.sourceEntries() {
		e.used = false
		e.im.makeStart()
	}

	mainIm, err := p.ResolveImport("", p.MainFile)
	if err != nil {
		return nil, err
	}
	p.markUsedTransitively(mainIm)

	mem := NewMemoryAllocator()
	if err := p.resolveToFixpoint(mainIm, mem); err != nil {
		return nil, err
	}

	rom := mainIm.assembleBytes()
	crc, crcOK := computeROMCRC(rom)

	var used []string
	for _, e := range p.sourceEntries() {
		if e.used {
			used = append(used, p.displayPath(e.path))
		}
	}
	sort.Strings(used)

	for _, k := range append([]string{}, p.order...) {
		e := p.cache[k]
		if e == nil {
			continue
		}
		if e.im == nil {
			if !e.used {
				p.evict(k)
			}
			continue
		}
		if !e.used {
			p.evict(k)
			continue
		}
		if err := e.im.makeEnd(crc, crcOK); err != nil {
			return nil, err
		}
	}

	// makeEnd on included Imports may have patched bytes the main
	// Import already copied into its own assembled buffer via
	// IncludeSection; re-assemble once more now that every Import's
	// pending writes (including CRC slots) are fully settled.
	rom = mainIm.assembleBytes()

	return &BuildResult{ROM: rom, UsedFiles: used}, nil
}

// markUsedTransitively walks an Import's include/import graph,
// marking every cache entry it (transitively) reaches as used so
// Make's eviction sweep leaves them in the cache.
func (p *Project) markUsedTransitively(im *Import) {
	visited := map[*Import]bool{} // guards against include cycles
	var walk func(*Import)
	walk = func(im *Import) {
		if visited[im] {
			return
		}
		visited[im] = true
		for _, k := range p.order {
			if e := p.cache[k]; e != nil && e.im == im {
				e.used = true
			}
		}
		for _, dep := range im.includes {
			walk(dep)
		}
	}
	walk(im)
}

// evict removes a cache entry and its position in the insertion-order
// slice.
func (p *Project) evict(key string) {
	delete(p.cache, key)
	for i, k := range p.order {
		if k == key {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// resolveToFixpoint repeatedly resolves pools, flattens the main
// Import (which transitively flattens its `include` graph), and
// retries every used Import's pending writes, until a pass makes no
// further progress across the whole used set — mirroring
// Import.resolveToFixpoint but widened to every cached file, since an
// `include`d file's own labels may depend on addresses only known
// once ITS includer has placed it, and vice versa for forward
// references that cross file boundaries via `importAll`.
func (p *Project) resolveToFixpoint(mainIm *Import, mem *MemoryAllocator) error {
	prevRemaining := -1
	for pass := 0; pass < p.MaxPasses; pass++ {
		mem.reset()
		for _, e := range p.sourceEntries() {
			if !e.used {
				continue
			}
			if err := e.im.resolvePools(false); err != nil {
				return err
			}
		}
		if err := mainIm.flattenAll(romBase, mem); err != nil {
			return err
		}
		remaining := 0
		for _, e := range p.sourceEntries() {
			if !e.used {
				continue
			}
			n, err := e.im.pending.runPass(false)
			if err != nil {
				return err
			}
			remaining += n
		}
		if remaining == 0 || remaining == prevRemaining {
			break
		}
		prevRemaining = remaining
	}
	mem.reset()
	for _, e := range p.sourceEntries() {
		if !e.used {
			continue
		}
		if err := e.im.resolvePools(false); err != nil {
			return err
		}
	}
	return mainIm.flattenAll(romBase, mem)
}

// computeROMCRC implements spec.md §4.10/§6's checksum: crc = (-0x19
// - sum(bytes[0xA0:0xBD])) & 0xFF, over the final assembled image
// rather than any one Import's buffer. ok is false if the image is
// shorter than the header's checksum range (CRC "unavailable").
func computeROMCRC(rom []byte) (byte, bool) {
	if len(rom) < crcRangeEnd {
		return 0, false
	}
	return computeHeaderCRC(rom[crcRangeStart:crcRangeEnd]), true
}
