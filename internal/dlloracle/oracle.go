// Package dlloracle answers "does symbol S exist in DLL D, and under
// what exact name" for the import synthesizer (C8). It wraps one or more
// opened DLLs (internal/pefile) and applies the fallback naming rules a
// real C import library requires: stripping a decoration suffix (the
// "@16" of a stdcall export) and stripping leading underscores.
package dlloracle

import (
	"regexp"
	"strings"

	"github.com/xyproto/i386ld/internal/diag"
	"github.com/xyproto/i386ld/internal/pefile"
)

// Resolution is a successful lookup: the exact exported name found, and
// the DLL it came from.
type Resolution struct {
	Name string
	DLL  string
}

type openDLL struct {
	name string
	file *pefile.File
}

// Oracle holds the ordered set of opened DLLs consulted for lookups.
type Oracle struct {
	dlls     []openDLL
	cache    map[string]*Resolution
	warn     bool
	reported map[string]bool
	diag     *diag.Sink
}

// New returns an Oracle. When warn is true, fuzzy-name resolutions are
// reported once per original symbol name via d.Warning.
func New(d *diag.Sink, warn bool) *Oracle {
	return &Oracle{
		cache:    map[string]*Resolution{},
		reported: map[string]bool{},
		warn:     warn,
		diag:     d,
	}
}

// Open adds path to the oracle's DLL set. A failure to open is reported
// as a Warning (per §7) and does not fail the link; the DLL is simply
// absent from subsequent lookups.
func (o *Oracle) Open(path string) {
	f, err := pefile.Open(path)
	if err != nil {
		o.diag.Warning("could not open DLL %q: %v", path, err)
		return
	}
	o.dlls = append(o.dlls, openDLL{name: path, file: f})
}

// Close releases all opened DLL handles.
func (o *Oracle) Close() {
	for _, d := range o.dlls {
		d.file.Close()
	}
}

var suffixRe = regexp.MustCompile(`^[A-Za-z0-9_]+`)

// stripSuffix removes everything from the first character that is not
// [A-Za-z0-9_], e.g. "MessageBoxA@16" -> "MessageBoxA".
func stripSuffix(name string) string {
	m := suffixRe.FindString(name)
	if m == "" {
		return name
	}
	return m
}

// stripLeadingUnderscores removes one or more leading underscores.
func stripLeadingUnderscores(name string) string {
	return strings.TrimLeft(name, "_")
}

// Resolve looks up name (and, on failure, its suffix-stripped and then
// underscore-stripped alternatives) against every opened DLL in order.
// The first alternative that resolves wins.
func (o *Oracle) Resolve(name string) (*Resolution, bool) {
	if r, ok := o.cache[name]; ok {
		return r, r != nil
	}

	candidates := []string{name}
	alt1 := stripSuffix(name)
	if alt1 != name {
		candidates = append(candidates, alt1)
	}
	alt2 := stripLeadingUnderscores(alt1)
	if alt2 != alt1 {
		candidates = append(candidates, alt2)
	}

	for i, cand := range candidates {
		for _, d := range o.dlls {
			if _, ok := d.file.Lookup(cand); ok {
				res := &Resolution{Name: cand, DLL: d.name}
				o.cache[name] = res
				if i > 0 && o.warn && !o.reported[name] {
					o.diag.Warning("symbol %q resolved via alternative name %q in %s", name, cand, d.name)
					o.reported[name] = true
				}
				return res, true
			}
		}
	}
	o.cache[name] = nil
	return nil, false
}
