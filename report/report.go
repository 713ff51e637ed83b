// Package report renders classification results.
//
// Formats are looked up by name in a registry. The built-in formats are
// "text" (tables for terminals), "tsv" (plain tab-separated lines) and
// "json" (the GenomeV1 document).
package report

import (
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/pythseq/compleconta"
	"github.com/pythseq/compleconta/classify"
)

// Format renders a classification report.
type Format interface {
	// Name is the registry key, e.g. "tsv".
	Name() string
	Write(w io.Writer, r classify.Report) error
}

// formats is the global format registry, keyed by lowercase name.
var (
	formats = make(map[string]Format)
	mu      sync.RWMutex
)

func init() {
	Register(Text{})
	Register(TSV{})
	Register(JSON{Indent: "  "})
}

// Register adds f to the registry, replacing any format of the same name.
func Register(f Format) {
	mu.Lock()
	defer mu.Unlock()
	formats[strings.ToLower(f.Name())] = f
}

// Lookup returns the format registered under name (case-insensitive).
func Lookup(name string) (Format, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := formats[strings.ToLower(name)]
	return f, ok
}

// Formats returns the registered format names, sorted.
func Formats() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(formats))
	for name := range formats {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Write renders r to w in the named format.
func Write(w io.Writer, format string, r classify.Report) error {
	f, ok := Lookup(format)
	if !ok {
		return compleconta.NewConfigurationError("report.Write",
			fmt.Errorf("%w: unknown format %q, want one of %s",
				compleconta.ErrInvalidConfig, format, strings.Join(Formats(), ", ")))
	}
	return f.Write(w, r)
}

// formatSupport renders a support rounded to two decimals, always with a
// fractional part: 1 → "1.0", 0.6666 → "0.67".
func formatSupport(s float64) string {
	out := strconv.FormatFloat(math.Round(s*100)/100, 'f', -1, 64)
	if !strings.Contains(out, ".") {
		out += ".0"
	}
	return out
}
