package orchestrator

import (
	"strings"
)

// IsInventoryFile reports whether a digit-map file participates in the
// number inventory: a .csv that is not one of the combined
// called/calling exports.
func IsInventoryFile(name string) bool {
	return strings.HasSuffix(name, ".csv") && !strings.Contains(name, "called_calling")
}

// ExtractNumbers pulls the called-number column out of a digit-map CSV body:
// first column only, trimmed, empty cells and the header literal "called"
// skipped, deduplicated with order preserved. The bodies in the wild are
// plain comma-separated with no quoting, so a field split is sufficient.
func ExtractNumbers(body []byte) []string {
	var numbers []string
	seen := map[string]struct{}{}

	for _, line := range strings.Split(string(body), "\n") {
		cell := line
		if i := strings.IndexByte(line, ','); i >= 0 {
			cell = line[:i]
		}
		cell = strings.TrimSpace(cell)
		if cell == "" || strings.EqualFold(cell, "called") {
			continue
		}
		if _, dup := seen[cell]; dup {
			continue
		}
		seen[cell] = struct{}{}
		numbers = append(numbers, cell)
	}
	return numbers
}

// RenderCSV is the inverse of ExtractNumbers for round-trip checks and
// re-uploads: one number per line under the standard header.
func RenderCSV(numbers []string) []byte {
	var b strings.Builder
	b.WriteString("called\n")
	for _, n := range numbers {
		b.WriteString(n)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}
