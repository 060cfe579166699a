package coverage

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/exp/maps"
)

// FileReport holds the coverage counters and descriptor maps of one source file. All counters are monotonically
// non-decreasing across report accumulation.
type FileReport struct {
	// Path is the (disambiguated) source path the report describes.
	Path string `json:"path"`

	// BranchMap, FnMap and StatementMap describe the source constructs the counters below refer to.
	BranchMap    map[int]*Branch    `json:"branchMap"`
	FnMap        map[int]*Function  `json:"fnMap"`
	StatementMap map[int]*Statement `json:"statementMap"`

	// L maps 1-based line numbers to hit counts.
	L map[int]uint `json:"l"`

	// B maps branch IDs to per-alternative hit counts, index-aligned with BranchMap's locations.
	B map[int][]uint `json:"b"`

	// F maps function IDs to hit counts.
	F map[int]uint `json:"f"`

	// S maps statement IDs to hit counts.
	S map[int]uint `json:"s"`
}

// Report is a coverage report keyed by source path.
type Report map[string]*FileReport

// freshFileReport allocates a zeroed file report wired to the given syntax table's descriptor maps.
func freshFileReport(syntax *SyntaxTable) *FileReport {
	report := &FileReport{
		Path:         syntax.Path,
		BranchMap:    syntax.BranchMap,
		FnMap:        syntax.FnMap,
		StatementMap: syntax.StatementMap,
		L:            make(map[int]uint),
		B:            make(map[int][]uint),
		F:            make(map[int]uint),
		S:            make(map[int]uint),
	}
	for id, branch := range syntax.BranchMap {
		report.B[id] = make([]uint, len(branch.Locations))
	}
	for id := range syntax.FnMap {
		report.F[id] = 0
	}
	for id := range syntax.StatementMap {
		report.S[id] = 0
	}
	return report
}

// SortedPaths returns the report's source paths in alphabetical order.
func (r Report) SortedPaths() []string {
	paths := maps.Keys(r)
	sort.Strings(paths)
	return paths
}

// LineCoverage returns the number of significant lines hit and the number of significant lines total for the given
// file report, judged against its syntax table.
func (r Report) LineCoverage(path string, syntax *SyntaxTable) (hit int, total int) {
	fileReport, ok := r[path]
	if !ok {
		return 0, len(syntax.significantLines)
	}
	for line := range syntax.significantLines {
		total++
		if fileReport.L[line] > 0 {
			hit++
		}
	}
	return hit, total
}

// WriteLCOV renders the report in LCOV trace-file format.
// The spec of the format is here: https://github.com/linux-test-project/lcov/blob/master/man/geninfo.1
func (r Report) WriteLCOV(w io.Writer) error {
	var builder strings.Builder
	builder.WriteString("TN:\n")
	for _, path := range r.SortedPaths() {
		fileReport := r[path]
		builder.WriteString(fmt.Sprintf("SF:%s\n", path))

		// FN:<line number>,<function name> / FNDA:<execution count>,<function name>
		fnIDs := maps.Keys(fileReport.FnMap)
		sort.Ints(fnIDs)
		for _, id := range fnIDs {
			fn := fileReport.FnMap[id]
			if fn.Skip || fn.Name == "" {
				continue
			}
			builder.WriteString(fmt.Sprintf("FN:%d,%s\n", fn.Line, fn.Name))
			builder.WriteString(fmt.Sprintf("FNDA:%d,%s\n", fileReport.F[id], fn.Name))
		}

		// DA:<line number>,<execution count>
		lines := maps.Keys(fileReport.L)
		sort.Ints(lines)
		for _, line := range lines {
			builder.WriteString(fmt.Sprintf("DA:%d,%d\n", line, fileReport.L[line]))
		}
		builder.WriteString("end_of_record\n")
	}
	_, err := io.WriteString(w, builder.String())
	return err
}
