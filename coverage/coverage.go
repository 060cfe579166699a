package coverage

import (
	"strings"

	"github.com/crytic/solcov/logging"
	"github.com/crytic/solcov/trace"
)

// Coverage converts tagged execution traces into coverage reports by attributing every executed program counter to
// source syntax through its Sources registry.
type Coverage struct {
	// sources is the registry of bytecodes, source maps and paths attribution resolves through.
	sources *Sources

	// pathToSyntax maps every known (disambiguated) source path to its precomputed syntax table.
	pathToSyntax map[string]*SyntaxTable

	// logger describes the logger used for attribution diagnostics.
	logger *logging.Logger
}

// NewCoverage creates a Coverage bound to the given source registry.
func NewCoverage(sources *Sources) *Coverage {
	return &Coverage{
		sources:      sources,
		pathToSyntax: make(map[string]*SyntaxTable),
		logger:       logging.GlobalLogger.NewSubLogger("module", logging.COVERAGE_SERVICE),
	}
}

// Sources returns the source registry the Coverage attributes through.
func (c *Coverage) Sources() *Sources {
	return c.sources
}

// Cover precomputes the syntax table of every source path the registry knows, projecting each source's AST onto
// per-byte coverage features. It must be called after Sources.Crawl and before Report.
func (c *Coverage) Cover() {
	for path, src := range c.sources.pathToCompilerSources {
		c.pathToSyntax[path] = NewSyntaxTable(path, src.Content, src.AST)
	}
	c.logger.Debug("Built syntax tables for ", len(c.pathToSyntax), " sources")
}

// FreshReport allocates a zeroed report keyed by every known source path.
func (c *Coverage) FreshReport() Report {
	report := make(Report, len(c.pathToSyntax))
	for path, syntax := range c.pathToSyntax {
		report[path] = freshFileReport(syntax)
	}
	return report
}

// Report rolls the given tagged logs into a coverage report. If report is nil a fresh one is allocated; otherwise
// counts accumulate into the provided one, whose counters never decrease.
//
// For each opcode the source range is resolved through the executing bytecode's source map, and the features of
// every byte in the range are tallied under per-opcode deduplication rules: a line is counted once per distinct
// line within the opcode's range, only the first branch feature counts, function features count only on JUMPDEST
// (and only the first), and statements count on every occurrence.
func (c *Coverage) Report(logs []trace.TaggedLog, report Report) (Report, error) {
	if report == nil {
		report = c.FreshReport()
	}

	for i := range logs {
		log := &logs[i]

		// Resolve the bytecode executing this opcode.
		var bytecode string
		if log.Tag == trace.TagBytecode {
			bytecode = log.Bytecode
		} else {
			resolved, err := c.sources.AddressToBytecode(log.Address)
			if err != nil {
				return report, err
			}
			bytecode = resolved
		}

		// Resolve the opcode's source range through the bytecode's source map.
		sourceMap, err := c.sources.BytecodeToSourceMap(bytecode)
		if err != nil {
			return report, err
		}
		sourceRange, err := sourceMap.PcToRange(log.PC)
		if err != nil {
			return report, err
		}

		// A zero-length range has no attributable source.
		if sourceRange.Length == 0 {
			continue
		}

		// Resolve the range's source file. Note the lookup is keyed by the source map's own (compiled) bytecode,
		// under which the per-source indexing was performed.
		path, err := c.sources.CompilerSourcePath(sourceMap.Bytecode, sourceRange.Index)
		if err != nil {
			return report, err
		}
		syntax, ok := c.pathToSyntax[path]
		if !ok {
			continue
		}
		stats, ok := report[path]
		if !ok {
			stats = freshFileReport(syntax)
			report[path] = stats
		}

		c.tally(log, sourceRange, syntax, stats)
	}
	return report, nil
}

// tally applies one opcode's source range to the given file's counters under the per-opcode deduplication rules.
func (c *Coverage) tally(log *trace.TaggedLog, sourceRange SourceRange, syntax *SyntaxTable, stats *FileReport) {
	generated := strings.HasPrefix(syntax.Path, "#")
	countedLine := 0
	branchCounted := false
	functionCounted := false

	for i := sourceRange.Start; i < sourceRange.Start+sourceRange.Length; i++ {
		if i < 0 || i >= len(syntax.Features) {
			// Generated-source maps sometimes point past the synthetic source; tolerate the gap.
			if generated {
				break
			}
			c.logger.Debug("Source range of pc ", log.PC, " runs past ", syntax.Path)
			break
		}
		for _, feature := range syntax.Features[i] {
			switch f := feature.(type) {
			case LineFeature:
				// Count each distinct line once per opcode.
				if f.Line != countedLine {
					stats.L[f.Line]++
					countedLine = f.Line
				}
			case BranchFeature:
				// Only the first branch alternative within an opcode counts.
				if !branchCounted {
					stats.B[f.BranchID][f.AltIndex]++
					branchCounted = true
				}
			case FunctionFeature:
				// Functions are credited at their entry JUMPDEST, once per opcode.
				if log.Op == "JUMPDEST" && !functionCounted {
					stats.F[f.FunctionID]++
					functionCounted = true
				}
			case StatementFeature:
				// Statements count on every occurrence.
				stats.S[f.StatementID]++
			}
		}
	}
}

// FilteredReport returns a copy of the report fit for output: synthetic sources (paths starting with `#`) and
// disambiguated duplicates (paths containing `:`) are omitted, and line counters are rewritten to cover exactly the
// lines owning at least one significant feature, so declarations and comments do not appear as uncovered.
func (c *Coverage) FilteredReport(report Report) Report {
	filtered := make(Report)
	for path, fileReport := range report {
		if strings.HasPrefix(path, "#") || strings.Contains(path, ":") {
			continue
		}
		syntax, ok := c.pathToSyntax[path]
		if !ok {
			continue
		}

		lines := make(map[int]uint, len(syntax.significantLines))
		for line := range syntax.significantLines {
			lines[line] = fileReport.L[line]
		}

		filtered[path] = &FileReport{
			Path:         fileReport.Path,
			BranchMap:    fileReport.BranchMap,
			FnMap:        fileReport.FnMap,
			StatementMap: fileReport.StatementMap,
			L:            lines,
			B:            fileReport.B,
			F:            fileReport.F,
			S:            fileReport.S,
		}
	}
	return filtered
}

// SyntaxTable returns the precomputed syntax table of the given path, or nil if the path is unknown.
func (c *Coverage) SyntaxTable(path string) *SyntaxTable {
	return c.pathToSyntax[path]
}
