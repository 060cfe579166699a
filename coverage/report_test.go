package coverage

import (
	"testing"

	"github.com/crytic/solcov/compilation/types"
	"github.com/crytic/solcov/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testContractAddress is the deployed address the report tests bind their bytecode to.
const testContractAddress = "00000000000000000000000000000000000000aa"

// newFunctionFixtureCoverage wires a Coverage around the function fixture: a three-instruction bytecode whose first
// instruction maps to the whole source and whose remaining instructions map to the assignment.
func newFunctionFixtureCoverage(t *testing.T) *Coverage {
	sources := NewSources()
	sourceMap, err := NewSourceMap("C.sol:C", &types.CompilerOutputCode{
		// JUMPDEST, PUSH1 0x01, ADD
		Object:    "5b600101",
		SourceMap: "0:25:0;17:5:0;17:5:0",
	}, []*types.CompilerSource{
		{Path: "C.sol", Content: functionFixtureSource, AST: mustParseAST(t, functionFixtureAST), ID: 0},
	})
	require.NoError(t, err)
	sources.bytecodeToSourceMaps[sourceMap.Bytecode] = sourceMap
	sources.indexBytecodeToSourceMap(sourceMap.Bytecode, sourceMap)
	sources.LoadAddresses(map[string]string{testContractAddress: "5b600101"})

	coverage := NewCoverage(sources)
	coverage.Cover()
	return coverage
}

// addressLog builds a tagged log for the test contract at the given program counter.
func addressLog(pc uint64, op string) trace.TaggedLog {
	return trace.TaggedLog{
		StructLog: trace.StructLog{PC: pc, Op: op, Depth: 1},
		Tag:       trace.TagAddress,
		Address:   testContractAddress,
	}
}

// TestReportLineAndStatementTallying ensures one opcode counts each distinct line of its range once while counting
// every statement occurrence.
func TestReportLineAndStatementTallying(t *testing.T) {
	coverage := newFunctionFixtureCoverage(t)

	// One JUMPDEST covering the whole three-line source: every line counted once despite spanning many bytes.
	report, err := coverage.Report([]trace.TaggedLog{addressLog(0, "JUMPDEST")}, nil)
	require.NoError(t, err)

	stats := report["C.sol"]
	require.NotNil(t, stats)
	assert.Equal(t, uint(1), stats.L[1])
	assert.Equal(t, uint(1), stats.L[2])
	assert.Equal(t, uint(1), stats.L[3])

	// The function is credited at its entry JUMPDEST.
	assert.Equal(t, uint(1), stats.F[0])

	// Every statement in range counts: assignment, identifier, literal.
	assert.Equal(t, uint(1), stats.S[0])
	assert.Equal(t, uint(1), stats.S[1])
	assert.Equal(t, uint(1), stats.S[2])
}

// TestReportSameLineConsecutiveOpcodes ensures two consecutive opcodes on the same line count the line twice.
func TestReportSameLineConsecutiveOpcodes(t *testing.T) {
	coverage := newFunctionFixtureCoverage(t)

	report, err := coverage.Report([]trace.TaggedLog{
		addressLog(1, "PUSH1"),
		addressLog(3, "ADD"),
	}, nil)
	require.NoError(t, err)

	stats := report["C.sol"]
	assert.Equal(t, uint(0), stats.L[1])
	assert.Equal(t, uint(2), stats.L[2])

	// Neither opcode is a JUMPDEST, so the function is not credited.
	assert.Equal(t, uint(0), stats.F[0])
}

// TestReportAccumulationMonotonicity ensures accumulating the same logs twice exactly doubles every counter.
func TestReportAccumulationMonotonicity(t *testing.T) {
	coverage := newFunctionFixtureCoverage(t)
	logs := []trace.TaggedLog{
		addressLog(0, "JUMPDEST"),
		addressLog(1, "PUSH1"),
	}

	report, err := coverage.Report(logs, nil)
	require.NoError(t, err)
	report, err = coverage.Report(logs, report)
	require.NoError(t, err)

	stats := report["C.sol"]
	assert.Equal(t, uint(2), stats.L[1])
	assert.Equal(t, uint(4), stats.L[2])
	assert.Equal(t, uint(2), stats.F[0])
	assert.Equal(t, uint(4), stats.S[0])
}

// TestReportBranchDedup ensures a single opcode spanning multiple branch alternatives credits only the first.
func TestReportBranchDedup(t *testing.T) {
	sources := NewSources()
	sourceMap, err := NewSourceMap("B.sol:B", &types.CompilerOutputCode{
		// JUMPDEST, STOP
		Object:    "5b00",
		SourceMap: "0:31:0;7:9:0",
	}, []*types.CompilerSource{
		{Path: "B.sol", Content: branchFixtureSource, AST: mustParseAST(t, branchFixtureAST), ID: 0},
	})
	require.NoError(t, err)
	sources.bytecodeToSourceMaps[sourceMap.Bytecode] = sourceMap
	sources.indexBytecodeToSourceMap(sourceMap.Bytecode, sourceMap)
	sources.LoadAddresses(map[string]string{testContractAddress: "5b00"})

	coverage := NewCoverage(sources)
	coverage.Cover()

	// The first opcode's range spans both alternatives' start bytes; only the first alternative is credited.
	report, err := coverage.Report([]trace.TaggedLog{addressLog(0, "JUMPDEST")}, nil)
	require.NoError(t, err)

	stats := report["B.sol"]
	require.Equal(t, 2, len(stats.B[0]))
	assert.Equal(t, uint(1), stats.B[0][0])
	assert.Equal(t, uint(0), stats.B[0][1])

	// Branch alternative counters stay aligned with their descriptor locations.
	assert.Equal(t, len(stats.BranchMap[0].Locations), len(stats.B[0]))

	// The second opcode's range covers only the first alternative.
	report, err = coverage.Report([]trace.TaggedLog{addressLog(1, "STOP")}, report)
	require.NoError(t, err)
	assert.Equal(t, uint(2), stats.B[0][0])
	assert.Equal(t, uint(0), stats.B[0][1])
}

// TestReportZeroLengthRangeSkipped ensures opcodes with no attributable source leave the report untouched.
func TestReportZeroLengthRangeSkipped(t *testing.T) {
	sources := NewSources()
	sourceMap, err := NewSourceMap("C.sol:C", &types.CompilerOutputCode{
		Object:    "5b00",
		SourceMap: "0:0:0;0:0:0",
	}, []*types.CompilerSource{
		{Path: "C.sol", Content: functionFixtureSource, AST: nil, ID: 0},
	})
	require.NoError(t, err)
	sources.bytecodeToSourceMaps[sourceMap.Bytecode] = sourceMap
	sources.indexBytecodeToSourceMap(sourceMap.Bytecode, sourceMap)
	sources.LoadAddresses(map[string]string{testContractAddress: "5b00"})

	coverage := NewCoverage(sources)
	coverage.Cover()

	report, err := coverage.Report([]trace.TaggedLog{addressLog(0, "JUMPDEST")}, nil)
	require.NoError(t, err)
	assert.Empty(t, report["C.sol"].L)
}

// TestReportGeneratedSourceGapTolerated ensures ranges pointing past a generated source's content are tolerated.
func TestReportGeneratedSourceGapTolerated(t *testing.T) {
	sources := NewSources()
	sourceMap, err := NewSourceMap("C.sol:C", &types.CompilerOutputCode{
		Object:    "5b00",
		SourceMap: "0:64:0;;",
	}, []*types.CompilerSource{
		{Path: "#utility.yul", Content: "{ }", AST: nil, ID: 0},
	})
	require.NoError(t, err)
	sources.bytecodeToSourceMaps[sourceMap.Bytecode] = sourceMap
	sources.indexBytecodeToSourceMap(sourceMap.Bytecode, sourceMap)
	sources.LoadAddresses(map[string]string{testContractAddress: "5b00"})

	coverage := NewCoverage(sources)
	coverage.Cover()

	// The range runs far past the three-byte synthetic source; the walk stops at the gap.
	report, err := coverage.Report([]trace.TaggedLog{addressLog(0, "JUMPDEST")}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint(1), report["#utility.yul"].L[1])
}

// TestReportUnknownAddress ensures attributing a log of an unloaded address surfaces an UnknownAddressError.
func TestReportUnknownAddress(t *testing.T) {
	coverage := newFunctionFixtureCoverage(t)

	_, err := coverage.Report([]trace.TaggedLog{{
		StructLog: trace.StructLog{PC: 0, Op: "JUMPDEST", Depth: 1},
		Tag:       trace.TagAddress,
		Address:   "00000000000000000000000000000000000000bb",
	}}, nil)
	var unknownAddress *UnknownAddressError
	assert.ErrorAs(t, err, &unknownAddress)
}

// TestFilteredReport ensures synthetic and disambiguated paths are omitted and line counters are rewritten to
// significant lines only.
func TestFilteredReport(t *testing.T) {
	coverage := newFunctionFixtureCoverage(t)

	// Plant a synthetic source and a disambiguated duplicate alongside the real one.
	coverage.pathToSyntax["#utility.yul"] = NewSyntaxTable("#utility.yul", "{ }", nil)
	coverage.pathToSyntax["C.sol:0"] = NewSyntaxTable("C.sol:0", functionFixtureSource, nil)

	report, err := coverage.Report([]trace.TaggedLog{addressLog(0, "JUMPDEST")}, nil)
	require.NoError(t, err)

	filtered := coverage.FilteredReport(report)
	assert.Contains(t, filtered, "C.sol")
	assert.NotContains(t, filtered, "#utility.yul")
	assert.NotContains(t, filtered, "C.sol:0")

	// Lines 1 and 2 own significant features (function, statements); line 3 holds only a closing brace and is
	// dropped even though the opcode's range covered it.
	stats := filtered["C.sol"]
	assert.Contains(t, stats.L, 1)
	assert.Contains(t, stats.L, 2)
	assert.NotContains(t, stats.L, 3)
}
