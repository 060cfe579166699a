package coverage

import (
	"encoding/json"
	"testing"

	"github.com/crytic/solcov/compilation/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mustParseAST decodes a JSON AST fixture into a node tree.
func mustParseAST(t *testing.T, astJSON string) *types.Node {
	var ast types.Node
	require.NoError(t, json.Unmarshal([]byte(astJSON), &ast))
	return &ast
}

// TestSyntaxTablePositions ensures every byte's position and line feature track the newline structure of the source.
func TestSyntaxTablePositions(t *testing.T) {
	content := "ab\ncd\n\nx"
	table := NewSyntaxTable("test.sol", content, nil)

	expected := []Position{
		{Line: 1, Column: 0}, // a
		{Line: 1, Column: 1}, // b
		{Line: 1, Column: 2}, // \n
		{Line: 2, Column: 0}, // c
		{Line: 2, Column: 1}, // d
		{Line: 2, Column: 2}, // \n
		{Line: 3, Column: 0}, // \n
		{Line: 4, Column: 0}, // x
	}
	require.Equal(t, len(content), len(table.Positions))
	for i, position := range expected {
		assert.Equal(t, position, table.Positions[i], "byte %d", i)

		// Every byte's first feature is its line feature.
		require.NotEmpty(t, table.Features[i])
		line, ok := table.Features[i][0].(LineFeature)
		require.True(t, ok)
		assert.Equal(t, position.Line, line.Line)
	}
}

// functionFixtureSource and functionFixtureAST describe a single assignment inside a function body.
const functionFixtureSource = "function f() {\n  x = 1;\n}"

const functionFixtureAST = `{
	"nodeType": "SourceUnit",
	"src": "0:25:0",
	"nodes": [{
		"nodeType": "FunctionDefinition",
		"name": "f",
		"src": "0:25:0",
		"body": {
			"nodeType": "Block",
			"src": "13:12:0",
			"statements": [{
				"nodeType": "ExpressionStatement",
				"src": "17:6:0",
				"expression": {
					"nodeType": "Assignment",
					"operator": "=",
					"src": "17:5:0",
					"leftHandSide": {"nodeType": "Identifier", "name": "x", "src": "17:1:0"},
					"rightHandSide": {"nodeType": "Literal", "src": "21:1:0"}
				}
			}]
		}
	}]
}`

// TestSyntaxTableFunctionProjection ensures function definitions install function features and their statements are
// projected in preorder.
func TestSyntaxTableFunctionProjection(t *testing.T) {
	table := NewSyntaxTable("test.sol", functionFixtureSource, mustParseAST(t, functionFixtureAST))

	// One function, installed at the definition's start byte.
	require.Equal(t, 1, len(table.FnMap))
	assert.Equal(t, "f", table.FnMap[0].Name)
	assert.Equal(t, 1, table.FnMap[0].Line)
	assert.False(t, table.FnMap[0].Skip)
	assert.Contains(t, table.Features[0], FunctionFeature{FunctionID: 0})

	// Statements in preorder: assignment, identifier, literal (skipped).
	require.Equal(t, 3, len(table.StatementMap))
	assert.False(t, table.StatementMap[0].Skip)
	assert.False(t, table.StatementMap[1].Skip)
	assert.True(t, table.StatementMap[2].Skip)

	// Both the assignment and its identifier sit at byte 17.
	assert.Contains(t, table.Features[17], StatementFeature{StatementID: 0})
	assert.Contains(t, table.Features[17], StatementFeature{StatementID: 1})
	assert.Contains(t, table.Features[21], StatementFeature{StatementID: 2})

	// Line 2 owns non-skip statements; line 3 owns nothing significant.
	assert.True(t, table.significantLines[1])
	assert.True(t, table.significantLines[2])
	assert.False(t, table.significantLines[3])
}

// branchFixtureSource and branchFixtureAST describe an if statement with both branches.
const branchFixtureSource = "if (c) {\n a();\n} else {\n b();\n}"

const branchFixtureAST = `{
	"nodeType": "SourceUnit",
	"src": "0:31:0",
	"nodes": [{
		"nodeType": "IfStatement",
		"src": "0:31:0",
		"condition": {"nodeType": "Identifier", "name": "c", "src": "4:1:0"},
		"trueBody": {"nodeType": "Block", "src": "7:9:0", "statements": []},
		"falseBody": {"nodeType": "Block", "src": "22:9:0", "statements": []}
	}]
}`

// TestSyntaxTableBranchProjection ensures branches install one feature per alternative at the alternative's start
// byte, with locations aligned to alternatives.
func TestSyntaxTableBranchProjection(t *testing.T) {
	table := NewSyntaxTable("test.sol", branchFixtureSource, mustParseAST(t, branchFixtureAST))

	require.Equal(t, 1, len(table.BranchMap))
	branch := table.BranchMap[0]
	assert.Equal(t, "if", branch.Type)
	assert.Equal(t, 1, branch.Line)
	require.Equal(t, 2, len(branch.Locations))

	// Alternative features sit at each alternative's start byte, not at the branch node itself.
	assert.Contains(t, table.Features[7], BranchFeature{BranchID: 0, AltIndex: 0})
	assert.Contains(t, table.Features[22], BranchFeature{BranchID: 0, AltIndex: 1})
	for _, feature := range table.Features[0] {
		_, isBranch := feature.(BranchFeature)
		assert.False(t, isBranch)
	}
}

// TestSyntaxTableShortCircuitBranch ensures && operations install branches typed by their node kind with left/right
// alternatives.
func TestSyntaxTableShortCircuitBranch(t *testing.T) {
	table := NewSyntaxTable("test.sol", "a && b", mustParseAST(t, `{
		"nodeType": "SourceUnit",
		"src": "0:6:0",
		"nodes": [{
			"nodeType": "BinaryOperation",
			"operator": "&&",
			"src": "0:6:0",
			"leftExpression": {"nodeType": "Identifier", "name": "a", "src": "0:1:0"},
			"rightExpression": {"nodeType": "Identifier", "name": "b", "src": "5:1:0"}
		}]
	}`))

	require.Equal(t, 1, len(table.BranchMap))
	assert.Equal(t, "BinaryOperation", table.BranchMap[0].Type)
	assert.Contains(t, table.Features[0], BranchFeature{BranchID: 0, AltIndex: 0})
	assert.Contains(t, table.Features[5], BranchFeature{BranchID: 0, AltIndex: 1})
}

// TestSyntaxTableBodylessDefinition ensures body-less definitions are recorded as skipped statements rather than
// functions.
func TestSyntaxTableBodylessDefinition(t *testing.T) {
	table := NewSyntaxTable("test.sol", "function f();", mustParseAST(t, `{
		"nodeType": "SourceUnit",
		"src": "0:13:0",
		"nodes": [{
			"nodeType": "FunctionDefinition",
			"name": "f",
			"src": "0:13:0"
		}]
	}`))

	assert.Empty(t, table.FnMap)
	require.Equal(t, 1, len(table.StatementMap))
	assert.True(t, table.StatementMap[0].Skip)
	assert.Empty(t, table.significantLines)
}

// TestSyntaxTableUnknownNode ensures unknown node kinds are tolerated without installing features.
func TestSyntaxTableUnknownNode(t *testing.T) {
	table := NewSyntaxTable("test.sol", "xyz", mustParseAST(t, `{
		"nodeType": "SourceUnit",
		"src": "0:3:0",
		"nodes": [{"nodeType": "MysteryNode", "src": "0:3:0"}]
	}`))

	assert.Empty(t, table.BranchMap)
	assert.Empty(t, table.FnMap)
	assert.Empty(t, table.StatementMap)
}

// TestSyntaxTableZeroLengthInstallsNothing ensures zero-length nodes install no features.
func TestSyntaxTableZeroLengthInstallsNothing(t *testing.T) {
	table := NewSyntaxTable("test.sol", "abc", mustParseAST(t, `{
		"nodeType": "SourceUnit",
		"src": "0:3:0",
		"nodes": [{"nodeType": "Identifier", "name": "a", "src": "0:0:0"}]
	}`))

	// The statement is recorded but no feature was installed anywhere.
	require.Equal(t, 1, len(table.StatementMap))
	for i := range table.Features {
		assert.Equal(t, 1, len(table.Features[i]))
	}
}
