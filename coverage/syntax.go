package coverage

import (
	"github.com/crytic/solcov/compilation/types"
	"github.com/crytic/solcov/logging"
)

// Position describes a position within a source file. Lines are 1-based, columns are 0-based.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// SourceLocation describes a contiguous region of a source file by its start and end positions.
type SourceLocation struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Feature is a coverage feature installed at a source byte: the line it belongs to, a branch alternative, a function
// entry, or a statement. Implementations form a closed sum; report tallying dispatches on the concrete type.
type Feature interface {
	feature()
}

// LineFeature marks the 1-based line a source byte belongs to. Every byte carries exactly one, at feature index 0.
type LineFeature struct {
	Line int
}

// BranchFeature marks a source byte as the start of one alternative of a branch.
type BranchFeature struct {
	BranchID int
	AltIndex int
}

// FunctionFeature marks a source byte as the start of a function definition.
type FunctionFeature struct {
	FunctionID int
}

// StatementFeature marks a source byte as the start of a statement.
type StatementFeature struct {
	StatementID int
}

func (LineFeature) feature()      {}
func (BranchFeature) feature()    {}
func (FunctionFeature) feature()  {}
func (StatementFeature) feature() {}

// Branch describes one branch construct and the locations of its alternatives.
type Branch struct {
	// Line is the 1-based line the branch construct starts on.
	Line int `json:"line"`

	// Type describes the construct: "if", "switch", or the operator node kind for short-circuit operators.
	Type string `json:"type"`

	// Locations lists the source location of each alternative, in alternative order.
	Locations []SourceLocation `json:"locations"`
}

// Function describes one function definition.
type Function struct {
	// Name is the declared function name; empty for constructors, fallback and receive functions.
	Name string `json:"name"`

	// Line is the 1-based line the definition starts on.
	Line int `json:"line"`

	// Loc is the source location of the whole definition.
	Loc SourceLocation `json:"loc"`

	// Skip marks a function excluded from LCOV output. The AST projection never sets it: body-less definitions are
	// recorded as skipped statements instead of functions.
	Skip bool `json:"skip,omitempty"`
}

// Statement describes one statement.
type Statement struct {
	// Start and End delimit the statement's source location.
	Start Position `json:"start"`
	End   Position `json:"end"`

	// Skip marks declaration-like statements which are recorded but excluded from filtered output.
	Skip bool `json:"skip,omitempty"`
}

// SyntaxTable holds, for one source file, the per-byte coverage features plus the branch, function and statement
// descriptors they reference. It is built once from the compiler's AST and consulted for every executed opcode.
type SyntaxTable struct {
	// Path is the (disambiguated) source path the table describes.
	Path string

	// Positions maps every byte offset of the source content to its line/column position.
	Positions []Position

	// Features maps every byte offset to the features installed at it. Index 0 is always the byte's LineFeature.
	Features [][]Feature

	// BranchMap, FnMap and StatementMap resolve the IDs carried by installed features to their descriptors.
	BranchMap    map[int]*Branch
	FnMap        map[int]*Function
	StatementMap map[int]*Statement

	// significantLines is the set of lines owning at least one significant feature: a branch, a non-skip function,
	// or a non-skip statement. Used by report filtering.
	significantLines map[int]bool

	// branchID, functionID and statementID are the per-source monotone ID counters.
	branchID    int
	functionID  int
	statementID int

	logger *logging.Logger
}

// NewSyntaxTable builds the syntax table for one source file: the per-byte position and line feature layers, then the
// branch/function/statement features projected from the compiler's AST. A nil AST yields a table with line features
// only.
func NewSyntaxTable(path string, content string, ast *types.Node) *SyntaxTable {
	table := &SyntaxTable{
		Path:             path,
		Positions:        make([]Position, len(content)),
		Features:         make([][]Feature, len(content)),
		BranchMap:        make(map[int]*Branch),
		FnMap:            make(map[int]*Function),
		StatementMap:     make(map[int]*Statement),
		significantLines: make(map[int]bool),
		logger:           logging.GlobalLogger.NewSubLogger("module", logging.COVERAGE_SERVICE),
	}

	// Walk the byte stream to produce the position table and the line feature layer. Line numbers advance after a
	// newline byte; columns reset on it.
	line := 1
	column := 0
	for i := 0; i < len(content); i++ {
		table.Positions[i] = Position{Line: line, Column: column}
		table.Features[i] = []Feature{LineFeature{Line: line}}
		if content[i] == '\n' {
			line++
			column = 0
		} else {
			column++
		}
	}

	// Project the AST onto the feature layers.
	if ast != nil {
		table.walk(ast)
	}
	return table
}

// positionAt returns the position of the given byte offset, clamped to the content bounds.
func (t *SyntaxTable) positionAt(offset int) Position {
	if len(t.Positions) == 0 {
		return Position{Line: 1, Column: 0}
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(t.Positions) {
		offset = len(t.Positions) - 1
	}
	return t.Positions[offset]
}

// location converts a decoded src attribute into a SourceLocation spanning its first and last byte.
func (t *SyntaxTable) location(src types.SrcLocation) SourceLocation {
	end := src.Start
	if src.Length > 0 {
		end = src.Start + src.Length - 1
	}
	return SourceLocation{
		Start: t.positionAt(src.Start),
		End:   t.positionAt(end),
	}
}

// install appends a feature at the start byte of the given source location. Zero-length locations install nothing.
func (t *SyntaxTable) install(feature Feature, src types.SrcLocation) {
	if src.Length <= 0 || src.Start < 0 || src.Start >= len(t.Features) {
		return
	}
	t.Features[src.Start] = append(t.Features[src.Start], feature)
}

// installBranch allocates a branch descriptor for the given node and installs one BranchFeature at the start byte of
// each alternative.
func (t *SyntaxTable) installBranch(branchType string, node *types.Node, alternatives []*types.Node) {
	id := t.branchID
	t.branchID++

	src := node.SrcLocation()
	branch := &Branch{
		Line:      t.positionAt(src.Start).Line,
		Type:      branchType,
		Locations: make([]SourceLocation, 0, len(alternatives)),
	}
	for altIndex, alternative := range alternatives {
		altSrc := alternative.SrcLocation()
		branch.Locations = append(branch.Locations, t.location(altSrc))
		t.install(BranchFeature{BranchID: id, AltIndex: altIndex}, altSrc)
		t.markSignificant(altSrc)
	}
	t.BranchMap[id] = branch
}

// installFunction allocates a function descriptor for the given definition node and installs a FunctionFeature at its
// start byte.
func (t *SyntaxTable) installFunction(node *types.Node) {
	id := t.functionID
	t.functionID++

	src := node.SrcLocation()
	t.FnMap[id] = &Function{
		Name: node.Name,
		Line: t.positionAt(src.Start).Line,
		Loc:  t.location(src),
	}
	t.install(FunctionFeature{FunctionID: id}, src)
	t.markSignificant(src)
}

// installStatement allocates a statement descriptor for the given node and installs a StatementFeature at its start
// byte. Skipped statements are retained in the map but do not make their line significant.
func (t *SyntaxTable) installStatement(node *types.Node, skip bool) {
	id := t.statementID
	t.statementID++

	src := node.SrcLocation()
	t.StatementMap[id] = &Statement{
		Start: t.positionAt(src.Start),
		End:   t.location(src).End,
		Skip:  skip,
	}
	t.install(StatementFeature{StatementID: id}, src)
	if !skip {
		t.markSignificant(src)
	}
}

// markSignificant records the line of the given location's start byte as significant.
func (t *SyntaxTable) markSignificant(src types.SrcLocation) {
	if src.Length <= 0 || src.Start < 0 || src.Start >= len(t.Positions) {
		return
	}
	t.significantLines[t.positionAt(src.Start).Line] = true
}

// walk visits every AST node reachable from the given root using an explicit work stack, installing features per
// node kind. Children are pushed in reverse so nodes are visited (and IDs allocated) in preorder.
func (t *SyntaxTable) walk(root *types.Node) {
	stack := []*types.Node{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node == nil {
			continue
		}

		children := t.visit(node)
		for i := len(children) - 1; i >= 0; i-- {
			if children[i] != nil {
				stack = append(stack, children[i])
			}
		}
	}
}

// visit installs the features of a single node and returns the children to walk next.
func (t *SyntaxTable) visit(node *types.Node) []*types.Node {
	switch node.NodeType {
	case "BinaryOperation":
		operands := []*types.Node{node.LeftExpression, node.RightExpression}
		if node.Operator == "&&" || node.Operator == "||" {
			t.installBranch(node.NodeType, node, operands)
		} else {
			t.installStatement(node, false)
		}
		return operands

	case "Conditional":
		t.installBranch("if", node, []*types.Node{node.TrueExpression, node.FalseExpression})
		return []*types.Node{node.Condition, node.TrueExpression, node.FalseExpression}

	case "IfStatement":
		alternatives := make([]*types.Node, 0, 2)
		if node.TrueBody != nil {
			alternatives = append(alternatives, node.TrueBody)
		}
		if node.FalseBody != nil {
			alternatives = append(alternatives, node.FalseBody)
		}
		t.installBranch("if", node, alternatives)
		return append([]*types.Node{node.Condition}, alternatives...)

	case "YulIf":
		t.installBranch("if", node, []*types.Node{node.Body, node.Condition})
		return []*types.Node{node.Body, node.Condition}

	case "YulSwitch":
		t.installBranch("switch", node, node.Cases)
		return append([]*types.Node{node.Expression}, node.Cases...)

	case "ContractDefinition":
		t.installStatement(node, true)
		return node.Nodes

	case "FunctionDefinition", "ModifierDefinition", "YulFunctionDefinition":
		if node.Body != nil {
			t.installFunction(node)
		} else {
			t.installStatement(node, true)
		}
		children := node.ParameterNodes()
		if node.ReturnParameters != nil {
			children = append(children, node.ReturnParameters)
		}
		children = append(children, node.ReturnVariables...)
		if node.Body != nil {
			children = append(children, node.Body)
		}
		return children

	case "Assignment":
		t.installStatement(node, false)
		return []*types.Node{node.LeftHandSide, node.RightHandSide}

	case "IndexAccess":
		t.installStatement(node, false)
		return []*types.Node{node.BaseExpression, node.IndexExpression}

	case "MemberAccess":
		t.installStatement(node, false)
		return []*types.Node{node.Expression}

	case "Return":
		t.installStatement(node, false)
		return []*types.Node{node.Expression}

	case "Break", "Continue", "Identifier", "NewExpression", "PlaceholderStatement",
		"YulBreak", "YulIdentifier", "YulLeave", "YulTypedName":
		t.installStatement(node, false)
		return nil

	case "EmitStatement":
		t.installStatement(node, false)
		return []*types.Node{node.EventCall}

	case "RevertStatement":
		t.installStatement(node, false)
		return []*types.Node{node.ErrorCall}

	case "UnaryOperation":
		t.installStatement(node, false)
		return []*types.Node{node.SubExpression}

	case "VariableDeclaration", "YulVariableDeclaration":
		t.installStatement(node, false)
		return []*types.Node{node.ValueNode()}

	case "YulAssignment":
		t.installStatement(node, false)
		return []*types.Node{node.ValueNode()}

	case "YulExpressionStatement":
		t.installStatement(node, false)
		return []*types.Node{node.Expression}

	case "ParameterList",
		"ElementaryTypeNameExpression", "EnumDefinition", "EventDefinition", "ErrorDefinition",
		"StructDefinition", "FunctionCallOptions", "Literal", "YulLiteral":
		t.installStatement(node, true)
		return nil

	case "FunctionCall":
		return append([]*types.Node{node.Expression}, node.Arguments...)

	case "YulFunctionCall":
		return node.Arguments

	case "Block", "UncheckedBlock", "YulBlock":
		return node.Statements

	case "InlineAssembly":
		return []*types.Node{node.YulBody}

	case "ExpressionStatement":
		return []*types.Node{node.Expression}

	case "ForStatement":
		return []*types.Node{node.InitializationExpression, node.Condition, node.LoopExpression, node.Body}

	case "YulForLoop":
		return []*types.Node{node.Pre, node.Condition, node.Post, node.Body}

	case "TryStatement":
		return append([]*types.Node{node.ExternalCall}, node.Clauses...)

	case "TryCatchClause":
		return []*types.Node{node.Block}

	case "TupleExpression":
		return node.Components

	case "VariableDeclarationStatement":
		return append(append([]*types.Node{}, node.Declarations...), node.InitialValue)

	case "YulCase":
		return []*types.Node{node.Body}

	case "SourceUnit":
		return node.Nodes

	case "ImportDirective", "PragmaDirective":
		return nil

	default:
		// An unknown node kind is a diagnostic, not a failure; it is treated as having no children.
		t.logger.Warn("Unknown AST node type '", node.NodeType, "' in ", t.Path)
		return nil
	}
}
