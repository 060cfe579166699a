package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Reference: Source mapping is performed according to the rules specified in solidity documentation:
// https://docs.soliditylang.org/en/latest/internals/source_mappings.html

// SourceMapJumpType describes the type of jump operation occurring within a SourceMapElement if the instruction
// is jumping.
type SourceMapJumpType string

const (
	// SourceMapJumpTypeNone indicates no jump occurred.
	SourceMapJumpTypeNone SourceMapJumpType = ""

	// SourceMapJumpTypeJumpIn indicates a jump into a function occurred.
	SourceMapJumpTypeJumpIn SourceMapJumpType = "i"

	// SourceMapJumpTypeJumpOut indicates a return from a function occurred.
	SourceMapJumpTypeJumpOut SourceMapJumpType = "o"

	// SourceMapJumpTypeJumpWithin indicates a jump occurred within the same function, e.g. for loops.
	SourceMapJumpTypeJumpWithin SourceMapJumpType = "-"
)

// SourceMapElement describes an individual element of a source mapping output by the compiler.
// The index of each element in a source map corresponds to an instruction index (not to be mistaken with offset).
// It describes the portion of a source file the instruction references.
type SourceMapElement struct {
	// Index refers to the index of the SourceMapElement within its parent source map. This is not actually a field
	// saved in the source map, but is provided for convenience so the user may remove SourceMapElement objects during
	// analysis.
	Index int

	// Offset refers to the byte offset which marks the start of the source range the instruction maps to.
	Offset int

	// Length refers to the byte length of the source range the instruction maps to.
	Length int

	// FileID refers to an identifier for the CompilerSource file which houses the relevant source code.
	FileID int

	// JumpType refers to the SourceMapJumpType which provides information about any type of jump that occurred.
	JumpType SourceMapJumpType

	// ModifierDepth refers to the depth in which code has executed a modifier function. This is used to assist
	// debuggers, e.g. understanding if the same modifier is re-used multiple times in a call.
	ModifierDepth int
}

// ParseSourceMap takes a source mapping string returned by the compiler and parses it into an array of
// SourceMapElement objects, one per semicolon-separated entry. An empty field (or a fully empty entry) carries the
// previous instruction's value forward.
// Returns the list of SourceMapElement objects.
func ParseSourceMap(sourceMapStr string) ([]SourceMapElement, error) {
	if len(sourceMapStr) == 0 {
		return nil, nil
	}

	entries := strings.Split(sourceMapStr, ";")
	elements := make([]SourceMapElement, 0, len(entries))

	// The decoding state starts at the zero-length range of source file 0 and is updated field by field as
	// entries are consumed; whatever a field leaves untouched is inherited by the next entry.
	state := SourceMapElement{}

	for i, entry := range entries {
		state.Index = i
		for position, field := range strings.SplitN(entry, ":", 5) {
			if field == "" {
				continue
			}
			var err error
			switch position {
			case 0:
				state.Offset, err = strconv.Atoi(field)
			case 1:
				state.Length, err = strconv.Atoi(field)
			case 2:
				state.FileID, err = strconv.Atoi(field)
			case 3:
				state.JumpType = SourceMapJumpType(field)
			case 4:
				state.ModifierDepth, err = strconv.Atoi(field)
			}
			if err != nil {
				return nil, fmt.Errorf("invalid source map entry '%v': %v", entry, err)
			}
		}
		elements = append(elements, state)
	}
	return elements, nil
}
