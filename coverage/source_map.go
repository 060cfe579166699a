package coverage

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/crytic/solcov/compilation/types"
	"github.com/ethereum/go-ethereum/core/vm"
)

// SourceRange describes a half-open region [Start, Start+Length) of a source file which the compiler attributes to an
// instruction.
type SourceRange struct {
	// Start is the byte offset which marks the start of the range within the source file.
	Start int

	// Length is the byte length of the range. A length of zero means the instruction has no attributable source.
	Length int

	// Index is the source file index the range lives in, resolvable to a path through Sources.CompilerSourcePath.
	Index int
}

// SourceMap associates every program counter of one compiled bytecode with the source range the compiler attributes
// to it. It is immutable after construction.
type SourceMap struct {
	// FQDN is the fully-qualified name of the contract the bytecode belongs to, used to identify the contract in
	// error messages.
	FQDN string

	// Bytecode is the compiled bytecode, as a lowercase hex string without a 0x prefix.
	Bytecode string

	// Sources lists the compiler sources attached to the bytecode, indexed by source unit ID. The slice may be
	// sparse; unreferenced IDs hold nil.
	Sources []*types.CompilerSource

	// pcToInstructionIndices maps each program counter (a byte offset into the decoded bytecode) marking an
	// instruction start to that instruction's index.
	pcToInstructionIndices map[uint64]int

	// instructionIndexToRanges maps each instruction index to the source range the compiler attributes to it.
	instructionIndexToRanges []SourceRange
}

// NewSourceMap parses the given compiler output code into a SourceMap, decoding the compressed source mapping and
// walking the bytecode to associate program counters with instruction indexes.
// Returns the new SourceMap, or an error if the bytecode or source mapping could not be decoded.
func NewSourceMap(fqdn string, code *types.CompilerOutputCode, sources []*types.CompilerSource) (*SourceMap, error) {
	// Normalize the bytecode hex representation.
	bytecodeHex := strings.ToLower(strings.TrimPrefix(code.Object, "0x"))

	// Parse the compressed source mapping into per-instruction elements and retain the source range fields.
	elements, err := types.ParseSourceMap(code.SourceMap)
	if err != nil {
		return nil, fmt.Errorf("could not parse source map for '%v': %v", fqdn, err)
	}
	ranges := make([]SourceRange, len(elements))
	for i, element := range elements {
		ranges[i] = SourceRange{
			Start:  element.Offset,
			Length: element.Length,
			Index:  element.FileID,
		}
	}

	// Walk the bytecode to build the program counter to instruction index table.
	pcToInstructionIndices, err := buildPCToInstructionIndices(fqdn, bytecodeHex)
	if err != nil {
		return nil, err
	}

	return &SourceMap{
		FQDN:                     fqdn,
		Bytecode:                 bytecodeHex,
		Sources:                  sources,
		pcToInstructionIndices:   pcToInstructionIndices,
		instructionIndexToRanges: ranges,
	}, nil
}

// buildPCToInstructionIndices decodes the given bytecode hex and walks its instructions, recording the byte offset of
// every instruction start against its instruction index. PUSH instructions carry their operand bytes inline, so each
// advances the program counter past its data.
// Returns the resulting lookup, or an error if the bytecode could not be decoded or ends inside PUSH operand data.
func buildPCToInstructionIndices(fqdn string, bytecodeHex string) (map[uint64]int, error) {
	bytecode, err := hex.DecodeString(bytecodeHex)
	if err != nil {
		return nil, fmt.Errorf("could not decode bytecode for '%v': %v", fqdn, err)
	}

	pcToInstructionIndices := make(map[uint64]int)
	pc := 0
	instructionIndex := 0
	for pc < len(bytecode) {
		pcToInstructionIndices[uint64(pc)] = instructionIndex

		// Calculate the length of operand data that follows this instruction.
		op := vm.OpCode(bytecode[pc])
		operandCount := 0
		if op.IsPush() && op != vm.PUSH0 {
			operandCount = int(op) - int(vm.PUSH1) + 1
		}

		// Advance the program counter past this instruction and its operands.
		pc += operandCount + 1
		instructionIndex++
	}

	// A PUSH whose operand data runs past the end of the code indicates a truncated artifact.
	if pc != len(bytecode) {
		return nil, fmt.Errorf("bytecode for '%v' ends inside PUSH operand data (pc %d, length %d)", fqdn, pc, len(bytecode))
	}
	return pcToInstructionIndices, nil
}

// PcToInstructionIndex resolves a program counter to its instruction index.
// Returns an UnknownProgramCounterError if the program counter does not mark an instruction start.
func (s *SourceMap) PcToInstructionIndex(pc uint64) (int, error) {
	instructionIndex, ok := s.pcToInstructionIndices[pc]
	if !ok {
		return 0, &UnknownProgramCounterError{PC: pc, FQDN: s.FQDN}
	}
	return instructionIndex, nil
}

// InstructionIndexToRange resolves an instruction index to the source range the compiler attributes to it.
// Returns an UnknownInstructionIndexError if the index has no source map entry.
func (s *SourceMap) InstructionIndexToRange(instructionIndex int) (SourceRange, error) {
	if instructionIndex < 0 || instructionIndex >= len(s.instructionIndexToRanges) {
		return SourceRange{}, &UnknownInstructionIndexError{Index: instructionIndex, FQDN: s.FQDN}
	}
	return s.instructionIndexToRanges[instructionIndex], nil
}

// PcToRange resolves a program counter to the source range the compiler attributes to the instruction at that
// counter.
func (s *SourceMap) PcToRange(pc uint64) (SourceRange, error) {
	instructionIndex, err := s.PcToInstructionIndex(pc)
	if err != nil {
		return SourceRange{}, err
	}
	return s.InstructionIndexToRange(instructionIndex)
}
