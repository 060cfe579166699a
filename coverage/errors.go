package coverage

import "fmt"

// UnknownProgramCounterError indicates a program counter which does not mark an instruction start within the bytecode
// of the identified contract.
type UnknownProgramCounterError struct {
	// PC is the offending program counter, as a byte offset into the decoded bytecode.
	PC uint64

	// FQDN identifies the contract whose bytecode was being resolved.
	FQDN string
}

func (e *UnknownProgramCounterError) Error() string {
	return fmt.Sprintf("program counter %d does not mark an instruction start in '%v'", e.PC, e.FQDN)
}

// UnknownInstructionIndexError indicates an instruction index which has no source map entry within the identified
// contract.
type UnknownInstructionIndexError struct {
	// Index is the offending instruction index.
	Index int

	// FQDN identifies the contract whose source map was being resolved.
	FQDN string
}

func (e *UnknownInstructionIndexError) Error() string {
	return fmt.Sprintf("instruction index %d has no source map entry in '%v'", e.Index, e.FQDN)
}

// UnknownAddressError indicates an address for which no bytecode has been loaded.
type UnknownAddressError struct {
	// Address is the offending address, exactly as it was passed to the lookup.
	Address string
}

func (e *UnknownAddressError) Error() string {
	return fmt.Sprintf("no bytecode known for address '%v'", e.Address)
}

// NoSourceMapError indicates a bytecode which could not be resolved to any known source map, even after fuzzy
// matching.
type NoSourceMapError struct {
	// Bytecode is the unresolvable bytecode, as a lowercase hex string without a 0x prefix.
	Bytecode string
}

func (e *NoSourceMapError) Error() string {
	return fmt.Sprintf("no source map known for bytecode '%.64v…' (%d hex chars)", e.Bytecode, len(e.Bytecode))
}

// NoPathForSourceError indicates a (bytecode, source index) pair which does not resolve to a source file path.
type NoPathForSourceError struct {
	// Bytecode is the bytecode whose source index could not be resolved.
	Bytecode string

	// SourceIndex is the unresolvable source file index.
	SourceIndex int
}

func (e *NoPathForSourceError) Error() string {
	return fmt.Sprintf("no source path known for source index %d of bytecode '%.64v…'", e.SourceIndex, e.Bytecode)
}
