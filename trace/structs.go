package trace

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// StructLog describes one opcode execution step as reported by debug_traceTransaction.
type StructLog struct {
	// PC is the program counter, a byte offset into the executing bytecode.
	PC uint64 `json:"pc"`

	// Op is the executed opcode's mnemonic, e.g. "CALL" or "JUMPDEST".
	Op string `json:"op"`

	// Depth is the call depth, starting at 1 for the transaction's entry frame.
	Depth int `json:"depth"`

	// Gas and GasCost describe remaining gas and the cost of this step.
	Gas     uint64 `json:"gas"`
	GasCost uint64 `json:"gasCost"`

	// Stack holds the EVM stack at this step, bottom first, as hex words.
	Stack []string `json:"stack"`

	// Memory holds the EVM memory at this step as consecutive 32-byte hex words.
	Memory []string `json:"memory"`

	// Storage holds the touched storage slots at this step.
	Storage map[string]string `json:"storage"`
}

// TagKind discriminates how a TaggedLog identifies its executing bytecode.
type TagKind uint8

const (
	// TagAddress indicates the log carries the address of the deployed contract executing it.
	TagAddress TagKind = iota

	// TagBytecode indicates the log carries the init bytecode of a contract still in its constructor.
	TagBytecode
)

// TaggedLog is a StructLog tagged with the bytecode executing it: either the address of a deployed contract, or the
// just-created bytecode of a contract still running its constructor. Exactly one of the two is meaningful, selected
// by Tag.
type TaggedLog struct {
	StructLog

	// Tag selects which of Address and Bytecode identifies the executing code.
	Tag TagKind

	// Address is the executing contract's address as lowercase hex without a 0x prefix. It is empty for the entry
	// frame of a contract-creation transaction, whose code is the transaction input.
	Address string

	// Bytecode is the executing init code as lowercase hex without a 0x prefix.
	Bytecode string
}

// stackFromTop returns the stack word n positions below the top of the given log's stack.
// Returns an error if the stack is too shallow.
func stackFromTop(log *StructLog, n int) (string, error) {
	index := len(log.Stack) - 1 - n
	if index < 0 {
		return "", fmt.Errorf("stack underflow reading %d below top of %d-deep stack at pc %d", n, len(log.Stack), log.PC)
	}
	return log.Stack[index], nil
}

// parseStackWord decodes a hex stack word, tolerating 0x prefixes, leading zeros and mixed case.
func parseStackWord(word string) (*uint256.Int, error) {
	trimmed := strings.TrimPrefix(strings.ToLower(word), "0x")
	trimmed = strings.TrimLeft(trimmed, "0")
	if trimmed == "" {
		trimmed = "0"
	}
	value, err := uint256.FromHex("0x" + trimmed)
	if err != nil {
		return nil, fmt.Errorf("could not parse stack word '%v': %v", word, err)
	}
	return value, nil
}

// parseAddressWord decodes the low 20 bytes of a hex stack word into an address, as lowercase hex without a 0x
// prefix.
func parseAddressWord(word string) (string, error) {
	value, err := parseStackWord(word)
	if err != nil {
		return "", err
	}
	address := value.Bytes20()
	return hex.EncodeToString(address[:]), nil
}

// parseUintWord decodes a hex stack word into a uint64.
func parseUintWord(word string) (uint64, error) {
	value, err := parseStackWord(word)
	if err != nil {
		return 0, err
	}
	if !value.IsUint64() {
		return 0, fmt.Errorf("stack word '%v' exceeds 64 bits", word)
	}
	return value.Uint64(), nil
}

// memorySlice extracts [offset, offset+length) bytes of the log's memory, treating the memory words as one
// concatenated hex string. A slice extending past the captured memory is clamped.
func memorySlice(log *StructLog, offset uint64, length uint64) string {
	memory := strings.ToLower(strings.Join(log.Memory, ""))
	memory = strings.ReplaceAll(memory, "0x", "")
	start := 2 * offset
	end := start + 2*length
	if start > uint64(len(memory)) {
		return ""
	}
	if end > uint64(len(memory)) {
		end = uint64(len(memory))
	}
	return memory[start:end]
}
