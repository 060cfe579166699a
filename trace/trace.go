package trace

import (
	"context"
	"fmt"
	"strings"

	"github.com/crytic/solcov/logging"
	"github.com/pkg/errors"
)

// TraceInconsistencyError indicates a structLog sequence that violates the EVM's call-depth rules, e.g. a CREATE that
// does not enter a sub-frame.
type TraceInconsistencyError struct {
	// TxHash identifies the offending transaction.
	TxHash string

	// Detail describes the violated expectation.
	Detail string
}

func (e *TraceInconsistencyError) Error() string {
	return fmt.Sprintf("inconsistent trace for transaction %v: %v", e.TxHash, e.Detail)
}

// frame is one element of the reconstructed call stack. It carries either the executing contract's address, or the
// newly-created bytecode while a CREATE/CREATE2 constructor runs (in which case bytecode is non-empty and address is
// meaningless).
type frame struct {
	address  string
	bytecode string
}

// Trace holds the reconstructed execution of one transaction: every opcode tagged with the code executing it, plus
// the address to bytecode map observed along the way.
type Trace struct {
	// TxHash is the traced transaction's hash.
	TxHash string

	// Logs lists every executed opcode in structLog order, tagged with its executing address or init bytecode.
	Logs []TaggedLog

	// Codes maps every distinct address observed during the trace (lowercase hex, no 0x prefix) to its deployed
	// bytecode. The empty key stands for the entry frame of a contract-creation transaction and maps to the
	// transaction input.
	Codes map[string]string
}

// Crawl fetches the given transaction and its opcode trace from the provider, reconstructs the call-frame stack so
// every opcode is tagged with the bytecode executing it, and fetches the deployed code of every address observed.
// Returns the reconstructed trace, or an error if the provider fails or the trace is inconsistent.
func Crawl(ctx context.Context, provider Provider, txHash string) (*Trace, error) {
	logger := logging.GlobalLogger.NewSubLogger("module", logging.TRACE_SERVICE)

	// Fetch the transaction so we know its entry address (or, for creation transactions, its init code).
	var tx Transaction
	if err := provider.Request(ctx, &tx, "eth_getTransactionByHash", txHash); err != nil {
		return nil, errors.Wrapf(err, "could not fetch transaction %v", txHash)
	}

	// Fetch the opcode trace.
	var txTrace TransactionTrace
	if err := provider.Request(ctx, &txTrace, "debug_traceTransaction", txHash); err != nil {
		return nil, errors.Wrapf(err, "could not trace transaction %v", txHash)
	}
	logger.Debug("Traced transaction ", txHash, " with ", len(txTrace.StructLogs), " steps")

	// Reconstruct the call stack, tagging every opcode with its executing frame.
	logs, err := tagLogs(txHash, &tx, txTrace.StructLogs)
	if err != nil {
		return nil, err
	}

	// Resolve the deployed code of every distinct address observed.
	codes := make(map[string]string)
	for _, log := range logs {
		if log.Tag != TagAddress {
			continue
		}
		if _, fetched := codes[log.Address]; fetched {
			continue
		}
		if log.Address == "" {
			// The entry frame of a contract-creation transaction runs the transaction input.
			codes[""] = normalizeHex(tx.Input)
			continue
		}
		var code string
		if err := provider.Request(ctx, &code, "eth_getCode", "0x"+log.Address, "latest"); err != nil {
			return nil, errors.Wrapf(err, "could not fetch code of 0x%v", log.Address)
		}
		codes[log.Address] = normalizeHex(code)
	}

	return &Trace{
		TxHash: txHash,
		Logs:   logs,
		Codes:  codes,
	}, nil
}

// tagLogs walks the flat structLog list, maintaining the call-frame stack by opcode, and emits one tagged log per
// step. CALL-family opcodes push a frame only when the next step actually enters a deeper frame (precompiles and
// plain transfers return immediately); CREATE-family opcodes must enter a sub-frame running the bytecode sliced from
// memory; every other opcode may only keep or decrease the depth.
func tagLogs(txHash string, tx *Transaction, structLogs []StructLog) ([]TaggedLog, error) {
	entry := frame{}
	if tx.To != nil {
		entry.address = normalizeHex(*tx.To)
	}
	frames := []frame{entry}

	logs := make([]TaggedLog, 0, len(structLogs))
	for i := 0; i < len(structLogs); i++ {
		pre := &structLogs[i]
		var post *StructLog
		if i+1 < len(structLogs) {
			post = &structLogs[i+1]
		}

		// Tag this step with the top frame. A frame carrying bytecode is a constructor still running its init
		// code; everything else executes a deployed address.
		top := frames[len(frames)-1]
		tagged := TaggedLog{StructLog: *pre}
		if top.bytecode != "" {
			tagged.Tag = TagBytecode
			tagged.Bytecode = top.bytecode
		} else {
			tagged.Tag = TagAddress
			tagged.Address = top.address
		}
		logs = append(logs, tagged)

		// Update the frame stack based on the executed opcode.
		switch pre.Op {
		case "CALL", "CALLCODE", "DELEGATECALL", "STATICCALL":
			// A call only pushes a frame if the next step actually runs deeper; a call to a precompile or an
			// account with no code returns within the same step.
			if post != nil && post.Depth == pre.Depth+1 {
				calleeWord, err := stackFromTop(pre, 1)
				if err != nil {
					return nil, err
				}
				callee, err := parseAddressWord(calleeWord)
				if err != nil {
					return nil, err
				}
				frames = append(frames, frame{address: callee})
			}

		case "CREATE", "CREATE2":
			if post == nil || post.Depth != pre.Depth+1 {
				return nil, &TraceInconsistencyError{TxHash: txHash, Detail: fmt.Sprintf("%v at step %d did not enter a sub-frame", pre.Op, i)}
			}
			offsetWord, err := stackFromTop(pre, 1)
			if err != nil {
				return nil, err
			}
			lengthWord, err := stackFromTop(pre, 2)
			if err != nil {
				return nil, err
			}
			offset, err := parseUintWord(offsetWord)
			if err != nil {
				return nil, err
			}
			length, err := parseUintWord(lengthWord)
			if err != nil {
				return nil, err
			}
			frames = append(frames, frame{bytecode: memorySlice(pre, offset, length)})

		default:
			if post != nil {
				if post.Depth > pre.Depth {
					return nil, &TraceInconsistencyError{TxHash: txHash, Detail: fmt.Sprintf("%v at step %d increased call depth", pre.Op, i)}
				}
				if post.Depth < pre.Depth {
					if len(frames) == 1 {
						return nil, &TraceInconsistencyError{TxHash: txHash, Detail: fmt.Sprintf("call stack underflow at step %d", i)}
					}
					frames = frames[:len(frames)-1]
				}
			}
		}
	}
	return logs, nil
}

// normalizeHex lowercases a hex string and strips any 0x prefix.
func normalizeHex(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, "0x"))
}
