package coverage

import (
	"context"

	"github.com/crytic/solcov/logging"
	"github.com/crytic/solcov/trace"
)

// Interceptor wraps a JSON-RPC provider and transparently traces transactions driven through it, accumulating a
// coverage report as a test suite runs. It overrides eth_sendTransaction and eth_call; every other method passes
// through.
type Interceptor struct {
	// provider is the wrapped JSON-RPC provider.
	provider trace.Provider

	// coverage converts traces into report updates.
	coverage *Coverage

	// report accumulates coverage across every intercepted transaction.
	report Report

	// logger describes the logger used for interception diagnostics.
	logger *logging.Logger
}

// NewInterceptor wraps the given provider so that transactions and calls driven through it are traced into the given
// Coverage.
func NewInterceptor(provider trace.Provider, coverage *Coverage) *Interceptor {
	return &Interceptor{
		provider: provider,
		coverage: coverage,
		logger:   logging.GlobalLogger.NewSubLogger("module", logging.COVERAGE_SERVICE),
	}
}

// Report returns the report accumulated so far. It may be nil if no transaction has been traced yet.
func (i *Interceptor) Report() Report {
	return i.report
}

// Request performs one JSON-RPC call, tracing intercepted methods along the way. It implements trace.Provider so an
// Interceptor can be installed anywhere a provider is expected.
func (i *Interceptor) Request(ctx context.Context, result any, method string, args ...any) error {
	switch method {
	case "eth_sendTransaction":
		return i.interceptSendTransaction(ctx, result, args...)
	case "eth_call":
		return i.interceptCall(ctx, result, args...)
	default:
		return i.provider.Request(ctx, result, method, args...)
	}
}

// interceptSendTransaction forwards the transaction, then traces it if the node reports an empty pending block. If
// transactions are still pending, the transaction is not traced here.
func (i *Interceptor) interceptSendTransaction(ctx context.Context, result any, args ...any) error {
	var txHash string
	if err := i.provider.Request(ctx, &txHash, "eth_sendTransaction", args...); err != nil {
		return err
	}

	// If the node still reports pending transactions the trace would be premature; an auto-mining dev node has an
	// empty pending block immediately after sending.
	var pending trace.Block
	if err := i.provider.Request(ctx, &pending, "eth_getBlockByNumber", "pending", false); err == nil {
		if len(pending.Transactions) == 0 {
			i.TraceAndReport(ctx, txHash)
		}
	}

	return assignResult(result, txHash)
}

// interceptCall forwards the call to record its result, then replays the same call as a transaction under a state
// snapshot so it produces a trace, and reverts the snapshot. The forwarded call's result is returned regardless of
// the replay's outcome.
//
// Note the recorded result is taken before the replay; if the node orders state updates differently from an isolated
// call, the replayed trace may diverge from what the caller observed.
func (i *Interceptor) interceptCall(ctx context.Context, result any, args ...any) error {
	if err := i.provider.Request(ctx, result, "eth_call", args...); err != nil {
		return err
	}

	var snapshotID any
	if err := i.provider.Request(ctx, &snapshotID, "evm_snapshot"); err != nil {
		i.logger.Debug("Could not snapshot for call replay", err)
		return nil
	}

	var replayHash string
	callArgs := args
	if len(callArgs) > 1 {
		// Drop the block tag; the replay always runs against the latest state.
		callArgs = callArgs[:1]
	}
	if err := i.provider.Request(ctx, &replayHash, "eth_sendTransaction", callArgs...); err == nil {
		i.TraceAndReport(ctx, replayHash)
	} else {
		i.logger.Debug("Could not replay call as transaction", err)
	}

	var reverted bool
	if err := i.provider.Request(ctx, &reverted, "evm_revert", snapshotID); err != nil || !reverted {
		i.logger.Warn("Could not revert call replay snapshot", err)
	}
	return nil
}

// TraceAndReport traces the given transaction and accumulates its coverage into the interceptor's report. Errors are
// logged and swallowed so a single bad trace cannot abort a test run.
func (i *Interceptor) TraceAndReport(ctx context.Context, txHash string) {
	txTrace, err := trace.Crawl(ctx, i.provider, txHash)
	if err != nil {
		i.logger.Error("Could not trace transaction ", txHash, err)
		return
	}

	// Record the deployed code of every address the trace observed before attributing opcodes.
	i.coverage.Sources().LoadAddresses(txTrace.Codes)

	report, err := i.coverage.Report(txTrace.Logs, i.report)
	i.report = report
	if err != nil {
		i.logger.Error("Could not attribute coverage for transaction ", txHash, err)
	}
}

// assignResult copies the transaction hash into the caller's result pointer, if one was provided.
func assignResult(result any, txHash string) error {
	if result == nil {
		return nil
	}
	if target, ok := result.(*string); ok {
		*target = txHash
	}
	return nil
}
