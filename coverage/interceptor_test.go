package coverage

import (
	"context"
	"testing"

	"github.com/crytic/solcov/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider answers from canned per-method responses and records the order of every request it serves.
type scriptedProvider struct {
	methods      []string
	txHash       string
	pendingTxs   []string
	callResult   string
	transactions map[string]trace.Transaction
	traces       map[string]trace.TransactionTrace
}

func (p *scriptedProvider) Request(ctx context.Context, result any, method string, args ...any) error {
	p.methods = append(p.methods, method)
	switch method {
	case "eth_sendTransaction":
		*result.(*string) = p.txHash
	case "eth_call":
		if target, ok := result.(*string); ok {
			*target = p.callResult
		}
	case "eth_getBlockByNumber":
		*result.(*trace.Block) = trace.Block{Transactions: p.pendingTxs}
	case "eth_getTransactionByHash":
		*result.(*trace.Transaction) = p.transactions[args[0].(string)]
	case "debug_traceTransaction":
		*result.(*trace.TransactionTrace) = p.traces[args[0].(string)]
	case "evm_snapshot":
		*result.(*any) = "0x1"
	case "evm_revert":
		*result.(*bool) = true
	}
	return nil
}

// emptyTraceProvider builds a provider whose transaction traces carry no steps, so tracing succeeds without
// touching attribution.
func emptyTraceProvider() *scriptedProvider {
	to := "0x00000000000000000000000000000000000000aa"
	return &scriptedProvider{
		txHash:     "0xabcd",
		callResult: "0x01",
		transactions: map[string]trace.Transaction{
			"0xabcd": {Hash: "0xabcd", To: &to, Input: "0x"},
		},
		traces: map[string]trace.TransactionTrace{
			"0xabcd": {StructLogs: []trace.StructLog{}},
		},
	}
}

// TestInterceptorSendTransaction ensures an intercepted eth_sendTransaction forwards, checks the pending block, and
// traces the transaction when nothing is pending.
func TestInterceptorSendTransaction(t *testing.T) {
	provider := emptyTraceProvider()
	coverage := NewCoverage(NewSources())
	coverage.Cover()
	interceptor := NewInterceptor(provider, coverage)

	var txHash string
	err := interceptor.Request(context.Background(), &txHash, "eth_sendTransaction", map[string]any{"to": "0x00"})
	require.NoError(t, err)
	assert.Equal(t, "0xabcd", txHash)

	// The transaction was forwarded, the pending block consulted, and the trace fetched.
	assert.Equal(t, []string{
		"eth_sendTransaction",
		"eth_getBlockByNumber",
		"eth_getTransactionByHash",
		"debug_traceTransaction",
	}, provider.methods)
	assert.NotNil(t, interceptor.Report())
}

// TestInterceptorSendTransactionPending ensures no trace is taken while the node still reports pending
// transactions.
func TestInterceptorSendTransactionPending(t *testing.T) {
	provider := emptyTraceProvider()
	provider.pendingTxs = []string{"0xabcd"}
	coverage := NewCoverage(NewSources())
	interceptor := NewInterceptor(provider, coverage)

	var txHash string
	err := interceptor.Request(context.Background(), &txHash, "eth_sendTransaction", map[string]any{"to": "0x00"})
	require.NoError(t, err)

	assert.Equal(t, []string{"eth_sendTransaction", "eth_getBlockByNumber"}, provider.methods)
	assert.Nil(t, interceptor.Report())
}

// TestInterceptorCall ensures an intercepted eth_call forwards, replays under a snapshot, reverts, and returns the
// original call's result.
func TestInterceptorCall(t *testing.T) {
	provider := emptyTraceProvider()
	coverage := NewCoverage(NewSources())
	interceptor := NewInterceptor(provider, coverage)

	var result string
	err := interceptor.Request(context.Background(), &result, "eth_call", map[string]any{"to": "0x00"}, "latest")
	require.NoError(t, err)

	// The recorded result is the forwarded call's, taken before the replay.
	assert.Equal(t, "0x01", result)

	// Snapshot and revert strictly bracket the replay.
	assert.Equal(t, []string{
		"eth_call",
		"evm_snapshot",
		"eth_sendTransaction",
		"eth_getTransactionByHash",
		"debug_traceTransaction",
		"evm_revert",
	}, provider.methods)
}

// TestInterceptorPassThrough ensures non-intercepted methods forward untouched.
func TestInterceptorPassThrough(t *testing.T) {
	provider := emptyTraceProvider()
	interceptor := NewInterceptor(provider, NewCoverage(NewSources()))

	err := interceptor.Request(context.Background(), nil, "eth_chainId")
	require.NoError(t, err)
	assert.Equal(t, []string{"eth_chainId"}, provider.methods)
}
