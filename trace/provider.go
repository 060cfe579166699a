package trace

import (
	"context"

	"github.com/ethereum/go-ethereum/rpc"
)

// Provider describes a JSON-RPC endpoint capable of answering the transaction, trace and code queries the tracer
// consumes. It mirrors the request shape of go-ethereum's rpc.Client so that client can back it directly.
type Provider interface {
	// Request performs one JSON-RPC call, decoding the response into result (which must be a pointer, or nil to
	// discard the response).
	Request(ctx context.Context, result any, method string, args ...any) error
}

// RPCProvider is a Provider backed by a go-ethereum rpc.Client.
type RPCProvider struct {
	client *rpc.Client
}

// NewRPCProvider dials the given JSON-RPC endpoint.
// Returns the resulting provider, or an error if the endpoint could not be dialed.
func NewRPCProvider(endpoint string) (*RPCProvider, error) {
	client, err := rpc.Dial(endpoint)
	if err != nil {
		return nil, err
	}
	return &RPCProvider{client: client}, nil
}

// Request performs one JSON-RPC call through the underlying client.
func (p *RPCProvider) Request(ctx context.Context, result any, method string, args ...any) error {
	return p.client.CallContext(ctx, result, method, args...)
}

// Close tears down the underlying client connection.
func (p *RPCProvider) Close() {
	p.client.Close()
}

// Transaction mirrors the fields of an eth_getTransactionByHash response the tracer consumes.
type Transaction struct {
	// Hash is the transaction hash.
	Hash string `json:"hash"`

	// To is the called address, or nil for a contract-creation transaction.
	To *string `json:"to"`

	// Input is the transaction calldata; for a creation transaction it is the init bytecode.
	Input string `json:"input"`
}

// TransactionTrace mirrors the portion of a debug_traceTransaction response the tracer consumes.
type TransactionTrace struct {
	// StructLogs lists one entry per executed opcode.
	StructLogs []StructLog `json:"structLogs"`
}

// Block mirrors the fields of an eth_getBlockByNumber response the tracer consumes (transaction hashes only).
type Block struct {
	// Number is the block number as a hex quantity.
	Number string `json:"number"`

	// Transactions lists the hashes of the block's transactions.
	Transactions []string `json:"transactions"`
}
