package trace

import (
	"context"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// BlockNumber fetches the current head block number from the provider.
func BlockNumber(ctx context.Context, provider Provider) (uint64, error) {
	var number hexutil.Uint64
	if err := provider.Request(ctx, &number, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return uint64(number), nil
}

// CrawlBlocks collects the hashes of every transaction mined in blocks [from, to], in block and intra-block order.
// Returns the collected hashes, or an error if a block could not be fetched.
func CrawlBlocks(ctx context.Context, provider Provider, from uint64, to uint64) ([]string, error) {
	var txHashes []string
	for number := from; number <= to; number++ {
		var block Block
		if err := provider.Request(ctx, &block, "eth_getBlockByNumber", hexutil.Uint64(number).String(), false); err != nil {
			return nil, err
		}
		txHashes = append(txHashes, block.Transactions...)
	}
	return txHashes, nil
}
