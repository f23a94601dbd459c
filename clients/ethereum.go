package clients

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/basehealth/x402/types"
)

// DialFunc opens a read-only client for an RPC endpoint.
type DialFunc func(ctx context.Context, rpcURL string) (ChainReader, error)

// DialEthclient is the default DialFunc.
func DialEthclient(ctx context.Context, rpcURL string) (ChainReader, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum RPC: %w", err)
	}
	return client, nil
}

// Registry hands out one memoized ChainReader per network for the lifetime of
// the process. Two callers racing on first use may both dial; the loser's
// client is closed and the winner's is shared.
type Registry struct {
	dial    DialFunc
	rpcURLs map[types.Network]string
	clients sync.Map // types.Network -> ChainReader
}

// NewRegistry creates a Registry. rpcURLs overrides the public endpoint of a
// network; a nil dial uses DialEthclient.
func NewRegistry(rpcURLs map[types.Network]string, dial DialFunc) *Registry {
	if dial == nil {
		dial = DialEthclient
	}
	urls := make(map[types.Network]string, len(rpcURLs))
	for n, u := range rpcURLs {
		urls[n] = u
	}
	return &Registry{dial: dial, rpcURLs: urls}
}

// Client returns the reader bound to network, dialing it on first use.
func (r *Registry) Client(ctx context.Context, network types.Network) (ChainReader, error) {
	if c, ok := r.clients.Load(network); ok {
		return c.(ChainReader), nil
	}

	if _, err := types.ParseNetwork(string(network)); err != nil {
		return nil, err
	}

	c, err := r.dial(ctx, r.RPCURL(network))
	if err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrNetworkError,
			Message: fmt.Sprintf("failed to create client for %s: %v", network, err),
		}
	}

	actual, loaded := r.clients.LoadOrStore(network, c)
	if loaded {
		if cl, ok := c.(closer); ok {
			cl.Close()
		}
	}
	return actual.(ChainReader), nil
}

// RPCURL returns the endpoint used for network.
func (r *Registry) RPCURL(network types.Network) string {
	if u, ok := r.rpcURLs[network]; ok && u != "" {
		return u
	}
	return network.Info().RPCURL
}

// Close closes all client connections
func (r *Registry) Close() {
	r.clients.Range(func(key, value any) bool {
		if cl, ok := value.(closer); ok {
			cl.Close()
		}
		r.clients.Delete(key)
		return true
	})
}

// Reader returns a ChainReader bound to network that dials on first use.
func (r *Registry) Reader(network types.Network) ChainReader {
	return &boundReader{registry: r, network: network}
}

type boundReader struct {
	registry *Registry
	network  types.Network
}

func (b *boundReader) ChainID(ctx context.Context) (*big.Int, error) {
	c, err := b.registry.Client(ctx, b.network)
	if err != nil {
		return nil, err
	}
	return c.ChainID(ctx)
}

func (b *boundReader) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	c, err := b.registry.Client(ctx, b.network)
	if err != nil {
		return nil, err
	}
	return c.CodeAt(ctx, account, blockNumber)
}

func (b *boundReader) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	c, err := b.registry.Client(ctx, b.network)
	if err != nil {
		return nil, err
	}
	return c.CallContract(ctx, call, blockNumber)
}

func (b *boundReader) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	c, err := b.registry.Client(ctx, b.network)
	if err != nil {
		return nil, err
	}
	return c.TransactionReceipt(ctx, txHash)
}

func (b *boundReader) TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error) {
	c, err := b.registry.Client(ctx, b.network)
	if err != nil {
		return nil, false, err
	}
	return c.TransactionByHash(ctx, hash)
}

func (b *boundReader) HeaderByHash(ctx context.Context, hash common.Hash) (*ethtypes.Header, error) {
	c, err := b.registry.Client(ctx, b.network)
	if err != nil {
		return nil, err
	}
	return c.HeaderByHash(ctx, hash)
}

// TransactionSender recovers the sender of tx using the signer for the
// network's chain id.
func TransactionSender(network types.Network, tx *ethtypes.Transaction) (string, error) {
	signer := ethtypes.LatestSignerForChainID(network.ChainID())
	from, err := ethtypes.Sender(signer, tx)
	if err != nil {
		return "", fmt.Errorf("failed to recover transaction sender: %w", err)
	}
	return from.Hex(), nil
}
