package clients

import (
	"context"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/basehealth/x402/types"
)

// ChainReader is the read-only slice of an Ethereum JSON-RPC client the
// verifiers depend on. *ethclient.Client satisfies it. There is deliberately
// no method that sends a transaction.
type ChainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *ethtypes.Transaction, isPending bool, err error)
	HeaderByHash(ctx context.Context, hash common.Hash) (*ethtypes.Header, error)
}

// closer is implemented by readers that hold a connection.
type closer interface {
	Close()
}

// Source hands out a ChainReader per network. *Registry satisfies it.
type Source interface {
	Client(ctx context.Context, network types.Network) (ChainReader, error)
}
