// Package clientstest provides an in-memory clients.ChainReader for tests.
package clientstest

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/basehealth/x402/clients"
)

// Reader serves canned chain data. Missing receipts, transactions and
// headers yield ethereum.NotFound.
type Reader struct {
	mu sync.Mutex

	chainID  *big.Int
	code     map[common.Address][]byte
	receipts map[common.Hash]*ethtypes.Receipt
	txs      map[common.Hash]*ethtypes.Transaction
	headers  map[common.Hash]*ethtypes.Header

	// Call answers CallContract. Nil means every call reverts.
	Call func(call ethereum.CallMsg) ([]byte, error)

	// Err, when set, fails every request.
	Err error

	receiptCalls int
}

var _ clients.ChainReader = (*Reader)(nil)

func NewReader(chainID *big.Int) *Reader {
	return &Reader{
		chainID:  chainID,
		code:     make(map[common.Address][]byte),
		receipts: make(map[common.Hash]*ethtypes.Receipt),
		txs:      make(map[common.Hash]*ethtypes.Transaction),
		headers:  make(map[common.Hash]*ethtypes.Header),
	}
}

func (r *Reader) SetCode(addr common.Address, code []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.code[addr] = code
}

// AddReceipt stores receipt and a header for its block mined at blockTime.
func (r *Reader) AddReceipt(receipt *ethtypes.Receipt, blockTime uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receipts[receipt.TxHash] = receipt
	r.headers[receipt.BlockHash] = &ethtypes.Header{
		Number: receipt.BlockNumber,
		Time:   blockTime,
	}
}

func (r *Reader) AddTransaction(tx *ethtypes.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs[tx.Hash()] = tx
}

func (r *Reader) ChainID(context.Context) (*big.Int, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	return new(big.Int).Set(r.chainID), nil
}

func (r *Reader) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.code[account], nil
}

func (r *Reader) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	if r.Call == nil {
		return nil, errReverted
	}
	return r.Call(call)
}

func (r *Reader) TransactionReceipt(_ context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receiptCalls++
	if r.Err != nil {
		return nil, r.Err
	}
	rc, ok := r.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return rc, nil
}

func (r *Reader) TransactionByHash(_ context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error) {
	if r.Err != nil {
		return nil, false, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, false, nil
}

func (r *Reader) HeaderByHash(_ context.Context, hash common.Hash) (*ethtypes.Header, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.headers[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return h, nil
}

// Receipts returns the number of TransactionReceipt calls so far.
func (r *Reader) Receipts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.receiptCalls
}

type revertError struct{}

func (revertError) Error() string { return "execution reverted" }

var errReverted = revertError{}

// SignedTransfer returns a signed native transfer of value wei to to.
func SignedTransfer(key *ecdsa.PrivateKey, chainID *big.Int, nonce uint64, to common.Address, value *big.Int) (*ethtypes.Transaction, error) {
	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: big.NewInt(1_000_000),
		GasFeeCap: big.NewInt(2_000_000_000),
		Gas:       21000,
		To:        &to,
		Value:     value,
	})
	return ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), key)
}

// TransferLog builds an ERC-20 Transfer log emitted by token.
func TransferLog(token, from, to common.Address, value *big.Int) *ethtypes.Log {
	return &ethtypes.Log{
		Address: token,
		Topics: []common.Hash{
			clients.TransferEventSig,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.LeftPadBytes(value.Bytes(), 32),
	}
}

// SuccessReceipt builds a successful receipt for txHash with logs.
func SuccessReceipt(txHash common.Hash, logs ...*ethtypes.Log) *ethtypes.Receipt {
	return &ethtypes.Receipt{
		Status:      ethtypes.ReceiptStatusSuccessful,
		TxHash:      txHash,
		BlockHash:   crypto.Keccak256Hash(txHash.Bytes()),
		BlockNumber: big.NewInt(1000),
		Logs:        logs,
	}
}
