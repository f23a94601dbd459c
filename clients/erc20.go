package clients

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const erc20TransferABI = `[{
	"anonymous": false,
	"inputs": [
		{"indexed": true, "name": "from", "type": "address"},
		{"indexed": true, "name": "to", "type": "address"},
		{"indexed": false, "name": "value", "type": "uint256"}
	],
	"name": "Transfer",
	"type": "event"
}]`

// TransferEventSig is keccak256("Transfer(address,address,uint256)").
var TransferEventSig = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

var transferABI = mustParseABI(erc20TransferABI)

// TransferEvent is a decoded ERC-20 Transfer log.
type TransferEvent struct {
	Token common.Address
	From  common.Address
	To    common.Address
	Value *big.Int
}

// DecodeTransfer decodes log as an ERC-20 Transfer event.
func DecodeTransfer(log *ethtypes.Log) (*TransferEvent, error) {
	if log == nil {
		return nil, fmt.Errorf("nil log")
	}
	if len(log.Topics) != 3 || log.Topics[0] != TransferEventSig {
		return nil, fmt.Errorf("log is not a Transfer event")
	}

	values, err := transferABI.Unpack("Transfer", log.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack Transfer data: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected Transfer data length: %d", len(values))
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected Transfer value type %T", values[0])
	}

	return &TransferEvent{
		Token: log.Address,
		From:  common.BytesToAddress(log.Topics[1].Bytes()),
		To:    common.BytesToAddress(log.Topics[2].Bytes()),
		Value: value,
	}, nil
}

// TransfersFrom decodes every Transfer log emitted by token in receipt. Logs
// from other contracts, and logs that do not decode as Transfer, are skipped.
func TransfersFrom(receipt *ethtypes.Receipt, token common.Address) []*TransferEvent {
	if receipt == nil {
		return nil
	}
	var out []*TransferEvent
	for _, l := range receipt.Logs {
		if l == nil || l.Address != token {
			continue
		}
		ev, err := DecodeTransfer(l)
		if err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("clients: invalid ABI: %v", err))
	}
	return parsed
}
