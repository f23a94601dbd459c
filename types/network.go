package types

import (
	"fmt"
	"math/big"
)

// Network represents the supported Base networks.
type Network string

const (
	NetworkBase        Network = "base"
	NetworkBaseSepolia Network = "base-sepolia" // testnet
)

// NetworkInfo is the static configuration of a supported network.
type NetworkInfo struct {
	Network     Network
	ChainID     *big.Int
	RPCURL      string
	ExplorerURL string
	USDC        string
	NativeAsset string
}

var networks = map[Network]NetworkInfo{
	NetworkBase: {
		Network:     NetworkBase,
		ChainID:     big.NewInt(8453),
		RPCURL:      "https://mainnet.base.org",
		ExplorerURL: "https://basescan.org",
		USDC:        "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		NativeAsset: "ETH",
	},
	NetworkBaseSepolia: {
		Network:     NetworkBaseSepolia,
		ChainID:     big.NewInt(84532),
		RPCURL:      "https://sepolia.base.org",
		ExplorerURL: "https://sepolia.basescan.org",
		USDC:        "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		NativeAsset: "ETH",
	},
}

// Networks lists the supported networks in a stable order.
func Networks() []Network {
	return []Network{NetworkBase, NetworkBaseSepolia}
}

// ParseNetwork maps a wire value onto a supported Network.
func ParseNetwork(s string) (Network, error) {
	n := Network(s)
	if _, ok := networks[n]; !ok {
		return "", &X402Error{
			Code:    ErrUnsupportedNetwork,
			Message: fmt.Sprintf("unsupported network: %q", s),
		}
	}
	return n, nil
}

// Info returns the static configuration for n. It panics for networks that
// did not come from ParseNetwork or the declared constants.
func (n Network) Info() NetworkInfo {
	info, ok := networks[n]
	if !ok {
		panic(fmt.Sprintf("types: unknown network %q", string(n)))
	}
	return info
}

// ChainID returns the EIP-155 chain id of n.
func (n Network) ChainID() *big.Int {
	return new(big.Int).Set(n.Info().ChainID)
}

// TxURL returns the block-explorer link for a transaction hash on n.
func (n Network) TxURL(txHash string) string {
	return n.Info().ExplorerURL + "/tx/" + txHash
}

func (n Network) IsTestnet() bool {
	return n == NetworkBaseSepolia
}

func (n Network) String() string {
	return string(n)
}
