package types

// NativeAssetMarker is the asset value that, like an empty asset, selects the
// chain's native currency.
const NativeAssetMarker = "0x0000000000000000000000000000000000000000"

// ExactPayload is the client's proof for the "exact" scheme: the hash of the
// transaction that settled the payment plus the transfer it claims to contain.
type ExactPayload struct {
	TxHash string `json:"txHash" validate:"required"`
	From   string `json:"from" validate:"required"`
	To     string `json:"to" validate:"required"`
	Amount string `json:"amount" validate:"required"`
}
