package clients

// Invalid reasons reported by the exact-scheme verifier. Each failure path has
// its own string so callers can tell why a payment was rejected.
const (
	// -----------------------------
	// ENVELOPE / PROTOCOL
	// -----------------------------
	ReasonInvalidPaymentHeader = "Invalid payment header"
	ReasonVersionMismatch      = "x402Version mismatch"
	ReasonSchemeMismatch       = "Scheme mismatch"
	ReasonNetworkMismatch      = "Network mismatch"
	ReasonInvalidRequirements  = "Invalid payment requirements"
	ReasonNetworkUnavailable   = "Network unavailable"

	// -----------------------------
	// STRUCTURE
	// -----------------------------
	ReasonInvalidTxHash       = "Invalid transaction hash format"
	ReasonInvalidFrom         = "Invalid sender address"
	ReasonInvalidTo           = "Invalid recipient address"
	ReasonInvalidPayTo        = "Invalid payTo address in requirements"
	ReasonInvalidAsset        = "Invalid asset address in requirements"
	ReasonInvalidAmount       = "Invalid payment amount"
	ReasonInvalidRequiredAmnt = "Invalid maxAmountRequired in requirements"

	// -----------------------------
	// MATCHING
	// -----------------------------
	ReasonRecipientMismatch  = "Recipient mismatch"
	ReasonInsufficientAmount = "Insufficient amount"
	ReasonPaymentAlreadyUsed = "Payment already used"

	// -----------------------------
	// ON-CHAIN
	// -----------------------------
	ReasonTxNotFound          = "Transaction receipt not found"
	ReasonReceiptFetchFailed  = "Failed to fetch transaction receipt"
	ReasonTxFailed            = "Transaction failed on-chain"
	ReasonBlockNotFound       = "Block not found for transaction"
	ReasonTxTooOld            = "Transaction too old"
	ReasonNativeTxNotFound    = "Transaction not found"
	ReasonNativeRecipient     = "Native transfer recipient mismatch"
	ReasonNativeSender        = "Native transfer sender mismatch"
	ReasonNativeValue         = "Native transfer value insufficient"
	ReasonNoMatchingTransfer  = "No matching ERC20 transfer found in transaction logs"
	ReasonUnexpectedVerifyErr = "Unexpected verification error"
)
