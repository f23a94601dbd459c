package utils

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basehealth/x402/types"
)

func samplePayload() *types.PaymentPayload {
	return &types.PaymentPayload{
		X402Version: 1,
		Scheme:      types.SchemeExact,
		Network:     types.NetworkBaseSepolia,
		Exact: &types.ExactPayload{
			TxHash: "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060",
			From:   "0xBbBBbBbbBBbBbbbBbbBbbbbBBbBbbbbBbBbbBBbB",
			To:     "0xAAAaAAaAaaAaaAAAaaaaaAaaAAaAAaaAaaaAAaAA",
			Amount: "1000000",
		},
	}
}

func TestPaymentHeaderRoundTrip(t *testing.T) {
	p := samplePayload()
	header, err := EncodePaymentHeader(p)
	require.NoError(t, err)

	decoded, err := DecodePaymentHeader(header)
	require.NoError(t, err)
	assert.Equal(t, p, decoded)
}

func TestDecodeAcceptsURLSafeBase64(t *testing.T) {
	header, err := EncodePaymentHeader(samplePayload())
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(header)
	require.NoError(t, err)

	decoded, err := DecodePaymentHeader(base64.RawURLEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, samplePayload(), decoded)
}

func TestDecodeRejectsCorruptInput(t *testing.T) {
	header, err := EncodePaymentHeader(samplePayload())
	require.NoError(t, err)

	enc := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

	cases := map[string]struct {
		header string
		code   string
	}{
		"empty":            {"", types.ErrInvalidPayload},
		"truncated":        {header[:len(header)/2], types.ErrInvalidPayload},
		"not base64":       {"%%%%", types.ErrInvalidPayload},
		"not json":         {enc("hello"), types.ErrInvalidPayload},
		"missing payload":  {enc(`{"x402Version":1,"scheme":"exact","network":"base"}`), types.ErrInvalidPayload},
		"unknown scheme":   {enc(`{"x402Version":1,"scheme":"upto","network":"base","payload":{}}`), types.ErrUnsupportedScheme},
		"unknown network":  {enc(`{"x402Version":1,"scheme":"exact","network":"polygon","payload":{}}`), types.ErrUnsupportedNetwork},
		"zero version":     {enc(`{"x402Version":0,"scheme":"exact","network":"base","payload":{}}`), types.ErrInvalidPayload},
		"missing tx hash":  {enc(`{"x402Version":1,"scheme":"exact","network":"base","payload":{"from":"0x1","to":"0x2","amount":"1"}}`), types.ErrInvalidPayload},
		"extra field":      {enc(`{"x402Version":1,"scheme":"exact","network":"base","payload":{"txHash":"0x1","from":"0x1","to":"0x2","amount":"1","signature":"0x"}}`), types.ErrInvalidPayload},
		"payload is array": {enc(`{"x402Version":1,"scheme":"exact","network":"base","payload":[]}`), types.ErrInvalidPayload},
	}

	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodePaymentHeader(c.header)
			require.Error(t, err)
			var xerr *types.X402Error
			require.True(t, errors.As(err, &xerr), "got %T", err)
			assert.Equal(t, c.code, xerr.Code)
		})
	}
}

func TestEncodeRejectsIncompletePayload(t *testing.T) {
	_, err := EncodePaymentHeader(nil)
	require.Error(t, err)

	p := samplePayload()
	p.Exact = nil
	_, err = EncodePaymentHeader(p)
	require.Error(t, err)

	p = samplePayload()
	p.Scheme = "upto"
	_, err = EncodePaymentHeader(p)
	require.Error(t, err)
}

func TestParsePaymentRequirements(t *testing.T) {
	req, err := ParsePaymentRequirements([]byte(`{
		"scheme": "exact",
		"network": "base-sepolia",
		"payTo": "0xAAAaAAaAaaAaaAAAaaaaaAaaAAaAAaaAaaaAAaAA",
		"asset": "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		"maxAmountRequired": "1000000",
		"maxTimeoutSeconds": 300
	}`))
	require.NoError(t, err)
	assert.Equal(t, 300, req.MaxTimeoutSeconds)
	assert.False(t, req.IsNative())

	bad := map[string]string{
		"bad json":     `{`,
		"bad payTo":    `{"scheme":"exact","network":"base","payTo":"0x12","maxAmountRequired":"1"}`,
		"bad amount":   `{"scheme":"exact","network":"base","payTo":"0xAAAaAAaAaaAaaAAAaaaaaAaaAAaAAaaAaaaAAaAA","maxAmountRequired":"1.5"}`,
		"bad scheme":   `{"scheme":"stream","network":"base","payTo":"0xAAAaAAaAaaAaaAAAaaaaaAaaAAaAAaaAaaaAAaAA","maxAmountRequired":"1"}`,
		"bad network":  `{"scheme":"exact","network":"solana","payTo":"0xAAAaAAaAaaAaaAAAaaaaaAaaAAaAAaaAaaaAAaAA","maxAmountRequired":"1"}`,
		"missing asks": `{"scheme":"exact","network":"base"}`,
	}
	for name, body := range bad {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePaymentRequirements([]byte(body))
			require.Error(t, err)
			var xerr *types.X402Error
			require.True(t, errors.As(err, &xerr))
			assert.Equal(t, types.ErrInvalidRequirements, xerr.Code)
		})
	}
}
