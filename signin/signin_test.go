package signin

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basehealth/x402/clients/clientstest"
	"github.com/basehealth/x402/signature"
	"github.com/basehealth/x402/types"
	"github.com/basehealth/x402/utils"
)

const (
	host    = "care.example.com"
	chainID = 84532
)

var issued = time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

type countingChecker struct {
	calls int
	next  SignatureChecker
}

func (c *countingChecker) VerifyWalletMessageSignature(ctx context.Context, req signature.Request) signature.Result {
	c.calls++
	return c.next.VerifyWalletMessageSignature(ctx, req)
}

type fixture struct {
	checker *countingChecker
	v       *Verifier
	address string
	nonce   string
	sign    func(msg string) string
}

func newFixture(t *testing.T, at time.Time) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	checker := &countingChecker{
		next: signature.NewVerifier(clientstest.NewReader(types.NetworkBaseSepolia.ChainID())),
	}
	return &fixture{
		checker: checker,
		v:       NewVerifier(checker, chainID, WithClock(func() time.Time { return at })),
		address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		nonce:   NewNonce(),
		sign: func(msg string) string {
			sig, err := utils.SignPersonalMessage(msg, key)
			require.NoError(t, err)
			return sig
		},
	}
}

func (f *fixture) message() *Message {
	return &Message{
		Domain:   host,
		Address:  f.address,
		Version:  Version,
		ChainID:  chainID,
		Nonce:    f.nonce,
		IssuedAt: issued,
	}
}

func (f *fixture) attempt(m *Message) Attempt {
	raw := m.String()
	return Attempt{
		Address:       f.address,
		Message:       raw,
		Signature:     f.sign(raw),
		ExpectedNonce: f.nonce,
		Host:          host,
	}
}

func TestSignInValid(t *testing.T) {
	f := newFixture(t, issued.Add(time.Minute))

	res := f.v.Verify(context.Background(), f.attempt(f.message()))
	require.True(t, res.Valid, res.Reason)
	assert.Equal(t, f.address, res.Address)
	assert.False(t, res.IsContractWallet)
	require.NotNil(t, res.Message)
	assert.Equal(t, f.nonce, res.Message.Nonce)
	assert.Equal(t, 1, f.checker.calls)
}

func TestSignInLowercaseAddressMatches(t *testing.T) {
	f := newFixture(t, issued.Add(time.Minute))
	m := f.message()
	m.Address = strings.ToLower(f.address)

	res := f.v.Verify(context.Background(), f.attempt(m))
	require.True(t, res.Valid, res.Reason)
}

func TestSignInSingleFieldMutations(t *testing.T) {
	cases := []struct {
		name    string
		message func(m *Message)
		attempt func(a *Attempt)
		code    string
	}{
		{name: "nonce", attempt: func(a *Attempt) { a.ExpectedNonce = NewNonce() }, code: CodeNonceMismatch},
		{name: "missing cookie", attempt: func(a *Attempt) { a.ExpectedNonce = "" }, code: CodeNonceMismatch},
		{name: "domain", attempt: func(a *Attempt) { a.Host = "evil.example.com" }, code: CodeDomainMismatch},
		{name: "chain", message: func(m *Message) { m.ChainID = 8453 }, code: CodeChainMismatch},
		{name: "stale", message: func(m *Message) { m.IssuedAt = issued.Add(-11 * time.Minute) }, code: CodeStale},
		{name: "future", message: func(m *Message) { m.IssuedAt = issued.Add(5 * time.Minute) }, code: CodeStale},
		{name: "address", message: func(m *Message) { m.Address = "0x000000000000000000000000000000000000dEaD" }, code: CodeAddressMismatch},
		{name: "version", message: func(m *Message) { m.Version = "2" }, code: CodeUnsupportedVersion},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(t, issued.Add(time.Minute))
			m := f.message()
			if c.message != nil {
				c.message(m)
			}
			a := f.attempt(m)
			if c.attempt != nil {
				c.attempt(&a)
			}

			res := f.v.Verify(context.Background(), a)
			require.False(t, res.Valid)
			assert.Equal(t, c.code, res.Code, res.Reason)
			assert.Zero(t, f.checker.calls, "signature is checked last")
		})
	}
}

func TestSignInBadSignature(t *testing.T) {
	f := newFixture(t, issued.Add(time.Minute))
	a := f.attempt(f.message())
	a.Signature = f.sign("something else")

	res := f.v.Verify(context.Background(), a)
	require.False(t, res.Valid)
	assert.Equal(t, CodeInvalidSignature, res.Code)
	assert.Equal(t, 1, f.checker.calls)
}

func TestSignInMalformed(t *testing.T) {
	f := newFixture(t, issued)
	res := f.v.Verify(context.Background(), Attempt{
		Address: f.address, Message: "hello", Signature: "0x00", ExpectedNonce: f.nonce, Host: host,
	})
	assert.Equal(t, CodeMalformed, res.Code)
}

func TestSignInFreshnessConfigurable(t *testing.T) {
	f := newFixture(t, issued.Add(3*time.Minute))
	f.v = NewVerifier(f.checker, chainID,
		WithFreshness(2*time.Minute),
		WithClock(func() time.Time { return issued.Add(3 * time.Minute) }),
	)

	res := f.v.Verify(context.Background(), f.attempt(f.message()))
	assert.Equal(t, CodeStale, res.Code)
}

func TestChallengeRoundTrip(t *testing.T) {
	v := NewVerifier(&countingChecker{}, chainID, WithClock(func() time.Time { return issued.Add(500 * time.Millisecond) }))
	m := v.Challenge(host, "0x5FbDB2315678afecb367f032d93F642f64180aa3", "abc123", "Sign in to the marketplace.", "https://care.example.com")

	parsed, err := ParseMessage(m.String())
	require.NoError(t, err)
	assert.Equal(t, m, parsed)
	assert.Equal(t, issued, parsed.IssuedAt)
}

func TestMessageString(t *testing.T) {
	m := &Message{
		Domain:   host,
		Address:  "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		Version:  "1",
		ChainID:  84532,
		Nonce:    "n0nce",
		IssuedAt: issued,
	}
	want := "care.example.com wants you to sign in with your Ethereum account:\n" +
		"0x5FbDB2315678afecb367f032d93F642f64180aa3\n\n" +
		"Version: 1\n" +
		"Chain ID: 84532\n" +
		"Nonce: n0nce\n" +
		"Issued At: 2026-04-02T09:00:00Z"
	assert.Equal(t, want, m.String())
}

func TestParseMessageRejects(t *testing.T) {
	valid := (&Message{
		Domain: host, Address: "0xabc", Version: "1", ChainID: 1, Nonce: "n", IssuedAt: issued,
	}).String()

	cases := map[string]string{
		"no header":       strings.Replace(valid, " wants you to sign in", " would like", 1),
		"duplicate nonce": valid + "\nNonce: other",
		"missing nonce":   strings.Replace(valid, "Nonce: n\n", "", 1),
		"bad chain":       strings.Replace(valid, "Chain ID: 1", "Chain ID: one", 1),
		"bad time":        strings.Replace(valid, "2026-04-02T09:00:00Z", "yesterday", 1),
		"trailing text":   valid + "\nP.S. hi",
		"empty nonce":     strings.Replace(valid, "Nonce: n", "Nonce: ", 1),
		"too short":       "x",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMessage(raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedMessage))
		})
	}
}

func TestParseMessageCRLF(t *testing.T) {
	m := &Message{Domain: host, Address: "0xabc", Statement: "hi", Version: "1", ChainID: 1, Nonce: "n", IssuedAt: issued}
	parsed, err := ParseMessage(strings.ReplaceAll(m.String(), "\n", "\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "hi", parsed.Statement)
}

func TestNewNonce(t *testing.T) {
	a, b := NewNonce(), NewNonce()
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
