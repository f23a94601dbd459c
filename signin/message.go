// Package signin implements the wallet sign-in challenge: a canonical,
// EIP-4361 style message binding a server nonce, the serving domain and the
// configured chain to a wallet address.
package signin

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Version is the only message version accepted.
const Version = "1"

const headerSuffix = " wants you to sign in with your Ethereum account:"

const (
	fieldURI      = "URI: "
	fieldVersion  = "Version: "
	fieldChainID  = "Chain ID: "
	fieldNonce    = "Nonce: "
	fieldIssuedAt = "Issued At: "
)

var ErrMalformedMessage = errors.New("malformed sign-in message")

// Message is a parsed sign-in challenge.
type Message struct {
	Domain    string
	Address   string
	Statement string
	URI       string
	Version   string
	ChainID   int64
	Nonce     string
	IssuedAt  time.Time
}

// NewNonce returns a fresh single-use nonce.
func NewNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// String renders the canonical form that wallets sign.
func (m *Message) String() string {
	var b strings.Builder
	b.WriteString(m.Domain)
	b.WriteString(headerSuffix)
	b.WriteByte('\n')
	b.WriteString(m.Address)
	b.WriteString("\n\n")
	if m.Statement != "" {
		b.WriteString(m.Statement)
		b.WriteString("\n\n")
	}
	if m.URI != "" {
		b.WriteString(fieldURI + m.URI + "\n")
	}
	b.WriteString(fieldVersion + m.Version + "\n")
	b.WriteString(fieldChainID + strconv.FormatInt(m.ChainID, 10) + "\n")
	b.WriteString(fieldNonce + m.Nonce + "\n")
	b.WriteString(fieldIssuedAt + m.IssuedAt.UTC().Format(time.RFC3339))
	return b.String()
}

// ParseMessage parses the canonical form produced by String. Unknown field
// lines, repeated fields and missing required fields are rejected.
func ParseMessage(raw string) (*Message, error) {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	lines := strings.Split(raw, "\n")
	if len(lines) < 3 {
		return nil, fmt.Errorf("%w: too few lines", ErrMalformedMessage)
	}

	domain, ok := strings.CutSuffix(lines[0], headerSuffix)
	if !ok || domain == "" {
		return nil, fmt.Errorf("%w: missing header", ErrMalformedMessage)
	}

	m := &Message{Domain: domain, Address: strings.TrimSpace(lines[1])}
	if m.Address == "" {
		return nil, fmt.Errorf("%w: missing address", ErrMalformedMessage)
	}

	seen := make(map[string]bool)
	set := func(field string) error {
		if seen[field] {
			return fmt.Errorf("%w: duplicate %q", ErrMalformedMessage, strings.TrimSpace(field))
		}
		seen[field] = true
		return nil
	}

	for _, line := range lines[2:] {
		var err error
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, fieldURI):
			err = set(fieldURI)
			m.URI = strings.TrimPrefix(line, fieldURI)
		case strings.HasPrefix(line, fieldVersion):
			err = set(fieldVersion)
			m.Version = strings.TrimPrefix(line, fieldVersion)
		case strings.HasPrefix(line, fieldChainID):
			if err = set(fieldChainID); err == nil {
				m.ChainID, err = strconv.ParseInt(strings.TrimPrefix(line, fieldChainID), 10, 64)
				if err != nil {
					err = fmt.Errorf("%w: bad chain id", ErrMalformedMessage)
				}
			}
		case strings.HasPrefix(line, fieldNonce):
			err = set(fieldNonce)
			m.Nonce = strings.TrimPrefix(line, fieldNonce)
		case strings.HasPrefix(line, fieldIssuedAt):
			if err = set(fieldIssuedAt); err == nil {
				m.IssuedAt, err = time.Parse(time.RFC3339, strings.TrimPrefix(line, fieldIssuedAt))
				if err != nil {
					err = fmt.Errorf("%w: bad issued-at", ErrMalformedMessage)
				}
			}
		default:
			// Free text is only allowed before the first field.
			if len(seen) > 0 || m.Statement != "" {
				return nil, fmt.Errorf("%w: unexpected line %q", ErrMalformedMessage, line)
			}
			m.Statement = line
		}
		if err != nil {
			return nil, err
		}
	}

	for _, f := range []string{fieldVersion, fieldChainID, fieldNonce, fieldIssuedAt} {
		if !seen[f] {
			return nil, fmt.Errorf("%w: missing %q", ErrMalformedMessage, strings.TrimSpace(f))
		}
	}
	if m.Nonce == "" {
		return nil, fmt.Errorf("%w: empty nonce", ErrMalformedMessage)
	}

	return m, nil
}
