package cipher

import (
	"encoding/base64"
	"fmt"
	"strings"

	dErrors "vigil/pkg/domain-errors"
)

// EncryptedPayload is self-describing: every field needed to decrypt travels
// with the payload. ContextTag binds field-level payloads to the logical
// field and subject they were encrypted for; it is empty for plain Encrypt.
// The GCM authentication tag is appended to Ciphertext.
type EncryptedPayload struct {
	KeyID      string
	ContextTag []byte
	Nonce      []byte
	Ciphertext []byte
}

const tokenVersion = "v1"

// Token renders the payload as a compact dot-separated string suitable for
// storage in text columns.
func (p *EncryptedPayload) Token() string {
	enc := base64.RawURLEncoding
	return strings.Join([]string{
		tokenVersion,
		p.KeyID,
		enc.EncodeToString(p.ContextTag),
		enc.EncodeToString(p.Nonce),
		enc.EncodeToString(p.Ciphertext),
	}, ".")
}

// ParseToken is the inverse of Token. Malformed tokens are reported as
// decryption failures so callers get one uniform error surface.
func ParseToken(token string) (*EncryptedPayload, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 5 || parts[0] != tokenVersion {
		return nil, dErrors.New(dErrors.CodeDecryptionFailed, "malformed payload token")
	}

	enc := base64.RawURLEncoding
	decode := func(s, what string) ([]byte, error) {
		if s == "" {
			return nil, nil
		}
		b, err := enc.DecodeString(s)
		if err != nil {
			return nil, dErrors.New(dErrors.CodeDecryptionFailed, fmt.Sprintf("malformed payload %s", what))
		}
		return b, nil
	}

	tag, err := decode(parts[2], "context tag")
	if err != nil {
		return nil, err
	}
	nonce, err := decode(parts[3], "nonce")
	if err != nil {
		return nil, err
	}
	ct, err := decode(parts[4], "ciphertext")
	if err != nil {
		return nil, err
	}

	return &EncryptedPayload{
		KeyID:      parts[1],
		ContextTag: tag,
		Nonce:      nonce,
		Ciphertext: ct,
	}, nil
}
