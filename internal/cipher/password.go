package cipher

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	dErrors "vigil/pkg/domain-errors"
)

// argon2id parameters follow the RFC 9106 low-memory profile; passwords are
// verified rarely enough that 64 MiB per hash is acceptable.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// HashPassword produces a memory-hard, per-password-salted hash in the
// standard $argon2id$ encoded form. Never reversible.
func (s *Service) HashPassword(password string) (string, error) {
	if password == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "password cannot be empty")
	}

	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not generate salt")
	}

	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	enc := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		enc.EncodeToString(salt), enc.EncodeToString(key)), nil
}

// VerifyPassword checks a password against an encoded hash in constant time.
func (s *Service) VerifyPassword(password, encoded string) bool {
	salt, key, memory, time, threads, ok := parseArgon2Hash(encoded)
	if !ok {
		return false
	}
	candidate := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(candidate, key) == 1
}

func parseArgon2Hash(encoded string) (salt, key []byte, memory uint32, time uint32, threads uint8, ok bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, nil, 0, 0, 0, false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, nil, 0, 0, 0, false
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return nil, nil, 0, 0, 0, false
	}

	enc := base64.RawStdEncoding
	var err error
	if salt, err = enc.DecodeString(parts[4]); err != nil {
		return nil, nil, 0, 0, 0, false
	}
	if key, err = enc.DecodeString(parts[5]); err != nil {
		return nil, nil, 0, 0, 0, false
	}
	return salt, key, memory, time, threads, true
}
