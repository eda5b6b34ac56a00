package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

// Generate creates a cryptographically secure random secret.
// Returns a base64-encoded string suitable for use as credential material,
// API keys, etc.
func Generate() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// backupCodeAlphabet avoids visually ambiguous characters (0/O, 1/I/L) so
// codes survive being read over the phone or typed from paper.
const backupCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// GenerateBackupCode produces a single human-typeable recovery code in the
// form XXXX-XXXX.
func GenerateBackupCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate backup code: %w", err)
	}
	var sb strings.Builder
	for i, b := range buf {
		if i == 4 {
			sb.WriteByte('-')
		}
		sb.WriteByte(backupCodeAlphabet[int(b)%len(backupCodeAlphabet)])
	}
	return sb.String(), nil
}

// GenerateBackupCodes produces n freshly drawn codes. Collisions within a
// batch are regenerated so the returned set never contains duplicates.
func GenerateBackupCodes(n int) ([]string, error) {
	codes := make([]string, 0, n)
	seen := make(map[string]struct{}, n)
	for len(codes) < n {
		code, err := GenerateBackupCode()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}

// NormalizeBackupCode canonicalizes user input before comparison: trimmed,
// upper-cased, separator optional.
func NormalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.ReplaceAll(code, "-", "")
}
