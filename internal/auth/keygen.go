package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
)

// Admin keys look like sak_{env}_{prefix}_{secret}, for example
// sak_live_7a9x3k_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b. The prefix is safe to
// log and identifies the key; the secret is never stored.
const (
	KeyPrefixLen = 6
	KeySecretLen = 32

	keyScheme = "sak"
)

// Environment indicators for the key prefix.
const (
	EnvLive = "live"
	EnvTest = "test"
)

// ErrInvalidKeyFormat indicates the key format is invalid.
var ErrInvalidKeyFormat = errors.New("invalid admin key format")

var adminKeyPattern = regexp.MustCompile(fmt.Sprintf(`^%s_(%s|%s)_([a-f0-9]{%d})_([a-f0-9]{%d})$`,
	keyScheme, EnvLive, EnvTest, KeyPrefixLen, KeySecretLen))

// GeneratedKey is a freshly minted admin key. Plaintext is shown to the
// operator once; Hash goes into ADMIN_KEY_HASH.
type GeneratedKey struct {
	Plaintext string
	Hash      string
	Prefix    string
}

// ParsedKey holds the components of a plaintext admin key.
type ParsedKey struct {
	Env    string
	Prefix string
	Secret string
}

func randomHex(chars int) (string, error) {
	buf := make([]byte, chars/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// GenerateAdminKey mints a key for env. Anything other than EnvTest
// produces a live key.
func GenerateAdminKey(env string) (*GeneratedKey, error) {
	if env != EnvTest {
		env = EnvLive
	}

	prefix, err := randomHex(KeyPrefixLen)
	if err != nil {
		return nil, fmt.Errorf("generate prefix: %w", err)
	}
	secret, err := randomHex(KeySecretLen)
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	key := &GeneratedKey{
		Plaintext: fmt.Sprintf("%s_%s_%s_%s", keyScheme, env, prefix, secret),
		Prefix:    prefix,
	}
	if key.Hash, err = HashKey(key.Plaintext); err != nil {
		return nil, fmt.Errorf("hash key: %w", err)
	}
	return key, nil
}

// ParseAdminKey splits a plaintext admin key into its parts.
func ParseAdminKey(key string) (*ParsedKey, error) {
	m := adminKeyPattern.FindStringSubmatch(key)
	if m == nil {
		return nil, ErrInvalidKeyFormat
	}
	return &ParsedKey{Env: m[1], Prefix: m[2], Secret: m[3]}, nil
}

// ValidateKeyFormat reports whether key is a well-formed admin key.
func ValidateKeyFormat(key string) bool {
	return adminKeyPattern.MatchString(key)
}
