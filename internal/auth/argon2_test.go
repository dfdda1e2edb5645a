package auth

import (
	"errors"
	"strings"
	"testing"
)

const sampleAdminKey = "sak_live_abc123_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b"

func TestHashKey_EncodesDefaultParams(t *testing.T) {
	t.Parallel()

	hash, err := HashKey(sampleAdminKey)
	if err != nil {
		t.Fatalf("HashKey() error = %v", err)
	}

	const wantHead = "$argon2id$v=19$m=65536,t=3,p=4$"
	if !strings.HasPrefix(hash, wantHead) {
		t.Fatalf("HashKey() = %q, want prefix %q", hash, wantHead)
	}

	p, salt, key, err := decodeHash(hash)
	if err != nil {
		t.Fatalf("decodeHash() error = %v", err)
	}
	if p != defaultParams {
		t.Errorf("params = %+v, want %+v", p, defaultParams)
	}
	if len(salt) != saltLen || len(key) != int(defaultParams.keyLen) {
		t.Errorf("salt/key lengths = %d/%d", len(salt), len(key))
	}
}

func TestVerifyKey(t *testing.T) {
	t.Parallel()

	first, err := HashKey(sampleAdminKey)
	if err != nil {
		t.Fatalf("HashKey() error = %v", err)
	}
	second, _ := HashKey(sampleAdminKey)
	if first == second {
		t.Fatal("two hashes of one secret are identical; salt not random")
	}

	for _, hash := range []string{first, second} {
		if ok, err := VerifyKey(sampleAdminKey, hash); err != nil || !ok {
			t.Errorf("VerifyKey(correct) = %v, %v", ok, err)
		}
	}

	ok, err := VerifyKey("sak_live_abc123_00000000000000000000000000000000", first)
	if err != nil {
		t.Fatalf("VerifyKey(wrong) error = %v, mismatches are not errors", err)
	}
	if ok {
		t.Error("VerifyKey(wrong) matched")
	}
}

func TestVerifyKey_MalformedHash(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		hash    string
		wantErr error
	}{
		"empty":           {"", ErrInvalidHash},
		"not phc":         {"not-a-hash", ErrInvalidHash},
		"bcrypt":          {"$bcrypt$v=19$m=65536,t=3,p=4$salt$hash", ErrInvalidHash},
		"truncated":       {"$argon2id$v=19$m=65536", ErrInvalidHash},
		"leading junk":    {"x$argon2id$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA", ErrInvalidHash},
		"bad params":      {"$argon2id$v=19$m=x,t=3,p=4$c2FsdA$aGFzaA", ErrInvalidHash},
		"bad salt":        {"$argon2id$v=19$m=65536,t=3,p=4$!!!$aGFzaA", ErrInvalidHash},
		"empty key":       {"$argon2id$v=19$m=65536,t=3,p=4$c2FsdA$", ErrInvalidHash},
		"old version":     {"$argon2id$v=18$m=65536,t=3,p=4$c29tZXNhbHRoZXJl$c29tZWhhc2hoZXJl", ErrIncompatibleVersion},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ok, err := VerifyKey("secret", tt.hash)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("VerifyKey() error = %v, want %v", err, tt.wantErr)
			}
			if ok {
				t.Error("malformed hash matched")
			}
		})
	}
}

func TestQuickHash(t *testing.T) {
	t.Parallel()

	if QuickHash("input") != QuickHash("input") {
		t.Error("QuickHash is not deterministic")
	}
	if QuickHash("input-one") == QuickHash("input-two") {
		t.Error("distinct inputs collide")
	}
	for _, in := range []string{"", "abc", strings.Repeat("x", 1000)} {
		if got := len(QuickHash(in)); got != 32 {
			t.Errorf("len(QuickHash(%d bytes)) = %d, want 32", len(in), got)
		}
	}
}
