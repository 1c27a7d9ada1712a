package local

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// cheapParams keep the tests fast.
var cheapParams = Argon2Params{Memory: 64, Time: 1, Threads: 1, SaltLen: 16, KeyLen: 32}

func TestHashPassword_Format(t *testing.T) {
	t.Parallel()

	digest, err := HashPassword("correcthorse", cheapParams)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(digest, "$argon2id$v=19$m=64,t=1,p=1$"), digest)
	assert.Len(t, strings.Split(digest, "$"), 6)

	alg, err := Algorithm(digest)
	require.NoError(t, err)
	assert.Equal(t, AlgArgon2id, alg)
}

func TestHashPassword_RandomSalt(t *testing.T) {
	t.Parallel()

	a, err := HashPassword("same", cheapParams)
	require.NoError(t, err)
	b, err := HashPassword("same", cheapParams)
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "each digest gets its own salt")

	for _, d := range []string{a, b} {
		ok, err := VerifyPassword("same", d)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestHashPassword_InvalidParams(t *testing.T) {
	t.Parallel()

	_, err := HashPassword("x", Argon2Params{})
	assert.Error(t, err)
}

func TestVerifyPassword_Deterministic(t *testing.T) {
	t.Parallel()

	digest, err := HashPassword("correcthorse", cheapParams)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ok, err := VerifyPassword("correcthorse", digest)
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d", i)
	}

	ok, err := VerifyPassword("correcthorsf", digest)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyPassword_KnownVector(t *testing.T) {
	t.Parallel()

	// Built from a fixed salt so the digest is independent of HashPassword.
	salt := []byte("0123456789abcdef")
	key := argon2.IDKey([]byte("secret"), salt, 1, 64, 1, 32)
	digest := "$argon2id$v=19$m=64,t=1,p=1$" + b64.EncodeToString(salt) + "$" + b64.EncodeToString(key)

	ok, err := VerifyPassword("secret", digest)
	require.NoError(t, err)
	assert.True(t, ok)

	ikey := argon2.Key([]byte("secret"), salt, 1, 64, 1, 32)
	idigest := "$argon2i$v=19$m=64,t=1,p=1$" + b64.EncodeToString(salt) + "$" + b64.EncodeToString(ikey)

	ok, err = VerifyPassword("secret", idigest)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("secret", "$argon2i$v=19$m=64,t=1,p=1$"+b64.EncodeToString(salt)+"$"+b64.EncodeToString(key))
	require.NoError(t, err)
	assert.False(t, ok, "variant is part of the digest")
}

func TestVerifyPassword_Bcrypt(t *testing.T) {
	t.Parallel()

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	ok, err := VerifyPassword("hunter2", string(hash))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("hunter3", string(hash))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = VerifyPassword("x", "$2a$10$short")
	assert.ErrorIs(t, err, ErrUnsupportedDigest)
}

func TestVerifyPassword_Malformed(t *testing.T) {
	t.Parallel()

	salt := b64.EncodeToString([]byte("0123456789abcdef"))
	hash := b64.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))

	tests := []struct {
		name   string
		digest string
	}{
		{name: "plaintext", digest: "correcthorse"},
		{name: "unknown algorithm", digest: "$scrypt$ln=15,r=8,p=1$abc$def"},
		{name: "missing fields", digest: "$argon2id$v=19$m=64,t=1,p=1$" + salt},
		{name: "no version", digest: "$argon2id$m=64,t=1,p=1$" + salt + "$" + hash + "$x"},
		{name: "bad version prefix", digest: "$argon2id$x=19$m=64,t=1,p=1$" + salt + "$" + hash},
		{name: "old version", digest: "$argon2id$v=16$m=64,t=1,p=1$" + salt + "$" + hash},
		{name: "param without value", digest: "$argon2id$v=19$m,t=1,p=1$" + salt + "$" + hash},
		{name: "zero memory", digest: "$argon2id$v=19$m=0,t=1,p=1$" + salt + "$" + hash},
		{name: "missing time", digest: "$argon2id$v=19$m=64,p=1$" + salt + "$" + hash},
		{name: "unknown param", digest: "$argon2id$v=19$m=64,t=1,p=1,x=2$" + salt + "$" + hash},
		{name: "parallelism too big", digest: "$argon2id$v=19$m=64,t=1,p=300$" + salt + "$" + hash},
		{name: "bad salt", digest: "$argon2id$v=19$m=64,t=1,p=1$!!!$" + hash},
		{name: "empty hash", digest: "$argon2id$v=19$m=64,t=1,p=1$" + salt + "$"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ok, err := VerifyPassword("anything", tt.digest)
			assert.False(t, ok)
			assert.ErrorIs(t, err, ErrUnsupportedDigest)
		})
	}
}
