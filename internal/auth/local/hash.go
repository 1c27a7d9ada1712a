package local

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Supported digest algorithms.
const (
	AlgArgon2id = "argon2id"
	AlgArgon2i  = "argon2i"
	AlgBcrypt   = "bcrypt"
)

// ErrUnsupportedDigest indicates a stored digest that cannot be parsed.
var ErrUnsupportedDigest = errors.New("unsupported password digest")

// Argon2Params are the cost parameters of an argon2 digest.
type Argon2Params struct {
	Memory  uint32
	Time    uint32
	Threads uint8
	SaltLen int
	KeyLen  uint32
}

// DefaultArgon2Params matches the argon2id defaults of the reference PHC
// implementations (m=19456, t=2, p=1).
var DefaultArgon2Params = Argon2Params{
	Memory:  19 * 1024,
	Time:    2,
	Threads: 1,
	SaltLen: 16,
	KeyLen:  32,
}

var b64 = base64.RawStdEncoding

// argon2Digest is a parsed PHC string:
// $argon2id$v=19$m=19456,t=2,p=1$<salt>$<hash>
type argon2Digest struct {
	variant string
	params  Argon2Params
	salt    []byte
	hash    []byte
}

// HashPassword returns an argon2id PHC digest of password with a random salt.
func HashPassword(password string, p Argon2Params) (string, error) {
	if p.SaltLen <= 0 || p.KeyLen == 0 || p.Time == 0 || p.Threads == 0 {
		return "", fmt.Errorf("invalid argon2 parameters")
	}
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		AlgArgon2id, argon2.Version, p.Memory, p.Time, p.Threads,
		b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// Algorithm identifies the digest algorithm of a stored value.
func Algorithm(digest string) (string, error) {
	switch {
	case strings.HasPrefix(digest, "$"+AlgArgon2id+"$"):
		return AlgArgon2id, nil
	case strings.HasPrefix(digest, "$"+AlgArgon2i+"$"):
		return AlgArgon2i, nil
	case strings.HasPrefix(digest, "$2a$"), strings.HasPrefix(digest, "$2b$"), strings.HasPrefix(digest, "$2y$"):
		return AlgBcrypt, nil
	default:
		return "", ErrUnsupportedDigest
	}
}

// VerifyPassword reports whether password matches digest. The salt and
// cost parameters are taken from the digest so verification is
// deterministic. A malformed digest is an error, a mismatch is not.
func VerifyPassword(password, digest string) (bool, error) {
	alg, err := Algorithm(digest)
	if err != nil {
		return false, err
	}

	if alg == AlgBcrypt {
		err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(password))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, fmt.Errorf("%w: %v", ErrUnsupportedDigest, err)
		}
	}

	d, err := parseArgon2(digest)
	if err != nil {
		return false, err
	}

	var key []byte
	if d.variant == AlgArgon2id {
		key = argon2.IDKey([]byte(password), d.salt, d.params.Time, d.params.Memory, d.params.Threads, d.params.KeyLen)
	} else {
		key = argon2.Key([]byte(password), d.salt, d.params.Time, d.params.Memory, d.params.Threads, d.params.KeyLen)
	}
	return subtle.ConstantTimeCompare(key, d.hash) == 1, nil
}

func parseArgon2(digest string) (*argon2Digest, error) {
	// "", variant, version, params, salt, hash
	parts := strings.Split(digest, "$")
	if len(parts) != 6 {
		return nil, fmt.Errorf("%w: expected 5 fields", ErrUnsupportedDigest)
	}

	d := &argon2Digest{variant: parts[1]}

	version, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return nil, fmt.Errorf("%w: missing version", ErrUnsupportedDigest)
	}
	if v, err := strconv.Atoi(version); err != nil || v != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported argon2 version %q", ErrUnsupportedDigest, version)
	}

	for _, kv := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("%w: bad parameter %q", ErrUnsupportedDigest, kv)
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("%w: bad parameter %q", ErrUnsupportedDigest, kv)
		}
		switch k {
		case "m":
			d.params.Memory = uint32(n)
		case "t":
			d.params.Time = uint32(n)
		case "p":
			if n > 255 {
				return nil, fmt.Errorf("%w: parallelism %d out of range", ErrUnsupportedDigest, n)
			}
			d.params.Threads = uint8(n)
		default:
			return nil, fmt.Errorf("%w: unknown parameter %q", ErrUnsupportedDigest, k)
		}
	}
	if d.params.Memory == 0 || d.params.Time == 0 || d.params.Threads == 0 {
		return nil, fmt.Errorf("%w: missing cost parameter", ErrUnsupportedDigest)
	}

	var err error
	if d.salt, err = b64.DecodeString(parts[4]); err != nil || len(d.salt) == 0 {
		return nil, fmt.Errorf("%w: bad salt", ErrUnsupportedDigest)
	}
	if d.hash, err = b64.DecodeString(parts[5]); err != nil || len(d.hash) == 0 {
		return nil, fmt.Errorf("%w: bad hash", ErrUnsupportedDigest)
	}
	d.params.SaltLen = len(d.salt)
	d.params.KeyLen = uint32(len(d.hash))
	return d, nil
}
