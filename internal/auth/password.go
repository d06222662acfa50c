// Package auth implements password hashing, bearer tokens, and API keys.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2Params tunes the argon2id hash.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
		SaltLen:     16,
		KeyLen:      32,
	}
}

// HashPassword returns a PHC-style argon2id string:
// argon2id$v=19$m=65536,t=3,p=4$<salt_b64>$<hash_b64>
func HashPassword(password string, p Argon2Params) (string, error) {
	if password == "" {
		return "", errors.New("password is required")
	}
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLen)
	enc := base64.RawStdEncoding
	return fmt.Sprintf("argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Iterations, p.Parallelism,
		enc.EncodeToString(salt), enc.EncodeToString(key)), nil
}

// VerifyPassword checks a password against an encoded hash in constant
// time. A malformed hash is an error; a mismatch is (false, nil).
func VerifyPassword(password, encoded string) (bool, error) {
	if password == "" || encoded == "" {
		return false, nil
	}
	p, salt, want, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// DummyVerify burns the same work as a real verification so failed
// username lookups are not distinguishable by timing.
func DummyVerify(password string) {
	p := DefaultArgon2Params()
	salt := make([]byte, p.SaltLen)
	argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLen)
}

func parsePHC(s string) (Argon2Params, []byte, []byte, error) {
	var (
		p          Argon2Params
		version    int
		saltB64    string
		hashB64    string
		badEncoded = errors.New("invalid password hash")
	)
	n, err := fmt.Sscanf(s, "argon2id$v=%d$m=%d,t=%d,p=%d$%s",
		&version, &p.Memory, &p.Iterations, &p.Parallelism, &saltB64)
	if err != nil || n != 5 {
		return Argon2Params{}, nil, nil, badEncoded
	}
	if version != argon2.Version {
		return Argon2Params{}, nil, nil, errors.New("unsupported argon2 version")
	}
	// Sscanf leaves "<salt>$<hash>" in the final verb.
	i := -1
	for j := 0; j < len(saltB64); j++ {
		if saltB64[j] == '$' {
			i = j
			break
		}
	}
	if i <= 0 || i == len(saltB64)-1 {
		return Argon2Params{}, nil, nil, badEncoded
	}
	hashB64 = saltB64[i+1:]
	saltB64 = saltB64[:i]

	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(saltB64)
	if err != nil {
		return Argon2Params{}, nil, nil, badEncoded
	}
	hash, err := enc.DecodeString(hashB64)
	if err != nil || len(hash) < 16 {
		return Argon2Params{}, nil, nil, badEncoded
	}
	return p, salt, hash, nil
}
