package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"

	"github.com/accountable/accountable-backend/pkg/config"
)

const (
	defaultMinPasswordLen = 8
	// maxPasswordBytes caps the work a single sign-in can ask argon2 to do.
	maxPasswordBytes = 1024
)

var (
	ErrInvalidHash  = errors.New("invalid argon2id hash")
	ErrWeakPassword = errors.New("password does not meet policy")
)

type argonParams struct {
	memory  uint32
	time    uint32
	threads uint8
	saltLen uint32
	keyLen  uint32
}

// Hasher stores passwords as argon2id strings in the PHC layout
// $argon2id$v=19$m=<KiB>,t=<passes>,p=<threads>$<salt>$<key>.
type Hasher struct {
	params    argonParams
	minLength int
}

func NewHasher(cfg config.PasswordConfig) *Hasher {
	minLength := cfg.MinLength
	if minLength <= 0 {
		minLength = defaultMinPasswordLen
	}
	return &Hasher{
		params: argonParams{
			memory:  uint32(clamp(cfg.ArgonMemoryKB, 8, 512*1024)),
			time:    uint32(clamp(cfg.ArgonTime, 1, 10)),
			threads: uint8(clamp(cfg.ArgonParallelism, 1, 255)),
			saltLen: uint32(clamp(cfg.ArgonSaltLen, 8, 64)),
			keyLen:  uint32(clamp(cfg.ArgonKeyLen, 16, 64)),
		},
		minLength: minLength,
	}
}

// CheckPolicy rejects passwords that are too short, too long or blank.
func (h *Hasher) CheckPolicy(password string) error {
	switch {
	case strings.TrimSpace(password) == "":
		return fmt.Errorf("%w: password is blank", ErrWeakPassword)
	case utf8.RuneCountInString(password) < h.minLength:
		return fmt.Errorf("%w: at least %d characters required", ErrWeakPassword, h.minLength)
	case len(password) > maxPasswordBytes:
		return fmt.Errorf("%w: at most %d bytes allowed", ErrWeakPassword, maxPasswordBytes)
	}
	return nil
}

func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	salt := make([]byte, h.params.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := h.params.derive(password, salt)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.memory, h.params.time, h.params.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks password against encoded. rehash is true for a match whose
// stored parameters differ from the current configuration, so the caller can
// store a fresh hash while it still holds the plaintext.
func (h *Hasher) Verify(password, encoded string) (match, rehash bool, err error) {
	if len(password) > maxPasswordBytes {
		return false, false, nil
	}
	stored, salt, key, err := parseHash(encoded)
	if err != nil {
		return false, false, err
	}
	if subtle.ConstantTimeCompare(key, stored.derive(password, salt)) != 1 {
		return false, false, nil
	}
	return true, stored != h.params, nil
}

func (p argonParams) derive(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, p.keyLen)
}

func parseHash(encoded string) (argonParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return argonParams{}, nil, nil, ErrInvalidHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return argonParams{}, nil, nil, ErrInvalidHash
	}

	var p argonParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return argonParams{}, nil, nil, ErrInvalidHash
	}
	if p.memory == 0 || p.time == 0 || p.threads == 0 {
		return argonParams{}, nil, nil, ErrInvalidHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return argonParams{}, nil, nil, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return argonParams{}, nil, nil, ErrInvalidHash
	}
	p.saltLen, p.keyLen = uint32(len(salt)), uint32(len(key))
	return p, salt, key, nil
}

func clamp(value, lo, hi int) int {
	return min(max(value, lo), hi)
}
