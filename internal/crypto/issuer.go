package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Issuer holds the shared secret of the issuing authority. Signatures are a
// keyed SHA-256 digest, so only holders of the key can check them.
type Issuer struct {
	Name string
	key  []byte
}

func NewIssuer(name, key string) (*Issuer, error) {
	if key == "" {
		return nil, errors.New("issuer key is required")
	}
	return &Issuer{Name: name, key: []byte(key)}, nil
}

// LoadIssuer uses key when set and otherwise reads it from keyPath.
func LoadIssuer(name, key, keyPath string) (*Issuer, error) {
	if key != "" {
		return NewIssuer(name, key)
	}
	if keyPath == "" {
		return nil, errors.New("issuer key or key path is required")
	}
	buf, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read issuer key: %w", err)
	}
	data := strings.TrimSpace(string(buf))
	if data == "" {
		return nil, fmt.Errorf("issuer key file %s is empty", keyPath)
	}
	return NewIssuer(name, data)
}

// Sign returns hex(SHA-256(payload || key)).
func (i *Issuer) Sign(payload []byte) string {
	h := sha256.New()
	h.Write(payload)
	h.Write(i.key)
	return hex.EncodeToString(h.Sum(nil))
}

func (i *Issuer) String() string {
	return "issuer(" + i.Name + ")"
}

// Equal compares two signatures in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
