package ledger

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Hasher is a named, collision-resistant hash constructor. The name is stored
// on every entry so verification uses the primitive the entry was written with.
type Hasher struct {
	name    string
	newHash func() hash.Hash
}

// NewHasher wraps a hash constructor under name.
func NewHasher(name string, newHash func() hash.Hash) Hasher {
	return Hasher{name: name, newHash: newHash}
}

// Name returns the algorithm identifier persisted with entries.
func (h Hasher) Name() string { return h.name }

// New returns a fresh hash.Hash.
func (h Hasher) New() hash.Hash { return h.newHash() }

// Built-in hashers. All produce 32-byte digests (64 hex characters).
var (
	SHA256     = NewHasher("sha256", sha256.New)
	SHA3_256   = NewHasher("sha3-256", sha3.New256)
	BLAKE2b256 = NewHasher("blake2b-256", func() hash.Hash {
		h, err := blake2b.New256(nil)
		if err != nil {
			// Only fails for keys longer than 64 bytes.
			panic(err)
		}
		return h
	})
)

var builtinHashers = map[string]Hasher{
	SHA256.Name():     SHA256,
	SHA3_256.Name():   SHA3_256,
	BLAKE2b256.Name(): BLAKE2b256,
}

// HasherByName returns the built-in hasher registered under name.
func HasherByName(name string) (Hasher, error) {
	h, ok := builtinHashers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Hasher{}, fmt.Errorf("unknown hash algorithm %q", name)
	}
	return h, nil
}
