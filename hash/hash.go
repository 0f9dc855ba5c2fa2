// Package hash provides the 20-byte content identities used for modules,
// transactions, descriptors and store entries.
//
// All hashing goes through Blake3 in derive-key mode so that every use site
// is domain separated: a module and a transaction with identical bytes never
// share an identity.
package hash

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Size is the byte length of a Hash.
const Size = 20

// Hash is a truncated Blake3 digest.
type Hash [Size]byte

// Zero is the all-zero hash. It never identifies stored content.
var Zero Hash

// Domain selects the derive-key context of a hashing site.
type Domain string

const (
	DomainModule      Domain = "module"
	DomainTransaction Domain = "transaction"
	DomainDescriptor  Domain = "descriptor"
	DomainEntry       Domain = "entry"
	DomainBundle      Domain = "bundle"
	DomainPlain       Domain = "plain"
	DomainJoin        Domain = "join"
	DomainIdentity    Domain = "identity"
	DomainType        Domain = "type"
)

// Built-in system modules. They are never deployed; the linker knows them.
var (
	SystemModule = Sum(DomainIdentity, []byte("system"))
	IntModule    = Sum(DomainIdentity, []byte("system.int"))
)

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Short returns the first 8 hex digits, for logs.
func (h Hash) Short() string { return hex.EncodeToString(h[:4]) }

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool { return h == Zero }

// FromBytes copies b into a Hash. b must be exactly Size bytes.
func FromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != Size {
		return h, fmt.Errorf("hash: want %d bytes, got %d", Size, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// ParseHex decodes a 40 digit hex string.
func ParseHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Zero, fmt.Errorf("hash: %w", err)
	}
	return FromBytes(b)
}

func hasher(d Domain) *blake3.Hasher {
	return blake3.NewDeriveKey("sanskrit " + string(d))
}

// Sum hashes data in domain d.
func Sum(d Domain, data []byte) Hash {
	h := hasher(d)
	_, _ = h.Write(data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Derive hashes the length-prefixed concatenation of parts in domain d.
// Length prefixes keep ("ab","c") and ("a","bc") apart.
func Derive(d Domain, parts ...[]byte) Hash {
	h := hasher(d)
	var n [4]byte
	for _, p := range parts {
		binary.LittleEndian.PutUint32(n[:], uint32(len(p)))
		_, _ = h.Write(n[:])
		_, _ = h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
