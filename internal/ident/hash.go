package ident

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
)

// HashFamily selects the function used to place names and keys on the ring.
type HashFamily int

const (
	SHA1 HashFamily = iota
	SHA256
	MD5
	FNV32a
	XXHash
	Murmur3
)

var familyNames = map[HashFamily]string{
	SHA1:    "sha1",
	SHA256:  "sha256",
	MD5:     "md5",
	FNV32a:  "fnv32a",
	XXHash:  "xxhash",
	Murmur3: "murmur3",
}

// String returns the configuration name of the family.
func (f HashFamily) String() string {
	if name, ok := familyNames[f]; ok {
		return name
	}
	return "unknown"
}

func (f HashFamily) known() bool {
	_, ok := familyNames[f]
	return ok
}

// ParseHashFamily resolves a family by name. The empty string selects SHA1.
func ParseHashFamily(name string) (HashFamily, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return SHA1, nil
	}
	for f, n := range familyNames {
		if n == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownHash, name)
}

// Sum64 returns the low 64 bits of the digest of value.
// Cryptographic digests are read big-endian, so masking the result keeps
// the low-order bits of the whole digest. FNV32a only fills 32 bits.
func (f HashFamily) Sum64(value string) uint64 {
	switch f {
	case SHA256:
		sum := sha256.Sum256([]byte(value))
		return lowBits(sum[:])
	case MD5:
		sum := md5.Sum([]byte(value))
		return lowBits(sum[:])
	case FNV32a:
		h := fnv.New32a()
		h.Write([]byte(value))
		return uint64(h.Sum32())
	case XXHash:
		return xxhash.Sum64String(value)
	case Murmur3:
		return murmur3.Sum64([]byte(value))
	default:
		sum := sha1.Sum([]byte(value))
		return lowBits(sum[:])
	}
}

func lowBits(digest []byte) uint64 {
	return binary.BigEndian.Uint64(digest[len(digest)-8:])
}
