package tile

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Digest is the content address of a tile payload, stored as text in the
// images.tile_id column.
type Digest string

// Hasher computes a Digest from tile bytes. Implementations must be
// deterministic across processes and platforms since digests are persisted.
type Hasher interface {
	Digest(data []byte) Digest
}

// MD5Hasher produces the 128-bit hex digest used by existing MBTiles writers.
type MD5Hasher struct{}

func (MD5Hasher) Digest(data []byte) Digest {
	sum := md5.Sum(data)
	return Digest(hex.EncodeToString(sum[:]))
}

// XXHasher is a faster 64-bit alternative. Stores written with it are not
// deduplicated against stores written with MD5Hasher.
type XXHasher struct{}

func (XXHasher) Digest(data []byte) Digest {
	return Digest(fmt.Sprintf("%016x", xxhash.Sum64(data)))
}

func NewHasher(name string) (Hasher, error) {
	switch name {
	case "", "md5":
		return MD5Hasher{}, nil
	case "xxhash":
		return XXHasher{}, nil
	default:
		return nil, fmt.Errorf("unknown digest: %s (supported: md5, xxhash)", name)
	}
}
