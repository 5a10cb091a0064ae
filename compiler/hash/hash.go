// Package hash computes content digests of expression trees. Two trees
// with the same shape, names and constants have the same digest wherever
// they appear in a source file.
package hash

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"github.com/wrapl/minilang-sub003/compiler"
)

// Digest is a BLAKE2b-256 digest of a serialized tree.
type Digest [32]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// Expr computes the digest of e.
func Expr(e compiler.Expr) Digest {
	return Digest(blake2b.Sum256(Serialize(e)))
}

// Equal reports whether a and b have the same shape.
func Equal(a, b compiler.Expr) bool {
	return Expr(a) == Expr(b)
}
