package transfer

import (
	"fmt"
	"io"
	"os"

	"lukechampine.com/blake3"
)

// HashAlgorithm is the only digest algorithm this build speaks on the
// wire (spec.md §4.5 "Integrity").
const HashAlgorithm = "blake3"

// HashPrefix computes the blake3 digest of the first length bytes of
// the file at path, used on both sides of a resume hash check.
func HashPrefix(path string, length uint64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("transfer: opening %q for hashing: %w", path, err)
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.CopyN(h, f, int64(length)); err != nil && err != io.EOF {
		return nil, fmt.Errorf("transfer: hashing %q: %w", path, err)
	}
	return h.Sum(nil), nil
}
