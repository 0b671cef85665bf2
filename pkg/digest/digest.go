package digest

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"

	"github.com/pkg/errors"
)

const (
	Size = sha1.Size
	// ShortIDBytes yields a 12 character id.
	ShortIDBytes = 9
)

// Digest is the SHA-1 of a paste's content. It backs entity ids, strong
// ETags and server generated ids. It is never used to deduplicate pastes.
type Digest [Size]byte

func Sum(data []byte) Digest {
	return Digest(sha1.Sum(data))
}

func SumString(s string) Digest {
	return Sum([]byte(s))
}

func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) String() string { return d.Hex() }

// ShortID truncates the digest to n bytes and encodes it with the URL safe
// base64 alphabet, which is a subset of the id alphabet.
func (d Digest) ShortID(n int) (string, error) {
	if n <= 0 || n > Size {
		return "", errors.Errorf("digest too small for a %d byte id", n)
	}
	return base64.RawURLEncoding.EncodeToString(d[:n]), nil
}

func ParseHex(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, errors.Wrap(err, "decode digest")
	}
	if len(b) != Size {
		return d, errors.Errorf("digest must be %d bytes, got %d", Size, len(b))
	}
	copy(d[:], b)
	return d, nil
}
