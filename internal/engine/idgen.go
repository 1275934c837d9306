package engine

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// crockfordAlphabet is Douglas Crockford's base32 alphabet, used by both the
// ulid and nanoid strategies below for human-friendly, unambiguous ids —
// grounded on the teacher's own base32 short-id idiom (internal/store/ids.go).
const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// generateID produces a new document id for the given auto strategy. ""
// means no auto strategy: the id must come from the rendered path's
// filename stem instead.
func generateID(auto string) (string, error) {
	switch auto {
	case "uuid":
		id, err := uuid.NewRandom()
		if err != nil {
			return "", fmt.Errorf("generate uuid: %w", err)
		}

		return id.String(), nil
	case "ulid":
		return generateULID()
	case "nanoid":
		return generateNanoID(12)
	case "":
		return "", nil
	default:
		return "", fmt.Errorf("unknown id auto strategy %q", auto)
	}
}

// generateULID builds a lexically sortable id: a 48-bit millisecond
// timestamp followed by 80 random bits, both Crockford base32 encoded. No
// pack repo vendors a ulid library, so this is hand-rolled in the same
// spirit as the teacher's own UUIDv7-derived short id (shortIDFromUUIDBits).
func generateULID() (string, error) {
	ms := uint64(time.Now().UTC().UnixMilli())

	var randPart [10]byte
	if _, err := rand.Read(randPart[:]); err != nil {
		return "", fmt.Errorf("generate ulid: %w", err)
	}

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], ms<<16) // top 48 bits of the 64-bit value
	copy(buf[6:], randPart[:])

	return encodeCrockford(buf[:]), nil
}

func encodeCrockford(data []byte) string {
	var b strings.Builder

	acc := uint64(0)
	bits := 0

	for _, by := range data {
		acc = (acc << 8) | uint64(by)
		bits += 8

		for bits >= 5 {
			bits -= 5
			b.WriteByte(crockfordAlphabet[(acc>>uint(bits))&0x1f])
		}
	}

	if bits > 0 {
		b.WriteByte(crockfordAlphabet[(acc<<uint(5-bits))&0x1f])
	}

	return b.String()
}

// generateNanoID produces a length-n random id over the Crockford alphabet.
func generateNanoID(n int) (string, error) {
	var b strings.Builder

	max := big.NewInt(int64(len(crockfordAlphabet)))

	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate nanoid: %w", err)
		}

		b.WriteByte(crockfordAlphabet[idx.Int64()])
	}

	return b.String(), nil
}
