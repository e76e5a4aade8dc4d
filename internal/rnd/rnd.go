package rnd

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// NextID returns a random call id. Never 0, which is reserved for the
// handshake.
func NextID() uint64 {
	buf := make([]byte, 8)
	for {
		if _, err := rand.Read(buf); err != nil {
			// crypto/rand failing means the platform entropy source is
			// broken, nothing sensible to fall back to.
			panic(fmt.Sprintf("rnd: read entropy: %v", err))
		}
		if id := binary.BigEndian.Uint64(buf); id != 0 {
			return id
		}
	}
}

// Source returns a fresh endpoint identity for transports that need to mint
// one.
func Source() string {
	return uuid.NewString()
}
