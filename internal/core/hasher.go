package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "TroveLedger:genesis:v1"

// HashChain links every applied command to the one before it:
// head[N] = SHA-256(head[N-1] || sequence LE || state digest).
type HashChain struct {
	head [32]byte
}

// NewHashChain starts from the genesis hash
func NewHashChain() *HashChain {
	return &HashChain{head: GenesisHash()}
}

func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// Append extends the chain and returns the new head.
func (h *HashChain) Append(sequence int64, digest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.head[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(digest)

	copy(h.head[:], hasher.Sum(nil))
	return h.head
}

// Head returns the current chain tip
func (h *HashChain) Head() [32]byte {
	return h.head
}

// Reset moves the tip, used when restoring from a snapshot.
func (h *HashChain) Reset(head [32]byte) {
	h.head = head
}
