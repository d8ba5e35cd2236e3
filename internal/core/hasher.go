package core

import (
	"crypto/sha256"
	"encoding/binary"
	"hash"
)

const GenesisHashSeed = "CoverLedger:genesis:v1"

// GenesisHash is the chain tip before the first transaction.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// StateHasher chains applied transactions:
//
//	H[n] = SHA-256(H[n-1] || LE64(seq) || digest)
//
// Only applied transactions advance the chain. Owned by the engine and
// used under its lock.
type StateHasher struct {
	tip [32]byte
	sha hash.Hash
	seq [8]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{tip: GenesisHash(), sha: sha256.New()}
}

// ComputeHash links digest at sequence onto the chain and returns the new tip.
func (h *StateHasher) ComputeHash(sequence int64, digest []byte) [32]byte {
	binary.LittleEndian.PutUint64(h.seq[:], uint64(sequence))

	h.sha.Reset()
	h.sha.Write(h.tip[:])
	h.sha.Write(h.seq[:])
	h.sha.Write(digest)
	h.sha.Sum(h.tip[:0])

	return h.tip
}

// GetPrevHash returns the current tip.
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.tip
}
