package rdp

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// ShortID is the 256-bit hash identifying a node's public key.
type ShortID [32]byte

func (id ShortID) String() string {
	return hex.EncodeToString(id[:])
}

func (id ShortID) IsZero() bool {
	return id == ShortID{}
}

// ParseShortID accepts the 64-char hex form used for literal overlay hosts.
func ParseShortID(s string) (ShortID, error) {
	var id ShortID
	if len(s) != 64 {
		return id, fmt.Errorf("bad short id length %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("bad short id: %w", err)
	}
	copy(id[:], b)
	return id, nil
}

// TransferID scopes one payload stream between two peers.
type TransferID [32]byte

func (id TransferID) String() string {
	return hex.EncodeToString(id[:8])
}

func NewTransferID() TransferID {
	var id TransferID
	if _, err := rand.Read(id[:]); err != nil {
		panic(err)
	}
	return id
}
