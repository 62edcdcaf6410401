package ocpp

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewUniqueID returns a 32 character lowercase correlation id.
func NewUniqueID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%032x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
