package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// PageKey is the exact-match identity of one cached render. Two requests
// with equal keys address the same cache slot; there is no fuzzy scale
// bucketing.
type PageKey struct {
	DocumentID string
	PageNumber int
	Scale      float64
	Rotation   int
}

// Validate rejects malformed keys before any rendering or I/O happens.
func (k PageKey) Validate() error {
	if k.DocumentID == "" {
		return fmt.Errorf("%w: empty document id", ErrInvalidKey)
	}
	if k.PageNumber < 0 {
		return fmt.Errorf("%w: negative page number %d", ErrInvalidKey, k.PageNumber)
	}
	if !(k.Scale > 0) {
		return fmt.Errorf("%w: scale must be positive, got %v", ErrInvalidKey, k.Scale)
	}
	switch k.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("%w: rotation must be one of 0/90/180/270, got %d", ErrInvalidKey, k.Rotation)
	}
	return nil
}

func (k PageKey) String() string {
	return k.DocumentID + "/" + strconv.Itoa(k.PageNumber) +
		"@" + strconv.FormatFloat(k.Scale, 'f', -1, 64) +
		"r" + strconv.Itoa(k.Rotation)
}

// payloadName is the on-disk file name for the entry's encoded pixel
// payload. Hashed so document ids never need to be filesystem safe.
func (k PageKey) payloadName() string {
	sum := sha256.Sum256([]byte(k.String()))
	return hex.EncodeToString(sum[:16]) + ".png"
}
