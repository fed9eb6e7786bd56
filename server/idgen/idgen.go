// Package idgen generates compact session identifiers for log correlation.
package idgen

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/binary"
	"sync/atomic"
	"time"
)

var (
	sequence       uint32
	base32Encoding = base32.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZ234567").WithPadding(base32.NoPadding)
)

// New generates a 12-byte hybrid ID: 4 bytes of truncated timestamp,
// 2 bytes of sequence and 6 bytes of random data, base32-encoded to
// ~20 characters. IDs are unique per process and roughly sortable by
// creation time.
func New() string {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], uint32(time.Now().Unix()))

	seq := atomic.AddUint32(&sequence, 1) & 0xFFFF
	binary.BigEndian.PutUint16(buf[4:6], uint16(seq))

	if _, err := rand.Read(buf[6:]); err != nil {
		// Degrade to timestamp nanos if the random source fails
		binary.BigEndian.PutUint32(buf[6:10], uint32(time.Now().UnixNano()))
	}

	return base32Encoding.EncodeToString(buf)
}
