package capstore

import "encoding/binary"

// Bucket name constants for bbolt storage.
var (
	bucketMeta     = []byte("meta")
	bucketSessions = []byte("sessions") // seq -> Record
	bucketIDs      = []byte("ids")      // session UUID -> seq
)

// Meta key constants.
var (
	keyVersion = []byte("version")
	keyCreated = []byte("created")
)

// schemaVersion is bumped whenever Record changes incompatibly.
const schemaVersion = 1

// seqToKey converts a bucket sequence to an 8-byte big-endian key so that
// cursor order matches insertion order.
func seqToKey(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}

// keyToSeq converts an 8-byte big-endian key back to a sequence.
func keyToSeq(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
