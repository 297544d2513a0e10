package entry

import "time"

// RecordType identifies which of the matching engine's durable
// intents/outcomes a Record's payload decodes as.
type RecordType uint8

const (
	RecordPlace RecordType = iota
	RecordCancel
	RecordMatch
	RecordSnapshot
)

// Record is an immutable WAL entry. Data is the protowire-encoded
// payload produced by Encode*Payload (see payload.go).
type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

func NewRecord(t RecordType, seq uint64, data []byte) *Record {
	return &Record{
		Type: t,
		Seq:  seq,
		Time: time.Now().UnixNano(),
		Data: data,
	}
}
