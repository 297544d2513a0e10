// Package exit is the reliable, at-least-once outbox for user-scoped
// events: the broadcaster appends a record here before it is durable,
// and only marks it ACKED once the downstream Kafka/Sarama send
// actually succeeds. A crash between those two points is safe — the
// record is still NEW/SENT on restart and gets retried.
package exit

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

type ExitState uint8

const (
	StateNew ExitState = iota
	StateSent
	StateAcked
	StateFailed
)

func (s ExitState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ExitRecord is one outbox entry: Payload is the already-serialized
// event the broadcaster hands to Kafka/Sarama unchanged.
type ExitRecord struct {
	Seq         uint64
	State       ExitState
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

// binary encoding: [state:1][retries:4][lastAttempt:8][payloadLen:4][payload]
func encodeRecord(r ExitRecord) []byte {
	buf := make([]byte, 1+4+8+4+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	binary.BigEndian.PutUint32(buf[13:17], uint32(len(r.Payload)))
	copy(buf[17:], r.Payload)
	return buf
}

func decodeRecord(seq uint64, b []byte) (ExitRecord, error) {
	if len(b) < 17 {
		return ExitRecord{}, errors.New("exit: record too short")
	}
	l := binary.BigEndian.Uint32(b[13:17])
	if len(b) != 17+int(l) {
		return ExitRecord{}, errors.New("exit: payload length mismatch")
	}
	return ExitRecord{
		Seq:         seq,
		State:       ExitState(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     append([]byte(nil), b[17:]...),
	}, nil
}

type ExitWAL struct {
	db *pebble.DB
}

func Open(dir string) (*ExitWAL, error) {
	db, err := pebble.Open(dir, &pebble.Options{
		DisableWAL: false, // durability is the entire point of this store
	})
	if err != nil {
		return nil, err
	}
	return &ExitWAL{db: db}, nil
}

func (w *ExitWAL) Close() error {
	return w.db.Close()
}

// Append records a fresh outbox entry in state NEW. seq is the
// broadcaster's own monotonic outbox sequence, unrelated to a symbol's
// publisher seq.
func (w *ExitWAL) Append(seq uint64, payload []byte) error {
	rec := ExitRecord{Seq: seq, State: StateNew, Payload: payload}
	return w.db.Set(keyFor(seq), encodeRecord(rec), pebble.Sync)
}

func (w *ExitWAL) MarkSent(seq uint64) error {
	return w.transition(seq, StateSent)
}

func (w *ExitWAL) MarkAcked(seq uint64) error {
	rec, err := w.Get(seq)
	if err != nil {
		return err
	}
	rec.State = StateAcked
	rec.LastAttempt = time.Now().UnixNano()
	if err := w.db.Set(keyFor(seq), encodeRecord(rec), pebble.Sync); err != nil {
		return err
	}
	return w.db.Delete(keyFor(seq), pebble.Sync)
}

func (w *ExitWAL) MarkFailed(seq uint64) error {
	return w.transition(seq, StateFailed)
}

func (w *ExitWAL) transition(seq uint64, state ExitState) error {
	rec, err := w.Get(seq)
	if err != nil {
		return err
	}
	rec.State = state
	rec.Retries++
	rec.LastAttempt = time.Now().UnixNano()
	return w.db.Set(keyFor(seq), encodeRecord(rec), pebble.Sync)
}

func (w *ExitWAL) Get(seq uint64) (ExitRecord, error) {
	val, closer, err := w.db.Get(keyFor(seq))
	if err != nil {
		return ExitRecord{}, err
	}
	defer closer.Close()
	return decodeRecord(seq, val)
}

// ScanPending walks every NEW, SENT or FAILED record in ascending seq
// order — the order the broadcaster must retry them in to preserve
// per-channel delivery ordering. A SENT record is one whose send never
// reached ACKED or FAILED (e.g. a crash mid-send), so it is retried too.
func (w *ExitWAL) ScanPending(fn func(ExitRecord) error) error {
	iter, err := w.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("outbox/"),
		UpperBound: []byte("outbox/~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeRecord(seq, iter.Value())
		if err != nil {
			return err
		}
		if rec.State != StateNew && rec.State != StateSent && rec.State != StateFailed {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("outbox/%020d", seq))
}

func parseKey(b []byte) (uint64, error) {
	var id uint64
	_, err := fmt.Sscanf(string(bytes.TrimPrefix(b, []byte("outbox/"))), "%d", &id)
	return id, err
}
