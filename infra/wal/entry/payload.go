package entry

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"clobcore/domain/orderbook"
)

// Payload encoding uses protowire's building blocks directly rather
// than generated .pb.go types — there is no protoc step in this
// build, so every record is hand-framed as a sequence of
// (field number, wire type) tag/value pairs in ascending field order,
// exactly what protoc-gen-go would emit for a message with these
// fields, just written by hand.

// PlacePayload is RecordPlace's body: a full order intent as
// submitted, durable before the gateway dispatches it to the book.
type PlacePayload struct {
	OrderID       uint64
	ClientOrderID string
	UserID        uint64
	Symbol        string
	Side          int64
	Type          int64
	TimeInForce   int64
	PostOnly      bool
	ReduceOnly    bool
	Price         int64
	StopPrice     int64
	Qty           int64
	QuoteBudget   int64
	CreatedSeq    uint64

	// GTDExpiry is a unix-nanosecond timestamp, zero meaning no expiry.
	// Persisted so replay's matching walk evaluates the same expiry
	// deadline the original run did.
	GTDExpiry int64

	// ReserveAsset/ReserveAmount mirror what the gateway already
	// reserved in the ledger before dispatch, so replay can rebuild
	// this engine's in-memory reservation bookkeeping (used to release
	// the unused portion of a reservation on fill/cancel) without
	// re-touching the ledger, which is already durable via its own
	// store.
	ReserveAsset  string
	ReserveAmount int64
}

const (
	fPlaceOrderID = iota + 1
	fPlaceClientOrderID
	fPlaceUserID
	fPlaceSymbol
	fPlaceSide
	fPlaceType
	fPlaceTIF
	fPlacePostOnly
	fPlaceReduceOnly
	fPlacePrice
	fPlaceStopPrice
	fPlaceQty
	fPlaceQuoteBudget
	fPlaceCreatedSeq
	fPlaceReserveAsset
	fPlaceReserveAmount
	fPlaceGTDExpiry
)

func EncodePlacePayload(p PlacePayload) []byte {
	var b []byte
	b = appendVarintField(b, fPlaceOrderID, p.OrderID)
	b = appendStringField(b, fPlaceClientOrderID, p.ClientOrderID)
	b = appendVarintField(b, fPlaceUserID, p.UserID)
	b = appendStringField(b, fPlaceSymbol, p.Symbol)
	b = appendVarintField(b, fPlaceSide, uint64(p.Side))
	b = appendVarintField(b, fPlaceType, uint64(p.Type))
	b = appendVarintField(b, fPlaceTIF, uint64(p.TimeInForce))
	b = appendBoolField(b, fPlacePostOnly, p.PostOnly)
	b = appendBoolField(b, fPlaceReduceOnly, p.ReduceOnly)
	b = appendVarintField(b, fPlacePrice, zigzag(p.Price))
	b = appendVarintField(b, fPlaceStopPrice, zigzag(p.StopPrice))
	b = appendVarintField(b, fPlaceQty, zigzag(p.Qty))
	b = appendVarintField(b, fPlaceQuoteBudget, zigzag(p.QuoteBudget))
	b = appendVarintField(b, fPlaceCreatedSeq, p.CreatedSeq)
	b = appendStringField(b, fPlaceReserveAsset, p.ReserveAsset)
	b = appendVarintField(b, fPlaceReserveAmount, zigzag(p.ReserveAmount))
	b = appendVarintField(b, fPlaceGTDExpiry, zigzag(p.GTDExpiry))
	return b
}

func DecodePlacePayload(b []byte) (PlacePayload, error) {
	var p PlacePayload
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, iv uint64) error {
		switch int(num) {
		case fPlaceOrderID:
			p.OrderID = iv
		case fPlaceClientOrderID:
			p.ClientOrderID = string(v)
		case fPlaceUserID:
			p.UserID = iv
		case fPlaceSymbol:
			p.Symbol = string(v)
		case fPlaceSide:
			p.Side = int64(iv)
		case fPlaceType:
			p.Type = int64(iv)
		case fPlaceTIF:
			p.TimeInForce = int64(iv)
		case fPlacePostOnly:
			p.PostOnly = iv != 0
		case fPlaceReduceOnly:
			p.ReduceOnly = iv != 0
		case fPlacePrice:
			p.Price = unzigzag(iv)
		case fPlaceStopPrice:
			p.StopPrice = unzigzag(iv)
		case fPlaceQty:
			p.Qty = unzigzag(iv)
		case fPlaceQuoteBudget:
			p.QuoteBudget = unzigzag(iv)
		case fPlaceCreatedSeq:
			p.CreatedSeq = iv
		case fPlaceReserveAsset:
			p.ReserveAsset = string(v)
		case fPlaceReserveAmount:
			p.ReserveAmount = unzigzag(iv)
		case fPlaceGTDExpiry:
			p.GTDExpiry = unzigzag(iv)
		}
		return nil
	})
	return p, err
}

// CancelPayload is RecordCancel's body.
type CancelPayload struct {
	OrderID uint64
}

const fCancelOrderID = 1

func EncodeCancelPayload(p CancelPayload) []byte {
	var b []byte
	b = appendVarintField(b, fCancelOrderID, p.OrderID)
	return b
}

func DecodeCancelPayload(b []byte) (CancelPayload, error) {
	var p CancelPayload
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, iv uint64) error {
		if int(num) == fCancelOrderID {
			p.OrderID = iv
		}
		return nil
	})
	return p, err
}

// MatchPayload is RecordMatch's body: one trade produced by a
// matching step.
type MatchPayload struct {
	TradeID      string
	Price        int64
	Qty          int64
	TakerOrderID uint64
	MakerOrderID uint64
	TakerUserID  uint64
	MakerUserID  uint64
	TakerSide    int64
}

const (
	fMatchPrice = iota + 1
	fMatchQty
	fMatchTakerOrderID
	fMatchMakerOrderID
	fMatchTakerUserID
	fMatchMakerUserID
	fMatchTakerSide
	fMatchTradeID
)

func EncodeMatchPayload(t orderbook.Trade) []byte {
	var b []byte
	b = appendVarintField(b, fMatchPrice, zigzag(t.Price))
	b = appendVarintField(b, fMatchQty, zigzag(t.Qty))
	b = appendVarintField(b, fMatchTakerOrderID, t.TakerOrderID)
	b = appendVarintField(b, fMatchMakerOrderID, t.MakerOrderID)
	b = appendVarintField(b, fMatchTakerUserID, t.TakerUserID)
	b = appendVarintField(b, fMatchMakerUserID, t.MakerUserID)
	b = appendVarintField(b, fMatchTakerSide, uint64(t.TakerSide))
	b = appendStringField(b, fMatchTradeID, t.TradeID)
	return b
}

func DecodeMatchPayload(b []byte) (MatchPayload, error) {
	var p MatchPayload
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, iv uint64) error {
		switch int(num) {
		case fMatchPrice:
			p.Price = unzigzag(iv)
		case fMatchQty:
			p.Qty = unzigzag(iv)
		case fMatchTakerOrderID:
			p.TakerOrderID = iv
		case fMatchMakerOrderID:
			p.MakerOrderID = iv
		case fMatchTakerUserID:
			p.TakerUserID = iv
		case fMatchMakerUserID:
			p.MakerUserID = iv
		case fMatchTakerSide:
			p.TakerSide = int64(iv)
		case fMatchTradeID:
			p.TradeID = string(v)
		}
		return nil
	})
	return p, err
}

// SnapshotPayload is RecordSnapshot's body: a pointer to the
// snapshot.Writer output taken at Seq, not the snapshot bytes
// themselves (those live under the snapshot directory).
type SnapshotPayload struct {
	Seq  uint64
	Path string
}

const (
	fSnapshotSeq = iota + 1
	fSnapshotPath
)

func EncodeSnapshotPayload(p SnapshotPayload) []byte {
	var b []byte
	b = appendVarintField(b, fSnapshotSeq, p.Seq)
	b = appendStringField(b, fSnapshotPath, p.Path)
	return b
}

func DecodeSnapshotPayload(b []byte) (SnapshotPayload, error) {
	var p SnapshotPayload
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, iv uint64) error {
		switch int(num) {
		case fSnapshotSeq:
			p.Seq = iv
		case fSnapshotPath:
			p.Path = string(v)
		}
		return nil
	})
	return p, err
}

// ---- protowire helpers ----

func appendVarintField(b []byte, num int, v uint64) []byte {
	b = protowire.AppendTag(b, protowire.Number(num), protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBoolField(b []byte, num int, v bool) []byte {
	var iv uint64
	if v {
		iv = 1
	}
	return appendVarintField(b, num, iv)
}

func appendStringField(b []byte, num int, s string) []byte {
	b = protowire.AppendTag(b, protowire.Number(num), protowire.BytesType)
	return protowire.AppendString(b, s)
}

// walkFields decodes a sequence of protowire tag/value pairs,
// invoking fn with the raw bytes for length-delimited fields and the
// decoded value for varint fields.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, iv uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("entry: invalid tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("entry: invalid varint: %w", protowire.ParseError(n))
			}
			b = b[n:]
			if err := fn(num, typ, nil, v); err != nil {
				return err
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("entry: invalid bytes: %w", protowire.ParseError(n))
			}
			b = b[n:]
			if err := fn(num, typ, v, 0); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("entry: invalid field: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

func zigzag(v int64) uint64   { return protowire.EncodeZigZag(v) }
func unzigzag(v uint64) int64 { return protowire.DecodeZigZag(v) }
