package grpcserver

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	pb "clobcore/api/pb"
	"clobcore/bus"
	"clobcore/collaborators"
	"clobcore/domain/ledger"
	"clobcore/domain/orderbook"
	"clobcore/engine"
	"clobcore/gateway"
	"clobcore/infra/sequence"
	"clobcore/publisher"
)

// stopAfterFirstSend is returned by fakeSubscribeStream once it has
// captured a message, so Server.Subscribe returns immediately instead
// of blocking on the bus for a delta that will never arrive.
var stopAfterFirstSend = errors.New("stop")

type fakeSubscribeStream struct {
	grpc.ServerStream
	ctx  context.Context
	sent []*pb.StepMessage
}

func (f *fakeSubscribeStream) Context() context.Context { return f.ctx }

func (f *fakeSubscribeStream) Send(m *pb.StepMessage) error {
	f.sent = append(f.sent, m)
	return stopAfterFirstSend
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	led, err := ledger.New(nil)
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	// User 1 needs base-asset funds to rest the 5-lot sell the snapshot test places.
	led.Credit(1, "BTC", 5)
	auth := collaborators.NewStaticAuthResolver(map[string]uint64{"tok-1": 1})
	kyc := collaborators.NewStaticKycPolicy(collaborators.Limits{MaxOrderNotional: 1_000_000, MaxLeverage: 10})
	gw := gateway.New(led, auth, kyc, sequence.New(0), zap.NewNop())

	symbol := orderbook.Symbol{Base: "BTC", Quote: "USD", PriceTick: 1, QtyStep: 1, TakerFeeRateBps: 10, MakerFeeRateBps: 5}
	b := bus.New(16)
	pub := publisher.New(symbol.String(), 0, bus.NewSink(b, symbol.String()))
	eng := engine.New(symbol, led, pub, sequence.New(0), 16, zap.NewNop())
	go eng.Run(context.Background())
	gw.RegisterSymbol(eng)

	return NewServer(gw, b, zap.NewNop())
}

func TestSubscribeSendsBookSnapshotFirst(t *testing.T) {
	s := newTestServer(t)

	// Rest an order so the snapshot has something to report.
	if _, err := s.PlaceOrder(context.Background(), &pb.PlaceOrderRequest{
		UserID: 1, Symbol: "BTC/USD", Side: "sell", Type: "limit",
		Qty: "5", Price: "100", AuthToken: "tok-1",
	}); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	stream := &fakeSubscribeStream{ctx: context.Background()}
	err := s.Subscribe(&pb.SubscribeRequest{Channel: bus.BookChannel("BTC/USD")}, stream)
	if err != stopAfterFirstSend {
		t.Fatalf("expected the fake stream's sentinel stop error, got %v", err)
	}
	if len(stream.sent) != 1 {
		t.Fatalf("expected exactly one frame sent before the fake stream stopped, got %d", len(stream.sent))
	}

	msg := stream.sent[0]
	if len(msg.Events) != 1 || msg.Events[0].Type != "book_snapshot" {
		t.Fatalf("expected a single book_snapshot event, got %+v", msg.Events)
	}
	snap := msg.Events[0].BookSnapshot
	if snap == nil || len(snap.Asks) != 1 || snap.Asks[0].Price != 100 || snap.Asks[0].Qty != 5 {
		t.Fatalf("expected the resting sell reflected in the snapshot, got %+v", snap)
	}
}

func TestSubscribeSkipsSnapshotForNonBookChannel(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stream := &fakeSubscribeStream{ctx: ctx}

	if err := s.Subscribe(&pb.SubscribeRequest{Channel: bus.TradesChannel("BTC/USD")}, stream); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(stream.sent) != 0 {
		t.Errorf("expected no snapshot frame on a non-book channel, got %+v", stream.sent)
	}
}
