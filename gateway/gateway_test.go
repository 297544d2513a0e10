package gateway

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"clobcore/collaborators"
	"clobcore/domain/ledger"
	"clobcore/domain/orderbook"
	"clobcore/engine"
	"clobcore/infra/sequence"
	"clobcore/publisher"
)

type nopSink struct{}

func (nopSink) Publish(publisher.Step) {}

func newTestGateway(t *testing.T) (*Gateway, *ledger.Ledger) {
	t.Helper()
	led, err := ledger.New(nil)
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}

	auth := collaborators.NewStaticAuthResolver(map[string]uint64{"tok-1": 1, "tok-2": 2})
	kyc := collaborators.NewStaticKycPolicy(collaborators.Limits{MaxOrderNotional: 1_000_000, MaxLeverage: 10})
	gw := New(led, auth, kyc, sequence.New(0), zap.NewNop())

	symbol := orderbook.Symbol{Base: "BTC", Quote: "USD", PriceTick: 1, QtyStep: 1, TakerFeeRateBps: 10, MakerFeeRateBps: 5}
	pub := publisher.New(symbol.String(), 0, nopSink{})
	eng := engine.New(symbol, led, pub, sequence.New(0), 16, zap.NewNop())
	go eng.Run(context.Background())
	gw.RegisterSymbol(eng)

	return gw, led
}

func TestPlaceOrderReservesAndRests(t *testing.T) {
	gw, led := newTestGateway(t)
	led.Credit(1, "USD", 10_000)

	resp, err := gw.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: 1, Symbol: "BTC/USD", Side: "buy", Type: "limit",
		Qty: decimal.NewFromInt(5), Price: decimal.NewFromInt(100),
		AuthToken: "tok-1",
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if resp.Status != "open" {
		t.Errorf("expected open, got %s", resp.Status)
	}
	if led.Balance(1, "USD").Reserved == 0 {
		t.Error("expected funds reserved")
	}
}

func TestPlaceOrderInsufficientFunds(t *testing.T) {
	gw, _ := newTestGateway(t)

	_, err := gw.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: 1, Symbol: "BTC/USD", Side: "buy", Type: "limit",
		Qty: decimal.NewFromInt(5), Price: decimal.NewFromInt(100),
		AuthToken: "tok-1",
	})
	gwErr, ok := err.(*Error)
	if !ok || gwErr.Code != CodeInsufficientFunds {
		t.Fatalf("expected InsufficientFunds, got %v", err)
	}
}

func TestPlaceOrderDuplicateClientOrderID(t *testing.T) {
	gw, led := newTestGateway(t)
	led.Credit(1, "USD", 10_000)

	req := PlaceOrderRequest{
		UserID: 1, Symbol: "BTC/USD", Side: "buy", Type: "limit",
		Qty: decimal.NewFromInt(1), Price: decimal.NewFromInt(100),
		ClientOrderID: "client-abc", AuthToken: "tok-1",
	}
	first, err := gw.PlaceOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("first PlaceOrder: %v", err)
	}

	_, err = gw.PlaceOrder(context.Background(), req)
	gwErr, ok := err.(*Error)
	if !ok || gwErr.Code != CodeDuplicateClientOrder || gwErr.OrderID != first.OrderID {
		t.Fatalf("expected DuplicateClientOrderId referencing %d, got %v", first.OrderID, err)
	}
}

func TestCancelOrderReleasesReservation(t *testing.T) {
	gw, led := newTestGateway(t)
	led.Credit(1, "USD", 10_000)

	resp, err := gw.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: 1, Symbol: "BTC/USD", Side: "buy", Type: "limit",
		Qty: decimal.NewFromInt(5), Price: decimal.NewFromInt(100),
		AuthToken: "tok-1",
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	cancelResp, err := gw.CancelOrder(context.Background(), CancelOrderRequest{
		UserID: 1, OrderID: resp.OrderID, AuthToken: "tok-1",
	})
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if cancelResp.Status != "cancelled" {
		t.Errorf("expected cancelled, got %s", cancelResp.Status)
	}
	if led.Balance(1, "USD").Reserved != 0 {
		t.Errorf("expected reservation fully released, got %+v", led.Balance(1, "USD"))
	}
}

func TestPlaceOrderUnauthorizedTokenMismatch(t *testing.T) {
	gw, _ := newTestGateway(t)

	_, err := gw.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: 2, Symbol: "BTC/USD", Side: "buy", Type: "limit",
		Qty: decimal.NewFromInt(1), Price: decimal.NewFromInt(100),
		AuthToken: "tok-1", // belongs to user 1
	})
	gwErr, ok := err.(*Error)
	if !ok || gwErr.Code != CodeUnauthorized {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}

func TestPlaceOrderPostOnlyIncompatibleWithMarket(t *testing.T) {
	gw, led := newTestGateway(t)
	led.Credit(1, "USD", 10_000)

	_, err := gw.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: 1, Symbol: "BTC/USD", Side: "buy", Type: "market",
		Qty: decimal.NewFromInt(1), QuoteBudget: decimal.NewFromInt(100),
		PostOnly: true, AuthToken: "tok-1",
	})
	gwErr, ok := err.(*Error)
	if !ok || gwErr.Code != CodeUnknownType {
		t.Fatalf("expected UnknownType, got %v", err)
	}
}

// newTickedTestGateway wires the canonical tick 0.01 / step 0.0001
// configuration from spec scenario 2, instead of the trivial
// PriceTick:1/QtyStep:1 every other test in this file uses.
func newTickedTestGateway(t *testing.T) (*Gateway, *ledger.Ledger) {
	t.Helper()
	led, err := ledger.New(nil)
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}

	auth := collaborators.NewStaticAuthResolver(map[string]uint64{"tok-1": 1, "tok-2": 2})
	// Notional is price ticks times qty steps: 1.5 @ 50000.00 is
	// 15000 * 5_000_000 = 7.5e10, so the limit must sit above that.
	kyc := collaborators.NewStaticKycPolicy(collaborators.Limits{MaxOrderNotional: 1_000_000_000_000, MaxLeverage: 10})
	gw := New(led, auth, kyc, sequence.New(0), zap.NewNop())

	symbol := orderbook.Symbol{
		Base: "BTC", Quote: "USD",
		PriceTick: 1, QtyStep: 1,
		PriceTickSize: decimal.New(1, -2), QtyStepSize: decimal.New(1, -4),
		TakerFeeRateBps: 10, MakerFeeRateBps: 5,
	}
	pub := publisher.New(symbol.String(), 0, nopSink{})
	eng := engine.New(symbol, led, pub, sequence.New(0), 16, zap.NewNop())
	go eng.Run(context.Background())
	gw.RegisterSymbol(eng)

	return gw, led
}

func TestPlaceOrderScalesFractionalQtyByTickAndStep(t *testing.T) {
	gw, led := newTickedTestGateway(t)
	led.Credit(1, "BTC", 2_0000) // 2.0000 BTC in step units

	resp, err := gw.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: 1, Symbol: "BTC/USD", Side: "sell", Type: "limit",
		Qty: decimal.RequireFromString("1.5"), Price: decimal.RequireFromString("50000.00"),
		AuthToken: "tok-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != orderbook.Open.String() {
		t.Errorf("expected Open, got %s", resp.Status)
	}

	h, _ := gw.lookup("BTC/USD")
	reply := make(chan engine.TaskResult, 1)
	h.eng.Inbound() <- engine.Task{Kind: engine.TaskQuery, QueryOrderID: resp.OrderID, Reply: reply}
	res := <-reply
	if res.Err != nil || res.Order == nil {
		t.Fatalf("order not found on the book: %v", res.Err)
	}
	if res.Order.Qty != 15000 {
		t.Errorf("expected qty 1.5 scaled by step 0.0001 to be 15000, got %d", res.Order.Qty)
	}
	if res.Order.Price != 5_000_000 {
		t.Errorf("expected price 50000.00 scaled by tick 0.01 to be 5000000, got %d", res.Order.Price)
	}
}

func TestPlaceOrderRejectsValueNotAlignedToTick(t *testing.T) {
	gw, led := newTickedTestGateway(t)
	led.Credit(1, "BTC", 2_0000)

	_, err := gw.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID: 1, Symbol: "BTC/USD", Side: "sell", Type: "limit",
		Qty: decimal.RequireFromString("1.00005"), Price: decimal.RequireFromString("50000.00"),
		AuthToken: "tok-1",
	})
	gwErr, ok := err.(*Error)
	if !ok || gwErr.Code != CodeInvalidQty {
		t.Fatalf("expected InvalidQty for a qty finer than the 0.0001 step, got %v", err)
	}
}
