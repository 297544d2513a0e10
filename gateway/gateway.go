// Package gateway is the order-intent admission path (spec §4.2): it
// validates wire shape, checks KYC limits, computes and reserves
// funds, assigns identity, and dispatches onto the target symbol's
// engine queue. It never touches book state directly — every mutation
// flows through the per-symbol engine's single-consumer queue.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"clobcore/collaborators"
	"clobcore/domain/ledger"
	"clobcore/domain/orderbook"
	"clobcore/domain/stopshelf"
	"clobcore/engine"
	"clobcore/infra/sequence"
)

// engineHandle is everything the gateway needs from a running symbol
// engine without importing its internals beyond the Task contract.
type engineHandle struct {
	eng    *engine.Engine
	symbol orderbook.Symbol
}

type Gateway struct {
	led      *ledger.Ledger
	auth     collaborators.AuthResolver
	kyc      collaborators.KycPolicy
	orderSeq *sequence.Sequencer
	validate *validator.Validate
	log      *zap.Logger

	mu      sync.RWMutex
	engines map[string]engineHandle

	ordersMu     sync.Mutex
	orderSymbol  map[uint64]string            // orderID -> symbol, for cancel/query routing
	clientOrders map[uint64]map[string]uint64 // userID -> clientOrderID -> orderID
}

func New(led *ledger.Ledger, auth collaborators.AuthResolver, kyc collaborators.KycPolicy, orderSeq *sequence.Sequencer, log *zap.Logger) *Gateway {
	return &Gateway{
		led:          led,
		auth:         auth,
		kyc:          kyc,
		orderSeq:     orderSeq,
		validate:     validator.New(),
		log:          log,
		engines:      make(map[string]engineHandle),
		orderSymbol:  make(map[uint64]string),
		clientOrders: make(map[uint64]map[string]uint64),
	}
}

// RegisterSymbol makes a running engine reachable by its symbol name.
// Must be called before the gateway serves any request for it.
func (g *Gateway) RegisterSymbol(eng *engine.Engine) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.engines[eng.Symbol.String()] = engineHandle{eng: eng, symbol: eng.Symbol}
}

func (g *Gateway) lookup(symbol string) (engineHandle, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	h, ok := g.engines[symbol]
	return h, ok
}

func (g *Gateway) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResponse, error) {
	if err := g.validate.Struct(req); err != nil {
		return PlaceOrderResponse{}, newError(CodeInvalidQty, err.Error())
	}

	authedUser, err := g.auth.Verify(ctx, req.AuthToken)
	if err != nil || authedUser != req.UserID {
		return PlaceOrderResponse{}, newError(CodeUnauthorized, "token does not match user")
	}

	h, ok := g.lookup(req.Symbol)
	if !ok {
		return PlaceOrderResponse{}, newError(CodeInvalidSymbol, fmt.Sprintf("unknown symbol %q", req.Symbol))
	}

	if orderID, dup := g.lookupClientOrder(req.UserID, req.ClientOrderID); dup {
		return PlaceOrderResponse{}, &Error{Code: CodeDuplicateClientOrder, Message: "client_order_id already submitted", OrderID: orderID}
	}

	side, err := parseSide(req.Side)
	if err != nil {
		return PlaceOrderResponse{}, newError(CodeUnknownType, err.Error())
	}
	typ, err := parseType(req.Type)
	if err != nil {
		return PlaceOrderResponse{}, newError(CodeUnknownType, err.Error())
	}
	tif := parseTIF(req.TimeInForce, typ)

	if req.PostOnly && (typ == orderbook.Market || typ == orderbook.IOC || typ == orderbook.FOK) {
		return PlaceOrderResponse{}, newError(CodeUnknownType, "post_only is incompatible with market/ioc/fok")
	}

	qty, err := decimalToFixed(req.Qty, h.symbol.QtyStepSize)
	if err != nil || qty <= 0 || !h.symbol.AlignedQty(qty) {
		return PlaceOrderResponse{}, newError(CodeInvalidQty, "qty must be a positive multiple of qty_step")
	}

	var price int64
	if typ == orderbook.Limit || typ == orderbook.StopLimit {
		price, err = decimalToFixed(req.Price, h.symbol.PriceTickSize)
		if err != nil || price <= 0 || !h.symbol.AlignedPrice(price) {
			return PlaceOrderResponse{}, newError(CodeInvalidPrice, "price must be a positive multiple of price_tick")
		}
	}

	var stopPrice int64
	if typ == orderbook.StopLimit || typ == orderbook.StopMarket {
		stopPrice, err = decimalToFixed(req.StopPrice, h.symbol.PriceTickSize)
		if err != nil || stopPrice <= 0 || !h.symbol.AlignedPrice(stopPrice) {
			return PlaceOrderResponse{}, newError(CodeInvalidPrice, "stop_price must be a positive multiple of price_tick")
		}
	}

	var quoteBudget int64
	needsBudget := side == orderbook.Buy && (typ == orderbook.Market || typ == orderbook.StopMarket)
	if needsBudget {
		// quote_budget is a plain quote-asset amount (dollars, not a
		// price*qty notional), so it shares the price's minor-unit size.
		quoteBudget, err = decimalToFixed(req.QuoteBudget, h.symbol.PriceTickSize)
		if err != nil || quoteBudget <= 0 {
			return PlaceOrderResponse{}, newError(CodeInvalidQty, "quote_budget is required for a market buy")
		}
	}

	reserveAsset, reserveAmount, notional := g.computeReservation(h.symbol, side, typ, price, qty, quoteBudget)

	limits, err := g.kyc.Limits(ctx, req.UserID)
	if err != nil {
		return PlaceOrderResponse{}, newError(CodeUnauthorized, err.Error())
	}
	if limits.MaxOrderNotional > 0 && notional > limits.MaxOrderNotional {
		return PlaceOrderResponse{}, newError(CodeUnauthorized, "order notional exceeds KYC limit")
	}
	if limits.MaxLeverage > 0 && req.Leverage > limits.MaxLeverage {
		return PlaceOrderResponse{}, newError(CodeUnauthorized, "leverage exceeds KYC limit")
	}

	if err := g.led.Reserve(req.UserID, reserveAsset, reserveAmount); err != nil {
		return PlaceOrderResponse{}, newError(CodeInsufficientFunds, err.Error())
	}

	orderID := g.orderSeq.Next()
	g.trackOrder(req.UserID, req.ClientOrderID, orderID, req.Symbol)

	if typ == orderbook.StopLimit || typ == orderbook.StopMarket {
		stop := &stopshelf.StopOrder{
			OrderID:       orderID,
			ClientOrderID: req.ClientOrderID,
			UserID:        req.UserID,
			Symbol:        req.Symbol,
			Side:          side,
			TriggerType:   triggerType(typ),
			Reference:     stopshelf.LastPrice,
			Op:            stopOp(side),
			StopPrice:     stopPrice,
			Price:         price,
			Qty:           qty,
			QuoteBudget:   quoteBudget,
			ArrivalSeq:    orderID,
		}
		reply := make(chan engine.TaskResult, 1)
		h.eng.Inbound() <- engine.Task{Kind: engine.TaskPlaceStop, Stop: stop, ReserveAsset: reserveAsset, ReserveAmount: reserveAmount, Reply: reply}
		res := <-reply
		if res.Err != nil {
			return PlaceOrderResponse{}, res.Err
		}
		return PlaceOrderResponse{OrderID: orderID, Status: orderbook.Open.String()}, nil
	}

	order := &orderbook.Order{
		OrderID:       orderID,
		ClientOrderID: req.ClientOrderID,
		UserID:        req.UserID,
		Symbol:        req.Symbol,
		Side:          side,
		Type:          typ,
		TimeInForce:   tif,
		PostOnly:      req.PostOnly,
		ReduceOnly:    req.ReduceOnly,
		Price:         price,
		StopPrice:     stopPrice,
		Qty:           qty,
		Remaining:     qty,
		QuoteBudget:   quoteBudget,
		CreatedAt:     time.Now(),
		GTDExpiry:     req.GTDExpiry,
	}

	reply := make(chan engine.TaskResult, 1)
	h.eng.Inbound() <- engine.Task{Kind: engine.TaskPlace, Order: order, ReserveAsset: reserveAsset, ReserveAmount: reserveAmount, Reply: reply}
	res := <-reply
	if res.Err != nil {
		return PlaceOrderResponse{}, res.Err
	}
	return PlaceOrderResponse{OrderID: orderID, Status: res.Order.Status.String()}, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, req CancelOrderRequest) (CancelOrderResponse, error) {
	if err := g.validate.Struct(req); err != nil {
		return CancelOrderResponse{}, newError(CodeInvalidQty, err.Error())
	}
	authedUser, err := g.auth.Verify(ctx, req.AuthToken)
	if err != nil || authedUser != req.UserID {
		return CancelOrderResponse{}, newError(CodeUnauthorized, "token does not match user")
	}

	orderID := req.OrderID
	if orderID == 0 {
		resolved, ok := g.lookupClientOrder(req.UserID, req.ClientOrderID)
		if !ok {
			return CancelOrderResponse{}, newError(CodeNotFound, "unknown client_order_id")
		}
		orderID = resolved
	}

	symbol, ok := g.symbolFor(orderID)
	if !ok {
		return CancelOrderResponse{}, newError(CodeNotFound, "unknown order_id")
	}
	h, ok := g.lookup(symbol)
	if !ok {
		return CancelOrderResponse{}, newError(CodeNotFound, "unknown order_id")
	}

	reply := make(chan engine.TaskResult, 1)
	h.eng.Inbound() <- engine.Task{Kind: engine.TaskCancel, CancelOrderID: orderID, Reply: reply}
	res := <-reply
	if res.Err != nil {
		if res.Err == orderbook.ErrUnknownOrder {
			// symbolFor above already confirmed this order_id was once
			// placed through this gateway, so the book no longer having
			// it means it already reached a terminal state and was
			// removed from the index — not that it never existed.
			return CancelOrderResponse{}, newError(CodeAlreadyTerminal, "order already reached a terminal state")
		}
		return CancelOrderResponse{}, res.Err
	}
	status := orderbook.Cancelled.String()
	if res.Order != nil {
		status = res.Order.Status.String()
	}
	return CancelOrderResponse{Status: status}, nil
}

func (g *Gateway) QueryOrder(ctx context.Context, req QueryOrderRequest) (OrderSnapshot, error) {
	if err := g.validate.Struct(req); err != nil {
		return OrderSnapshot{}, newError(CodeInvalidQty, err.Error())
	}
	symbol, ok := g.symbolFor(req.OrderID)
	if !ok {
		return OrderSnapshot{}, newError(CodeNotFound, "unknown order_id")
	}
	h, ok := g.lookup(symbol)
	if !ok {
		return OrderSnapshot{}, newError(CodeNotFound, "unknown order_id")
	}

	reply := make(chan engine.TaskResult, 1)
	h.eng.Inbound() <- engine.Task{Kind: engine.TaskQuery, QueryOrderID: req.OrderID, Reply: reply}
	res := <-reply
	if !res.Found || res.Order == nil {
		return OrderSnapshot{}, newError(CodeNotFound, "order not resting (filled, cancelled, or never rested)")
	}
	o := res.Order
	return OrderSnapshot{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		UserID:        o.UserID,
		Symbol:        o.Symbol,
		Side:          o.Side.String(),
		Status:        o.Status.String(),
		Qty:           o.Qty,
		Filled:        o.Filled,
		Remaining:     o.Remaining,
		Price:         o.Price,
		AvgFillPrice:  o.AvgFillPrice(),
	}, nil
}

// BookSnapshot returns the current resting-order state of symbol's
// book, built from inside its owning engine's single-consumer goroutine
// so it can never be torn against a concurrent match step. Used to seed
// a new book:{symbol} subscriber before forwarding it any further delta.
func (g *Gateway) BookSnapshot(ctx context.Context, symbol string) (BookSnapshot, error) {
	h, ok := g.lookup(symbol)
	if !ok {
		return BookSnapshot{}, newError(CodeInvalidSymbol, fmt.Sprintf("unknown symbol %q", symbol))
	}

	reply := make(chan engine.TaskResult, 1)
	h.eng.Inbound() <- engine.Task{Kind: engine.TaskBookSnapshot, Reply: reply}
	res := <-reply
	if res.Err != nil {
		return BookSnapshot{}, res.Err
	}

	snap := BookSnapshot{Symbol: symbol, Seq: res.Snapshot.Seq}
	for _, l := range res.Snapshot.Bids {
		snap.Bids = append(snap.Bids, PriceLevel{Price: l.Price, Qty: l.Qty})
	}
	for _, l := range res.Snapshot.Asks {
		snap.Asks = append(snap.Asks, PriceLevel{Price: l.Price, Qty: l.Qty})
	}
	return snap, nil
}

func (g *Gateway) computeReservation(sym orderbook.Symbol, side orderbook.Side, typ orderbook.OrderType, price, qty, quoteBudget int64) (asset string, amount int64, notional int64) {
	if side == orderbook.Sell {
		return sym.Base, qty, qty * price
	}
	if typ == orderbook.Market || typ == orderbook.StopMarket {
		return sym.Quote, quoteBudget, quoteBudget
	}
	notional = price * qty
	fee := ledger.Fee(notional, sym.TakerFeeRateBps, sym.PriceTick)
	return sym.Quote, notional + fee, notional
}

func (g *Gateway) trackOrder(user uint64, clientOrderID string, orderID uint64, symbol string) {
	g.ordersMu.Lock()
	defer g.ordersMu.Unlock()
	g.orderSymbol[orderID] = symbol
	if clientOrderID == "" {
		return
	}
	byClient, ok := g.clientOrders[user]
	if !ok {
		byClient = make(map[string]uint64)
		g.clientOrders[user] = byClient
	}
	byClient[clientOrderID] = orderID
}

func (g *Gateway) lookupClientOrder(user uint64, clientOrderID string) (uint64, bool) {
	if clientOrderID == "" {
		return 0, false
	}
	g.ordersMu.Lock()
	defer g.ordersMu.Unlock()
	byClient, ok := g.clientOrders[user]
	if !ok {
		return 0, false
	}
	orderID, ok := byClient[clientOrderID]
	return orderID, ok
}

func (g *Gateway) symbolFor(orderID uint64) (string, bool) {
	g.ordersMu.Lock()
	defer g.ordersMu.Unlock()
	s, ok := g.orderSymbol[orderID]
	return s, ok
}

// decimalToFixed converts a wire-level decimal into the tick-scaled
// int64 space the book trades in, by dividing by the size of one
// internal unit (e.g. price ticks of "0.01"). A zero-valued unitSize is
// treated as "1" so symbols that never set PriceTickSize/QtyStepSize
// (an internal unit already equal to a whole "1") keep demanding an
// integral decimal, unchanged.
func decimalToFixed(d decimal.Decimal, unitSize decimal.Decimal) (int64, error) {
	if unitSize.IsZero() {
		unitSize = decimal.NewFromInt(1)
	}
	scaled := d.Div(unitSize)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("gateway: value %s is not aligned to increment %s", d.String(), unitSize.String())
	}
	return scaled.IntPart(), nil
}

func parseSide(s string) (orderbook.Side, error) {
	switch s {
	case "buy":
		return orderbook.Buy, nil
	case "sell":
		return orderbook.Sell, nil
	default:
		return 0, fmt.Errorf("gateway: unknown side %q", s)
	}
}

func parseType(s string) (orderbook.OrderType, error) {
	switch s {
	case "limit":
		return orderbook.Limit, nil
	case "market":
		return orderbook.Market, nil
	case "stop_limit":
		return orderbook.StopLimit, nil
	case "stop_market":
		return orderbook.StopMarket, nil
	case "ioc":
		return orderbook.IOC, nil
	case "fok":
		return orderbook.FOK, nil
	default:
		return 0, fmt.Errorf("gateway: unknown order type %q", s)
	}
}

func parseTIF(s string, typ orderbook.OrderType) orderbook.TimeInForce {
	switch {
	case typ == orderbook.IOC:
		return orderbook.TIFIOC
	case typ == orderbook.FOK:
		return orderbook.TIFFOK
	case s == "ioc":
		return orderbook.TIFIOC
	case s == "fok":
		return orderbook.TIFFOK
	default:
		return orderbook.GTC
	}
}

func triggerType(typ orderbook.OrderType) orderbook.OrderType {
	if typ == orderbook.StopLimit {
		return orderbook.Limit
	}
	return orderbook.Market
}

// stopOp picks the trigger comparison: a buy stop fires as the market
// rises through it (breakout entry / stop-loss on a short), a sell
// stop fires as it falls through (stop-loss on a long).
func stopOp(side orderbook.Side) stopshelf.Op {
	if side == orderbook.Buy {
		return stopshelf.GTE
	}
	return stopshelf.LTE
}
