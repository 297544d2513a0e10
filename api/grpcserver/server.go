// Package grpcserver adapts the Order Gateway and the Subscription Bus
// to gRPC: unary PlaceOrder/CancelOrder/QueryOrder calls dispatch
// straight into gateway.Gateway, and the Subscribe server-stream
// forwards one bus channel's committed steps until the client
// disconnects or the subscription is dropped as lagged.
package grpcserver

import (
	"errors"

	pb "clobcore/api/pb"
	"clobcore/bus"
	"clobcore/gateway"
	"clobcore/publisher"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"context"
)

// Server implements pb.OrderGatewayServer over one Gateway and one Bus.
type Server struct {
	pb.UnimplementedOrderGatewayServer

	gw  *gateway.Gateway
	bus *bus.Bus
	log *zap.Logger
}

func NewServer(gw *gateway.Gateway, b *bus.Bus, log *zap.Logger) *Server {
	return &Server{gw: gw, bus: b, log: log}
}

func (s *Server) PlaceOrder(ctx context.Context, req *pb.PlaceOrderRequest) (*pb.PlaceOrderResponse, error) {
	in, err := toPlaceOrderRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	resp, err := s.gw.PlaceOrder(ctx, in)
	if err != nil {
		return fromGatewayErrorPlace(err)
	}
	return &pb.PlaceOrderResponse{OrderID: resp.OrderID, Status: resp.Status}, nil
}

func (s *Server) CancelOrder(ctx context.Context, req *pb.CancelOrderRequest) (*pb.CancelOrderResponse, error) {
	resp, err := s.gw.CancelOrder(ctx, gateway.CancelOrderRequest{
		UserID:        req.UserID,
		OrderID:       req.OrderID,
		ClientOrderID: req.ClientOrderID,
		AuthToken:     req.AuthToken,
	})
	if err != nil {
		return fromGatewayErrorCancel(err)
	}
	return &pb.CancelOrderResponse{Status: resp.Status}, nil
}

func (s *Server) QueryOrder(ctx context.Context, req *pb.QueryOrderRequest) (*pb.OrderSnapshot, error) {
	snap, err := s.gw.QueryOrder(ctx, gateway.QueryOrderRequest{OrderID: req.OrderID})
	if err != nil {
		var gerr *gateway.Error
		if errors.As(err, &gerr) {
			return nil, status.Error(codes.NotFound, gerr.Message)
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return toOrderSnapshotMessage(snap), nil
}

// Subscribe streams one bus channel's committed steps to the client
// until it disconnects or falls behind and is dropped as lagged. A
// book:{symbol} subscription gets a full book snapshot as its first
// frame, tagged with the seq it was taken at, before any delta with a
// higher seq — otherwise a subscriber joining after trades have already
// happened could never reconstruct the book (spec §4.5).
func (s *Server) Subscribe(req *pb.SubscribeRequest, stream pb.OrderGateway_SubscribeServer) error {
	sub := s.bus.Subscribe(req.Channel)
	defer s.bus.Unsubscribe(sub)

	if symbol, ok := bus.SymbolFromBookChannel(req.Channel); ok {
		snap, err := s.gw.BookSnapshot(stream.Context(), symbol)
		if err != nil {
			return status.Error(codes.NotFound, err.Error())
		}
		if err := stream.Send(toBookSnapshotStepMessage(snap)); err != nil {
			return err
		}
	}

	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case reason, ok := <-sub.Done():
			if !ok {
				return nil
			}
			if reason == bus.Lagged {
				return status.Error(codes.ResourceExhausted, "subscriber lagged, reconnect and resync from a snapshot")
			}
			return nil
		case step, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := stream.Send(toStepMessage(step)); err != nil {
				return err
			}
		}
	}
}

// -------------------- converters --------------------

func toPlaceOrderRequest(req *pb.PlaceOrderRequest) (gateway.PlaceOrderRequest, error) {
	qty, err := parseDecimal(req.Qty)
	if err != nil {
		return gateway.PlaceOrderRequest{}, err
	}
	price, err := parseDecimal(req.Price)
	if err != nil {
		return gateway.PlaceOrderRequest{}, err
	}
	stopPrice, err := parseDecimal(req.StopPrice)
	if err != nil {
		return gateway.PlaceOrderRequest{}, err
	}
	quoteBudget, err := parseDecimal(req.QuoteBudget)
	if err != nil {
		return gateway.PlaceOrderRequest{}, err
	}

	return gateway.PlaceOrderRequest{
		UserID:        req.UserID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Qty:           qty,
		Price:         price,
		StopPrice:     stopPrice,
		QuoteBudget:   quoteBudget,
		TimeInForce:   req.TimeInForce,
		PostOnly:      req.PostOnly,
		ReduceOnly:    req.ReduceOnly,
		ClientOrderID: req.ClientOrderID,
		Leverage:      req.Leverage,
		GTDExpiry:     req.GTDExpiry,
		AuthToken:     req.AuthToken,
	}, nil
}

// parseDecimal treats an empty wire field as zero: most of
// Price/StopPrice/QuoteBudget are optional depending on order type,
// and the gateway itself enforces which ones are required for a given
// type/side combination.
func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func toOrderSnapshotMessage(s gateway.OrderSnapshot) *pb.OrderSnapshot {
	return &pb.OrderSnapshot{
		OrderID:       s.OrderID,
		ClientOrderID: s.ClientOrderID,
		UserID:        s.UserID,
		Symbol:        s.Symbol,
		Side:          s.Side,
		Status:        s.Status,
		Qty:           s.Qty,
		Filled:        s.Filled,
		Remaining:     s.Remaining,
		Price:         s.Price,
		AvgFillPrice:  s.AvgFillPrice,
	}
}

// toBookSnapshotStepMessage wraps a book snapshot in the same
// StepMessage envelope every other frame travels in, with a single
// synthetic event carrying it, tagged at the snapshot's own seq so the
// client can tell a delta with a lower-or-equal seq is now stale.
func toBookSnapshotStepMessage(snap gateway.BookSnapshot) *pb.StepMessage {
	bids := make([]pb.PriceLevelMessage, len(snap.Bids))
	for i, l := range snap.Bids {
		bids[i] = pb.PriceLevelMessage{Price: l.Price, Qty: l.Qty}
	}
	asks := make([]pb.PriceLevelMessage, len(snap.Asks))
	for i, l := range snap.Asks {
		asks[i] = pb.PriceLevelMessage{Price: l.Price, Qty: l.Qty}
	}
	return &pb.StepMessage{
		Symbol:   snap.Symbol,
		SeqStart: snap.Seq,
		SeqEnd:   snap.Seq,
		Events: []pb.EventMessage{{
			Seq:          snap.Seq,
			Symbol:       snap.Symbol,
			Type:         "book_snapshot",
			BookSnapshot: &pb.BookSnapshotMessage{Bids: bids, Asks: asks},
		}},
	}
}

func toStepMessage(step publisher.Step) *pb.StepMessage {
	msg := &pb.StepMessage{
		Symbol:   step.Symbol,
		SeqStart: step.SeqStart,
		SeqEnd:   step.SeqEnd,
		Events:   make([]pb.EventMessage, 0, len(step.Events)),
	}
	for _, ev := range step.Events {
		msg.Events = append(msg.Events, toEventMessage(ev))
	}
	return msg
}

func toEventMessage(ev publisher.Event) pb.EventMessage {
	m := pb.EventMessage{Seq: ev.Seq, Symbol: ev.Symbol, Type: ev.Type.String()}
	switch ev.Type {
	case publisher.EventTrade:
		t := ev.Trade
		m.Trade = &pb.TradeMessage{
			TradeID: t.TradeID,
			Price:   t.Price, Qty: t.Qty,
			TakerOrderID: t.TakerOrderID, MakerOrderID: t.MakerOrderID,
			TakerUserID: t.TakerUserID, MakerUserID: t.MakerUserID,
			TakerSide: t.TakerSide.String(),
		}
	case publisher.EventBookDelta:
		d := ev.BookDelta
		m.BookDelta = &pb.BookDeltaMessage{Side: d.Side.String(), Price: d.Price, NewQty: d.NewQty}
	case publisher.EventOrderUpdate:
		o := ev.OrderUpdate
		m.OrderUpdate = &pb.OrderUpdateMessage{
			UserID: o.UserID, OrderID: o.OrderID, Status: o.Status.String(),
			Filled: o.Filled, Remaining: o.Remaining, AvgFillPrice: o.AvgFillPrice,
			SelfTradePrevented: o.SelfTradePrevented,
		}
	case publisher.EventBalanceUpdate:
		b := ev.BalanceUpdate
		m.BalanceUpdate = &pb.BalanceUpdateMessage{
			UserID: b.UserID, Asset: b.Asset, Available: b.Available, Reserved: b.Reserved,
		}
	case publisher.EventSymbolHalted:
		m.SymbolHalted = &pb.SymbolHaltedMessage{Reason: ev.SymbolHalted.Reason}
	}
	return m
}

func fromGatewayErrorPlace(err error) (*pb.PlaceOrderResponse, error) {
	var gerr *gateway.Error
	if errors.As(err, &gerr) {
		return &pb.PlaceOrderResponse{
			OrderID: gerr.OrderID,
			Status:  "rejected",
			Code:    string(gerr.Code),
			Message: gerr.Message,
		}, nil
	}
	return nil, status.Error(codes.Internal, err.Error())
}

func fromGatewayErrorCancel(err error) (*pb.CancelOrderResponse, error) {
	var gerr *gateway.Error
	if errors.As(err, &gerr) {
		return &pb.CancelOrderResponse{
			Status:  "rejected",
			Code:    string(gerr.Code),
			Message: gerr.Message,
		}, nil
	}
	return nil, status.Error(codes.Internal, err.Error())
}
