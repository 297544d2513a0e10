package pb

import (
	"context"

	"google.golang.org/grpc"
)

// OrderGatewayServer is the service interface grpcserver.Server
// implements. Subscribe is server-streaming: one request selects a
// bus channel, and the server pushes StepMessages until the client
// disconnects or the channel's subscriber is dropped as lagged.
type OrderGatewayServer interface {
	PlaceOrder(context.Context, *PlaceOrderRequest) (*PlaceOrderResponse, error)
	CancelOrder(context.Context, *CancelOrderRequest) (*CancelOrderResponse, error)
	QueryOrder(context.Context, *QueryOrderRequest) (*OrderSnapshot, error)
	Subscribe(*SubscribeRequest, OrderGateway_SubscribeServer) error
}

// UnimplementedOrderGatewayServer gives a zero-value embed a way to
// satisfy OrderGatewayServer during incremental rollout, the same
// forward-compatibility convention protoc-gen-go-grpc emits.
type UnimplementedOrderGatewayServer struct{}

func (UnimplementedOrderGatewayServer) PlaceOrder(context.Context, *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	return nil, grpcUnimplemented("PlaceOrder")
}
func (UnimplementedOrderGatewayServer) CancelOrder(context.Context, *CancelOrderRequest) (*CancelOrderResponse, error) {
	return nil, grpcUnimplemented("CancelOrder")
}
func (UnimplementedOrderGatewayServer) QueryOrder(context.Context, *QueryOrderRequest) (*OrderSnapshot, error) {
	return nil, grpcUnimplemented("QueryOrder")
}
func (UnimplementedOrderGatewayServer) Subscribe(*SubscribeRequest, OrderGateway_SubscribeServer) error {
	return grpcUnimplemented("Subscribe")
}

type OrderGateway_SubscribeServer interface {
	Send(*StepMessage) error
	grpc.ServerStream
}

type orderGatewaySubscribeServer struct {
	grpc.ServerStream
}

func (x *orderGatewaySubscribeServer) Send(m *StepMessage) error {
	return x.ServerStream.SendMsg(m)
}

func _OrderGateway_PlaceOrder_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PlaceOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderGatewayServer).PlaceOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/clobcore.OrderGateway/PlaceOrder"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderGatewayServer).PlaceOrder(ctx, req.(*PlaceOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _OrderGateway_CancelOrder_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CancelOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderGatewayServer).CancelOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/clobcore.OrderGateway/CancelOrder"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderGatewayServer).CancelOrder(ctx, req.(*CancelOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _OrderGateway_QueryOrder_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(QueryOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderGatewayServer).QueryOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/clobcore.OrderGateway/QueryOrder"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderGatewayServer).QueryOrder(ctx, req.(*QueryOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _OrderGateway_Subscribe_Handler(srv any, stream grpc.ServerStream) error {
	m := new(SubscribeRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(OrderGatewayServer).Subscribe(m, &orderGatewaySubscribeServer{stream})
}

// OrderGateway_ServiceDesc is registered on a *grpc.Server via
// RegisterOrderGatewayServer, the same shape protoc-gen-go-grpc emits.
var OrderGateway_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "clobcore.OrderGateway",
	HandlerType: (*OrderGatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PlaceOrder", Handler: _OrderGateway_PlaceOrder_Handler},
		{MethodName: "CancelOrder", Handler: _OrderGateway_CancelOrder_Handler},
		{MethodName: "QueryOrder", Handler: _OrderGateway_QueryOrder_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: _OrderGateway_Subscribe_Handler, ServerStreams: true},
	},
	Metadata: "clobcore/order_gateway.proto",
}

func RegisterOrderGatewayServer(s grpc.ServiceRegistrar, srv OrderGatewayServer) {
	s.RegisterService(&OrderGateway_ServiceDesc, srv)
}
