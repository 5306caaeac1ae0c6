package rpcwire

import (
	"context"

	"google.golang.org/grpc"
)

// #region unary-handler

// UnaryHandler builds a grpc.MethodHandler from a plain Go function, so a
// service can be registered without protoc-generated *_grpc.pb.go stubs.
// The request is decoded through the registered Codec (see codec.go) into
// a fresh *Req before fn is called.
func UnaryHandler[Req, Resp any](fn func(ctx context.Context, req *Req) (*Resp, error)) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return fn(ctx, req.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}

// #endregion unary-handler

// #region client-invoke

// Invoke calls a unary RPC by fully-qualified method name ("/service/Method"),
// using the JSON codec for both request and response. A thin wrapper around
// grpc.ClientConn.Invoke so callers don't need to remember the call option.
func Invoke(ctx context.Context, cc *grpc.ClientConn, method string, req, resp interface{}, opts ...grpc.CallOption) error {
	callOpts := append([]grpc.CallOption{grpc.CallContentSubtype(Name)}, opts...)
	return cc.Invoke(ctx, method, req, resp, callOpts...)
}

// #endregion client-invoke
