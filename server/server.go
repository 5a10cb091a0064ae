// Package server exposes the compiler over gRPC and the Language Server
// Protocol.
package server

import (
	"context"
	"errors"
	"net"

	"github.com/tliron/commonlog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/wrapl/minilang-sub003/compiler"
	"github.com/wrapl/minilang-sub003/pkg/bytecode"
)

var log = commonlog.GetLogger("minilang.server")

const serviceName = "minilang.v1.CompileService"

// CompileRequest names a source and carries its text.
type CompileRequest struct {
	Source string `cbor:"1,keyasint"`
	Text   string `cbor:"2,keyasint"`
}

// CompileResponse carries a compiled function. Code holds the wire
// encoding of the function and is empty when it embeds host values;
// Listing is always set.
type CompileResponse struct {
	Code    []byte `cbor:"1,keyasint,omitempty"`
	Listing string `cbor:"2,keyasint"`
	Cached  bool   `cbor:"3,keyasint,omitempty"`
}

// CheckResponse lists the problems found in a source. It is empty when
// the source compiles.
type CheckResponse struct {
	Diagnostics []Diagnostic `cbor:"1,keyasint,omitempty"`
}

// CompileServer is the service implemented by Server.
type CompileServer interface {
	Compile(context.Context, *CompileRequest) (*CompileResponse, error)
	Check(context.Context, *CompileRequest) (*CheckResponse, error)
}

func compileHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CompileRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CompileServer).Compile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Compile"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CompileServer).Compile(ctx, req.(*CompileRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func checkHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CompileRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CompileServer).Check(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Check"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CompileServer).Check(ctx, req.(*CompileRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var compileServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CompileServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Compile", Handler: compileHandler},
		{MethodName: "Check", Handler: checkHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "minilang/v1/compile",
}

// Server serves CompileService over gRPC.
type Server struct {
	worker *Worker
	grpc   *grpc.Server
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	grpcOptions []grpc.ServerOption
}

// WithGRPCOptions passes extra options to the underlying grpc.Server.
func WithGRPCOptions(opts ...grpc.ServerOption) ServerOption {
	return func(c *serverConfig) { c.grpcOptions = append(c.grpcOptions, opts...) }
}

// New creates a Server compiling through w.
func New(w *Worker, opts ...ServerOption) *Server {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	gopts := append([]grpc.ServerOption{grpc.ForceServerCodec(newCBORCodec())}, cfg.grpcOptions...)
	s := &Server{
		worker: w,
		grpc:   grpc.NewServer(gopts...),
	}
	s.grpc.RegisterService(&compileServiceDesc, s)
	return s
}

// Compile implements CompileServer. Compile errors are reported with
// codes.InvalidArgument and the error text as message.
func (s *Server) Compile(ctx context.Context, req *CompileRequest) (*CompileResponse, error) {
	fn, cached, err := s.worker.Compile(ctx, req.Source, req.Text)
	if err != nil {
		return nil, rpcError(err)
	}
	resp := &CompileResponse{Listing: bytecode.Disassemble(fn), Cached: cached}
	resp.Code, err = bytecode.Marshal(fn)
	if err != nil {
		if !errors.Is(err, bytecode.ErrUnencodable) {
			return nil, status.Error(codes.Internal, err.Error())
		}
		resp.Code = nil
	}
	return resp, nil
}

// Check implements CompileServer.
func (s *Server) Check(ctx context.Context, req *CompileRequest) (*CheckResponse, error) {
	err := s.worker.Check(ctx, req.Source, req.Text)
	if code := status.Code(rpcError(err)); code != codes.OK && code != codes.InvalidArgument && code != codes.Internal {
		return nil, rpcError(err)
	}
	return &CheckResponse{Diagnostics: diagnose(err)}, nil
}

func rpcError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, ErrStopped):
		return status.Error(codes.Unavailable, err.Error())
	}
	var ce *compiler.Error
	if errors.As(err, &ce) {
		return status.Error(codes.InvalidArgument, ce.Detail())
	}
	return status.Error(codes.Internal, err.Error())
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	log.Infof("compile service listening on %s", lis.Addr())
	return s.grpc.Serve(lis)
}

// ListenAndServe listens on the TCP address addr and serves on it.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Stop shuts down the server and its worker.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
	s.worker.Stop()
}
