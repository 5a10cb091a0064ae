package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/wrapl/minilang-sub003/pkg/bytecode"
)

// Client calls a remote CompileService.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the compile service at target. Extra dial options are
// appended after the defaults.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	defaults := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(newCBORCodec())),
	}
	conn, err := grpc.NewClient(target, append(defaults, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Compile compiles text remotely.
func (c *Client) Compile(ctx context.Context, source, text string) (*CompileResponse, error) {
	resp := new(CompileResponse)
	err := c.conn.Invoke(ctx, "/"+serviceName+"/Compile", &CompileRequest{Source: source, Text: text}, resp)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// CompileFunc compiles text remotely and decodes the result. It fails
// when the function has no wire form.
func (c *Client) CompileFunc(ctx context.Context, source, text string) (*bytecode.Func, error) {
	resp, err := c.Compile(ctx, source, text)
	if err != nil {
		return nil, err
	}
	if resp.Code == nil {
		return nil, bytecode.ErrUnencodable
	}
	return bytecode.Unmarshal(resp.Code)
}

// Check reports the diagnostics for text.
func (c *Client) Check(ctx context.Context, source, text string) ([]Diagnostic, error) {
	resp := new(CheckResponse)
	err := c.conn.Invoke(ctx, "/"+serviceName+"/Check", &CompileRequest{Source: source, Text: text}, resp)
	if err != nil {
		return nil, err
	}
	return resp.Diagnostics, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
