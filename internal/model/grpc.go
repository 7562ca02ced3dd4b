package model

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// generateMethod is the unary RPC served by the inference sidecar.
// Request and response bodies are google.protobuf.Struct.
const generateMethod = "/partypen.model.v1.ModelService/Generate"

// #region client-struct

// GRPCClient talks to the inference sidecar over gRPC.
type GRPCClient struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

// #endregion

// #region constructor

// NewGRPCClient connects to the inference gRPC server.
func NewGRPCClient(addr string) (*GRPCClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &GRPCClient{conn: conn, cc: conn}, nil
}

// NewGRPCClientWithConn creates a GRPCClient over an injected connection.
// Used for testing without a real server.
func NewGRPCClientWithConn(cc grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{cc: cc}
}

// #endregion

// #region close

// Close shuts down the gRPC connection if this client owns one.
func (c *GRPCClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion

// #region generate

// Generate sends one prompt to the sidecar and returns the generated text.
func (c *GRPCClient) Generate(ctx context.Context, req Request) (string, error) {
	format := req.ResponseFormat
	if format == "" {
		format = FormatText
	}
	in, err := structpb.NewStruct(map[string]any{
		"prompt":          req.Prompt,
		"model":           req.Model,
		"temperature":     float64(req.Temperature),
		"max_tokens":      req.MaxTokens,
		"response_format": string(format),
	})
	if err != nil {
		return "", fmt.Errorf("encode generate request: %w", err)
	}

	out := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, generateMethod, in, out); err != nil {
		return "", fmt.Errorf("generate rpc: %w", err)
	}

	text, ok := out.GetFields()["text"]
	if !ok {
		return "", fmt.Errorf("generate rpc: %w: missing text", ErrBadResponse)
	}
	return text.GetStringValue(), nil
}

// #endregion
