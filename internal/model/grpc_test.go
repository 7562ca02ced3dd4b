package model

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region mock
type mockConn struct {
	method string
	in     *structpb.Struct
	reply  map[string]any
	err    error
}

func (m *mockConn) Invoke(_ context.Context, method string, args, reply any, _ ...grpc.CallOption) error {
	m.method = method
	m.in = args.(*structpb.Struct)
	if m.err != nil {
		return m.err
	}
	s, err := structpb.NewStruct(m.reply)
	if err != nil {
		return err
	}
	proto.Merge(reply.(*structpb.Struct), s)
	return nil
}

func (m *mockConn) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, errors.New("streaming not supported")
}

// #endregion

// #region constructor-tests
func TestNewGRPCClient(t *testing.T) {
	client, err := NewGRPCClient("localhost:0")
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}
	defer client.Close()
}

func TestNewGRPCClientWithConn_CloseIsNoop(t *testing.T) {
	c := NewGRPCClientWithConn(&mockConn{})
	if err := c.Close(); err != nil {
		t.Fatalf("expected nil error closing injected conn, got %v", err)
	}
}

// #endregion

// #region generate-tests
func TestGRPCGenerate_Success(t *testing.T) {
	conn := &mockConn{reply: map[string]any{"text": "draft one"}}
	c := NewGRPCClientWithConn(conn)

	text, err := c.Generate(context.Background(), Request{
		Prompt:      "write",
		Model:       "qwen-small",
		Temperature: 0.9,
		MaxTokens:   256,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "draft one" {
		t.Errorf("expected 'draft one', got %q", text)
	}
	if conn.method != generateMethod {
		t.Errorf("expected method %q, got %q", generateMethod, conn.method)
	}
	fields := conn.in.GetFields()
	if fields["model"].GetStringValue() != "qwen-small" {
		t.Errorf("expected model field, got %v", fields["model"])
	}
	if fields["max_tokens"].GetNumberValue() != 256 {
		t.Errorf("expected max_tokens 256, got %v", fields["max_tokens"])
	}
	if fields["response_format"].GetStringValue() != string(FormatText) {
		t.Errorf("expected default response_format text, got %v", fields["response_format"])
	}
}

func TestGRPCGenerate_MissingText(t *testing.T) {
	c := NewGRPCClientWithConn(&mockConn{reply: map[string]any{"other": "x"}})

	_, err := c.Generate(context.Background(), Request{Prompt: "p"})
	if !errors.Is(err, ErrBadResponse) {
		t.Fatalf("expected ErrBadResponse, got %v", err)
	}
}

func TestGRPCGenerate_Error(t *testing.T) {
	conn := &mockConn{err: errors.New("rpc failed")}
	c := NewGRPCClientWithConn(conn)

	_, err := c.Generate(context.Background(), Request{Prompt: "p"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, conn.err) {
		t.Errorf("expected wrapped rpc error, got: %v", err)
	}
}

// #endregion
