package server

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype of the ledger service. Requests
// travel as application/grpc+json.
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

// Call invokes one ledger method over conn.
func Call[Req, Resp any](ctx context.Context, conn grpc.ClientConnInterface, method string, req *Req) (*Resp, error) {
	resp := new(Resp)
	err := conn.Invoke(ctx, fmt.Sprintf("/%s/%s", ServiceName, method), req, resp, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	return resp, nil
}
