package adapter

import (
	"context"
	"fmt"

	"github.com/kestrel-governance/spine-controller/internal/rpcwire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// #region service-name

// serviceName is the fully-qualified gRPC service name exposed by the
// external drafting/embedding/search collaborator. There is no .proto file
// behind it — see the rpcwire package — but the method names below are
// exactly what a protoc-generated client would have called.
const serviceName = "governance.DrafterService"

// #endregion service-name

// #region wire-types

// generateRequest/generateResponse, embedRequest/embedResponse, and
// searchRequest/searchResponse are the JSON wire shapes for the three RPCs.
// Unlike the teacher's codec.CodecClient these aren't protobuf messages —
// they travel as plain JSON via the rpcwire codec — but the field shape
// mirrors the teacher's GenerateRequest/EmbedRequest/SearchRequest 1:1.
type generateRequest struct {
	Prompt            string   `json:"prompt"`
	Context           []string `json:"context"`
	Temperature       float64  `json:"temperature"`
	GroundingEmphasis float64  `json:"grounding_emphasis"`
}

type generateResponse struct {
	Text              string   `json:"text"`
	HallucinationSelf *float64 `json:"hallucination_self"`
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchResponse struct {
	Results []SearchResult `json:"results"`
}

// #endregion wire-types

// #region client

// Client is the gRPC-backed implementation of Drafter, Embedder, and
// Searcher. Descended from the teacher's codec.CodecClient, swapping
// protobuf request/response structs for the JSON-codec equivalents above.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient dials the external collaborator at addr.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// NewClientWithConn wraps an already-established connection, used by tests
// that dial an in-process bufconn listener.
func NewClientWithConn(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close shuts down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// #endregion client

// #region generate

// Generate implements Drafter.
func (c *Client) Generate(ctx context.Context, req DraftRequest) (DraftResult, error) {
	wireReq := &generateRequest{
		Prompt:            req.Prompt,
		Context:           req.Context,
		Temperature:       req.Modulation.Temperature,
		GroundingEmphasis: req.Modulation.GroundingEmphasis,
	}
	var resp generateResponse
	if err := rpcwire.Invoke(ctx, c.conn, "/"+serviceName+"/Generate", wireReq, &resp); err != nil {
		return DraftResult{}, fmt.Errorf("generate rpc: %w", err)
	}
	return DraftResult{Text: resp.Text, HallucinationSelf: resp.HallucinationSelf}, nil
}

// #endregion generate

// #region embed

// Embed implements Embedder.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	wireReq := &embedRequest{Text: text}
	var resp embedResponse
	if err := rpcwire.Invoke(ctx, c.conn, "/"+serviceName+"/Embed", wireReq, &resp); err != nil {
		return nil, fmt.Errorf("embed rpc: %w", err)
	}
	return resp.Embedding, nil
}

// #endregion embed

// #region search

// Search implements Searcher.
func (c *Client) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	wireReq := &searchRequest{Query: query, TopK: topK}
	var resp searchResponse
	if err := rpcwire.Invoke(ctx, c.conn, "/"+serviceName+"/Search", wireReq, &resp); err != nil {
		return nil, fmt.Errorf("search rpc: %w", err)
	}
	return resp.Results, nil
}

// #endregion search
