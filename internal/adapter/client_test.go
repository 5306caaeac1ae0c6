package adapter

import (
	"context"
	"net"
	"testing"

	"github.com/kestrel-governance/spine-controller/internal/rpcwire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

// fakeDrafterService backs the three RPCs with canned, inspectable behavior.
type fakeDrafterService struct {
	lastGenerate *generateRequest
	lastEmbed    *embedRequest
	lastSearch   *searchRequest
}

func (f *fakeDrafterService) generate(ctx context.Context, req *generateRequest) (*generateResponse, error) {
	f.lastGenerate = req
	score := 0.1
	return &generateResponse{Text: "echo: " + req.Prompt, HallucinationSelf: &score}, nil
}

func (f *fakeDrafterService) embed(ctx context.Context, req *embedRequest) (*embedResponse, error) {
	f.lastEmbed = req
	return &embedResponse{Embedding: []float32{0.1, 0.2, 0.3}}, nil
}

func (f *fakeDrafterService) search(ctx context.Context, req *searchRequest) (*searchResponse, error) {
	f.lastSearch = req
	return &searchResponse{Results: []SearchResult{{ID: "doc-1", Text: "anchor text", Score: 0.9}}}, nil
}

// dialFake starts an in-process gRPC server over a bufconn listener and
// returns a *Client wired to it, mirroring the teacher's
// NewCodecClientWithService test-injection seam.
func dialFake(t *testing.T, svc *fakeDrafterService) *Client {
	t.Helper()

	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	desc := &grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Generate", Handler: rpcwire.UnaryHandler(svc.generate)},
			{MethodName: "Embed", Handler: rpcwire.UnaryHandler(svc.embed)},
			{MethodName: "Search", Handler: rpcwire.UnaryHandler(svc.search)},
		},
	}
	srv.RegisterService(desc, svc)

	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return NewClientWithConn(conn)
}

func TestClientGenerate(t *testing.T) {
	svc := &fakeDrafterService{}
	client := dialFake(t, svc)

	result, err := client.Generate(context.Background(), DraftRequest{
		Prompt:     "hello",
		Context:    []string{"turn-1"},
		Modulation: ModulationParams{Band: BandCalm, Temperature: 0.8, GroundingEmphasis: 0.2},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Text != "echo: hello" {
		t.Fatalf("Text = %q", result.Text)
	}
	if result.HallucinationSelf == nil || *result.HallucinationSelf != 0.1 {
		t.Fatalf("HallucinationSelf = %v", result.HallucinationSelf)
	}
	if svc.lastGenerate.Temperature != 0.8 {
		t.Fatalf("upstream saw Temperature = %v", svc.lastGenerate.Temperature)
	}
}

func TestClientEmbed(t *testing.T) {
	svc := &fakeDrafterService{}
	client := dialFake(t, svc)

	vec, err := client.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("len(vec) = %d", len(vec))
	}
	if svc.lastEmbed.Text != "some text" {
		t.Fatalf("upstream saw Text = %q", svc.lastEmbed.Text)
	}
}

func TestClientSearch(t *testing.T) {
	svc := &fakeDrafterService{}
	client := dialFake(t, svc)

	results, err := client.Search(context.Background(), "query text", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "doc-1" {
		t.Fatalf("results = %+v", results)
	}
	if svc.lastSearch.TopK != 5 {
		t.Fatalf("upstream saw TopK = %d", svc.lastSearch.TopK)
	}
}
