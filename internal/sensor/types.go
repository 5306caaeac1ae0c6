package sensor

import (
	"context"

	"github.com/kestrel-governance/spine-controller/internal/sensortype"
)

// #region embedder-interface

// Embedder abstracts the embedding RPC so Sensor can be tested without a
// live gRPC connection. Structurally identical to adapter.Embedder; kept
// as a separate interface per the teacher's habit of scoping collaborator
// interfaces to the package that consumes them (signals.Embedder mirrored
// codec.CodecClient's Embed method the same way).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// #endregion embedder-interface

// #region cache-interface

// Cache is the optional embedding cache boundary. A miss or an unreachable
// backend must never surface as an error — Get returning ok=false always
// means "compute it", not "something is wrong".
type Cache interface {
	Get(ctx context.Context, fingerprint string) ([]float32, bool)
	Set(ctx context.Context, fingerprint string, embedding []float32)
}

// #endregion cache-interface

// #region config

// Config holds the tuning knobs the Sensor needs beyond what travels on
// the constitution snapshot (which supplies risk domains and their
// weights/keywords, and the sensor window length).
type Config struct {
	// TypicalUtteranceLength is the token count the tension logistic squash
	// is centered on; utterances much longer are treated as more urgent.
	TypicalUtteranceLength int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{TypicalUtteranceLength: 40}
}

// #endregion config

// #region input

// ContextTurn is one prior user-or-response text in the island's sliding
// window, already truncated to the constitution's SensorWindowTurns.
type ContextTurn struct {
	Text string
}

// Input bundles everything the Sensor needs to compute one triple.
type Input struct {
	Utterance string
	Context   []ContextTurn
}

// #endregion input

// #region output

// Result is the Sensor's full output for one utterance: the triple plus
// its content-addressing fingerprints and the domain breakdown behind R,
// which the Gate's P0 check needs to compare against each rule's floor.
type Result struct {
	Triple         sensortype.Triple
	Fingerprint    string
	BaselineDigest string
	SensorDegraded bool
	DomainScores   map[string]float64
}

// #endregion output
