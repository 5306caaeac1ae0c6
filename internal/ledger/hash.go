package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// #region genesis

// genesisHash is the fixed previous_hash value for the first record of
// every island (sequence_num == 0), per §3.
const genesisHash = "genesis"

// #endregion genesis

// #region canonical

// canonicalJSON renders v as UTF-8 JSON with sorted object keys and no
// insignificant whitespace. encoding/json already sorts map[string]*
// keys; the round-trip through a generic map normalizes struct field order
// (declaration order) into the same sorted form at every nesting level, so
// the result is stable regardless of how v's Go type ordered its fields.
func canonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize marshal: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonicalize unmarshal: %w", err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonicalize re-marshal: %w", err)
	}
	return out, nil
}

// #endregion canonical

// #region hashing

// sha256Hex returns the hex-encoded SHA-256 digest of b.
func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// computeContentHash is H(canonical(payload)), per §3.
func computeContentHash(payload map[string]interface{}) (string, error) {
	canon, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}
	return sha256Hex(canon), nil
}

// computePreviousHash is H(prev.record_id || prev.content_hash ||
// prev.timestamp), the exact formula in §4.6/§8. Concatenation uses a
// delimiter so that e.g. record_id="ab" + content_hash="cd" can never
// collide with record_id="abc" + content_hash="d".
func computePreviousHash(prevRecordID, prevContentHash, prevTimestamp string) string {
	input := prevRecordID + "|" + prevContentHash + "|" + prevTimestamp
	return sha256Hex([]byte(input))
}

// #endregion hashing

// #region rolling-digest

// rollDigest folds payload into the island's rolling context_digest using
// blake2b — cheaper incremental hashing than re-hashing the whole context
// window with SHA-256 on every turn, per the domain-stack rationale in
// SPEC_FULL.md. The chain's content_hash/previous_hash fields always use
// SHA-256 regardless; this digest is a secondary, informational field.
func rollDigest(priorDigest string, payload map[string]interface{}) (string, error) {
	canon, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("rolling digest: %w", err)
	}
	h.Write([]byte(priorDigest))
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// #endregion rolling-digest
