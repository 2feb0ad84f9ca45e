// Copyright 2025 Certen Protocol
//
// Canonical Commitment Package - deterministic (RFC8785-like) JSON
// and hashing helpers. Within the consensus core, the PBFT manager
// uses OrderHash to commit to a period's dag_block_order.

package commitment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// CanonicalizeJSON takes arbitrary JSON bytes and returns a canonical encoding
// (deterministic key order, stable formatting). This is a simplified RFC8785-like approach.
func CanonicalizeJSON(raw []byte) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	canonical := canonicalizeValue(v)
	return json.Marshal(canonical)
}

// canonicalizeValue recursively sorts map keys; arrays retain order.
func canonicalizeValue(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(map[string]interface{}, len(vv))
		for _, k := range keys {
			ordered[k] = canonicalizeValue(vv[k])
		}
		return ordered
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, e := range vv {
			out[i] = canonicalizeValue(e)
		}
		return out
	default:
		return vv
	}
}

// HashConcat returns SHA256 of concatenated byte slices.
func HashConcat(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// HashHex returns hex-encoded SHA256 of concatenated byte slices
func HashHex(parts ...[]byte) string {
	return hex.EncodeToString(HashConcat(parts...))
}

// HashBytes returns hex-encoded SHA256 of bytes with 0x prefix
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return "0x" + hex.EncodeToString(h[:])
}

// MarshalCanonical performs canonical JSON encoding via CanonicalizeJSON
func MarshalCanonical(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return CanonicalizeJSON(raw)
}

// HashCanonical performs canonical JSON encoding and returns SHA-256 hex hash
func HashCanonical(v interface{}) (string, error) {
	canon, err := MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	return HashBytes(canon), nil
}

// ==================================================================
// Order hash: the digest a PBFT block commits to over its DAG
// anchor's dag_block_order. Same pairwise-reduction construction the
// governance Merkle root used, applied to 32-byte block hashes.
// ==================================================================

// ErrEmptyOrder is returned by OrderHash when given no block hashes;
// callers should commit the zero hash rather than call this.
var ErrEmptyOrder = errors.New("commitment: empty dag block order")

// OrderHash computes the canonical commitment for an ordered sequence
// of DAG block hashes (32 bytes each). The reduction is order-sensitive:
// permuting the input changes the result, which is the point — two
// validators that disagree on dag_block_order must produce different
// order hashes.
func OrderHash(orderedBlockHashes [][]byte) ([]byte, error) {
	if len(orderedBlockHashes) == 0 {
		return nil, ErrEmptyOrder
	}
	for i, h := range orderedBlockHashes {
		if len(h) != 32 {
			return nil, fmt.Errorf("order hash entry %d: expected 32 bytes, got %d", i, len(h))
		}
	}

	level := make([][]byte, len(orderedBlockHashes))
	copy(level, orderedBlockHashes)

	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, HashConcat(level[i], level[i+1]))
		}
		level = next
	}
	return level[0], nil
}

// OrderHashHex is OrderHash with a hex-encoded, 0x-prefixed result.
func OrderHashHex(orderedBlockHashes [][]byte) (string, error) {
	h, err := OrderHash(orderedBlockHashes)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(h), nil
}
