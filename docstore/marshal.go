// Copyright 2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package docstore

import (
	"encoding/base64"
	"reflect"

	"github.com/ugorji/go/codec"
)

// Documents cross the storage boundary as CBOR.  CBOR is compact,
// preserves the distinction between integers and floats that JSON
// loses, and round-trips []byte values without base64 gymnastics.

func cborHandle() *codec.CborHandle {
	cbor := new(codec.CborHandle)
	// Force nested maps to decode as string-keyed maps, so a
	// decoded Document is Documents all the way down.
	cbor.MapType = reflect.TypeOf(map[string]interface{}(nil))
	return cbor
}

// EncodeDocument renders a document as CBOR bytes.
func EncodeDocument(doc Document) (out []byte, err error) {
	encoder := codec.NewEncoderBytes(&out, cborHandle())
	err = encoder.Encode(map[string]interface{}(doc))
	return
}

// DecodeDocument parses CBOR bytes back into a document.
func DecodeDocument(in []byte) (Document, error) {
	var out map[string]interface{}
	decoder := codec.NewDecoderBytes(in, cborHandle())
	err := decoder.Decode(&out)
	if err != nil {
		return nil, err
	}
	return Document(out), nil
}

// CopyDocument deep-copies a document by round-tripping it through the
// codec.  The container update loop uses this so a mutator that fails,
// or loses the compare-and-swap, never leaks changes into shared state.
func CopyDocument(doc Document) (Document, error) {
	if doc == nil {
		return nil, nil
	}
	encoded, err := EncodeDocument(doc)
	if err != nil {
		return nil, err
	}
	return DecodeDocument(encoded)
}

// continuation is the decoded form of a continuation token.  Tokens
// are opaque to callers but shared between the Store implementations in
// this module, all of which resume a scan from the last row key served.
type continuation struct {
	PartitionKey string
	LastRowKey   string
}

// MarshalContinuation builds an opaque continuation token recording the
// last row key served from a partition.  Store implementations call
// this; callers of QueryRange treat the result as a black box.
func MarshalContinuation(partitionKey, lastRowKey string) string {
	var out []byte
	encoder := codec.NewEncoderBytes(&out, cborHandle())
	// Encoding a two-field struct of strings cannot fail.
	_ = encoder.Encode(continuation{PartitionKey: partitionKey, LastRowKey: lastRowKey})
	return base64.URLEncoding.EncodeToString(out)
}

// UnmarshalContinuation recovers the scan position from a token
// produced by MarshalContinuation.  The partition key must match the
// one being queried; a token replayed against a different partition is
// invalid.
func UnmarshalContinuation(token, partitionKey string) (lastRowKey string, err error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", ErrInvalidContinuation{Token: token}
	}
	var c continuation
	decoder := codec.NewDecoderBytes(raw, cborHandle())
	if err := decoder.Decode(&c); err != nil {
		return "", ErrInvalidContinuation{Token: token}
	}
	if c.PartitionKey != partitionKey {
		return "", ErrInvalidContinuation{Token: token}
	}
	return c.LastRowKey, nil
}

// ErrInvalidContinuation is returned from QueryRange when a
// continuation token is corrupt or belongs to a different scan.
type ErrInvalidContinuation struct {
	// Token is the offending token.
	Token string
}

func (err ErrInvalidContinuation) Error() string {
	return "Invalid continuation token"
}
