// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Warren's standard CBOR encoding configuration.
//
// Warren uses two serialization formats with a clear boundary:
//
//   - JSON for external interfaces: the orchestration HTTP API, the
//     server-sent event stream, broker requests, and CLI output.
//   - CBOR for internal storage: archived task records in the tasks
//     database (request and response payloads, captured output).
//
// This package provides the shared CBOR encoding and decoding modes so
// that every Warren package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes, which keeps archived payload digests stable.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (encoding through a compressor):
//
//	encoder := codec.NewEncoder(compressedWriter)
//	decoder := codec.NewDecoder(compressedReader)
package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer
// encoding, no indefinite-length items. Same logical data always
// produces identical bytes.
var encMode cbor.EncMode

// decMode is the CBOR decoder configured to accept standard CBOR.
// Unknown fields are silently ignored for forward compatibility.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Archived payloads decode into map[string]any so the API can
		// re-serve them as JSON. The CBOR default for any-typed
		// targets is map[interface{}]interface{} (CBOR allows
		// non-string keys), which encoding/json rejects. Warren never
		// writes non-string map keys, so a string-keyed default is
		// safe. Struct field decoding is unaffected.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encoder is a CBOR stream encoder. Type alias so consumers import
// only lib/codec, not fxamacker/cbor directly.
type Encoder = cbor.Encoder

// Decoder is a CBOR stream decoder. Type alias so consumers import
// only lib/codec, not fxamacker/cbor directly.
type Decoder = cbor.Decoder

// RawMessage is a raw encoded CBOR value. It implements
// cbor.Marshaler and cbor.Unmarshaler so it can be used to delay
// CBOR decoding or pre-encode CBOR output.
type RawMessage = cbor.RawMessage

// NewEncoder returns a CBOR encoder that writes to w using Warren's
// standard Core Deterministic Encoding configuration.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a CBOR decoder that reads from r using Warren's
// standard decoding configuration.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}

// Diagnose returns the CBOR diagnostic notation (RFC 8949 §8) for the
// entire contents of data. Used by CLI inspection of archived task
// blobs.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
