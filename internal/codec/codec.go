// Package codec provides the CBOR encoding used for scanvault's internal
// records: queued operations and cached metadata projections.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2) so the same
// record always produces identical bytes. Records are not addressed by
// content, but deterministic bytes keep snapshots and tests stable.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	opts := cbor.CoreDetEncOptions()
	// time.Time fields (CreatedAt, LastAttemptAt) keep sub-second precision.
	opts.Time = cbor.TimeRFC3339Nano
	encMode, err = opts.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v deterministically.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Unknown fields are ignored.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Diagnose returns the CBOR diagnostic notation for data. Used by the CLI
// when dumping raw queue records.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
