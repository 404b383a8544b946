package envelope

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/text/unicode/norm"
)

// wireEnvelope is the decoding target for Unmarshal. Field order here is
// irrelevant; Marshal writes fields explicitly.
type wireEnvelope struct {
	Version     string `json:"version"`
	Algorithm   string `json:"algorithm"`
	Content     string `json:"content"`
	ContentHash string `json:"contentHash"`
	Signature   string `json:"signature"`
	PublicKey   string `json:"publicKey"`
	Timestamp   string `json:"timestamp"`
}

// Marshal produces the canonical encoding of sc:
//
//	{"version":..,"algorithm":..,"content":..,"contentHash":..,
//	 "signature":..,"publicKey":..,"timestamp":..}
//
// with no insignificant whitespace and no trailing newline.
func Marshal(sc *SignedContent) ([]byte, error) {
	if sc == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrMalformed)
	}

	fields := []struct{ key, value string }{
		{"version", norm.NFC.String(sc.Version)},
		{"algorithm", norm.NFC.String(sc.Algorithm)},
		{"content", base64.StdEncoding.EncodeToString(sc.Content)},
		{"contentHash", base64.StdEncoding.EncodeToString(sc.ContentHash)},
		{"signature", base64.StdEncoding.EncodeToString(sc.Signature)},
		{"publicKey", base64.StdEncoding.EncodeToString(sc.PublicKey)},
		{"timestamp", sc.Timestamp.UTC().Format(time.RFC3339Nano)},
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeString(&buf, f.key); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := writeString(&buf, f.value); err != nil {
			return nil, fmt.Errorf("field %s: %w", f.key, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// writeString appends s as a JSON string without HTML escaping.
func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// json.Encoder adds a trailing newline
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'}))
	return nil
}

// Unmarshal decodes a canonical envelope. Unknown fields, trailing data,
// invalid base64, and versions other than Version are errors.
func Unmarshal(data []byte) (*SignedContent, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w wireEnvelope
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformed)
	}
	if w.Version != Version {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, w.Version)
	}

	sc := &SignedContent{
		Algorithm: w.Algorithm,
		Version:   w.Version,
	}
	var err error
	if sc.Content, err = decodeField("content", w.Content); err != nil {
		return nil, err
	}
	if sc.ContentHash, err = decodeField("contentHash", w.ContentHash); err != nil {
		return nil, err
	}
	if sc.Signature, err = decodeField("signature", w.Signature); err != nil {
		return nil, err
	}
	if sc.PublicKey, err = decodeField("publicKey", w.PublicKey); err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
	}
	sc.Timestamp = ts.UTC()
	return sc, nil
}

func decodeField(name, s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, name, err)
	}
	return b, nil
}
