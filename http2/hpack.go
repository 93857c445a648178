package http2

import (
	"bytes"

	"golang.org/x/net/http2/hpack"
)

// defaultHeaderTableSize is SETTINGS_HEADER_TABLE_SIZE's default value.
//
// https://tools.ietf.org/html/rfc7540#section-6.5.2
const defaultHeaderTableSize = 4096

// HPACK is the per-connection pair of header codecs spec §4.4/Glossary
// treats as an external collaborator: one Encoder for responses (and pushed
// requests), one Decoder for the inbound header block being reassembled
// across HEADERS/CONTINUATION frames.
//
// The teacher hand-rolls its own HPACK tables; this wraps
// golang.org/x/net/http2/hpack instead, the ecosystem's canonical codec.
type HPACK struct {
	enc    *hpack.Encoder
	encBuf bytes.Buffer
	dec    *hpack.Decoder

	fields []*HeaderField
}

// NewHPACK builds an HPACK codec pair with the RFC default dynamic table
// size on both sides. SetMaxTableSize applies the peer's
// SETTINGS_HEADER_TABLE_SIZE once negotiated.
func NewHPACK() *HPACK {
	hp := &HPACK{}
	hp.enc = hpack.NewEncoder(&hp.encBuf)
	hp.dec = hpack.NewDecoder(defaultHeaderTableSize, hp.onDecoded)
	return hp
}

func (hp *HPACK) onDecoded(f hpack.HeaderField) {
	fld := AcquireHeaderField()
	fld.SetKeyBytes([]byte(f.Name))
	fld.SetValueBytes([]byte(f.Value))
	if f.Sensitive {
		fld.sensitive = true
	}
	hp.fields = append(hp.fields, fld)
}

// SetMaxTableSize updates both the encoder's peer-side table size
// assumption and the decoder's table size, in response to a SETTINGS frame
// changing SETTINGS_HEADER_TABLE_SIZE.
func (hp *HPACK) SetMaxTableSize(size uint32) {
	hp.enc.SetMaxDynamicTableSize(size)
	hp.dec.SetMaxDynamicTableSize(size)
}

// AppendHeader HPACK-encodes hf and appends the result to dst. store
// mirrors whether the field should be indexed in the dynamic table
// (false forces "never indexed" for sensitive fields).
func (hp *HPACK) AppendHeader(dst []byte, hf *HeaderField, store bool) []byte {
	hp.encBuf.Reset()

	_ = hp.enc.WriteField(hpack.HeaderField{
		Name:      hf.Key(),
		Value:     hf.Value(),
		Sensitive: hf.IsSensitive() || !store,
	})

	return append(dst, hp.encBuf.Bytes()...)
}

// Next decodes src and returns the decoded fields (borrowed from the
// HPACK's internal pool - the caller must call ReleaseHeaderField on each
// once done). A decoding failure reported by Decoder.Write is returned as
// the error, with no fields.
func (hp *HPACK) Next(src []byte) ([]*HeaderField, error) {
	hp.fields = hp.fields[:0]

	if _, err := hp.dec.Write(src); err != nil {
		return nil, err
	}

	return hp.fields, nil
}

// Close releases decoder resources tied to this HPACK instance. Safe to
// call once the owning connection has shut down.
func (hp *HPACK) Close() error {
	return hp.dec.Close()
}
