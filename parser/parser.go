// Package parser implements the application-level packet codec: the text
// frame grammar, the JSON payload, and the detach/reattach handling of
// binary attachments.
package parser

// Parser builds the encoder/decoder pair used by a server. It is an
// extension point: a custom wire format (see mpparser) only has to
// produce and consume *Packet values.
type Parser interface {
	NewEncoder() Encoder
	NewDecoder() Decoder
}

type parser struct{}

func NewParser() Parser {
	return &parser{}
}

func (*parser) NewEncoder() Encoder {
	return NewEncoder()
}

func (*parser) NewDecoder() Decoder {
	return NewDecoder()
}
