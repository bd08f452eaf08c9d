package types

import "bytes"

// BufferInterface is a frame carried between the codec and a transport.
// A *StringBuffer holds a text frame, a *BytesBuffer an opaque binary one;
// transports switch on the concrete type to pick the wire framing.
type BufferInterface interface {
	Bytes() []byte
	String() string
	Len() int
	Write(p []byte) (int, error)
	WriteString(s string) (int, error)
	WriteByte(b byte) error
}

type StringBuffer struct {
	bytes.Buffer
}

type BytesBuffer struct {
	bytes.Buffer
}

func NewStringBuffer() *StringBuffer {
	return &StringBuffer{}
}

func NewStringBufferString(s string) *StringBuffer {
	b := &StringBuffer{}
	b.WriteString(s)
	return b
}

func NewBytesBuffer(p []byte) *BytesBuffer {
	b := &BytesBuffer{}
	b.Write(p)
	return b
}
