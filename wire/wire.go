// Package wire implements the binary frame protocol that carries
// signatures and instructions between the sender and the receiver when
// they live on different hosts: a frame is tag(1) | length(4) | payload,
// all integers little-endian.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/go-blocksync/blocksync"
)

// Tag identifies a frame's payload shape.
type Tag uint8

const (
	TagHello      Tag = 0x01
	TagSignatures Tag = 0x02
	TagLiteral    Tag = 0x03
	TagMatch      Tag = 0x04
	TagEnd        Tag = 0x05
	TagError      Tag = 0xFF
)

// MaxLiteralLen caps a single Literal frame's payload, per spec.
const MaxLiteralLen = 64 * 1024

// maxFrameLen bounds any frame's payload so a corrupt or hostile peer
// cannot make the reader allocate unbounded memory; large signature sets
// are legitimately bigger than a literal frame, so this is generous.
const maxFrameLen = 256 * 1024 * 1024

// Frame is a decoded tag + payload.
type Frame struct {
	Tag     Tag
	Payload []byte
}

// WriteFrame writes tag|len(payload)|payload to w.
func WriteFrame(w io.Writer, tag Tag, payload []byte) error {
	header := make([]byte, 5)
	header[0] = byte(tag)
	binary.LittleEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return blocksync.Wrapf(blocksync.KindNetwork, err, "wire: writing frame header")
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return blocksync.Wrapf(blocksync.KindNetwork, err, "wire: writing frame payload")
		}
	}
	return nil
}

// ReadFrame reads one frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return Frame{}, blocksync.NewError(blocksync.KindNetwork, errors.Wrap(err, "wire: connection closed before frame header"))
		}
		return Frame{}, blocksync.Wrapf(blocksync.KindNetwork, err, "wire: reading frame header")
	}

	tag := Tag(header[0])
	length := binary.LittleEndian.Uint32(header[1:])
	if length > maxFrameLen {
		return Frame{}, blocksync.NewError(blocksync.KindNetwork, errors.Errorf("wire: frame too large: %d bytes", length))
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, blocksync.Wrapf(blocksync.KindNetwork, err, "wire: reading frame payload")
		}
	}

	return Frame{Tag: tag, Payload: payload}, nil
}

// ExpectTag reads a frame and errors with KindProtocol if its tag doesn't
// match want, enforcing the strict frame ordering the session state
// machine requires.
func ExpectTag(r io.Reader, want Tag) (Frame, error) {
	f, err := ReadFrame(r)
	if err != nil {
		return f, err
	}
	if f.Tag == TagError {
		code, msg := DecodeError(f.Payload)
		return f, blocksync.NewError(blocksync.KindProtocol, errors.Errorf("wire: peer reported error %d: %s", code, msg))
	}
	if f.Tag != want {
		return f, blocksync.NewError(blocksync.KindProtocol, errors.Errorf("wire: expected frame tag 0x%02x, got 0x%02x", want, f.Tag))
	}
	return f, nil
}
