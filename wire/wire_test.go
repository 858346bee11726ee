package wire

import (
	"bytes"
	"testing"

	"github.com/hooklift/assert"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	assert.Ok(t, WriteFrame(&buf, TagLiteral, []byte("payload")))

	f, err := ReadFrame(&buf)
	assert.Ok(t, err)
	assert.Equals(t, TagLiteral, f.Tag)
	assert.Cond(t, bytes.Equal([]byte("payload"), f.Payload), "round-tripped payload must match what was written")
}

func TestWriteReadEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	assert.Ok(t, WriteFrame(&buf, TagEnd, nil))

	f, err := ReadFrame(&buf)
	assert.Ok(t, err)
	assert.Equals(t, TagEnd, f.Tag)
	assert.Equals(t, 0, len(f.Payload))
}

func TestExpectTagMismatch(t *testing.T) {
	var buf bytes.Buffer
	assert.Ok(t, WriteFrame(&buf, TagMatch, EncodeMatch(7)))

	_, err := ExpectTag(&buf, TagHello)
	assert.Cond(t, err != nil, "an unexpected tag must be rejected")
}

func TestExpectTagPropagatesErrorFrame(t *testing.T) {
	var buf bytes.Buffer
	assert.Ok(t, WriteFrame(&buf, TagError, EncodeError(3, "boom")))

	_, err := ExpectTag(&buf, TagSignatures)
	assert.Cond(t, err != nil, "an Error frame must surface as an error even if a different tag was expected")
}

func TestHelloRoundTrip(t *testing.T) {
	payload := EncodeHello(4096, "/var/data/file.bin")
	blockSize, path, err := DecodeHello(payload)
	assert.Ok(t, err)
	assert.Equals(t, uint32(4096), blockSize)
	assert.Equals(t, "/var/data/file.bin", path)
}

func TestMatchRoundTrip(t *testing.T) {
	payload := EncodeMatch(123456)
	idx, err := DecodeMatch(payload)
	assert.Ok(t, err)
	assert.Equals(t, uint32(123456), idx)
}

func TestMatchRejectsWrongLength(t *testing.T) {
	_, err := DecodeMatch([]byte{1, 2, 3})
	assert.Cond(t, err != nil, "a Match payload that isn't exactly 4 bytes must be rejected")
}

func TestErrorRoundTrip(t *testing.T) {
	payload := EncodeError(42, "something went wrong")
	code, msg := DecodeError(payload)
	assert.Equals(t, uint16(42), code)
	assert.Equals(t, "something went wrong", msg)
}
