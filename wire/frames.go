package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/go-blocksync/blocksync"
	"github.com/go-blocksync/blocksync/signature"
)

// EncodeHello builds the Hello payload: block_size(4) | path_len(2) | path.
func EncodeHello(blockSize uint32, path string) []byte {
	p := []byte(path)
	buf := make([]byte, 4+2+len(p))
	binary.LittleEndian.PutUint32(buf[0:4], blockSize)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(len(p)))
	copy(buf[6:], p)
	return buf
}

// DecodeHello parses a Hello payload.
func DecodeHello(payload []byte) (blockSize uint32, path string, err error) {
	if len(payload) < 6 {
		return 0, "", blocksync.NewError(blocksync.KindProtocol, errors.New("wire: Hello frame too short"))
	}
	blockSize = binary.LittleEndian.Uint32(payload[0:4])
	pathLen := binary.LittleEndian.Uint16(payload[4:6])
	if len(payload) < 6+int(pathLen) {
		return 0, "", blocksync.NewError(blocksync.KindProtocol, errors.New("wire: Hello frame path truncated"))
	}
	path = string(payload[6 : 6+int(pathLen)])
	return blockSize, path, nil
}

// EncodeSignatures builds the Signatures payload: count(4) | file_len(8) |
// repeated { index(4), length(4), weak(4), strong(32) }.
func EncodeSignatures(idx *signature.Index, fileLen uint64) []byte {
	count := idx.Count()
	buf := make([]byte, 4+8+count*(4+4+4+32))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(count))
	binary.LittleEndian.PutUint64(buf[4:12], fileLen)

	off := 12
	for _, b := range idx.Ordered {
		binary.LittleEndian.PutUint32(buf[off:off+4], b.Index)
		binary.LittleEndian.PutUint32(buf[off+4:off+8], b.Length)
		binary.LittleEndian.PutUint32(buf[off+8:off+12], b.Weak)
		copy(buf[off+12:off+44], b.Strong[:])
		off += 44
	}
	return buf
}

// DecodedBlock is the wire representation of one BlockSignature.
type DecodedBlock struct {
	Index  uint32
	Length uint32
	Weak   uint32
	Strong [32]byte
}

// DecodeSignatures parses a Signatures payload into its file length and
// ordered block list.
func DecodeSignatures(payload []byte) (fileLen uint64, blocks []DecodedBlock, err error) {
	if len(payload) < 12 {
		return 0, nil, blocksync.NewError(blocksync.KindProtocol, errors.New("wire: Signatures frame too short"))
	}
	count := binary.LittleEndian.Uint32(payload[0:4])
	fileLen = binary.LittleEndian.Uint64(payload[4:12])

	const recLen = 4 + 4 + 4 + 32
	need := 12 + int(count)*recLen
	if len(payload) < need {
		return 0, nil, blocksync.NewError(blocksync.KindProtocol, errors.New("wire: Signatures frame truncated"))
	}

	blocks = make([]DecodedBlock, count)
	off := 12
	for i := uint32(0); i < count; i++ {
		var b DecodedBlock
		b.Index = binary.LittleEndian.Uint32(payload[off : off+4])
		b.Length = binary.LittleEndian.Uint32(payload[off+4 : off+8])
		b.Weak = binary.LittleEndian.Uint32(payload[off+8 : off+12])
		copy(b.Strong[:], payload[off+12:off+44])
		blocks[i] = b
		off += recLen
	}
	return fileLen, blocks, nil
}

// ToSignatureBlocks converts decoded wire blocks into signature.Block
// values so the receiving side can rebuild a signature.Index with
// signature.FromBlocks.
func ToSignatureBlocks(decoded []DecodedBlock) []signature.Block {
	blocks := make([]signature.Block, len(decoded))
	for i, d := range decoded {
		blocks[i] = signature.Block{
			Index:  d.Index,
			Length: d.Length,
			Weak:   d.Weak,
			Strong: d.Strong,
		}
	}
	return blocks
}

// EncodeMatch builds the Match payload: block_index(4).
func EncodeMatch(blockIndex uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, blockIndex)
	return buf
}

// DecodeMatch parses a Match payload.
func DecodeMatch(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, blocksync.NewError(blocksync.KindProtocol, errors.New("wire: Match frame must be exactly 4 bytes"))
	}
	return binary.LittleEndian.Uint32(payload), nil
}

// EncodeError builds the Error payload: code(2) | msg_len(2) | msg.
func EncodeError(code uint16, msg string) []byte {
	m := []byte(msg)
	buf := make([]byte, 2+2+len(m))
	binary.LittleEndian.PutUint16(buf[0:2], code)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(m)))
	copy(buf[4:], m)
	return buf
}

// DecodeError parses an Error payload.
func DecodeError(payload []byte) (code uint16, msg string) {
	if len(payload) < 4 {
		return 0, "malformed error frame"
	}
	code = binary.LittleEndian.Uint16(payload[0:2])
	msgLen := binary.LittleEndian.Uint16(payload[2:4])
	if len(payload) < 4+int(msgLen) {
		return code, "malformed error frame"
	}
	msg = string(payload[4 : 4+int(msgLen)])
	return code, msg
}
