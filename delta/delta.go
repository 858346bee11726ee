// Package delta implements the sender-side delta scanner: it rolls a weak
// checksum across the source file, confirms candidate matches against the
// receiver's block signatures with a strong hash, and emits an instruction
// stream of Match/Literal/End.
package delta

import (
	"bytes"
	"io"

	"github.com/pkg/errors"

	"github.com/go-blocksync/blocksync"
	"github.com/go-blocksync/blocksync/checksum"
	"github.com/go-blocksync/blocksync/signature"
)

// literalChunkCap bounds the size of a single Literal instruction so the
// scanner's memory use stays O(blockSize + literalChunkCap), not O(sourceLen).
const literalChunkCap = 64 * 1024

// Kind distinguishes the two instruction variants; End is represented by
// the instruction stream simply closing.
type Kind uint8

const (
	// KindMatch copies a block from the destination's old content.
	KindMatch Kind = iota
	// KindLiteral writes bytes verbatim.
	KindLiteral
)

// Instruction is one step of reconstructing the source file from the
// destination's old content plus literal bytes.
type Instruction struct {
	Kind       Kind
	BlockIndex uint32 // valid when Kind == KindMatch
	Literal    []byte // valid when Kind == KindLiteral
}

// Stats summarizes a completed scan.
type Stats struct {
	TransferredBytes uint64
	ReusedBytes      uint64
	TotalBytes       uint64
}

// Sink receives instructions in order as the scanner produces them. Scan
// calls Sink for each instruction and returns after the logical End of the
// stream; callers that need an explicit End marker on the wire emit one
// themselves once Scan returns successfully (see session.SyncRemote for the
// network case).
type Sink func(Instruction) error

// Scan reads the source (of known length srcLen) and emits an instruction
// sequence through sink such that applying it to the destination's old
// content reproduces the source exactly. idx is the receiver's signature
// set for the destination, generated with the same block size.
func Scan(r io.Reader, srcLen int64, idx *signature.Index, sink Sink) (Stats, error) {
	var stats Stats
	stats.TotalBytes = uint64(srcLen)

	if srcLen == 0 {
		return stats, nil
	}

	blockSize := idx.BlockSize
	if blockSize == 0 {
		return stats, blocksync.NewError(blocksync.KindProtocol, errors.New("delta: signature index has zero block size"))
	}

	winLen := int(blockSize)
	if int64(winLen) > srcLen {
		winLen = int(srcLen)
	}

	window := make([]byte, winLen)
	if _, err := io.ReadFull(r, window); err != nil {
		return stats, blocksync.Wrapf(blocksync.KindIO, err, "delta: reading initial window")
	}

	weak := checksum.Weak(window)
	literalBuf := make([]byte, 0, literalChunkCap)

	flush := func() error {
		if len(literalBuf) == 0 {
			return nil
		}
		buf := literalBuf
		literalBuf = make([]byte, 0, literalChunkCap)
		stats.TransferredBytes += uint64(len(buf))
		return sink(Instruction{Kind: KindLiteral, Literal: buf})
	}

	appendLiteral := func(b byte) error {
		literalBuf = append(literalBuf, b)
		if len(literalBuf) >= literalChunkCap {
			return flush()
		}
		return nil
	}

	// consumed tracks how many bytes of r we have pulled into window/the
	// single-byte roll-forward reads below; it is also the offset of the
	// next byte to read, so consumed == srcLen means the source is exhausted.
	consumed := int64(winLen)

	for {
		if block, ok := matchBlock(idx, window, weak); ok {
			if err := flush(); err != nil {
				return stats, err
			}
			stats.ReusedBytes += uint64(block.Length)
			if err := sink(Instruction{Kind: KindMatch, BlockIndex: block.Index}); err != nil {
				return stats, err
			}

			remaining := srcLen - consumed
			if remaining <= 0 {
				break
			}

			nextLen := int64(blockSize)
			if nextLen > remaining {
				nextLen = remaining
			}
			window = window[:nextLen]
			if _, err := io.ReadFull(r, window); err != nil {
				return stats, blocksync.Wrapf(blocksync.KindIO, err, "delta: reading block after match")
			}
			consumed += nextLen
			weak = checksum.Weak(window)
			winLen = int(nextLen)
			continue
		}

		// No match: emit window[0] as a literal and slide forward by one
		// byte, shrinking the window at the tail of the source.
		if err := appendLiteral(window[0]); err != nil {
			return stats, err
		}

		if consumed < srcLen {
			// Roll forward: drop window[0], read one new byte to extend.
			var next [1]byte
			if _, err := io.ReadFull(r, next[:]); err != nil {
				return stats, blocksync.Wrapf(blocksync.KindIO, err, "delta: reading next byte")
			}
			consumed++
			outByte := window[0]
			newWindow := make([]byte, winLen)
			copy(newWindow, window[1:])
			newWindow[winLen-1] = next[0]
			weak = checksum.Roll(weak, outByte, next[0], winLen)
			window = newWindow
			continue
		}

		// Tail-shrink: no bytes remain to extend the window with: shrink it
		// by one from the front, subtracting only the outgoing byte's
		// contribution to the running sums.
		weak = checksum.Shrink(weak, window[0], winLen)
		winLen--
		if winLen == 0 {
			break
		}
		window = window[1:]
	}

	if err := flush(); err != nil {
		return stats, err
	}

	return stats, nil
}

// matchBlock looks up weak in idx; if a bucket exists and at least one
// signature in it has the same length as window, it strong-hashes window
// and compares against every same-length candidate, returning the first
// match in bucket order.
func matchBlock(idx *signature.Index, window []byte, weak uint32) (signature.Block, bool) {
	candidates := idx.Lookup(weak)
	if len(candidates) == 0 {
		return signature.Block{}, false
	}

	var strong [32]byte
	computed := false

	for _, c := range candidates {
		if int(c.Length) != len(window) {
			continue
		}
		if !computed {
			strong = checksum.Strong(window)
			computed = true
		}
		if bytes.Equal(strong[:], c.Strong[:]) {
			return c, true
		}
	}
	return signature.Block{}, false
}
