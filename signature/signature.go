// Package signature implements the receiver-side block-signature
// generator: it partitions a byte source into fixed-size blocks and emits
// a weak+strong signature per block.
package signature

import (
	"io"

	"github.com/pkg/errors"

	"github.com/go-blocksync/blocksync"
	"github.com/go-blocksync/blocksync/checksum"
)

// Block is a single block's signature: its index, its actual byte length
// (equal to BlockSize except possibly for the final block), and its weak
// and strong checksums.
type Block struct {
	Index  uint32
	Length uint32
	Weak   uint32
	Strong [32]byte
}

// Index maps a weak checksum to every block signature sharing it, in block
// index order. Multiple blocks colliding on the same weak sum is expected
// and handled by the delta scanner's strong-sum tie-break.
type Index struct {
	buckets map[uint32][]Block
	// Lengths holds block length by index, needed by the patch applier to
	// know how many bytes a Match copies when the final block is short.
	Lengths []uint32
	// Ordered holds every block signature in ascending index order, needed
	// by the wire encoder to serialize a Signatures frame without having to
	// reverse-lookup a block's weak sum from its index.
	Ordered []Block
	// BlockSize is the block size these signatures were generated with.
	BlockSize uint32
}

// Lookup returns the signatures sharing weak, or nil if there are none.
func (idx *Index) Lookup(weak uint32) []Block {
	return idx.buckets[weak]
}

// LengthOf returns the length of the block at index i.
func (idx *Index) LengthOf(i uint32) (uint32, bool) {
	if int(i) >= len(idx.Lengths) {
		return 0, false
	}
	return idx.Lengths[i], true
}

// Count returns the number of blocks indexed.
func (idx *Index) Count() int {
	return len(idx.Lengths)
}

// FromBlocks builds an Index directly from an ordered block list and a
// block size, used by the network client (the sender side) to rebuild the
// lookup table the scanner needs from a decoded Signatures frame.
func FromBlocks(blocks []Block, blockSize uint32) *Index {
	idx := &Index{
		buckets:   make(map[uint32][]Block),
		Lengths:   make([]uint32, len(blocks)),
		Ordered:   blocks,
		BlockSize: blockSize,
	}
	for _, b := range blocks {
		idx.buckets[b.Weak] = append(idx.buckets[b.Weak], b)
		idx.Lengths[b.Index] = b.Length
	}
	return idx
}

// Generate reads r (of known length l) and produces exactly ceil(l/blockSize)
// block signatures in ascending index order. l == 0 produces an empty,
// valid Index. blockSize must be >= 1 or BadConfig is returned.
func Generate(r io.Reader, l int64, blockSize uint32) (*Index, error) {
	if blockSize < 1 {
		return nil, blocksync.NewError(blocksync.KindBadConfig, errors.New("block size must be >= 1"))
	}

	idx := &Index{
		buckets:   make(map[uint32][]Block),
		BlockSize: blockSize,
	}

	if l == 0 {
		return idx, nil
	}

	buf := make([]byte, blockSize)
	var index uint32

	for {
		n, err := io.ReadFull(r, buf)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return nil, blocksync.Wrapf(blocksync.KindIO, err, "signature: reading block %d", index)
		}
		if n == 0 {
			break
		}

		block := buf[:n]
		weak := checksum.Weak(block)
		strong := checksum.Strong(block)

		bs := Block{
			Index:  index,
			Length: uint32(n),
			Weak:   weak,
			Strong: strong,
		}
		idx.buckets[weak] = append(idx.buckets[weak], bs)
		idx.Lengths = append(idx.Lengths, uint32(n))
		idx.Ordered = append(idx.Ordered, bs)
		index++

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
	}

	return idx, nil
}
