package delta

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/hooklift/assert"

	"github.com/go-blocksync/blocksync/signature"
)

// reconstruct runs signature generation over dst, then scans src against it,
// then applies the resulting instructions against dst in memory, returning
// the reconstructed bytes and the scan's stats.
func reconstruct(t *testing.T, src, dst []byte, blockSize uint32) ([]byte, Stats) {
	idx, err := signature.Generate(bytes.NewReader(dst), int64(len(dst)), blockSize)
	assert.Ok(t, err)

	var out bytes.Buffer
	stats, err := Scan(bytes.NewReader(src), int64(len(src)), idx, func(inst Instruction) error {
		switch inst.Kind {
		case KindLiteral:
			out.Write(inst.Literal)
		case KindMatch:
			length, ok := idx.LengthOf(inst.BlockIndex)
			assert.Cond(t, ok, "match must reference a known block")
			start := int(inst.BlockIndex) * int(blockSize)
			out.Write(dst[start : start+int(length)])
		}
		return nil
	})
	assert.Ok(t, err)
	return out.Bytes(), stats
}

func TestScanIdenticalFilesReuseEverything(t *testing.T) {
	data := []byte("Hello World")
	out, stats := reconstruct(t, data, data, 1024)
	assert.Cond(t, bytes.Equal(data, out), "identical source and destination must reconstruct byte-for-byte")
	assert.Equals(t, uint64(0), stats.TransferredBytes)
	assert.Equals(t, uint64(11), stats.ReusedBytes)
}

func TestScanFullReplacement(t *testing.T) {
	out, stats := reconstruct(t, []byte("NEW"), []byte("OLD"), 1024)
	assert.Cond(t, bytes.Equal([]byte("NEW"), out), "reconstructed content must equal the source")
	assert.Equals(t, uint64(3), stats.TransferredBytes)
	assert.Equals(t, uint64(0), stats.ReusedBytes)
}

func TestScanPrefixMatch(t *testing.T) {
	src := append(bytes.Repeat([]byte("A"), 512*4), bytes.Repeat([]byte("B"), 512*4)...)
	dst := append(bytes.Repeat([]byte("A"), 512*4), bytes.Repeat([]byte("C"), 512*4)...)

	out, stats := reconstruct(t, src, dst, 1024)
	assert.Cond(t, bytes.Equal(src, out), "reconstructed content must equal the source")
	assert.Equals(t, uint64(2048), stats.ReusedBytes)
	assert.Equals(t, uint64(2048), stats.TransferredBytes)
}

func TestScanEmptySource(t *testing.T) {
	out, stats := reconstruct(t, []byte(""), []byte("anything"), 1024)
	assert.Equals(t, 0, len(out))
	assert.Equals(t, uint64(0), stats.TransferredBytes)
}

func TestScanCreateNew(t *testing.T) {
	out, stats := reconstruct(t, []byte("Content to copy"), []byte(""), 1024)
	assert.Cond(t, bytes.Equal([]byte("Content to copy"), out), "a brand new destination must receive the whole source verbatim")
	assert.Equals(t, uint64(len("Content to copy")), stats.TransferredBytes)
}

func TestScanShortFinalBlockMatch(t *testing.T) {
	// dst's final block is short (length 4); src ends with the same 4 bytes.
	dst := append(bytes.Repeat([]byte("X"), 8), []byte("tail")...)
	src := append(bytes.Repeat([]byte("Y"), 8), []byte("tail")...)

	out, stats := reconstruct(t, src, dst, 8)
	assert.Cond(t, bytes.Equal(src, out), "reconstructed content must equal the source")
	assert.Cond(t, stats.ReusedBytes > 0, "the shared tail should be matched, not transferred")
}

// TestReconstructionProperty checks that for many random (source,
// destination, block size) triples, applying the instruction stream always
// reproduces the source exactly.
func TestReconstructionProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := "abcdefgh"

	randBytes := func(n int) []byte {
		b := make([]byte, n)
		for i := range b {
			b[i] = alphabet[rng.Intn(len(alphabet))]
		}
		return b
	}

	for i := 0; i < 50; i++ {
		srcLen := rng.Intn(300)
		dstLen := rng.Intn(300)
		src := randBytes(srcLen)
		dst := randBytes(dstLen)
		blockSize := uint32(1 + rng.Intn(64))

		out, stats := reconstruct(t, src, dst, blockSize)
		assert.Cond(t, bytes.Equal(src, out), "reconstructed content must equal the source")
		assert.Cond(t, stats.TransferredBytes <= uint64(len(src)), "transferred bytes must never exceed the source length")
	}
}

func TestIdempotence(t *testing.T) {
	src := []byte("the quick brown fox jumps over the lazy dog, twice over")
	dst := []byte("some entirely different destination content here too")

	out, _ := reconstruct(t, src, dst, 16)
	assert.Cond(t, bytes.Equal(src, out), "reconstructed content must equal the source")

	_, stats2 := reconstruct(t, src, out, 16)
	assert.Equals(t, uint64(0), stats2.TransferredBytes)
}

func BenchmarkScan6kbBlockSize(b *testing.B)    {}
func BenchmarkScan128kbBlockSize(b *testing.B)  {}
func BenchmarkScan1024kbBlockSize(b *testing.B) {}
