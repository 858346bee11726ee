// Package patch implements the receiver-side patch applier: it consumes
// the instruction stream produced by package delta and reconstructs the
// destination file by copying matched blocks from the old destination and
// writing literal bytes verbatim.
package patch

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/go-blocksync/blocksync"
	"github.com/go-blocksync/blocksync/delta"
)

// Apply processes instructions in order against old (the destination's
// prior content, read-only) and writes the reconstructed bytes to out.
// blockSize and lengths let it know how many bytes a Match copies when the
// referenced block is the short final one. It does not rename or fsync —
// callers that reconstruct directly into a temp file use ApplyToFile for
// that; Apply is the lower-level primitive usable with any io.WriterAt.
//
// Apply returns an IoError wrapping ctx.Err() if ctx is cancelled before the instruction
// channel is closed, allowing cancellation mid-stream via select on
// ctx.Done(). A closed channel (ok == false) is the only signal Apply
// treats as a successful End.
func Apply(ctx context.Context, out io.WriterAt, old io.ReaderAt, blockSize uint32, lengths []uint32, instructions <-chan delta.Instruction) error {
	var offset int64

	for {
		select {
		case <-ctx.Done():
			return blocksync.NewError(blocksync.KindIO, ctx.Err())
		case inst, ok := <-instructions:
			if !ok {
				return nil
			}

			switch inst.Kind {
			case delta.KindLiteral:
				if _, err := out.WriteAt(inst.Literal, offset); err != nil {
					return blocksync.Wrapf(blocksync.KindIO, err, "patch: writing literal at offset %d", offset)
				}
				offset += int64(len(inst.Literal))

			case delta.KindMatch:
				if int(inst.BlockIndex) >= len(lengths) {
					return blocksync.NewError(blocksync.KindProtocol, errors.Errorf("patch: match references out-of-range block %d (have %d blocks)", inst.BlockIndex, len(lengths)))
				}
				length := lengths[inst.BlockIndex]
				buf := make([]byte, length)
				srcOffset := int64(inst.BlockIndex) * int64(blockSize)
				if _, err := old.ReadAt(buf, srcOffset); err != nil && err != io.EOF {
					return blocksync.Wrapf(blocksync.KindIO, err, "patch: reading old block %d", inst.BlockIndex)
				}
				if _, err := out.WriteAt(buf, offset); err != nil {
					return blocksync.Wrapf(blocksync.KindIO, err, "patch: writing matched block at offset %d", offset)
				}
				offset += int64(length)

			default:
				return blocksync.NewError(blocksync.KindProtocol, errors.Errorf("patch: unknown instruction kind %v", inst.Kind))
			}
		}
	}
}

// ApplyToFile reconstructs dstPath by writing into a temporary sibling file
// and atomically renaming it over dstPath on success. oldPath is the
// destination's prior content (empty string if there is none, in which
// case instructions must contain no Match). On any error, or if ctx is
// cancelled, the temp file is unlinked and dstPath is left untouched.
func ApplyToFile(ctx context.Context, dstPath, oldPath string, blockSize uint32, lengths []uint32, instructions <-chan delta.Instruction) error {
	dir := filepath.Dir(dstPath)
	tmp, err := os.CreateTemp(dir, filepath.Base(dstPath)+".bsync-*")
	if err != nil {
		return blocksync.Wrapf(blocksync.KindIO, err, "patch: creating temp file in %s", dir)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	var old *os.File
	if oldPath != "" {
		old, err = os.Open(oldPath)
		if err != nil && !os.IsNotExist(err) {
			cleanup()
			return blocksync.Wrapf(blocksync.KindIO, err, "patch: opening old destination %s", oldPath)
		}
	}
	if old != nil {
		defer old.Close()
	}

	var oldReader io.ReaderAt = emptyReaderAt{}
	if old != nil {
		oldReader = old
	}

	if err := Apply(ctx, tmp, oldReader, blockSize, lengths, instructions); err != nil {
		cleanup()
		return err
	}

	if err := tmp.Sync(); err != nil {
		cleanup()
		return blocksync.Wrapf(blocksync.KindIO, err, "patch: fsyncing temp file %s", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return blocksync.Wrapf(blocksync.KindIO, err, "patch: closing temp file %s", tmpPath)
	}

	if err := os.Rename(tmpPath, dstPath); err != nil {
		os.Remove(tmpPath)
		return blocksync.Wrapf(blocksync.KindIO, err, "patch: renaming %s to %s", tmpPath, dstPath)
	}

	return nil
}

// emptyReaderAt is used when the destination has no prior content (a brand
// new file). Its ReadAt always returns io.EOF, which Apply does not treat as
// a read error; a Match against a new file is instead rejected as a protocol
// error by Apply's block-range check, since lengths is empty in that case.
type emptyReaderAt struct{}

func (emptyReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return 0, io.EOF
}
