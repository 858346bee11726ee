// Package session implements the two deployment modes that wrap the core
// delta engine: local mode (signature generation, scanning, and patching
// in one process against two paths) and network mode (signing and patching
// in a listener, scanning in a client, multiplexed over one TCP connection
// by package wire).
package session

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-blocksync/blocksync"
	"github.com/go-blocksync/blocksync/delta"
	"github.com/go-blocksync/blocksync/patch"
	"github.com/go-blocksync/blocksync/signature"
)

// SyncLocal reconstructs dstPath so its contents become byte-identical to
// srcPath, reusing as much of dstPath's existing content as blockSize
// allows. If dstPath does not exist, the entire source is sent as literal
// bytes: signatures are generated over zero bytes (which still validates
// blockSize) and the resulting index is empty.
func SyncLocal(srcPath, dstPath string, blockSize uint32, log zerolog.Logger) (delta.Stats, error) {
	log = log.With().Str("src", srcPath).Str("dst", dstPath).Uint32("block_size", blockSize).Logger()

	idx, oldPath, err := loadDestinationSignatures(dstPath, blockSize)
	if err != nil {
		return delta.Stats{}, err
	}
	log.Debug().Int("blocks", idx.Count()).Msg("signatures generated")

	src, err := os.Open(srcPath)
	if err != nil {
		return delta.Stats{}, blocksync.Wrapf(blocksync.KindPath, err, "opening source %s", srcPath)
	}
	defer src.Close()

	srcInfo, err := src.Stat()
	if err != nil {
		return delta.Stats{}, blocksync.Wrapf(blocksync.KindIO, err, "statting source %s", srcPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	instructions := make(chan delta.Instruction)
	applyErrCh := make(chan error, 1)
	applyDone := make(chan struct{})

	go func() {
		defer close(applyDone)
		applyErrCh <- patch.ApplyToFile(ctx, dstPath, oldPath, blockSize, idx.Lengths, instructions)
	}()

	stats, scanErr := delta.Scan(src, srcInfo.Size(), idx, func(inst delta.Instruction) error {
		select {
		case instructions <- inst:
			return nil
		case <-applyDone:
			return blocksync.NewError(blocksync.KindIO, errors.New("session: destination apply aborted mid-stream"))
		}
	})

	if scanErr != nil {
		cancel()
	} else {
		close(instructions)
	}

	applyErr := <-applyErrCh

	if scanErr != nil {
		return stats, scanErr
	}
	if applyErr != nil {
		return stats, applyErr
	}

	log.Info().
		Uint64("transferred_bytes", stats.TransferredBytes).
		Uint64("reused_bytes", stats.ReusedBytes).
		Msg("local sync complete")

	return stats, nil
}

// loadDestinationSignatures generates a signature.Index from dstPath's
// current content, or an empty index (and an empty oldPath) if dstPath
// doesn't exist yet, in which case the whole source is transferred as a
// literal since there is nothing to reuse.
func loadDestinationSignatures(dstPath string, blockSize uint32) (*signature.Index, string, error) {
	f, err := os.Open(dstPath)
	if os.IsNotExist(err) {
		idx, genErr := signature.Generate(emptyReader{}, 0, blockSize)
		return idx, "", genErr
	}
	if err != nil {
		return nil, "", blocksync.Wrapf(blocksync.KindPath, err, "opening destination %s", dstPath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, "", blocksync.Wrapf(blocksync.KindIO, err, "statting destination %s", dstPath)
	}

	idx, err := signature.Generate(f, info.Size(), blockSize)
	if err != nil {
		return nil, "", err
	}
	return idx, dstPath, nil
}

type emptyReader struct{}

func (emptyReader) Read(p []byte) (int, error) { return 0, io.EOF }
