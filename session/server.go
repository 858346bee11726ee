package session

import (
	"context"
	"net"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-blocksync/blocksync"
	"github.com/go-blocksync/blocksync/delta"
	"github.com/go-blocksync/blocksync/patch"
	"github.com/go-blocksync/blocksync/signature"
	"github.com/go-blocksync/blocksync/wire"
)

// Serve accepts connections on ln serially — each connection is handled to
// completion before the next is accepted — and handles exactly one file
// transfer per connection, deliberately avoiding shared mutable state or
// partial-failure fan-in across connections. It runs until ctx is
// cancelled or ln.Accept returns an error.
func Serve(ctx context.Context, ln net.Listener, log zerolog.Logger) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return blocksync.Wrapf(blocksync.KindNetwork, err, "session: accepting connection")
		}

		sessionLog := log.With().Str("session_id", uuid.NewString()).Str("peer", conn.RemoteAddr().String()).Logger()
		if err := handleConnection(conn, sessionLog); err != nil {
			sessionLog.Warn().Err(err).Msg("session failed")
		}
		conn.Close()
	}
}

// handleConnection runs the server half of the network state machine:
// RecvHello -> SendSignatures -> RecvInstructions/Apply -> Close.
func handleConnection(conn net.Conn, log zerolog.Logger) error {
	helloFrame, err := wire.ExpectTag(conn, wire.TagHello)
	if err != nil {
		return err
	}

	blockSize, path, err := wire.DecodeHello(helloFrame.Payload)
	if err != nil {
		return err
	}
	log = log.With().Str("path", path).Uint32("block_size", blockSize).Logger()
	log.Debug().Msg("hello received")

	idx, oldPath, fileLen, err := loadDestinationSignaturesForServer(path, blockSize)
	if err != nil {
		writeErrorFrame(conn, err)
		return err
	}

	if err := wire.WriteFrame(conn, wire.TagSignatures, wire.EncodeSignatures(idx, fileLen)); err != nil {
		return err
	}
	log.Debug().Int("blocks", idx.Count()).Msg("signatures sent")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	instructions := make(chan delta.Instruction)
	applyErrCh := make(chan error, 1)
	applyDone := make(chan struct{})

	go func() {
		defer close(applyDone)
		applyErrCh <- patch.ApplyToFile(ctx, path, oldPath, blockSize, idx.Lengths, instructions)
	}()

	recvErr := receiveInstructions(conn, instructions, applyDone)
	if recvErr != nil {
		cancel()
	} else {
		close(instructions)
	}

	applyErr := <-applyErrCh
	if recvErr != nil {
		return recvErr
	}
	if applyErr != nil {
		return applyErr
	}

	log.Info().Msg("apply complete")
	return nil
}

// receiveInstructions reads Literal/Match/End frames from conn and feeds
// Literal/Match as delta.Instruction values on out, returning when End is
// received or a frame is malformed / out of order. Sends are guarded by a
// select against applyDone so a connection that keeps producing frames after
// the apply side has already failed and stopped reading can't block here
// forever.
func receiveInstructions(conn net.Conn, out chan<- delta.Instruction, applyDone <-chan struct{}) error {
	send := func(inst delta.Instruction) error {
		select {
		case out <- inst:
			return nil
		case <-applyDone:
			return blocksync.NewError(blocksync.KindIO, errors.New("session: destination apply aborted mid-stream"))
		}
	}

	for {
		f, err := wire.ReadFrame(conn)
		if err != nil {
			return err
		}

		switch f.Tag {
		case wire.TagLiteral:
			if err := send(delta.Instruction{Kind: delta.KindLiteral, Literal: f.Payload}); err != nil {
				return err
			}
		case wire.TagMatch:
			idx, err := wire.DecodeMatch(f.Payload)
			if err != nil {
				return err
			}
			if err := send(delta.Instruction{Kind: delta.KindMatch, BlockIndex: idx}); err != nil {
				return err
			}
		case wire.TagEnd:
			return nil
		case wire.TagError:
			code, msg := wire.DecodeError(f.Payload)
			return blocksync.NewError(blocksync.KindProtocol, errors.Errorf("session: client reported error %d: %s", code, msg))
		default:
			return blocksync.NewError(blocksync.KindProtocol, errors.Errorf("session: unexpected frame tag 0x%02x while receiving instructions", f.Tag))
		}
	}
}

// loadDestinationSignaturesForServer mirrors loadDestinationSignatures but
// also reports the destination's current length for the Signatures frame's
// file_len field.
func loadDestinationSignaturesForServer(path string, blockSize uint32) (*signature.Index, string, uint64, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		idx, genErr := signature.Generate(emptyReader{}, 0, blockSize)
		return idx, "", 0, genErr
	}
	if err != nil {
		return nil, "", 0, blocksync.Wrapf(blocksync.KindPath, err, "opening destination %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, "", 0, blocksync.Wrapf(blocksync.KindIO, err, "statting destination %s", path)
	}

	idx, err := signature.Generate(f, info.Size(), blockSize)
	if err != nil {
		return nil, "", 0, err
	}
	return idx, path, uint64(info.Size()), nil
}

func writeErrorFrame(conn net.Conn, err error) {
	code := uint16(1)
	if k, ok := blocksync.KindOf(err); ok {
		switch k {
		case blocksync.KindBadConfig:
			code = 1
		case blocksync.KindPath:
			code = 2
		case blocksync.KindIO:
			code = 3
		case blocksync.KindNetwork:
			code = 4
		case blocksync.KindProtocol:
			code = 5
		case blocksync.KindPermission:
			code = 6
		}
	}
	_ = wire.WriteFrame(conn, wire.TagError, wire.EncodeError(code, err.Error()))
}
