package session

import (
	"context"
	"io"
	"net"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-blocksync/blocksync"
	"github.com/go-blocksync/blocksync/delta"
	"github.com/go-blocksync/blocksync/signature"
	"github.com/go-blocksync/blocksync/wire"
)

// SyncRemote runs the client half of the network state machine:
// Connect -> SendHello -> RecvSignatures -> Scan/SendInstructions -> Close.
// After sending End it waits for the server to close the connection, which
// the server does once it has finished applying the instructions.
// onConnect, if non-nil, is invoked once the TCP connection is established
// and before Hello is sent; callers use it to produce the "Connected to
// remote server" notice the CLI layer is responsible for printing.
func SyncRemote(ctx context.Context, addr, srcPath, remotePath string, blockSize uint32, onConnect func(), log zerolog.Logger) (delta.Stats, error) {
	log = log.With().Str("addr", addr).Str("src", srcPath).Str("remote_path", remotePath).Uint32("block_size", blockSize).Logger()

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return delta.Stats{}, blocksync.Wrapf(blocksync.KindNetwork, err, "session: connecting to %s", addr)
	}
	defer conn.Close()

	if onConnect != nil {
		onConnect()
	}
	log.Debug().Msg("connected")

	if err := wire.WriteFrame(conn, wire.TagHello, wire.EncodeHello(blockSize, remotePath)); err != nil {
		return delta.Stats{}, err
	}

	sigFrame, err := wire.ExpectTag(conn, wire.TagSignatures)
	if err != nil {
		return delta.Stats{}, err
	}
	_, decoded, err := wire.DecodeSignatures(sigFrame.Payload)
	if err != nil {
		return delta.Stats{}, err
	}
	idx := signature.FromBlocks(wire.ToSignatureBlocks(decoded), blockSize)
	log.Debug().Int("blocks", idx.Count()).Msg("signatures received")

	src, err := os.Open(srcPath)
	if err != nil {
		return delta.Stats{}, blocksync.Wrapf(blocksync.KindPath, err, "opening source %s", srcPath)
	}
	defer src.Close()

	srcInfo, err := src.Stat()
	if err != nil {
		return delta.Stats{}, blocksync.Wrapf(blocksync.KindIO, err, "statting source %s", srcPath)
	}

	stats, scanErr := delta.Scan(src, srcInfo.Size(), idx, func(inst delta.Instruction) error {
		return sendInstruction(conn, inst)
	})
	if scanErr != nil {
		writeErrorFrame(conn, scanErr)
		return stats, scanErr
	}

	if err := wire.WriteFrame(conn, wire.TagEnd, nil); err != nil {
		return stats, err
	}

	// The server closes the connection once it has applied the instructions
	// and renamed the destination into place; wait for that before returning.
	if _, err := io.Copy(io.Discard, conn); err != nil {
		return stats, blocksync.Wrapf(blocksync.KindNetwork, err, "session: waiting for server to finish")
	}

	log.Info().
		Uint64("transferred_bytes", stats.TransferredBytes).
		Uint64("reused_bytes", stats.ReusedBytes).
		Msg("remote sync complete")

	return stats, nil
}

// sendInstruction serializes one delta.Instruction as a Literal or Match
// frame on conn.
func sendInstruction(conn net.Conn, inst delta.Instruction) error {
	switch inst.Kind {
	case delta.KindLiteral:
		return wire.WriteFrame(conn, wire.TagLiteral, inst.Literal)
	case delta.KindMatch:
		return wire.WriteFrame(conn, wire.TagMatch, wire.EncodeMatch(inst.BlockIndex))
	default:
		return blocksync.NewError(blocksync.KindProtocol, errors.Errorf("session: unknown instruction kind %v", inst.Kind))
	}
}
