package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/pkg/profile"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/go-blocksync/blocksync"
	"github.com/go-blocksync/blocksync/delta"
	"github.com/go-blocksync/blocksync/session"
	"github.com/go-blocksync/blocksync/walk"
)

func run(c *cli.Context) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if p := c.String("cpuprofile"); p != "" {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(p)).Stop()
	}

	blockSize := c.Int("block-size")
	if blockSize < 1 {
		return blocksync.NewError(blocksync.KindBadConfig, errors.New("block size must be >= 1"))
	}

	port := c.Int("port")
	if port < 1 || port > 65535 {
		return blocksync.NewError(blocksync.KindBadConfig, errors.New("port must be between 1 and 65535"))
	}

	if c.Bool("server") {
		return runServer(c.Context, port, uint32(blockSize), log)
	}

	args := c.Args()
	if args.Len() != 2 {
		return blocksync.NewError(blocksync.KindBadConfig, errors.New("expected exactly two positional arguments: <src> <dst>"))
	}
	src := args.Get(0)
	dst := args.Get(1)

	if host, remotePath, ok := splitHostPath(dst); ok {
		if c.Bool("metadata") {
			return blocksync.NewError(blocksync.KindBadConfig, errors.New("--metadata is local-mode only"))
		}
		return runClient(c.Context, host, port, src, remotePath, uint32(blockSize), log)
	}

	return runLocal(c.Context, src, dst, uint32(blockSize), c.Bool("metadata"), c.Bool("delete"), log)
}

// splitHostPath recognizes the <host>:<remote_path> destination form. A
// single leading drive letter like "C:\" is not a host form; blocksync
// targets paths with at least one character before the colon and at least
// one after it, with no path separator before the colon.
func splitHostPath(dst string) (host, path string, ok bool) {
	idx := strings.Index(dst, ":")
	if idx <= 0 || idx == len(dst)-1 {
		return "", "", false
	}
	if strings.ContainsAny(dst[:idx], `/\`) {
		return "", "", false
	}
	if idx == 1 && strings.ContainsAny(dst[2:3], `/\`) {
		return "", "", false
	}
	return dst[:idx], dst[idx+1:], true
}

func runLocal(ctx context.Context, src, dst string, blockSize uint32, preserveMeta, deleteExtra bool, log zerolog.Logger) error {
	info, err := os.Stat(src)
	if err != nil {
		return blocksync.Wrapf(blocksync.KindPath, err, "statting source %s", src)
	}

	if info.IsDir() {
		results, err := walk.Dir(ctx, src, dst, walk.Options{BlockSize: blockSize, PreserveMeta: preserveMeta, DeleteExtra: deleteExtra}, log)
		if err != nil {
			return err
		}
		return reportDirResults(results)
	}

	stats, err := session.SyncLocal(src, dst, blockSize, log)
	if err != nil {
		return err
	}
	if preserveMeta {
		if err := walk.PreserveFileMetadata(src, dst); err != nil {
			log.Warn().Err(err).Msg("metadata preservation failed")
		}
	}
	printStats(stats)
	return nil
}

func runClient(ctx context.Context, host string, port int, src, remotePath string, blockSize uint32, log zerolog.Logger) error {
	addr := host
	if !strings.Contains(host, ":") {
		addr = host + ":" + strconv.Itoa(port)
	}

	connected := false
	stats, err := session.SyncRemote(ctx, addr, src, remotePath, blockSize, func() {
		connected = true
		fmt.Println("Connected to remote server")
	}, log)
	if err != nil {
		if !connected {
			fmt.Fprintln(os.Stderr, "Failed to connect")
		}
		return err
	}

	printStats(stats)
	return nil
}

func runServer(ctx context.Context, port int, blockSize uint32, log zerolog.Logger) error {
	ln, err := listenTCP(port)
	if err != nil {
		return blocksync.Wrapf(blocksync.KindNetwork, err, "listening on port %d", port)
	}
	defer ln.Close()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Info().Int("port", port).Msg("server listening")
	return session.Serve(ctx, ln, log)
}

func printStats(stats delta.Stats) {
	fmt.Printf("Transferred: %d bytes\n", stats.TransferredBytes)
	fmt.Printf("Not transferred: %d bytes (reused)\n", stats.ReusedBytes)
}

func reportDirResults(results []walk.FileResult) error {
	var failed int
	var transferred, reused uint64
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", r.RelPath, r.Err)
			continue
		}
		transferred += r.Stats.TransferredBytes
		reused += r.Stats.ReusedBytes
	}
	fmt.Printf("Transferred: %d bytes\n", transferred)
	fmt.Printf("Not transferred: %d bytes (reused)\n", reused)

	if failed > 0 {
		return blocksync.NewError(blocksync.KindIO, errors.Errorf("%d of %d files failed to sync", failed, len(results)))
	}
	return nil
}

// diagnosticLine renders a single stderr diagnostic line for err, unwrapping
// to the underlying blocksync.Error kind where possible.
func diagnosticLine(err error) string {
	if k, ok := blocksync.KindOf(err); ok {
		return fmt.Sprintf("%s: %s", k, errors.Cause(err))
	}
	return err.Error()
}
