package session

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hooklift/assert"

	"github.com/go-blocksync/blocksync/wire"
)

// TestSyncRemoteRoundTrip syncs a source file to a server-side destination
// over TCP, and checks that the client reports having connected.
func TestSyncRemoteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "src", "Network sync test content")
	remoteDst := filepath.Join(dir, "remote-dst")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Ok(t, err)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- Serve(ctx, ln, discardLogger())
	}()

	connected := false
	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()

	stats, err := SyncRemote(dialCtx, ln.Addr().String(), src, remoteDst, 1024, func() {
		connected = true
	}, discardLogger())
	assert.Ok(t, err)
	assert.Cond(t, connected, "the client must report having connected")
	assert.Equals(t, uint64(len("Network sync test content")), stats.TransferredBytes)

	content, readErr := os.ReadFile(remoteDst)
	assert.Ok(t, readErr)
	assert.Equals(t, "Network sync test content", string(content))

	cancel()
	ln.Close()
	<-serverDone
}

func TestSyncRemoteFailsToConnect(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "src", "content")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	connected := false
	_, err := SyncRemote(ctx, "127.0.0.1:1", src, "/tmp/unused", 1024, func() {
		connected = true
	}, discardLogger())
	assert.Cond(t, err != nil, "connecting to a closed port must fail")
	assert.Cond(t, !connected, "onConnect must not fire when the connection never succeeds")
}

// TestServeAbortsOnDroppedConnectionLeavesDestinationIntact drives the
// server's half of the wire protocol directly, rather than through
// SyncRemote, so it can send one well-formed Literal frame and then drop the
// connection without ever sending End. A receive loop that can't tell "the
// sender finished" apart from "the sender vanished" would let the apply side
// see a closed channel and commit a truncated file; this checks that the
// destination instead comes out exactly as it went in, with no leftover temp
// file in its directory.
func TestServeAbortsOnDroppedConnectionLeavesDestinationIntact(t *testing.T) {
	dir := t.TempDir()
	original := "original destination content that must survive"
	remoteDst := writeFile(t, dir, "remote-dst", original)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Ok(t, err)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- Serve(ctx, ln, discardLogger())
	}()

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), 5*time.Second)
	assert.Ok(t, err)

	assert.Ok(t, wire.WriteFrame(conn, wire.TagHello, wire.EncodeHello(1024, remoteDst)))
	_, err = wire.ExpectTag(conn, wire.TagSignatures)
	assert.Ok(t, err)

	assert.Ok(t, wire.WriteFrame(conn, wire.TagLiteral, []byte("truncated, should never land")))
	conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		content, readErr := os.ReadFile(remoteDst)
		assert.Ok(t, readErr)
		entries, readDirErr := os.ReadDir(dir)
		assert.Ok(t, readDirErr)
		if string(content) == original && len(entries) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server never finished discarding the aborted connection's partial write")
		}
		time.Sleep(10 * time.Millisecond)
	}

	content, readErr := os.ReadFile(remoteDst)
	assert.Ok(t, readErr)
	assert.Equals(t, original, string(content))

	entries, readDirErr := os.ReadDir(dir)
	assert.Ok(t, readDirErr)
	assert.Equals(t, 1, len(entries))

	cancel()
	ln.Close()
	<-serverDone
}
