package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hooklift/assert"
	"github.com/rs/zerolog"

	"github.com/go-blocksync/blocksync"
)

func discardLogger() zerolog.Logger {
	return zerolog.Nop()
}

func writeFile(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	assert.Ok(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestSyncLocalIdenticalFilesNoOp syncs two identical files and expects a no-op.
func TestSyncLocalIdenticalFilesNoOp(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "src", "Hello World")
	dst := writeFile(t, dir, "dst", "Hello World")

	stats, err := SyncLocal(src, dst, 1024, discardLogger())
	assert.Ok(t, err)
	assert.Equals(t, uint64(0), stats.TransferredBytes)
	assert.Equals(t, uint64(11), stats.ReusedBytes)

	content, readErr := os.ReadFile(dst)
	assert.Ok(t, readErr)
	assert.Equals(t, "Hello World", string(content))
}

// TestSyncLocalFullReplacement syncs onto a destination with no shared content.
func TestSyncLocalFullReplacement(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "src", "NEW")
	dst := writeFile(t, dir, "dst", "OLD")

	stats, err := SyncLocal(src, dst, 1024, discardLogger())
	assert.Ok(t, err)
	assert.Equals(t, uint64(3), stats.TransferredBytes)
	assert.Equals(t, uint64(0), stats.ReusedBytes)

	content, readErr := os.ReadFile(dst)
	assert.Ok(t, readErr)
	assert.Equals(t, "NEW", string(content))
}

// TestSyncLocalEmptySource syncs an empty source onto a non-empty destination.
func TestSyncLocalEmptySource(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "src", "")
	dst := writeFile(t, dir, "dst", "anything")

	stats, err := SyncLocal(src, dst, 1024, discardLogger())
	assert.Ok(t, err)
	assert.Equals(t, uint64(0), stats.TransferredBytes)

	content, readErr := os.ReadFile(dst)
	assert.Ok(t, readErr)
	assert.Equals(t, 0, len(content))
}

// TestSyncLocalCreatesNewDestination syncs onto a destination path that does not exist yet.
func TestSyncLocalCreatesNewDestination(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "src", "Content to copy")
	dst := filepath.Join(dir, "does-not-exist-yet")

	stats, err := SyncLocal(src, dst, 1024, discardLogger())
	assert.Ok(t, err)
	assert.Equals(t, uint64(len("Content to copy")), stats.TransferredBytes)

	content, readErr := os.ReadFile(dst)
	assert.Ok(t, readErr)
	assert.Equals(t, "Content to copy", string(content))
}

// TestSyncLocalRejectsBadBlockSize checks that a zero block size is rejected up front.
func TestSyncLocalRejectsBadBlockSize(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "src", "anything at all")
	dst := filepath.Join(dir, "dst")

	_, err := SyncLocal(src, dst, 0, discardLogger())
	assert.Cond(t, err != nil, "a zero block size must be rejected")

	kind, ok := blocksync.KindOf(err)
	assert.Cond(t, ok, "the error must carry a blocksync.Kind")
	assert.Equals(t, blocksync.KindBadConfig, kind)
}

func TestSyncLocalIdempotent(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "src", "the quick brown fox jumps over the lazy dog")
	dst := writeFile(t, dir, "dst", "a completely different starting point here")

	_, err := SyncLocal(src, dst, 8, discardLogger())
	assert.Ok(t, err)

	stats, err := SyncLocal(src, dst, 8, discardLogger())
	assert.Ok(t, err)
	assert.Equals(t, uint64(0), stats.TransferredBytes)
}
