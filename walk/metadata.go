package walk

import (
	"os"
	"syscall"

	"github.com/pkg/errors"

	"github.com/go-blocksync/blocksync"
)

// PreserveFileMetadata copies permission bits, mtime, and (best-effort)
// ownership from srcPath onto dstPath for a single-file local sync, where
// there is no directory walk to drive the call.
func PreserveFileMetadata(srcPath, dstPath string) error {
	return preserveMetadata(srcPath, dstPath)
}

// preserveMetadata copies permission bits, mtime, and (best-effort)
// ownership from srcPath onto dstPath. Ownership failures are downgraded to
// a permission error rather than aborting the sync; the caller logs it as
// a warning.
func preserveMetadata(srcPath, dstPath string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return blocksync.Wrapf(blocksync.KindIO, err, "walk: statting %s for metadata", srcPath)
	}

	if err := os.Chmod(dstPath, info.Mode().Perm()); err != nil {
		return blocksync.Wrapf(blocksync.KindPermission, err, "walk: chmod %s", dstPath)
	}

	mtime := info.ModTime()
	if err := os.Chtimes(dstPath, mtime, mtime); err != nil {
		return blocksync.Wrapf(blocksync.KindIO, err, "walk: chtimes %s", dstPath)
	}

	if err := chownLike(info, dstPath); err != nil {
		return blocksync.NewError(blocksync.KindPermission, errors.Wrapf(err, "walk: chown %s", dstPath))
	}

	return nil
}

// chownLike applies srcInfo's owning uid/gid to dstPath where the
// underlying platform exposes them via syscall.Stat_t; on platforms where
// it doesn't, this is a no-op.
func chownLike(srcInfo os.FileInfo, dstPath string) error {
	stat, ok := srcInfo.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	return os.Chown(dstPath, int(stat.Uid), int(stat.Gid))
}
