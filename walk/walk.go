// Package walk implements directory-mode synchronization on top of the
// single-file engine: recursive traversal pairing source and destination
// entries, optional metadata preservation, and optional deletion of
// extraneous destination entries.
package walk

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/go-blocksync/blocksync"
	"github.com/go-blocksync/blocksync/delta"
	"github.com/go-blocksync/blocksync/session"
)

// Options configures a directory-mode sync.
type Options struct {
	BlockSize     uint32
	PreserveMeta  bool
	DeleteExtra   bool
}

// FileResult records the outcome of syncing one file during a directory
// walk, used to build the overall exit-code decision without aborting the
// walk on the first failure.
type FileResult struct {
	RelPath string
	Stats   delta.Stats
	Err     error
}

// Dir recursively syncs every regular file under srcDir into dstDir,
// creating dstDir and intermediate directories as needed. It never aborts
// on a single file's failure; the caller inspects the returned results to
// decide the process exit code. With opts.DeleteExtra, extraneous
// destination files are removed only when every file synced successfully.
func Dir(ctx context.Context, srcDir, dstDir string, opts Options, log zerolog.Logger) ([]FileResult, error) {
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return nil, blocksync.Wrapf(blocksync.KindPath, err, "walk: creating destination directory %s", dstDir)
	}

	srcFiles, err := listRegularFiles(srcDir)
	if err != nil {
		return nil, err
	}

	results := make([]FileResult, 0, len(srcFiles))
	for _, rel := range srcFiles {
		select {
		case <-ctx.Done():
			return results, blocksync.NewError(blocksync.KindIO, ctx.Err())
		default:
		}

		srcPath := filepath.Join(srcDir, rel)
		dstPath := filepath.Join(dstDir, rel)

		if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
			results = append(results, FileResult{RelPath: rel, Err: blocksync.Wrapf(blocksync.KindPath, err, "walk: creating directory for %s", dstPath)})
			continue
		}

		fileLog := log.With().Str("rel_path", rel).Logger()
		stats, syncErr := session.SyncLocal(srcPath, dstPath, opts.BlockSize, fileLog)
		if syncErr != nil {
			fileLog.Warn().Err(syncErr).Msg("file sync failed")
			results = append(results, FileResult{RelPath: rel, Err: syncErr})
			continue
		}

		if opts.PreserveMeta {
			if err := preserveMetadata(srcPath, dstPath); err != nil {
				fileLog.Warn().Err(err).Msg("metadata preservation failed")
			}
		}

		results = append(results, FileResult{RelPath: rel, Stats: stats})
	}

	if opts.DeleteExtra {
		for _, r := range results {
			if r.Err != nil {
				return results, nil
			}
		}
		if err := deleteExtraneous(srcDir, dstDir, log); err != nil {
			return results, err
		}
	}

	return results, nil
}

// listRegularFiles returns every regular file under root, relative to root,
// in a deterministic (sorted) order.
func listRegularFiles(root string) ([]string, error) {
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return relErr
			}
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, blocksync.Wrapf(blocksync.KindPath, err, "walk: listing files under %s", root)
	}
	sort.Strings(files)
	return files, nil
}

// deleteExtraneous removes every regular file under dstDir whose relative
// path is absent from srcDir, run once after the whole walk completes —
// never interleaved with per-file syncing.
func deleteExtraneous(srcDir, dstDir string, log zerolog.Logger) error {
	srcFiles, err := listRegularFiles(srcDir)
	if err != nil {
		return err
	}
	dstFiles, err := listRegularFiles(dstDir)
	if err != nil {
		return err
	}

	keep := make(map[string]struct{}, len(srcFiles))
	for _, f := range srcFiles {
		keep[f] = struct{}{}
	}

	for _, f := range dstFiles {
		if _, ok := keep[f]; ok {
			continue
		}
		path := filepath.Join(dstDir, f)
		if err := os.Remove(path); err != nil {
			log.Warn().Err(err).Str("rel_path", f).Msg("failed to delete extraneous destination file")
			continue
		}
		log.Info().Str("rel_path", f).Msg("deleted extraneous destination file")
	}

	return pruneEmptyDirs(dstDir)
}

// pruneEmptyDirs removes any directory under root left empty by a deletion
// pass, deepest first.
func pruneEmptyDirs(root string) error {
	var dirs []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return blocksync.Wrapf(blocksync.KindPath, err, "walk: listing directories under %s", root)
	}

	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, d := range dirs {
		entries, err := os.ReadDir(d)
		if err != nil {
			continue
		}
		if len(entries) == 0 {
			os.Remove(d)
		}
	}
	return nil
}
