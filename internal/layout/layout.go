// Package layout builds the deterministic partitioned output paths
// and implements the atomic write-then-rename protocol every artifact
// writer in this pipeline uses.
//
// Grounded on egoworld/io/paths.py (run_dir/clip_dir) and
// egoworld/io/writers.py's write-to-.tmp-then-os.replace pattern,
// adapted to Go's os.Rename (atomic within a single filesystem,
// same directory, exactly like os.replace).
package layout

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// RunDir returns the root directory partition for a run.
func RunDir(outputRoot, runID string) string {
	return filepath.Join(outputRoot, fmt.Sprintf("run_id=%s", runID))
}

// ClipDir returns the partitioned directory for one clip's artifacts:
// <output_root>/run_id=<R>/video_id=<V>/clip_id=<C>/.
func ClipDir(outputRoot, runID, videoID, clipID string) string {
	return filepath.Join(RunDir(outputRoot, runID), fmt.Sprintf("video_id=%s", videoID), fmt.Sprintf("clip_id=%s", clipID))
}

// RunManifestPath returns the path of run_manifest.json at the run root.
func RunManifestPath(outputRoot, runID string) string {
	return filepath.Join(RunDir(outputRoot, runID), "run_manifest.json")
}

// AtomicWriteFile creates parent directories as needed, writes data to
// path+".tmp", then renames it onto path. The rename lands on the same
// directory as the tmp file so it is atomic on any POSIX filesystem.
// Callers must never read from the ".tmp" path.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("layout: mkdir %s: %w", dir, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("layout: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("layout: rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}

// AtomicWriteJSON marshals v and writes it atomically to path.
// write_json(P, X); write_json(P, X) is idempotent: both calls produce
// byte-identical output since json.Marshal is deterministic for a
// given value.
func AtomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("layout: marshal json for %s: %w", path, err)
	}
	data = append(data, '\n')
	return AtomicWriteFile(path, data, 0o644)
}

// AtomicWriteJSONLines marshals each element of rows as one JSON line
// and writes the whole file atomically.
func AtomicWriteJSONLines(path string, rows []any) error {
	var buf []byte
	for _, row := range rows {
		line, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("layout: marshal json line for %s: %w", path, err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return AtomicWriteFile(path, buf, 0o644)
}
