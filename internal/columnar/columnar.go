// Package columnar writes the four fixed-schema parquet artifacts
// (masks, hand_pose, object_pose, mapping) the Writer commits per
// clip, plus the Params value that selects their compression.
//
// No library in the example corpus touches Parquet; parquet-go is an
// out-of-pack dependency (named, not grounded, per DESIGN.md) chosen
// because it is the standard idiomatic Go Parquet writer and its
// generic Writer API maps directly onto the fixed row schemas spec.md
// §6 requires. Row shapes and the write-then-rename protocol are
// otherwise grounded on egoworld/io/writers.py's write_parquet_table.
package columnar

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/egoworld/clippipe/internal/layout"
)

// Params carries the compression codec and row group size taken from
// config.Parquet (see cli/run.go). writeParquet applies the codec;
// RowGroupSize is not passed to the parquet writer. The run manifest's
// parquet_params field is built from config.Parquet, not from Params.
type Params struct {
	Compression  string `json:"compression"`
	RowGroupSize int    `json:"row_group_size"`
}

// DefaultParams is a small, fast convenience value for tests that
// don't care about compression or row-group sizing; it does not mirror
// egoworld/config.py's ParquetConfig defaults (zstd, 256MiB row
// groups — see config.defaultParquet). Production code always wires
// cfg.Parquet through explicitly (see cli/run.go) rather than calling
// this.
func DefaultParams() Params {
	return Params{Compression: "snappy", RowGroupSize: 10000}
}

func (p Params) compressionCodec() parquet.Compression {
	switch p.Compression {
	case "gzip":
		return parquet.Gzip
	case "zstd":
		return parquet.Zstd
	case "uncompressed", "none":
		return parquet.Uncompressed
	default:
		return parquet.Snappy
	}
}

// MaskRow is one row of masks.parquet.
type MaskRow struct {
	FrameIndex int64   `parquet:"frame_index"`
	TimestampS float64 `parquet:"timestamp_s"`
	MaskRLE    string  `parquet:"mask_rle"`
}

// PoseRow is one row of hand_pose.parquet, object_pose.parquet, or
// mapping.parquet — all three share this schema per spec.md §6.
type PoseRow struct {
	FrameIndex int64     `parquet:"frame_index"`
	TimestampS float64   `parquet:"timestamp_s"`
	Pose       []float32 `parquet:"pose,list"`
}

// WriteMasksParquet atomically writes rows to path using params.
func WriteMasksParquet(path string, rows []MaskRow, params Params) error {
	return writeParquet(path, rows, params)
}

// WritePoseParquet atomically writes rows to path using params. Used
// for hand_pose.parquet, object_pose.parquet, and mapping.parquet.
func WritePoseParquet(path string, rows []PoseRow, params Params) error {
	return writeParquet(path, rows, params)
}

func writeParquet[T any](path string, rows []T, params Params) error {
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[T](&buf,
		parquet.Compression(params.compressionCodec()),
	)
	if _, err := w.Write(rows); err != nil {
		return fmt.Errorf("columnar: write rows for %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("columnar: close writer for %s: %w", path, err)
	}
	return layout.AtomicWriteFile(path, buf.Bytes(), 0o644)
}
