package manifest

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/egoworld/clippipe/internal/config"
	"github.com/egoworld/clippipe/internal/contenthash"
	"github.com/egoworld/clippipe/internal/layout"
)

// RunManifest is the single document written once per run at the run
// root, before any clip output is committed (spec.md §3, §4.J).
type RunManifest struct {
	RunID                 string          `json:"run_id"`
	CreatedAt             string          `json:"created_at"`
	NumGPUs               int             `json:"num_gpus"`
	ParquetParams         string          `json:"parquet_params"`
	ModelVersions         string          `json:"model_versions"`
	CoordinateSpecVersion string          `json:"coordinate_spec_version"`
	MaskEncoding          string          `json:"mask_encoding"`
	TimeBase              string          `json:"time_base"`
	DatasetHash           string          `json:"dataset_hash"`
	CodeHash              string          `json:"code_hash"`
	Config                config.Pipeline `json:"config"`
}

// BuildRunManifest resolves cfg and assembles the fixed sub-fields
// spec.md §4.J requires. If cfg.DatasetHash/CodeGitHash are unset,
// they're derived: dataset_hash from the sorted clip_id list,
// code_hash from the resolved config itself — egoworld/config.py
// carries these fields but never computes them.
func BuildRunManifest(cfg config.Pipeline, clipIDs []string, createdAt time.Time) (RunManifest, error) {
	resolved := cfg.Resolved()

	fields, err := resolved.ToRunManifestFields()
	if err != nil {
		return RunManifest{}, fmt.Errorf("manifest: run manifest fields: %w", err)
	}

	datasetHash := resolved.DatasetHash
	if datasetHash == "" {
		datasetHash, err = DatasetHash(clipIDs)
		if err != nil {
			return RunManifest{}, fmt.Errorf("manifest: derive dataset hash: %w", err)
		}
	}

	codeHash := resolved.CodeGitHash
	if codeHash == "" {
		codeHash, err = contenthash.Sum(contenthash.DomainCodeHash, resolved)
		if err != nil {
			return RunManifest{}, fmt.Errorf("manifest: derive code hash: %w", err)
		}
	}

	runID := resolved.RunID
	if runID == "" {
		// Timestamp alone collides when two runs start in the same
		// second (common in tests and quick restarts); a short uuid
		// suffix keeps run_id unique without losing the sortable prefix.
		runID = fmt.Sprintf("%s-%s", createdAt.UTC().Format("20060102T150405Z"), uuid.New().String()[:8])
	}

	return RunManifest{
		RunID:                 runID,
		CreatedAt:             createdAt.UTC().Format("2006-01-02T15:04:05Z"),
		NumGPUs:               resolved.NumGPUs,
		ParquetParams:         fields.ParquetParams,
		ModelVersions:         fields.ModelVersions,
		CoordinateSpecVersion: fields.CoordinateSpecVersion,
		MaskEncoding:          fields.MaskEncoding,
		TimeBase:              fields.TimeBase,
		DatasetHash:           datasetHash,
		CodeHash:              codeHash,
		Config:                resolved,
	}, nil
}

// WriteRunManifest atomically writes the manifest to
// run_id=<R>/run_manifest.json under outputRoot.
func WriteRunManifest(outputRoot string, m RunManifest) error {
	return layout.AtomicWriteJSON(layout.RunManifestPath(outputRoot, m.RunID), m)
}
