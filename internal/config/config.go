// Package config loads, validates, and resolves pipeline run
// configuration: GPU count, backpressure caps, retry policy, scene
// detection, coordinate conventions, metrics thresholds, filesystem
// paths, and per-operator parameters.
//
// Grounded on egoworld/config.py's dataclass tree (ParquetConfig,
// BackpressureConfig, RetryPolicy, SceneDetectConfig, CoordinateSpec,
// MetricsThresholds, PathsConfig, OperatorConfig/OperatorsConfig,
// PipelineConfig) and load_config/resolved/to_run_manifest. YAML
// parsing follows the teacher's gopkg.in/yaml.v3 usage; schema
// validation follows the teacher's cuelang.org/go usage, generalized
// from IR documents to pipeline configuration documents.
package config

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaFS embed.FS

// Parquet mirrors egoworld's ParquetConfig.
type Parquet struct {
	Compression  string   `yaml:"compression" json:"compression"`
	RowGroupSize int      `yaml:"row_group_size" json:"row_group_size"`
	DataPageSize int      `yaml:"data_page_size" json:"data_page_size"`
	Partition    []string `yaml:"partition" json:"partition"`
}

func defaultParquet() Parquet {
	return Parquet{
		Compression:  "zstd",
		RowGroupSize: 256 * 1024 * 1024,
		DataPageSize: 8 * 1024 * 1024,
		Partition:    []string{"run_id", "video_id", "clip_id"},
	}
}

// Backpressure mirrors egoworld's BackpressureConfig. Nil fields mean
// "unset" and resolve to 2×num_gpus in Resolved.
type Backpressure struct {
	MaxInFlightCPU   *int `yaml:"max_in_flight_cpu" json:"max_in_flight_cpu"`
	MaxInFlightGPU   *int `yaml:"max_in_flight_gpu" json:"max_in_flight_gpu"`
	MaxInFlightWrite *int `yaml:"max_in_flight_write" json:"max_in_flight_write"`
}

// Resolve fills unset caps with 2×numGPUs, matching
// BackpressureConfig.resolve in the source.
func (b Backpressure) Resolve(numGPUs int) Backpressure {
	const multiplier = 2
	fallback := multiplier * numGPUs
	return Backpressure{
		MaxInFlightCPU:   orDefault(b.MaxInFlightCPU, fallback),
		MaxInFlightGPU:   orDefault(b.MaxInFlightGPU, fallback),
		MaxInFlightWrite: orDefault(b.MaxInFlightWrite, fallback),
	}
}

func orDefault(v *int, def int) *int {
	if v != nil {
		return v
	}
	out := def
	return &out
}

// Retry mirrors egoworld's RetryPolicy.
type Retry struct {
	MaxRetries int     `yaml:"max_retries" json:"max_retries"`
	BaseDelayS float64 `yaml:"base_delay_s" json:"base_delay_s"`
	Backoff    float64 `yaml:"backoff" json:"backoff"`
}

func defaultRetry() Retry {
	return Retry{MaxRetries: 3, BaseDelayS: 5.0, Backoff: 3.0}
}

// SceneDetect mirrors egoworld's SceneDetectConfig.
type SceneDetect struct {
	Method           string  `yaml:"method" json:"method"`
	MinSceneLenS     float64 `yaml:"min_scene_len_s" json:"min_scene_len_s"`
	FallbackFullClip bool    `yaml:"fallback_full_clip" json:"fallback_full_clip"`
	OverlapS         float64 `yaml:"overlap_s" json:"overlap_s"`
}

func defaultSceneDetect() SceneDetect {
	return SceneDetect{Method: "scenedetect", MinSceneLenS: 1.0, FallbackFullClip: true, OverlapS: 1.0}
}

// Coordinates mirrors egoworld's CoordinateSpec.
type Coordinates struct {
	SpecVersion    string `yaml:"spec_version" json:"spec_version"`
	TimeBase       string `yaml:"time_base" json:"time_base"`
	MaskEncoding   string `yaml:"mask_encoding" json:"mask_encoding"`
	LengthUnit     string `yaml:"length_unit" json:"length_unit"`
	Handedness     string `yaml:"handedness" json:"handedness"`
	QuatOrder      string `yaml:"quat_order" json:"quat_order"`
	FrameIndexBase int    `yaml:"frame_index_base" json:"frame_index_base"`
	AxisOrder      string `yaml:"axis_order" json:"axis_order"`
	CoordFrame     string `yaml:"coord_frame" json:"coord_frame"`
}

func defaultCoordinates() Coordinates {
	return Coordinates{
		SpecVersion:    "v1",
		TimeBase:       "seconds",
		MaskEncoding:   "rle",
		LengthUnit:     "meters",
		Handedness:     "right",
		QuatOrder:      "wxyz",
		FrameIndexBase: 0,
		AxisOrder:      "x,y,z",
		CoordFrame:     "camera",
	}
}

// Metrics mirrors egoworld's MetricsThresholds.
type Metrics struct {
	GPUUtilMin       float64 `yaml:"gpu_util_min" json:"gpu_util_min"`
	GPUUtilWindowS   int     `yaml:"gpu_util_window_s" json:"gpu_util_window_s"`
	FailureRateMax   float64 `yaml:"failure_rate_max" json:"failure_rate_max"`
	EmptyMaskRateMax float64 `yaml:"empty_mask_rate_max" json:"empty_mask_rate_max"`
}

func defaultMetrics() Metrics {
	return Metrics{GPUUtilMin: 0.60, GPUUtilWindowS: 600, FailureRateMax: 0.01, EmptyMaskRateMax: 0.20}
}

// Paths mirrors egoworld's PathsConfig.
type Paths struct {
	DataRoot     string `yaml:"data_root" json:"data_root"`
	OutputRoot   string `yaml:"output_root" json:"output_root"`
	ManifestPath string `yaml:"manifest_path" json:"manifest_path"`
	StateDBPath  string `yaml:"state_db_path" json:"state_db_path"`
	RunlogPath   string `yaml:"runlog_path" json:"runlog_path"`
}

func defaultPaths() Paths {
	return Paths{
		DataRoot:     "./data",
		OutputRoot:   "./output",
		ManifestPath: "./manifests",
		StateDBPath:  "./state/pipeline.db",
		RunlogPath:   "./runlog.md",
	}
}

// Operator mirrors egoworld's OperatorConfig.
type Operator struct {
	Enabled bool           `yaml:"enabled" json:"enabled"`
	Params  map[string]any `yaml:"params" json:"params"`
}

// Operators mirrors egoworld's OperatorsConfig.
type Operators struct {
	Sam2           Operator `yaml:"sam2" json:"sam2"`
	Hamer          Operator `yaml:"hamer" json:"hamer"`
	FoundationPose Operator `yaml:"foundationpose" json:"foundationpose"`
	DexRetarget    Operator `yaml:"dex_retarget" json:"dex_retarget"`
	Fast3R         Operator `yaml:"fast3r" json:"fast3r"`
}

func defaultOperators() Operators {
	return Operators{
		Sam2:           Operator{Enabled: true, Params: map[string]any{}},
		Hamer:          Operator{Enabled: false, Params: map[string]any{}},
		FoundationPose: Operator{Enabled: false, Params: map[string]any{}},
		DexRetarget:    Operator{Enabled: false, Params: map[string]any{}},
		Fast3R:         Operator{Enabled: false, Params: map[string]any{}},
	}
}

// Pipeline is the full run configuration, mirroring egoworld's
// PipelineConfig.
type Pipeline struct {
	NumGPUs       int               `yaml:"num_gpus" json:"num_gpus"`
	Parquet       Parquet           `yaml:"parquet" json:"parquet"`
	Backpressure  Backpressure      `yaml:"backpressure" json:"backpressure"`
	Retry         Retry             `yaml:"retry" json:"retry"`
	SceneDetect   SceneDetect       `yaml:"scenedetect" json:"scenedetect"`
	Coordinates   Coordinates       `yaml:"coordinates" json:"coordinates"`
	Metrics       Metrics           `yaml:"metrics" json:"metrics"`
	Paths         Paths             `yaml:"paths" json:"paths"`
	Operators     Operators         `yaml:"operators" json:"operators"`
	RunID         string            `yaml:"run_id" json:"run_id"`
	ModelVersions map[string]string `yaml:"model_versions" json:"model_versions"`
	DatasetHash   string            `yaml:"dataset_hash" json:"dataset_hash"`
	CodeGitHash   string            `yaml:"code_git_hash" json:"code_git_hash"`
	Extra         map[string]any    `yaml:"extra" json:"extra"`
}

// Default returns a Pipeline populated with egoworld's defaults.
func Default() Pipeline {
	return Pipeline{
		NumGPUs:       1,
		Parquet:       defaultParquet(),
		Backpressure:  Backpressure{},
		Retry:         defaultRetry(),
		SceneDetect:   defaultSceneDetect(),
		Coordinates:   defaultCoordinates(),
		Metrics:       defaultMetrics(),
		Paths:         defaultPaths(),
		Operators:     defaultOperators(),
		ModelVersions: map[string]string{},
		Extra:         map[string]any{},
	}
}

// Load reads a YAML or JSON pipeline configuration document from path,
// validates it against the embedded CUE schema, and merges it onto
// Default().
func Load(path string) (Pipeline, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := Validate(content, strings.HasSuffix(path, ".json")); err != nil {
		return Pipeline{}, fmt.Errorf("config: validate %s: %w", path, err)
	}

	cfg := Default()
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(content, &cfg); err != nil {
			return Pipeline{}, fmt.Errorf("config: parse json %s: %w", path, err)
		}
		return cfg, nil
	}

	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Pipeline{}, fmt.Errorf("config: parse yaml %s: %w", path, err)
	}
	return cfg, nil
}

// Validate unifies the raw document against the embedded CUE schema
// and returns an error describing the first violation, if any.
func Validate(content []byte, isJSON bool) error {
	schemaSrc, err := schemaFS.ReadFile("schema.cue")
	if err != nil {
		return fmt.Errorf("config: read embedded schema: %w", err)
	}

	var generic map[string]any
	if isJSON {
		if err := json.Unmarshal(content, &generic); err != nil {
			return fmt.Errorf("config: parse json for validation: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(content, &generic); err != nil {
			return fmt.Errorf("config: parse yaml for validation: %w", err)
		}
	}
	if generic == nil {
		generic = map[string]any{}
	}

	docJSON, err := json.Marshal(generic)
	if err != nil {
		return fmt.Errorf("config: remarshal for validation: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSrc)
	if schema.Err() != nil {
		return fmt.Errorf("config: compile schema: %w", schema.Err())
	}
	doc := ctx.CompileBytes(docJSON)
	if doc.Err() != nil {
		return fmt.Errorf("config: compile document: %w", doc.Err())
	}

	unified := schema.Unify(doc)
	if err := unified.Validate(); err != nil {
		return fmt.Errorf("config: schema validation: %w", err)
	}
	return nil
}

// Resolved returns a copy of p with unset backpressure caps filled in
// from NumGPUs, matching PipelineConfig.resolved in the source.
func (p Pipeline) Resolved() Pipeline {
	out := p
	out.Backpressure = p.Backpressure.Resolve(p.NumGPUs)
	return out
}

// RunManifestFields returns the fixed sub-fields spec.md §4.J requires
// in the run manifest, derived from this resolved configuration.
type RunManifestFields struct {
	ParquetParams         string `json:"parquet_params"`
	ModelVersions         string `json:"model_versions"`
	CoordinateSpecVersion string `json:"coordinate_spec_version"`
	MaskEncoding          string `json:"mask_encoding"`
	TimeBase              string `json:"time_base"`
}

// ToRunManifestFields mirrors PipelineConfig.to_run_manifest's derived
// fields, serializing sub-documents as JSON strings the way the
// source does with json.dumps.
func (p Pipeline) ToRunManifestFields() (RunManifestFields, error) {
	parquetParams, err := json.Marshal(p.Parquet)
	if err != nil {
		return RunManifestFields{}, fmt.Errorf("config: marshal parquet params: %w", err)
	}
	modelVersions, err := json.Marshal(p.ModelVersions)
	if err != nil {
		return RunManifestFields{}, fmt.Errorf("config: marshal model versions: %w", err)
	}
	return RunManifestFields{
		ParquetParams:         string(parquetParams),
		ModelVersions:         string(modelVersions),
		CoordinateSpecVersion: p.Coordinates.SpecVersion,
		MaskEncoding:          p.Coordinates.MaskEncoding,
		TimeBase:              p.Coordinates.TimeBase,
	}, nil
}
