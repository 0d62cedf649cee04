package driver

import (
	"context"
	"encoding/json"
	"io/fs"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/egoworld/clippipe/internal/clip"
	"github.com/egoworld/clippipe/internal/compute"
	"github.com/egoworld/clippipe/internal/layout"
	"github.com/egoworld/clippipe/internal/operator"
	"github.com/egoworld/clippipe/internal/retry"
	"github.com/egoworld/clippipe/internal/store"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

// snapshot is what TestDriver_S1_GoldenFinalState records: the durable
// clip_status row and the relative paths of every artifact the run
// produced, with the run's Summary. A fixed-start FakeClock keeps
// updated_at reproducible across runs.
type snapshot struct {
	Summary Summary             `json:"summary"`
	Clip    store.ClipStatusRow `json:"clip"`
	Files   []string            `json:"files"`
}

// TestDriver_S1_GoldenFinalState snapshots the Driver's complete
// durable output for the single-clip happy path (S1), exercising the
// same "compare against a recorded golden state" idiom the teacher's
// test suite uses for its own end-to-end scenarios, repointed at
// clip_status rows and the output tree instead of an invocation trace.
func TestDriver_S1_GoldenFinalState(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	outputRoot := t.TempDir()
	w := newTestWriter(t, outputRoot)
	pool := compute.New([]operator.Chain{fixtureChain()})
	defer pool.Stop()

	clk := retry.NewFakeClock(time.Unix(1700000000, 0))
	d := New(st, pool, w, retry.DefaultPolicy(), clk, 2, 2, "run1")

	cl := oneClip()
	summary, err := d.Run(ctx, []clip.Clip{cl})
	require.NoError(t, err)

	row, ok, err := st.GetClipState(ctx, cl.ClipID)
	require.NoError(t, err)
	require.True(t, ok)

	runRoot := layout.RunDir(outputRoot, "run1")
	var files []string
	require.NoError(t, filepath.WalkDir(runRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(runRoot, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	}))
	sort.Strings(files)

	snap := snapshot{Summary: summary, Clip: row, Files: files}
	data, err := json.MarshalIndent(snap, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "s1_final_state", data)
}
