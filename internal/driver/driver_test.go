package driver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/egoworld/clippipe/internal/clip"
	"github.com/egoworld/clippipe/internal/columnar"
	"github.com/egoworld/clippipe/internal/compute"
	"github.com/egoworld/clippipe/internal/config"
	"github.com/egoworld/clippipe/internal/errs"
	"github.com/egoworld/clippipe/internal/layout"
	"github.com/egoworld/clippipe/internal/operator"
	"github.com/egoworld/clippipe/internal/operator/fixture"
	"github.com/egoworld/clippipe/internal/retry"
	"github.com/egoworld/clippipe/internal/store"
	"github.com/egoworld/clippipe/internal/writer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), filepath.Join(dir, "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestWriter(t *testing.T, outputRoot string) *writer.Writer {
	t.Helper()
	w := writer.New(outputRoot, config.Coordinates{MaskEncoding: "rle", TimeBase: "seconds"}, columnar.DefaultParams())
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	t.Cleanup(func() { cancel(); w.Stop() })
	return w
}

func fixtureChain() operator.Chain {
	return operator.Chain{
		Segmentation: fixture.Segmentation{FPS: 30},
		HandPose:     fixture.HandPose{FPS: 30, DimsN: 6},
		ObjectPose:   fixture.ObjectPose{FPS: 30, DimsN: 7},
		Retargeting:  fixture.Retargeting{},
	}
}

func oneClip() clip.Clip {
	return clip.Clip{
		ClipID:     "video-abc-000000000-000000030-deadbeef",
		VideoID:    "video-abc",
		VideoPath:  "/tmp/video-abc.mp4",
		StartS:     0.0,
		EndS:       1.0,
		FrameStart: 0,
		FrameEnd:   30,
	}
}

// S1: one video, one clip; after run, status Done and all artifacts exist.
func TestDriver_S1_SingleClipReachesDone(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	outputRoot := t.TempDir()
	w := newTestWriter(t, outputRoot)
	pool := compute.New([]operator.Chain{fixtureChain()})
	defer pool.Stop()

	d := New(st, pool, w, retry.DefaultPolicy(), retry.RealClock{}, 2, 2, "run1")

	summary, err := d.Run(ctx, []clip.Clip{oneClip()})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Done)
	assert.Equal(t, 0, summary.Failed)

	row, ok, err := st.GetClipState(ctx, oneClip().ClipID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.Done, row.Status)

	dir := layout.ClipDir(outputRoot, "run1", "video-abc", oneClip().ClipID)
	for _, name := range []string{"meta.json", "masks.parquet", "hand_pose.parquet", "object_pose.parquet", "mapping.parquet"} {
		assertFileExists(t, filepath.Join(dir, name))
	}
}

// S2: rerunning unchanged leaves Done's updated_at unchanged and
// appends no new dead_letter rows (bulk-insert-pending no-ops on
// existing rows, so a rerun of Run with the same clip only re-admits
// via Running, but a driver-level rerun would normally be gated by a
// resume check upstream; here we assert the state-store-level
// idempotence law directly).
func TestDriver_S2_RerunStateStoreIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now()

	require.NoError(t, st.UpsertClipStatus(ctx, "c1", "v1", store.Done, "", 0, now))
	row1, _, err := st.GetClipState(ctx, "c1")
	require.NoError(t, err)

	require.NoError(t, st.BulkInsertPending(ctx, []string{"c1"}, []string{"v1"}, now.Add(time.Hour)))
	row2, _, err := st.GetClipState(ctx, "c1")
	require.NoError(t, err)

	assert.Equal(t, row1.UpdatedAt, row2.UpdatedAt)
	assert.Equal(t, store.Done, row2.Status)
}

// flakySegmentation fails on the first N invocations per clip with a
// retryable CUDA OOM message, then succeeds.
type flakySegmentation struct {
	fps         float64
	failsLeft   int32
	invocations int32
}

func (f *flakySegmentation) Run(ctx context.Context, videoPath string, startS, endS float64) (clip.SegmentationResult, error) {
	atomic.AddInt32(&f.invocations, 1)
	if atomic.AddInt32(&f.failsLeft, -1) >= 0 {
		return clip.SegmentationResult{}, errors.New("CUDA error: out of memory")
	}
	return fixture.Segmentation{FPS: f.fps}.Run(ctx, videoPath, startS, endS)
}

// S3: a retryable error on the first compute attempt, success on the
// second. retry_count ends at 1, status Done, 2 total invocations.
func TestDriver_S3_RetryableErrorThenSuccess(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	outputRoot := t.TempDir()
	w := newTestWriter(t, outputRoot)

	flaky := &flakySegmentation{fps: 30, failsLeft: 1}
	chain := operator.Chain{
		Segmentation: flaky,
		HandPose:     fixture.HandPose{FPS: 30, DimsN: 6},
		ObjectPose:   fixture.ObjectPose{FPS: 30, DimsN: 7},
		Retargeting:  fixture.Retargeting{},
	}
	pool := compute.New([]operator.Chain{chain})
	defer pool.Stop()

	clk := retry.NewFakeClock(time.Unix(0, 0))
	d := New(st, pool, w, retry.DefaultPolicy(), clk, 2, 2, "run1")

	summary, err := d.Run(ctx, []clip.Clip{oneClip()})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Done)

	row, ok, err := st.GetClipState(ctx, oneClip().ClipID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.Done, row.Status)
	assert.Equal(t, 1, row.RetryCount)
	assert.Equal(t, int32(2), atomic.LoadInt32(&flaky.invocations))

	require.Len(t, clk.Sleeps(), 1)
	assert.Equal(t, 5*time.Second, clk.Sleeps()[0])
}

// terminalSegmentation always fails with a non-retryable error.
type terminalSegmentation struct{}

func (terminalSegmentation) Run(ctx context.Context, videoPath string, startS, endS float64) (clip.SegmentationResult, error) {
	return clip.SegmentationResult{}, errs.New(errs.InvalidData, "corrupt frame data", nil)
}

// S4: a terminal InvalidDataError on compute. status Failed, retry_count
// unchanged, exactly one dead_letter row, no output files.
func TestDriver_S4_TerminalErrorMarksFailed(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	outputRoot := t.TempDir()
	w := newTestWriter(t, outputRoot)

	chain := operator.Chain{
		Segmentation: terminalSegmentation{},
		HandPose:     fixture.HandPose{FPS: 30, DimsN: 6},
		ObjectPose:   fixture.ObjectPose{FPS: 30, DimsN: 7},
		Retargeting:  fixture.Retargeting{},
	}
	pool := compute.New([]operator.Chain{chain})
	defer pool.Stop()

	d := New(st, pool, w, retry.DefaultPolicy(), retry.RealClock{}, 2, 2, "run1")

	cl := oneClip()
	summary, err := d.Run(ctx, []clip.Clip{cl})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Done)
	assert.Equal(t, 1, summary.Failed)

	row, ok, err := st.GetClipState(ctx, cl.ClipID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.Failed, row.Status)
	assert.Equal(t, 0, row.RetryCount)

	count, err := st.CountDeadLetter(ctx, cl.ClipID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	dir := layout.ClipDir(outputRoot, "run1", cl.VideoID, cl.ClipID)
	assertFileAbsent(t, filepath.Join(dir, "meta.json"))
}

// S5: two clips with durations 10s and 2s admitted in input order
// [short, long]; admission order after the Orderer is [long, short].
func TestDriver_S5_OrdererAdmitsLongestFirst(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	outputRoot := t.TempDir()
	w := newTestWriter(t, outputRoot)

	var mu sync.Mutex
	var admissionOrder []string
	trackingSegmentation := trackingSegmentationFunc(func(videoPath string, startS, endS float64) {
		mu.Lock()
		admissionOrder = append(admissionOrder, videoPath)
		mu.Unlock()
	}, 30)

	chain := operator.Chain{
		Segmentation: trackingSegmentation,
		HandPose:     fixture.HandPose{FPS: 30, DimsN: 6},
		ObjectPose:   fixture.ObjectPose{FPS: 30, DimsN: 7},
		Retargeting:  fixture.Retargeting{},
	}
	pool := compute.New([]operator.Chain{chain})
	defer pool.Stop()

	d := New(st, pool, w, retry.DefaultPolicy(), retry.RealClock{}, 1, 1, "run1")

	short := clip.Clip{ClipID: "short", VideoID: "v", VideoPath: "short", StartS: 0, EndS: 2}
	long := clip.Clip{ClipID: "long", VideoID: "v", VideoPath: "long", StartS: 0, EndS: 10}

	_, err := d.Run(ctx, []clip.Clip{short, long})
	require.NoError(t, err)

	require.Len(t, admissionOrder, 2)
	assert.Equal(t, "long", admissionOrder[0])
	assert.Equal(t, "short", admissionOrder[1])
}

type trackingSegmentationImpl struct {
	onRun func(videoPath string, startS, endS float64)
	fps   float64
}

func (t trackingSegmentationImpl) Run(ctx context.Context, videoPath string, startS, endS float64) (clip.SegmentationResult, error) {
	t.onRun(videoPath, startS, endS)
	return fixture.Segmentation{FPS: t.fps}.Run(ctx, videoPath, startS, endS)
}

func trackingSegmentationFunc(onRun func(videoPath string, startS, endS float64), fps float64) operator.Segmentation {
	return trackingSegmentationImpl{onRun: onRun, fps: fps}
}

// S6: cap_gpu = 1, two clips; at no time are two compute handles
// simultaneously in-flight.
func TestDriver_S6_CapOneSerializesComputeStage(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	outputRoot := t.TempDir()
	w := newTestWriter(t, outputRoot)

	var mu sync.Mutex
	var concurrent, maxConcurrent int
	blockingSegmentation := blockingSegmentationImpl{
		fps: 30,
		before: func() {
			mu.Lock()
			concurrent++
			if concurrent > maxConcurrent {
				maxConcurrent = concurrent
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
		},
		after: func() {
			mu.Lock()
			concurrent--
			mu.Unlock()
		},
	}

	chain := operator.Chain{
		Segmentation: blockingSegmentation,
		HandPose:     fixture.HandPose{FPS: 30, DimsN: 6},
		ObjectPose:   fixture.ObjectPose{FPS: 30, DimsN: 7},
		Retargeting:  fixture.Retargeting{},
	}
	pool := compute.New([]operator.Chain{chain})
	defer pool.Stop()

	d := New(st, pool, w, retry.DefaultPolicy(), retry.RealClock{}, 1, 1, "run1")

	clipA := clip.Clip{ClipID: "a", VideoID: "v", VideoPath: "a", StartS: 0, EndS: 1}
	clipB := clip.Clip{ClipID: "b", VideoID: "v", VideoPath: "b", StartS: 0, EndS: 1}

	summary, err := d.Run(ctx, []clip.Clip{clipA, clipB})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Done)
	assert.LessOrEqual(t, maxConcurrent, 1)
}

type blockingSegmentationImpl struct {
	fps    float64
	before func()
	after  func()
}

func (b blockingSegmentationImpl) Run(ctx context.Context, videoPath string, startS, endS float64) (clip.SegmentationResult, error) {
	b.before()
	defer b.after()
	return fixture.Segmentation{FPS: b.fps}.Run(ctx, videoPath, startS, endS)
}

// S7: cap_gpu = 4 (all three clips admit without the main loop ever
// blocking on compute), cap_write = 1. The tail drain loop must still
// never let GateWrite admit a second pending write while the first is
// outstanding, even though every compute success arrives there back to
// back with nothing upstream left to throttle them.
func TestDriver_S7_TailDrainRespectsWriteCap(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	outputRoot := t.TempDir()
	w := newTestWriter(t, outputRoot)
	pool := compute.New([]operator.Chain{fixtureChain(), fixtureChain(), fixtureChain(), fixtureChain()})
	defer pool.Stop()

	d := New(st, pool, w, retry.DefaultPolicy(), retry.RealClock{}, 4, 1, "run1")

	clips := []clip.Clip{
		{ClipID: "c1", VideoID: "v", VideoPath: "a", StartS: 0, EndS: 1, FrameStart: 0, FrameEnd: 30},
		{ClipID: "c2", VideoID: "v", VideoPath: "b", StartS: 0, EndS: 1, FrameStart: 0, FrameEnd: 30},
		{ClipID: "c3", VideoID: "v", VideoPath: "c", StartS: 0, EndS: 1, FrameStart: 0, FrameEnd: 30},
	}

	var maxLen int32
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				if n := int32(d.GateWrite.Len()); n > atomic.LoadInt32(&maxLen) {
					atomic.StoreInt32(&maxLen, n)
				}
				runtime.Gosched()
			}
		}
	}()

	summary, err := d.Run(ctx, clips)
	close(stop)
	wg.Wait()

	require.NoError(t, err)
	assert.Equal(t, 3, summary.Done)
	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxLen)), 1, "GateWrite pending count exceeded its cap during the tail drain")
}

func assertFileExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err, path)
	assert.False(t, info.IsDir())
}

func assertFileAbsent(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
