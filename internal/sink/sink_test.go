package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/matchguard/internal/config"
	"github.com/sells-group/matchguard/internal/model"
	"github.com/sells-group/matchguard/internal/store"
)

func testRun() *model.PipelineRun {
	return &model.PipelineRun{ID: "run-1", OverallStatus: model.StatusPassed}
}

func TestArtifactValidate(t *testing.T) {
	assert.NoError(t, RunArtifact(testRun()).Validate())
	assert.NoError(t, ReviewArtifact("run-1", nil).Validate())
	assert.NoError(t, QualityArtifact(&model.QualityReport{RunID: "run-1"}).Validate())
	assert.NoError(t, InvestigationArtifact(model.Investigation{ID: "x"}).Validate())

	assert.ErrorContains(t, Artifact{Kind: KindRun}.Validate(), "without payload")
	assert.ErrorContains(t, Artifact{Kind: "bogus"}.Validate(), "unknown artifact kind")
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Append(ctx, InvestigationArtifact(model.Investigation{ID: "i"})))
		}()
	}
	wg.Wait()
	require.NoError(t, m.Append(ctx, RunArtifact(testRun())))
	require.NoError(t, m.Flush(ctx))

	assert.Len(t, m.Artifacts(), 11)
	assert.Len(t, m.ByKind(KindInvestigation), 10)
	runs := m.ByKind(KindRun)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
	assert.Equal(t, 1, m.Flushes())

	assert.Error(t, m.Append(ctx, Artifact{Kind: KindQuality}))
}

func TestJSONL(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	j, err := NewJSONL(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, j.Append(ctx, RunArtifact(testRun())))
	require.NoError(t, j.Append(ctx, InvestigationArtifact(model.Investigation{ID: "a", RunID: "run-1"})))
	require.NoError(t, j.Append(ctx, InvestigationArtifact(model.Investigation{ID: "b", RunID: "run-1"})))
	require.NoError(t, j.Flush(ctx))

	lines := readLines(t, j.Path(KindInvestigation))
	require.Len(t, lines, 2)
	var a Artifact
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &a))
	assert.Equal(t, KindInvestigation, a.Kind)
	assert.Equal(t, "b", a.Investigation.ID)

	assert.Len(t, readLines(t, j.Path(KindRun)), 1)
	_, err = os.Stat(j.Path(KindQuality))
	assert.True(t, os.IsNotExist(err), "files are created lazily")

	require.NoError(t, j.Close())

	// Reopening appends.
	j2, err := NewJSONL(dir)
	require.NoError(t, err)
	require.NoError(t, j2.Append(ctx, RunArtifact(testRun())))
	require.NoError(t, j2.Close())
	assert.Len(t, readLines(t, j.Path(KindRun)), 2)
}

func TestJSONL_CancelledContext(t *testing.T) {
	j, err := NewJSONL(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, j.Append(ctx, RunArtifact(testRun())))
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 10<<20)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

// mockStore is a testify mock of store.Store.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) SaveRun(ctx context.Context, run *model.PipelineRun) error {
	return m.Called(ctx, run).Error(0)
}

func (m *mockStore) GetRun(ctx context.Context, id string) (*model.PipelineRun, error) {
	args := m.Called(ctx, id)
	r, _ := args.Get(0).(*model.PipelineRun)
	return r, args.Error(1)
}

func (m *mockStore) ListRuns(ctx context.Context, f store.RunFilter) ([]model.PipelineRun, error) {
	args := m.Called(ctx, f)
	r, _ := args.Get(0).([]model.PipelineRun)
	return r, args.Error(1)
}

func (m *mockStore) SaveInvestigation(ctx context.Context, inv model.Investigation) error {
	return m.Called(ctx, inv).Error(0)
}

func (m *mockStore) ListInvestigations(ctx context.Context, f store.InvestigationFilter) ([]model.Investigation, error) {
	args := m.Called(ctx, f)
	r, _ := args.Get(0).([]model.Investigation)
	return r, args.Error(1)
}

func (m *mockStore) EnqueueReview(ctx context.Context, items []model.ReviewItem) error {
	return m.Called(ctx, items).Error(0)
}

func (m *mockStore) ListReview(ctx context.Context, runID string) ([]model.ReviewItem, error) {
	args := m.Called(ctx, runID)
	r, _ := args.Get(0).([]model.ReviewItem)
	return r, args.Error(1)
}

func (m *mockStore) SaveQuality(ctx context.Context, q *model.QualityReport) error {
	return m.Called(ctx, q).Error(0)
}

func (m *mockStore) GetQuality(ctx context.Context, runID string) (*model.QualityReport, error) {
	args := m.Called(ctx, runID)
	r, _ := args.Get(0).(*model.QualityReport)
	return r, args.Error(1)
}

func (m *mockStore) Ping(ctx context.Context) error    { return m.Called(ctx).Error(0) }
func (m *mockStore) Migrate(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *mockStore) Close() error                      { return m.Called().Error(0) }

func TestStoreSink_Dispatch(t *testing.T) {
	st := new(mockStore)
	ctx := context.Background()
	run := testRun()
	q := &model.QualityReport{RunID: "run-1"}
	items := []model.ReviewItem{{RunID: "run-1", Reason: model.ReviewSampled}}
	inv := model.Investigation{ID: "h", RunID: "run-1"}

	st.On("SaveRun", ctx, run).Return(nil)
	st.On("SaveQuality", ctx, q).Return(nil)
	st.On("EnqueueReview", ctx, items).Return(nil)
	st.On("SaveInvestigation", ctx, inv).Return(errors.New("db down"))

	s := NewStore(st)
	require.NoError(t, s.Append(ctx, RunArtifact(run)))
	require.NoError(t, s.Append(ctx, QualityArtifact(q)))
	require.NoError(t, s.Append(ctx, ReviewArtifact("run-1", items)))
	err := s.Append(ctx, InvestigationArtifact(inv))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.NoError(t, s.Flush(ctx))
	st.AssertExpectations(t)
}

type failingSink struct{}

func (failingSink) Append(context.Context, Artifact) error { return errors.New("append failed") }
func (failingSink) Flush(context.Context) error            { return errors.New("flush failed") }

func TestMulti_ContinuesPastFailures(t *testing.T) {
	mem := NewMemory()
	m := Multi{failingSink{}, mem}
	ctx := context.Background()

	err := m.Append(ctx, RunArtifact(testRun()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append failed")
	assert.Len(t, mem.Artifacts(), 1)

	err = m.Flush(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, mem.Flushes())

	assert.NoError(t, Multi{mem}.Append(ctx, RunArtifact(testRun())))
}

func TestNew(t *testing.T) {
	dir := t.TempDir()

	s, err := New(config.SinkConfig{Kind: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = New(config.SinkConfig{Kind: "jsonl", Dir: dir}, nil)
	require.NoError(t, err)
	assert.IsType(t, &JSONL{}, s)

	_, err = New(config.SinkConfig{Kind: "store"}, nil)
	assert.Error(t, err)

	s, err = New(config.SinkConfig{Kind: "store"}, new(mockStore))
	require.NoError(t, err)
	assert.IsType(t, &Store{}, s)

	s, err = New(config.SinkConfig{Kind: "both", Dir: dir}, new(mockStore))
	require.NoError(t, err)
	assert.Len(t, s.(Multi), 2)
	assert.NoError(t, s.(Multi).Close())

	_, err = New(config.SinkConfig{Kind: "kafka"}, nil)
	assert.ErrorContains(t, err, "unknown kind")
}
