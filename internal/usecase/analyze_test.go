package usecase

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-data-analyst/internal/domain"
	"github.com/fairyhunter13/ai-data-analyst/internal/loader"
	"github.com/fairyhunter13/ai-data-analyst/internal/schema"
)

type mockBroker struct{ mock.Mock }

func (m *mockBroker) Submit(ctx context.Context, j domain.Job) (string, error) {
	args := m.Called(ctx, j)
	return args.String(0), args.Error(1)
}

func (m *mockBroker) Reserve(ctx context.Context, timeout time.Duration) (domain.Job, domain.Lease, error) {
	args := m.Called(ctx, timeout)
	return args.Get(0).(domain.Job), args.Get(1).(domain.Lease), args.Error(2)
}

func (m *mockBroker) Extend(ctx context.Context, l domain.Lease, d time.Duration) (domain.Lease, error) {
	args := m.Called(ctx, l, d)
	return args.Get(0).(domain.Lease), args.Error(1)
}

func (m *mockBroker) PublishProgress(ctx context.Context, id string, ev domain.ProgressEvent) (int64, error) {
	args := m.Called(ctx, id, ev)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockBroker) SubscribeProgress(ctx context.Context, id string, fromSeq int64) (<-chan domain.ProgressEvent, error) {
	args := m.Called(ctx, id, fromSeq)
	ch, _ := args.Get(0).(<-chan domain.ProgressEvent)
	return ch, args.Error(1)
}

func (m *mockBroker) Complete(ctx context.Context, l domain.Lease, out domain.Outcome) error {
	return m.Called(ctx, l, out).Error(0)
}

func (m *mockBroker) FailAndRequeue(ctx context.Context, l domain.Lease, reason string) error {
	return m.Called(ctx, l, reason).Error(0)
}

func (m *mockBroker) RequestCancel(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockBroker) CancelRequested(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockBroker) Get(ctx context.Context, id string) (domain.Job, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Job), args.Error(1)
}

func inspectorWithFiles(t *testing.T, names ...string) *schema.Inspector {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("A,B\n1,2\n"), 0o644))
	}
	return schema.NewInspector(loader.New(0), dir)
}

func TestSubmitHappyPath(t *testing.T) {
	t.Parallel()
	broker := &mockBroker{}
	broker.On("Submit", mock.Anything, mock.MatchedBy(func(j domain.Job) bool {
		return j.Question == "what is the sum of B?" && j.PrimaryFile == "a.csv"
	})).Return("job-1", nil)
	svc := NewAnalyzeService(broker, inspectorWithFiles(t, "a.csv"))

	id, err := svc.Submit(context.Background(), "  what is the sum of B?  ", "a.csv")
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
	broker.AssertExpectations(t)
}

func TestSubmitEmptyQuestionRejected(t *testing.T) {
	t.Parallel()
	svc := NewAnalyzeService(&mockBroker{}, inspectorWithFiles(t, "a.csv"))

	_, err := svc.Submit(context.Background(), "   \n\t ", "")
	assert.ErrorIs(t, err, domain.ErrInputRejected)
}

func TestSubmitNoDataFilesRejected(t *testing.T) {
	t.Parallel()
	svc := NewAnalyzeService(&mockBroker{}, inspectorWithFiles(t))

	_, err := svc.Submit(context.Background(), "anything to analyze?", "")
	assert.ErrorIs(t, err, domain.ErrInputRejected)
}

func TestSubmitUnknownPrimaryFileRejected(t *testing.T) {
	t.Parallel()
	svc := NewAnalyzeService(&mockBroker{}, inspectorWithFiles(t, "a.csv"))

	_, err := svc.Submit(context.Background(), "sum of B?", "missing.csv")
	assert.ErrorIs(t, err, domain.ErrInputRejected)
}

func TestSubmitOversizedQuestionRejected(t *testing.T) {
	t.Parallel()
	svc := NewAnalyzeService(&mockBroker{}, inspectorWithFiles(t, "a.csv"))

	long := make([]byte, maxQuestionLen+1)
	for i := range long {
		long[i] = 'q'
	}
	_, err := svc.Submit(context.Background(), string(long), "")
	assert.ErrorIs(t, err, domain.ErrInputRejected)
}

func TestStatusPassesThrough(t *testing.T) {
	t.Parallel()
	broker := &mockBroker{}
	broker.On("Get", mock.Anything, "job-9").
		Return(domain.Job{ID: "job-9", State: domain.JobSucceeded, Result: "5000"}, nil)
	svc := NewAnalyzeService(broker, inspectorWithFiles(t, "a.csv"))

	job, err := svc.Status(context.Background(), "job-9")
	require.NoError(t, err)
	assert.Equal(t, domain.JobSucceeded, job.State)
	assert.Equal(t, "5000", job.Result)
}

func TestCancelPassesThrough(t *testing.T) {
	t.Parallel()
	broker := &mockBroker{}
	broker.On("RequestCancel", mock.Anything, "job-3").Return(nil)
	svc := NewAnalyzeService(broker, inspectorWithFiles(t, "a.csv"))

	require.NoError(t, svc.Cancel(context.Background(), "job-3"))
	broker.AssertExpectations(t)
}

func TestListDataReturnsSupportedFiles(t *testing.T) {
	t.Parallel()
	svc := NewAnalyzeService(&mockBroker{}, inspectorWithFiles(t, "a.csv", "b.json"))

	files, err := svc.ListData(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.csv", files[0].Name)
	assert.Equal(t, "b.json", files[1].Name)
}
