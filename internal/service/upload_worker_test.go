package service_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonno85/columbiastream-uploader/internal/adapter"
	"github.com/jonno85/columbiastream-uploader/internal/config"
	"github.com/jonno85/columbiastream-uploader/internal/domain"
	"github.com/jonno85/columbiastream-uploader/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Enqueue(ctx context.Context, job domain.UploadJob) error {
	return m.Called(ctx, job).Error(0)
}

func (m *mockQueue) DequeueInProgress(ctx context.Context, timeout time.Duration) (adapter.JobName, error) {
	args := m.Called(ctx, timeout)
	return args.String(0), args.Error(1)
}

func (m *mockQueue) RequeueStale(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockQueue) GetJob(ctx context.Context, name adapter.JobName) (domain.UploadJob, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(domain.UploadJob), args.Error(1)
}

func (m *mockQueue) Finish(ctx context.Context, name adapter.JobName, session domain.UploadSession) error {
	return m.Called(ctx, name, session).Error(0)
}

func (m *mockQueue) Discard(ctx context.Context, name adapter.JobName) error {
	return m.Called(ctx, name).Error(0)
}

func (m *mockQueue) SetSnapshot(ctx context.Context, name adapter.JobName, session domain.UploadSession) error {
	return m.Called(ctx, name, session).Error(0)
}

func (m *mockQueue) GetSnapshot(ctx context.Context, name adapter.JobName) (domain.UploadSession, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(domain.UploadSession), args.Error(1)
}

func (m *mockQueue) Close() error {
	return m.Called().Error(0)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) PublishUploaded(ctx context.Context, event domain.VideoUploadedEvent) error {
	return m.Called(ctx, event).Error(0)
}

func writeVideo(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("not really a movie, but named like one"), 0o644))
	return path
}

func sessionInState(state domain.SessionState) interface{} {
	return mock.MatchedBy(func(s domain.UploadSession) bool { return s.State == state })
}

func TestProcessJob_CompletesAndPublishes(t *testing.T) {
	path := writeVideo(t, "intro_to_go.mov")
	job := domain.UploadJob{Path: path, Title: "intro to go", OfferingID: "7", ProfessorUNI: "ab1234"}

	queue := &mockQueue{}
	queue.On("GetJob", mock.Anything, "intro_to_go.mov").Return(job, nil)
	queue.On("SetSnapshot", mock.Anything, "intro_to_go.mov", mock.Anything).Return(nil)
	queue.On("Finish", mock.Anything, "intro_to_go.mov", sessionInState(domain.StateComplete)).Return(nil).Once()

	reg := &mockRegistrar{}
	reg.On("Register", mock.Anything, domain.RegistrationRequest{
		Title:        "intro to go",
		OfferingID:   7,
		ProfessorUNI: "ab1234",
		MimeType:     "video/quicktime",
	}).Return(domain.UploadTicket{VideoID: "v9", SignedURL: "u"}, nil)

	notifier := &mockNotifier{}
	notifier.On("PublishUploaded", mock.Anything, mock.MatchedBy(func(e domain.VideoUploadedEvent) bool {
		return e.VideoID == "v9" && e.OfferingID == "7" && e.MimeType == "video/quicktime"
	})).Return(nil).Once()

	orchestrator := service.NewOrchestrator(reg, &fakeTransferrer{}, discardLogger())
	worker := service.NewUploadWorkerService(queue, orchestrator, notifier, discardLogger())

	require.NoError(t, worker.ProcessJob(context.Background(), "intro_to_go.mov"))

	queue.AssertExpectations(t)
	notifier.AssertExpectations(t)
	assert.Equal(t, domain.StateIdle, orchestrator.Snapshot().State, "orchestrator is reset for the next job")
}

func TestProcessJob_FailedUploadIsNotPublished(t *testing.T) {
	path := writeVideo(t, "lecture.mp4")
	job := domain.UploadJob{Path: path, Title: "lecture", OfferingID: "7", ProfessorUNI: "ab1234"}

	queue := &mockQueue{}
	queue.On("GetJob", mock.Anything, "lecture.mp4").Return(job, nil)
	queue.On("SetSnapshot", mock.Anything, "lecture.mp4", mock.Anything).Return(nil)
	queue.On("Finish", mock.Anything, "lecture.mp4", mock.MatchedBy(func(s domain.UploadSession) bool {
		return s.State == domain.StateFailed && s.Error == "db down"
	})).Return(nil).Once()

	reg := &mockRegistrar{}
	reg.On("Register", mock.Anything, mock.Anything).
		Return(domain.UploadTicket{}, &domain.RegistrationError{StatusCode: 500, Message: "db down"})

	notifier := &mockNotifier{}
	orchestrator := service.NewOrchestrator(reg, &fakeTransferrer{}, discardLogger())
	worker := service.NewUploadWorkerService(queue, orchestrator, notifier, discardLogger())

	require.NoError(t, worker.ProcessJob(context.Background(), "lecture.mp4"))

	queue.AssertExpectations(t)
	notifier.AssertNotCalled(t, "PublishUploaded", mock.Anything, mock.Anything)
}

func TestProcessJob_InvalidJobFailsWithoutNetwork(t *testing.T) {
	path := writeVideo(t, "lecture.mp4")
	job := domain.UploadJob{Path: path, Title: "lecture", OfferingID: "", ProfessorUNI: "ab1234"}

	queue := &mockQueue{}
	queue.On("GetJob", mock.Anything, "lecture.mp4").Return(job, nil)
	queue.On("Finish", mock.Anything, "lecture.mp4", mock.MatchedBy(func(s domain.UploadSession) bool {
		return s.State == domain.StateFailed && s.Error == "invalid upload request: offering_id is required"
	})).Return(nil).Once()

	reg := &mockRegistrar{}
	orchestrator := service.NewOrchestrator(reg, &fakeTransferrer{}, discardLogger())
	worker := service.NewUploadWorkerService(queue, orchestrator, nil, discardLogger())

	require.NoError(t, worker.ProcessJob(context.Background(), "lecture.mp4"))

	queue.AssertExpectations(t)
	reg.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
}

func TestProcessJob_MissingFile(t *testing.T) {
	job := domain.UploadJob{Path: filepath.Join(t.TempDir(), "gone.mp4"), Title: "gone", OfferingID: "7", ProfessorUNI: "ab1234"}

	queue := &mockQueue{}
	queue.On("GetJob", mock.Anything, "gone.mp4").Return(job, nil)
	queue.On("Finish", mock.Anything, "gone.mp4", sessionInState(domain.StateFailed)).Return(nil).Once()

	orchestrator := service.NewOrchestrator(&mockRegistrar{}, &fakeTransferrer{}, discardLogger())
	worker := service.NewUploadWorkerService(queue, orchestrator, nil, discardLogger())

	require.NoError(t, worker.ProcessJob(context.Background(), "gone.mp4"))
	queue.AssertExpectations(t)
}

func TestProcessQueue_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &mockQueue{}
	queue.On("DequeueInProgress", mock.Anything, service.DefaultPollTimeout).
		Run(func(mock.Arguments) { cancel() }).
		Return("", adapter.ErrQueueEmpty)

	orchestrator := service.NewOrchestrator(&mockRegistrar{}, &fakeTransferrer{}, discardLogger())
	worker := service.NewUploadWorkerService(queue, orchestrator, nil, discardLogger())

	done := make(chan error, 1)
	go func() { done <- worker.ProcessQueue(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
	queue.AssertCalled(t, "DequeueInProgress", mock.Anything, service.DefaultPollTimeout)
}

func TestProcessPendingQueue_RequeuesStaleJobs(t *testing.T) {
	queue := &mockQueue{}
	queue.On("RequeueStale", mock.Anything).Return(2, nil).Once()

	worker := service.NewUploadWorkerService(queue, service.NewOrchestrator(&mockRegistrar{}, &fakeTransferrer{}, discardLogger()), nil, discardLogger())
	require.NoError(t, worker.ProcessPendingQueue(context.Background()))
	queue.AssertExpectations(t)
}

func TestProcessJob_StaleDuplicateIsDiscarded(t *testing.T) {
	queue := &mockQueue{}
	queue.On("GetJob", mock.Anything, "week1.mp4").Return(domain.UploadJob{}, adapter.ErrJobNotFound)
	queue.On("Discard", mock.Anything, "week1.mp4").Return(nil).Once()

	reg := &mockRegistrar{}
	orchestrator := service.NewOrchestrator(reg, &fakeTransferrer{}, discardLogger())
	worker := service.NewUploadWorkerService(queue, orchestrator, nil, discardLogger())

	require.NoError(t, worker.ProcessJob(context.Background(), "week1.mp4"))

	queue.AssertExpectations(t)
	queue.AssertNotCalled(t, "Finish", mock.Anything, mock.Anything, mock.Anything)
	queue.AssertNotCalled(t, "SetSnapshot", mock.Anything, mock.Anything, mock.Anything)
	reg.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
}

func TestProcessJob_DuplicateDropKeepsRecordedResult(t *testing.T) {
	mr := miniredis.RunT(t)
	queue := adapter.NewRedisClientImpl(config.RedisConfig{Addr: mr.Addr()}, discardLogger())
	defer queue.Close()
	ctx := context.Background()

	path := writeVideo(t, "week1.mp4")
	job := domain.UploadJob{Path: path, Title: "week1", OfferingID: "42", ProfessorUNI: "ab1234"}
	require.NoError(t, queue.Enqueue(ctx, job))
	assert.ErrorIs(t, queue.Enqueue(ctx, job), adapter.ErrAlreadyQueued)

	// an entry left behind by an older run for the same file
	mr.Lpush(adapter.QueueNew, "week1.mp4")

	reg := &mockRegistrar{}
	reg.On("Register", mock.Anything, mock.Anything).Return(domain.UploadTicket{VideoID: "v1", SignedURL: "u"}, nil).Once()
	orchestrator := service.NewOrchestrator(reg, &fakeTransferrer{}, discardLogger())
	worker := service.NewUploadWorkerService(queue, orchestrator, nil, discardLogger())

	for i := 0; i < 2; i++ {
		name, err := queue.DequeueInProgress(ctx, time.Second)
		require.NoError(t, err)
		require.NoError(t, worker.ProcessJob(ctx, name))
	}

	snapshot, err := queue.GetSnapshot(ctx, "week1.mp4")
	require.NoError(t, err)
	assert.Equal(t, domain.StateComplete, snapshot.State)
	assert.Equal(t, "v1", snapshot.VideoID())

	completed, err := mr.List(adapter.QueueCompleted)
	require.NoError(t, err)
	assert.Equal(t, []string{"week1.mp4"}, completed)
	assert.False(t, mr.Exists(adapter.QueueFailed))
	assert.False(t, mr.Exists(adapter.QueueInProgress))
	reg.AssertNumberOfCalls(t, "Register", 1)
}
