package audit_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"ingestrunner/internal/audit"
	"ingestrunner/internal/models"
)

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RunStarted(ctx context.Context, run *models.Run) error {
	return m.Called(ctx, run).Error(0)
}

func (m *MockRecorder) AttemptFinished(ctx context.Context, run *models.Run, attempt *models.Attempt) error {
	return m.Called(ctx, run, attempt).Error(0)
}

func (m *MockRecorder) RunFinished(ctx context.Context, run *models.Run) error {
	return m.Called(ctx, run).Error(0)
}

func TestMulti(t *testing.T) {
	ctx := context.Background()
	run := &models.Run{ID: "run-1", Status: models.RunRunning, MaxAttempts: 3}
	attempt := &models.Attempt{RunID: "run-1", Number: 1, Status: models.AsFailed}

	failing := new(MockRecorder)
	healthy := new(MockRecorder)
	boom := errors.New("connection refused")

	failing.On("RunStarted", ctx, run).Return(boom)
	failing.On("AttemptFinished", ctx, run, attempt).Return(boom)
	failing.On("RunFinished", ctx, run).Return(nil)
	healthy.On("RunStarted", ctx, run).Return(nil)
	healthy.On("AttemptFinished", ctx, run, attempt).Return(nil)
	healthy.On("RunFinished", ctx, run).Return(nil)

	multi := audit.Multi{failing, healthy}

	err := multi.RunStarted(ctx, run)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, multi.AttemptFinished(ctx, run, attempt), boom)
	assert.NoError(t, multi.RunFinished(ctx, run))

	failing.AssertExpectations(t)
	healthy.AssertExpectations(t)
}

func TestNop(t *testing.T) {
	var rec audit.Recorder = audit.Nop{}
	assert.NoError(t, rec.RunStarted(context.Background(), &models.Run{}))
	assert.NoError(t, rec.AttemptFinished(context.Background(), &models.Run{}, &models.Attempt{}))
	assert.NoError(t, rec.RunFinished(context.Background(), &models.Run{}))
}
