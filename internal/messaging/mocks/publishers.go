package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"taleforge-server/internal/messaging"
	"taleforge-server/internal/models"
)

// Mock TaskPublisher
type TaskPublisher struct {
	mock.Mock
}

func (m *TaskPublisher) PublishMediaTask(ctx context.Context, payload messaging.MediaTaskPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

// Mock ClientUpdatePublisher
type ClientUpdatePublisher struct {
	mock.Mock
}

func (m *ClientUpdatePublisher) PublishClientUpdate(ctx context.Context, payload models.ClientUpdate) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}
