package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"chat-sync/internal/credentials"
	"chat-sync/internal/models"
	"chat-sync/internal/rest"
	"chat-sync/internal/transport"
)

type RestClientMock struct {
	mock.Mock
}

func (m *RestClientMock) ListThreads(ctx context.Context, accountID string) ([]models.Thread, error) {
	args := m.Called(ctx, accountID)
	var threads []models.Thread
	if val := args.Get(0); val != nil {
		threads = val.([]models.Thread)
	}
	return threads, args.Error(1)
}

func (m *RestClientMock) FetchHistory(ctx context.Context, threadID string, limit, offset int) ([]models.Message, error) {
	args := m.Called(ctx, threadID, limit, offset)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *RestClientMock) CreateMessage(ctx context.Context, threadID, content string, replyTo *models.ReplyRef) (models.Message, error) {
	args := m.Called(ctx, threadID, content, replyTo)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *RestClientMock) UploadAudio(ctx context.Context, threadID, filename string, audio io.Reader) (models.AudioAttachment, error) {
	args := m.Called(ctx, threadID, filename, audio)
	var attachment models.AudioAttachment
	if val := args.Get(0); val != nil {
		attachment = val.(models.AudioAttachment)
	}
	return attachment, args.Error(1)
}

func (m *RestClientMock) FetchNotifications(ctx context.Context, accountID string) ([]models.Notification, error) {
	args := m.Called(ctx, accountID)
	var list []models.Notification
	if val := args.Get(0); val != nil {
		list = val.([]models.Notification)
	}
	return list, args.Error(1)
}

func (m *RestClientMock) MarkNotificationRead(ctx context.Context, notificationID string) error {
	args := m.Called(ctx, notificationID)
	return args.Error(0)
}

func (m *RestClientMock) FetchProfile(ctx context.Context, userID string) (models.Identity, error) {
	args := m.Called(ctx, userID)
	var identity models.Identity
	if val := args.Get(0); val != nil {
		identity = val.(models.Identity)
	}
	return identity, args.Error(1)
}

type EmitterMock struct {
	mock.Mock
}

func (m *EmitterMock) Emit(event string, payload any) error {
	args := m.Called(event, payload)
	return args.Error(0)
}

type TokenSourceMock struct {
	mock.Mock
}

func (m *TokenSourceMock) Token(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *TokenSourceMock) Watch() <-chan string {
	args := m.Called()
	var ch <-chan string
	if val := args.Get(0); val != nil {
		ch = val.(<-chan string)
	}
	return ch
}

var _ rest.Client = (*RestClientMock)(nil)
var _ transport.Emitter = (*EmitterMock)(nil)
var _ credentials.TokenSource = (*TokenSourceMock)(nil)
