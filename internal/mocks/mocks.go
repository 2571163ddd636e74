package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"buddy-chat/internal/models"
	"buddy-chat/internal/repositories"
)

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) CreateUser(ctx context.Context, displayName, email, passwordHash string, verified bool) (models.User, error) {
	args := m.Called(ctx, displayName, email, passwordHash, verified)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) GetUser(ctx context.Context, userID int) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	args := m.Called(ctx, email)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) UpdateStatus(ctx context.Context, userID int, status models.Status) error {
	args := m.Called(ctx, userID, status)
	return args.Error(0)
}

type BuddyRepositoryMock struct {
	mock.Mock
}

func (m *BuddyRepositoryMock) AreBuddies(ctx context.Context, userID int, otherID int) (bool, error) {
	args := m.Called(ctx, userID, otherID)
	return args.Bool(0), args.Error(1)
}

func (m *BuddyRepositoryMock) ListBuddyIDs(ctx context.Context, userID int) ([]int, error) {
	args := m.Called(ctx, userID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *BuddyRepositoryMock) ListBuddies(ctx context.Context, userID int) ([]models.Buddy, error) {
	args := m.Called(ctx, userID)
	var list []models.Buddy
	if val := args.Get(0); val != nil {
		list = val.([]models.Buddy)
	}
	return list, args.Error(1)
}

func (m *BuddyRepositoryMock) RemoveBuddy(ctx context.Context, userID int, buddyID int) error {
	args := m.Called(ctx, userID, buddyID)
	return args.Error(0)
}

func (m *BuddyRepositoryMock) CreateRequest(ctx context.Context, fromUserID int, toUserID int) (models.BuddyRequest, error) {
	args := m.Called(ctx, fromUserID, toUserID)
	var req models.BuddyRequest
	if val := args.Get(0); val != nil {
		req = val.(models.BuddyRequest)
	}
	return req, args.Error(1)
}

func (m *BuddyRepositoryMock) GetRequest(ctx context.Context, requestID int) (models.BuddyRequest, error) {
	args := m.Called(ctx, requestID)
	var req models.BuddyRequest
	if val := args.Get(0); val != nil {
		req = val.(models.BuddyRequest)
	}
	return req, args.Error(1)
}

func (m *BuddyRepositoryMock) ListIncomingRequests(ctx context.Context, userID int) ([]models.BuddyRequest, error) {
	args := m.Called(ctx, userID)
	var list []models.BuddyRequest
	if val := args.Get(0); val != nil {
		list = val.([]models.BuddyRequest)
	}
	return list, args.Error(1)
}

func (m *BuddyRepositoryMock) AcceptRequest(ctx context.Context, requestID int, userID int) (models.BuddyRequest, error) {
	args := m.Called(ctx, requestID, userID)
	var req models.BuddyRequest
	if val := args.Get(0); val != nil {
		req = val.(models.BuddyRequest)
	}
	return req, args.Error(1)
}

func (m *BuddyRepositoryMock) RejectRequest(ctx context.Context, requestID int, userID int) error {
	args := m.Called(ctx, requestID, userID)
	return args.Error(0)
}

type BlockRepositoryMock struct {
	mock.Mock
}

func (m *BlockRepositoryMock) IsBlocked(ctx context.Context, blockerID int, blockedID int) (bool, error) {
	args := m.Called(ctx, blockerID, blockedID)
	return args.Bool(0), args.Error(1)
}

func (m *BlockRepositoryMock) Block(ctx context.Context, blockerID int, blockedID int) error {
	args := m.Called(ctx, blockerID, blockedID)
	return args.Error(0)
}

func (m *BlockRepositoryMock) Unblock(ctx context.Context, blockerID int, blockedID int) error {
	args := m.Called(ctx, blockerID, blockedID)
	return args.Error(0)
}

func (m *BlockRepositoryMock) ListBlocked(ctx context.Context, blockerID int) ([]models.Block, error) {
	args := m.Called(ctx, blockerID)
	var list []models.Block
	if val := args.Get(0); val != nil {
		list = val.([]models.Block)
	}
	return list, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, fromUserID int, toUserID int, body string) (models.Message, error) {
	args := m.Called(ctx, fromUserID, toUserID, body)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) GetConversation(ctx context.Context, userID int, otherID int, beforeID int, limit int) ([]models.Message, error) {
	args := m.Called(ctx, userID, otherID, beforeID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, messageID int, readerID int) (models.Message, error) {
	args := m.Called(ctx, messageID, readerID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

// PusherMock records pushes to live connections.
type PusherMock struct {
	mock.Mock
}

func (m *PusherMock) Push(userID int, event any) error {
	args := m.Called(userID, event)
	return args.Error(0)
}

var _ repositories.UserRepository = (*UserRepositoryMock)(nil)
var _ repositories.BuddyRepository = (*BuddyRepositoryMock)(nil)
var _ repositories.BlockRepository = (*BlockRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ interface {
	Push(int, any) error
} = (*PusherMock)(nil)
