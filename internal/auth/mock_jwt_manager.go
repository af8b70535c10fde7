package auth

import (
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockJWTManager struct {
	mock.Mock
}

var _ TokenManager = (*MockJWTManager)(nil)

func (m *MockJWTManager) GenerateToken(userID uuid.UUID, name string) (string, error) {
	args := m.Called(userID, name)
	return args.String(0), args.Error(1)
}

func (m *MockJWTManager) ValidateToken(token string) (*Claims, error) {
	args := m.Called(token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Claims), args.Error(1)
}
