package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/tradespot/deposit-service/internal/models"
	pkgerrors "github.com/tradespot/deposit-service/pkg/errors"
)

type mockUserRepository struct{ mock.Mock }

func (m *mockUserRepository) Create(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepository) GetByID(ctx context.Context, id int32) (*models.User, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func (m *mockUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	args := m.Called(ctx, username)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func (m *mockUserRepository) IncrementBalance(ctx context.Context, userID int32, field models.BalanceField, amount decimal.Decimal) (decimal.Decimal, error) {
	args := m.Called(ctx, userID, field, amount)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type mockSessionRepository struct{ mock.Mock }

func (m *mockSessionRepository) CreateIfNoneOpen(ctx context.Context, session *models.DepositSession, now time.Time) (*models.DepositSession, bool, error) {
	args := m.Called(ctx, session, now)
	if fn, ok := args.Get(0).(func(context.Context, *models.DepositSession, time.Time) (*models.DepositSession, bool, error)); ok {
		return fn(ctx, session, now)
	}
	result, _ := args.Get(0).(*models.DepositSession)
	return result, args.Bool(1), args.Error(2)
}

func (m *mockSessionRepository) GetLatestByUser(ctx context.Context, userID int32) (*models.DepositSession, error) {
	args := m.Called(ctx, userID)
	session, _ := args.Get(0).(*models.DepositSession)
	return session, args.Error(1)
}

func (m *mockSessionRepository) ListOpen(ctx context.Context, now time.Time) ([]models.DepositSession, error) {
	args := m.Called(ctx, now)
	sessions, _ := args.Get(0).([]models.DepositSession)
	return sessions, args.Error(1)
}

func (m *mockSessionRepository) FilterConsumed(ctx context.Context, transactionIDs []string) (map[string]bool, error) {
	args := m.Called(ctx, transactionIDs)
	consumed, _ := args.Get(0).(map[string]bool)
	return consumed, args.Error(1)
}

func (m *mockSessionRepository) FilterCredited(ctx context.Context, sessionIDs []string) (map[string]bool, error) {
	args := m.Called(ctx, sessionIDs)
	credited, _ := args.Get(0).(map[string]bool)
	return credited, args.Error(1)
}

type mockCreditRepository struct{ mock.Mock }

func (m *mockCreditRepository) ApplyCredit(ctx context.Context, session models.DepositSession, transfer models.ExternalTransfer, now time.Time) error {
	args := m.Called(ctx, session, transfer, now)
	return args.Error(0)
}

type mockTransactionRepository struct{ mock.Mock }

func (m *mockTransactionRepository) GetByID(ctx context.Context, id int32) (*models.Transaction, error) {
	args := m.Called(ctx, id)
	tx, _ := args.Get(0).(*models.Transaction)
	return tx, args.Error(1)
}

func (m *mockTransactionRepository) ListByUser(ctx context.Context, userID int32, txType models.TransactionType, limit int) ([]models.Transaction, error) {
	args := m.Called(ctx, userID, txType, limit)
	txs, _ := args.Get(0).([]models.Transaction)
	return txs, args.Error(1)
}

type mockRedisClient struct{ mock.Mock }

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	args := m.Called(ctx, key, value, expiration)
	return args.Error(0)
}

func (m *mockRedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	args := m.Called(ctx, key, value, expiration)
	return args.Bool(0), args.Error(1)
}

func (m *mockRedisClient) Del(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *mockRedisClient) Close() error {
	return m.Called().Error(0)
}

type mockKafkaProducer struct{ mock.Mock }

func (m *mockKafkaProducer) Send(ctx context.Context, topic string, key int64, value []byte) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

func (m *mockKafkaProducer) Close() error {
	return m.Called().Error(0)
}

// fakeClock is a settable time source shared by the components under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeSource returns a scripted batch per call; once the script is used up
// the last entry repeats.
type fakeSource struct {
	mu      sync.Mutex
	batches [][]models.ExternalTransfer
	errs    []error
	calls   int
}

func (f *fakeSource) FetchRecentTransfers(ctx context.Context) ([]models.ExternalTransfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.batches) {
		i = len(f.batches) - 1
	}
	if i < 0 {
		return nil, nil
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return f.batches[i], err
}

// memStore keeps users, sessions and the deposit ledger in memory and applies
// credits with the same compare-and-set rules as the Postgres repositories.
type memStore struct {
	mu       sync.Mutex
	users    map[int32]*models.User
	sessions map[string]*models.DepositSession
	ledger   []models.Transaction
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[int32]*models.User),
		sessions: make(map[string]*models.DepositSession),
	}
}

func (s *memStore) addUser(id int32, balance string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = &models.User{ID: id, Username: "user", Balance: decimal.RequireFromString(balance)}
}

func (s *memStore) balance(id int32) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id].Balance
}

func (s *memStore) ledgerSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ledger)
}

func (s *memStore) Create(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user.ID = int32(len(s.users) + 1)
	s.users[user.ID] = user
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id int32) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, pkgerrors.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, pkgerrors.ErrUserNotFound
}

func (s *memStore) IncrementBalance(ctx context.Context, userID int32, field models.BalanceField, amount decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return decimal.Zero, pkgerrors.ErrUserNotFound
	}
	u.Balance = u.Balance.Add(amount)
	return u.Balance, nil
}

func (s *memStore) CreateIfNoneOpen(ctx context.Context, session *models.DepositSession, now time.Time) (*models.DepositSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessionsByCreation() {
		if existing.UserID == session.UserID && existing.Open(now) {
			cp := *existing
			return &cp, false, nil
		}
	}
	cp := *session
	s.sessions[session.ID] = &cp
	return session, true, nil
}

func (s *memStore) GetLatestByUser(ctx context.Context, userID int32) (*models.DepositSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.DepositSession
	for _, existing := range s.sessions {
		if existing.UserID == userID && (latest == nil || existing.CreatedAt.After(latest.CreatedAt)) {
			latest = existing
		}
	}
	if latest == nil {
		return nil, pkgerrors.ErrSessionNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *memStore) ListOpen(ctx context.Context, now time.Time) ([]models.DepositSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var open []models.DepositSession
	sorted := s.sessionsByCreation()
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].Open(now) {
			open = append(open, *sorted[i])
		}
	}
	return open, nil
}

func (s *memStore) FilterConsumed(ctx context.Context, transactionIDs []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	consumed := make(map[string]bool)
	for _, id := range transactionIDs {
		if s.transferUsed(id) {
			consumed[id] = true
		}
	}
	return consumed, nil
}

func (s *memStore) FilterCredited(ctx context.Context, sessionIDs []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	credited := make(map[string]bool)
	for _, id := range sessionIDs {
		if existing, ok := s.sessions[id]; ok && existing.Credited {
			credited[id] = true
		}
	}
	return credited, nil
}

func (s *memStore) ApplyCredit(ctx context.Context, session models.DepositSession, transfer models.ExternalTransfer, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[session.ID]
	if !ok || stored.Credited || !now.Before(stored.ExpiresAt) || s.transferUsed(transfer.TransactionID) {
		return pkgerrors.ErrAlreadyCredited
	}
	u, ok := s.users[stored.UserID]
	if !ok {
		return pkgerrors.ErrPersistence
	}
	stored.Credited = true
	stored.MatchedTransactionID = transfer.TransactionID
	u.Balance = u.Balance.Add(stored.Amount)
	s.ledger = append(s.ledger, models.Transaction{
		ID:           int32(len(s.ledger) + 1),
		UserID:       stored.UserID,
		SessionID:    stored.ID,
		ExternalTxID: transfer.TransactionID,
		Amount:       stored.Amount,
		Type:         models.TypeDeposit,
		Status:       models.StatusCompleted,
		CreatedAt:    now,
	})
	return nil
}

func (s *memStore) transferUsed(id string) bool {
	for _, existing := range s.sessions {
		if existing.MatchedTransactionID == id {
			return true
		}
	}
	return false
}

// sessionsByCreation returns sessions newest first. Callers hold mu.
func (s *memStore) sessionsByCreation() []*models.DepositSession {
	out := make([]*models.DepositSession, 0, len(s.sessions))
	for _, existing := range s.sessions {
		out = append(out, existing)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
