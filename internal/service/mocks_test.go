package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/unbound/trust-relay-go/internal/database"
	"github.com/unbound/trust-relay-go/internal/model"
	"github.com/unbound/trust-relay-go/internal/realtime"
	"github.com/unbound/trust-relay-go/internal/repository"
)

// testPublicKeyB64 is a syntactically valid 32-byte key for inputs that
// only need to pass shape validation.
var testPublicKeyB64 = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))

// stubTx satisfies Transactor without a database: the callback runs
// with a nil transaction, and the mocks' WithTx return themselves.
type stubTx struct{}

func (stubTx) WithTx(ctx context.Context, fn database.TxFunc) error {
	return fn(nil)
}

// capturingPublisher records published events in order.
type capturingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *capturingPublisher) Publish(ctx context.Context, userID string, event realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, len(p.events))
	for i, e := range p.events {
		types[i] = e.Type
	}
	return types
}

type mockDeviceRepo struct {
	mock.Mock
}

func (m *mockDeviceRepo) Create(ctx context.Context, params model.CreateDeviceParams) (*model.Device, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Device), args.Error(1)
}

func (m *mockDeviceRepo) FindByID(ctx context.Context, userID, id string) (*model.Device, error) {
	args := m.Called(ctx, userID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Device), args.Error(1)
}

func (m *mockDeviceRepo) FindTrustRoot(ctx context.Context, userID string) (*model.Device, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Device), args.Error(1)
}

func (m *mockDeviceRepo) ListByUser(ctx context.Context, userID string) ([]model.Device, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Device), args.Error(1)
}

func (m *mockDeviceRepo) SetTrusted(ctx context.Context, userID, id string, trusted bool) error {
	args := m.Called(ctx, userID, id, trusted)
	return args.Error(0)
}

func (m *mockDeviceRepo) Deactivate(ctx context.Context, userID, id string) error {
	args := m.Called(ctx, userID, id)
	return args.Error(0)
}

func (m *mockDeviceRepo) UpdateLastSeen(ctx context.Context, userID, id string) error {
	args := m.Called(ctx, userID, id)
	return args.Error(0)
}

func (m *mockDeviceRepo) WithTx(tx *sqlx.Tx) repository.DeviceRepository {
	return m
}

type mockTrustGraphRepo struct {
	mock.Mock
}

func (m *mockTrustGraphRepo) Create(ctx context.Context, params model.CreateTrustEdgeParams) (*model.TrustEdge, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TrustEdge), args.Error(1)
}

func (m *mockTrustGraphRepo) FindByID(ctx context.Context, userID, id string) (*model.TrustEdge, error) {
	args := m.Called(ctx, userID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TrustEdge), args.Error(1)
}

func (m *mockTrustGraphRepo) FindByPair(ctx context.Context, userID, grantorID, granteeID string) (*model.TrustEdge, error) {
	args := m.Called(ctx, userID, grantorID, granteeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TrustEdge), args.Error(1)
}

func (m *mockTrustGraphRepo) Approve(ctx context.Context, userID, id string) (bool, error) {
	args := m.Called(ctx, userID, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockTrustGraphRepo) ActiveIncoming(ctx context.Context, userID, granteeID string) ([]model.TrustEdge, error) {
	args := m.Called(ctx, userID, granteeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.TrustEdge), args.Error(1)
}

func (m *mockTrustGraphRepo) HasActiveIncoming(ctx context.Context, userID, granteeID string) (bool, error) {
	args := m.Called(ctx, userID, granteeID)
	return args.Bool(0), args.Error(1)
}

func (m *mockTrustGraphRepo) RevokeIncoming(ctx context.Context, userID, granteeID, reason string) (int64, error) {
	args := m.Called(ctx, userID, granteeID, reason)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockTrustGraphRepo) RevokeGrantedBy(ctx context.Context, userID, grantorID, reason string) ([]string, error) {
	args := m.Called(ctx, userID, grantorID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockTrustGraphRepo) ExpireDue(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockTrustGraphRepo) WithTx(tx *sqlx.Tx) repository.TrustGraphRepository {
	return m
}

type mockPairwiseRepo struct {
	mock.Mock
}

func (m *mockPairwiseRepo) Upsert(ctx context.Context, params model.UpsertPairwiseSecretParams) (*model.PairwiseSecret, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PairwiseSecret), args.Error(1)
}

func (m *mockPairwiseRepo) FindByPair(ctx context.Context, userID, deviceAID, deviceBID string) (*model.PairwiseSecret, error) {
	args := m.Called(ctx, userID, deviceAID, deviceBID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PairwiseSecret), args.Error(1)
}

func (m *mockPairwiseRepo) DeleteForDevice(ctx context.Context, userID, deviceID string) (int64, error) {
	args := m.Called(ctx, userID, deviceID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockPairwiseRepo) WithTx(tx *sqlx.Tx) repository.PairwiseSecretRepository {
	return m
}

type mockRunRepo struct {
	mock.Mock
}

func (m *mockRunRepo) Create(ctx context.Context, params model.CreateRunParams) (*model.Run, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockRunRepo) FindByID(ctx context.Context, userID, id string) (*model.Run, error) {
	args := m.Called(ctx, userID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockRunRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Run, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockRunRepo) Heartbeat(ctx context.Context, userID, id string) (bool, error) {
	args := m.Called(ctx, userID, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockRunRepo) End(ctx context.Context, userID, id string) (bool, error) {
	args := m.Called(ctx, userID, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockRunRepo) SweepStale(ctx context.Context, threshold time.Duration) (int64, error) {
	args := m.Called(ctx, threshold)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRunRepo) WithTx(tx *sqlx.Tx) repository.RunRepository {
	return m
}

type mockWebSessionRepo struct {
	mock.Mock
}

func (m *mockWebSessionRepo) Create(ctx context.Context, params model.CreateWebSessionParams) (*model.WebSession, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WebSession), args.Error(1)
}

func (m *mockWebSessionRepo) FindByID(ctx context.Context, userID, id string) (*model.WebSession, error) {
	args := m.Called(ctx, userID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WebSession), args.Error(1)
}

func (m *mockWebSessionRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.WebSession, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WebSession), args.Error(1)
}

func (m *mockWebSessionRepo) Authorize(ctx context.Context, userID string, params model.AuthorizeWebSessionParams, devicePublicKey string) (bool, error) {
	args := m.Called(ctx, userID, params, devicePublicKey)
	return args.Bool(0), args.Error(1)
}

func (m *mockWebSessionRepo) MarkExpired(ctx context.Context, userID, id string) (bool, error) {
	args := m.Called(ctx, userID, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockWebSessionRepo) Revoke(ctx context.Context, userID, id, reason string) (bool, error) {
	args := m.Called(ctx, userID, id, reason)
	return args.Bool(0), args.Error(1)
}

func (m *mockWebSessionRepo) Touch(ctx context.Context, userID, id string) (bool, error) {
	args := m.Called(ctx, userID, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockWebSessionRepo) ExpireDue(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockWebSessionRepo) WithTx(tx *sqlx.Tx) repository.WebSessionRepository {
	return m
}

type mockViewerRepo struct {
	mock.Mock
}

func (m *mockViewerRepo) Insert(ctx context.Context, userID string, params model.JoinRunParams) (*model.Viewer, error) {
	args := m.Called(ctx, userID, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Viewer), args.Error(1)
}

func (m *mockViewerRepo) FindActive(ctx context.Context, userID, runID string, viewer model.ViewerRef) (*model.Viewer, error) {
	args := m.Called(ctx, userID, runID, viewer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Viewer), args.Error(1)
}

func (m *mockViewerRepo) ListActive(ctx context.Context, userID, runID string) ([]model.Viewer, error) {
	args := m.Called(ctx, userID, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Viewer), args.Error(1)
}

func (m *mockViewerRepo) Deactivate(ctx context.Context, userID, runID string, viewer model.ViewerRef) (bool, error) {
	args := m.Called(ctx, userID, runID, viewer)
	return args.Bool(0), args.Error(1)
}

func (m *mockViewerRepo) DeactivateAllForRun(ctx context.Context, userID, runID string) (int64, error) {
	args := m.Called(ctx, userID, runID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockViewerRepo) TouchLastSeen(ctx context.Context, userID, runID string, viewer model.ViewerRef) error {
	args := m.Called(ctx, userID, runID, viewer)
	return args.Error(0)
}

func (m *mockViewerRepo) WithTx(tx *sqlx.Tx) repository.ViewerRepository {
	return m
}
