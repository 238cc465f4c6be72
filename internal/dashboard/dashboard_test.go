package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/elskow/ditzler/internal/api"
	"github.com/elskow/ditzler/internal/auth"
	"github.com/elskow/ditzler/internal/config"
)

var testNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(Models()...))
	return db
}

func ptr[T any](v T) *T { return &v }

// seed creates two clients and a spread of totes:
//
//	Frutas Sur: T1 with client (40 days), T2 with client (5 days)
//	Lácteos Norte: T3 with client (31 days)
//	no client: T4 available, T5 washing, T6 retired
func seed(t *testing.T, db *gorm.DB) {
	t.Helper()
	frutas := &Client{Name: "Frutas Sur", Contact: "ventas@frutas.cl"}
	lacteos := &Client{Name: "Lácteos Norte"}
	require.NoError(t, db.Create(frutas).Error)
	require.NoError(t, db.Create(lacteos).Error)

	totes := []Tote{
		{ID: "T1", Status: StatusWithClient, ClientID: &frutas.ID, LastDispatch: ptr(testNow.Add(-40 * 24 * time.Hour))},
		{ID: "T2", Status: StatusWithClient, ClientID: &frutas.ID, LastDispatch: ptr(testNow.Add(-5 * 24 * time.Hour))},
		{ID: "T3", Status: StatusWithClient, ClientID: &lacteos.ID, LastDispatch: ptr(testNow.Add(-31 * 24 * time.Hour))},
		{ID: "T4", Status: StatusAvailable},
		{ID: "T5", Status: StatusWashing},
		{ID: "T6", Status: StatusRetired},
	}
	require.NoError(t, db.Create(&totes).Error)
}

type stubUsers struct {
	users []auth.UserView
	err   error
}

func (s stubUsers) ListUsers(context.Context) ([]auth.UserView, error) {
	return s.users, s.err
}

func newTestService(t *testing.T, db *gorm.DB, users UserLister) *Service {
	svc := NewService(NewRepository(db), users, &config.DashboardConfig{OverdueAfter: 30 * 24 * time.Hour}, zap.NewNop())
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestRepository_CountTotesByStatus(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)

	counts, err := NewRepository(db).CountTotesByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[ToteStatus]int64{
		StatusWithClient: 3,
		StatusAvailable:  1,
		StatusWashing:    1,
		StatusRetired:    1,
	}, counts)
}

func TestRepository_CountTotesByClient(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	repo := NewRepository(db)
	ctx := context.Background()

	all, err := repo.CountTotesByClient(ctx, StatusWithClient, nil)
	require.NoError(t, err)
	assert.Equal(t, []ClientCount{
		{Name: "Frutas Sur", Count: 2},
		{Name: "Lácteos Norte", Count: 1},
	}, all)

	cutoff := testNow.Add(-30 * 24 * time.Hour)
	overdue, err := repo.CountTotesByClient(ctx, StatusWithClient, &cutoff)
	require.NoError(t, err)
	assert.Equal(t, []ClientCount{
		{Name: "Frutas Sur", Count: 1},
		{Name: "Lácteos Norte", Count: 1},
	}, overdue)

	none, err := repo.CountTotesByClient(ctx, StatusInUse, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRepository_ListTotesAndClients(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	repo := NewRepository(db)
	ctx := context.Background()

	totes, err := repo.ListTotes(ctx)
	require.NoError(t, err)
	require.Len(t, totes, 6)
	assert.Equal(t, "T1", totes[0].ID)
	assert.Equal(t, "Frutas Sur", totes[0].ClientName)
	require.NotNil(t, totes[0].LastDispatch)
	assert.True(t, totes[0].LastDispatch.Equal(testNow.Add(-40*24*time.Hour)))
	assert.Equal(t, "T4", totes[3].ID)
	assert.Empty(t, totes[3].ClientName)
	assert.Nil(t, totes[3].ClientID)

	clients, err := repo.ListClients(ctx)
	require.NoError(t, err)
	require.Len(t, clients, 2)
	assert.Equal(t, "Frutas Sur", clients[0].Name)

	n, err := repo.CountClients(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestService_Summary(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	svc := newTestService(t, db, stubUsers{users: make([]auth.UserView, 3)})

	summary, err := svc.Summary(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(6), summary.TotalTotes)
	require.Len(t, summary.ByStatus, len(Statuses))
	assert.Equal(t, StatusCount{Status: StatusWithClient, Count: 3}, summary.ByStatus[0])
	assert.Equal(t, StatusCount{Status: StatusInUse, Count: 0}, summary.ByStatus[4])

	assert.Equal(t, int64(3), summary.WithClients.Total)
	assert.Len(t, summary.WithClients.ByClient, 2)
	assert.Equal(t, int64(2), summary.Overdue.Total)

	assert.Equal(t, int64(2), summary.TotalClients)
	assert.Equal(t, 3, summary.TotalUsers)
}

func TestService_Summary_Empty(t *testing.T) {
	svc := newTestService(t, newTestDB(t), stubUsers{})

	summary, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.TotalTotes)
	assert.NotNil(t, summary.WithClients.ByClient)
	assert.NotNil(t, summary.Overdue.ByClient)
	assert.Len(t, summary.ByStatus, len(Statuses))
}

func TestService_Summary_UserListFails(t *testing.T) {
	svc := newTestService(t, newTestDB(t), stubUsers{err: errors.New("connection refused")})

	_, err := svc.Summary(context.Background())
	assert.Error(t, err)
}

func TestHandler(t *testing.T) {
	db := newTestDB(t)
	seed(t, db)
	r := chi.NewRouter()
	NewHandler(newTestService(t, db, stubUsers{}), zap.NewNop()).Routes(r)

	tests := []struct {
		path  string
		check func(t *testing.T, data json.RawMessage)
	}{
		{
			path: api.DashboardSummary,
			check: func(t *testing.T, data json.RawMessage) {
				var s Summary
				require.NoError(t, json.Unmarshal(data, &s))
				assert.Equal(t, int64(6), s.TotalTotes)
			},
		},
		{
			path: api.Totes,
			check: func(t *testing.T, data json.RawMessage) {
				var totes []ToteView
				require.NoError(t, json.Unmarshal(data, &totes))
				assert.Len(t, totes, 6)
			},
		},
		{
			path: api.Clients,
			check: func(t *testing.T, data json.RawMessage) {
				var clients []Client
				require.NoError(t, json.Unmarshal(data, &clients))
				assert.Len(t, clients, 2)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			require.Equal(t, http.StatusOK, rec.Code)
			var body struct {
				Data json.RawMessage `json:"data"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			tt.check(t, body.Data)
		})
	}
}

func TestHandler_StoreFailure(t *testing.T) {
	db := newTestDB(t)
	r := chi.NewRouter()
	NewHandler(newTestService(t, db, stubUsers{}), zap.NewNop()).Routes(r)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, api.Totes, nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, msgLoadFailed, body["error"])
	assert.NotContains(t, body, "data")
}
