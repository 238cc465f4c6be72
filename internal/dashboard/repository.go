package dashboard

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// ClientCount is a number of totes held by one client.
type ClientCount struct {
	Name  string `json:"name"`
	Count int64  `json:"totes"`
}

type Repository interface {
	ListTotes(ctx context.Context) ([]ToteView, error)
	ListClients(ctx context.Context) ([]Client, error)
	CountClients(ctx context.Context) (int64, error)
	CountTotesByStatus(ctx context.Context) (map[ToteStatus]int64, error)
	// CountTotesByClient counts totes in status per client. A non-nil
	// dispatchedBefore keeps only totes last dispatched before it.
	CountTotesByClient(ctx context.Context, status ToteStatus, dispatchedBefore *time.Time) ([]ClientCount, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) ListTotes(ctx context.Context) ([]ToteView, error) {
	var totes []ToteView
	err := r.db.WithContext(ctx).
		Table("totes").
		Select("totes.id, totes.status, totes.client_id, COALESCE(clients.name, '') AS client_name, totes.last_dispatch").
		Joins("LEFT JOIN clients ON clients.id = totes.client_id").
		Order("totes.id").
		Scan(&totes).Error
	return totes, err
}

func (r *repository) ListClients(ctx context.Context) ([]Client, error) {
	var clients []Client
	err := r.db.WithContext(ctx).Order("name").Find(&clients).Error
	return clients, err
}

func (r *repository) CountClients(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Client{}).Count(&n).Error
	return n, err
}

func (r *repository) CountTotesByStatus(ctx context.Context) (map[ToteStatus]int64, error) {
	var rows []struct {
		Status ToteStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).
		Model(&Tote{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[ToteStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *repository) CountTotesByClient(ctx context.Context, status ToteStatus, dispatchedBefore *time.Time) ([]ClientCount, error) {
	q := r.db.WithContext(ctx).
		Table("totes").
		Select("clients.name AS name, COUNT(*) AS count").
		Joins("JOIN clients ON clients.id = totes.client_id").
		Where("totes.status = ?", status)
	if dispatchedBefore != nil {
		q = q.Where("totes.last_dispatch IS NOT NULL AND totes.last_dispatch < ?", *dispatchedBefore)
	}

	var counts []ClientCount
	err := q.Group("clients.id, clients.name").
		Order("count DESC, clients.name").
		Scan(&counts).Error
	return counts, err
}
