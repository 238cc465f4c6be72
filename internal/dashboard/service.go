package dashboard

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/elskow/ditzler/internal/auth"
	"github.com/elskow/ditzler/internal/config"
)

// UserLister is the part of the auth service the dashboard reads from.
type UserLister interface {
	ListUsers(ctx context.Context) ([]auth.UserView, error)
}

type StatusCount struct {
	Status ToteStatus `json:"status"`
	Count  int64      `json:"count"`
}

type ClientGroup struct {
	Total    int64         `json:"total"`
	ByClient []ClientCount `json:"byClient"`
}

type Summary struct {
	TotalTotes   int64         `json:"totalTotes"`
	ByStatus     []StatusCount `json:"byStatus"`
	WithClients  ClientGroup   `json:"withClients"`
	Overdue      ClientGroup   `json:"overdue"`
	TotalClients int64         `json:"totalClients"`
	TotalUsers   int           `json:"totalUsers"`
}

type Service struct {
	repo   Repository
	users  UserLister
	config *config.DashboardConfig
	log    *zap.Logger
	now    func() time.Time
}

func NewService(repo Repository, users UserLister, config *config.DashboardConfig, log *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		users:  users,
		config: config,
		log:    log,
		now:    time.Now,
	}
}

// Summary aggregates the dashboard cards. Overdue totes are those still with
// a client whose last dispatch is older than dashboard.overdue_after.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	byStatus, err := s.repo.CountTotesByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count totes by status: %w", err)
	}

	summary := &Summary{ByStatus: make([]StatusCount, 0, len(Statuses))}
	for _, status := range Statuses {
		summary.ByStatus = append(summary.ByStatus, StatusCount{Status: status, Count: byStatus[status]})
	}
	for _, n := range byStatus {
		summary.TotalTotes += n
	}

	withClients, err := s.repo.CountTotesByClient(ctx, StatusWithClient, nil)
	if err != nil {
		return nil, fmt.Errorf("count totes with clients: %w", err)
	}
	summary.WithClients = group(withClients)

	cutoff := s.now().Add(-s.config.OverdueAfter)
	overdue, err := s.repo.CountTotesByClient(ctx, StatusWithClient, &cutoff)
	if err != nil {
		return nil, fmt.Errorf("count overdue totes: %w", err)
	}
	summary.Overdue = group(overdue)

	if summary.TotalClients, err = s.repo.CountClients(ctx); err != nil {
		return nil, fmt.Errorf("count clients: %w", err)
	}

	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	summary.TotalUsers = len(users)

	return summary, nil
}

func (s *Service) Totes(ctx context.Context) ([]ToteView, error) {
	totes, err := s.repo.ListTotes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list totes: %w", err)
	}
	return totes, nil
}

func (s *Service) Clients(ctx context.Context) ([]Client, error) {
	clients, err := s.repo.ListClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	return clients, nil
}

func group(counts []ClientCount) ClientGroup {
	g := ClientGroup{ByClient: counts}
	if g.ByClient == nil {
		g.ByClient = []ClientCount{}
	}
	for _, c := range counts {
		g.Total += c.Count
	}
	return g
}
