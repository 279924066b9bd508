package services

import (
	"golang.org/x/sync/errgroup"

	"github.com/ad/go-telegram-airdrop/internal/models"
)

const defaultRecentLimit = 10

type StatsStore interface {
	CountAll() (int, error)
	CountWithAllTasksComplete() (int, error)
	CountCreatedToday() (int, error)
	CountWithWallet() (int, error)
	MostRecentCompleters(limit int) ([]models.RecentUser, error)
	RecentUsers(limit int) ([]models.RecentUser, error)
}

type StatisticsService struct {
	store       StatsStore
	recentLimit int
}

func NewStatisticsService(store StatsStore) *StatisticsService {
	return &StatisticsService{
		store:       store,
		recentLimit: defaultRecentLimit,
	}
}

func (s *StatisticsService) WithRecentLimit(limit int) *StatisticsService {
	if limit > 0 {
		s.recentLimit = limit
	}
	return s
}

// Collect gathers every admin counter. Any failing query fails the whole call.
func (s *StatisticsService) Collect() (*models.AdminStats, error) {
	stats := &models.AdminStats{}

	var g errgroup.Group
	g.Go(func() (err error) {
		stats.TotalUsers, err = s.store.CountAll()
		return err
	})
	g.Go(func() (err error) {
		stats.CompletedAll, err = s.store.CountWithAllTasksComplete()
		return err
	})
	g.Go(func() (err error) {
		stats.JoinedToday, err = s.store.CountCreatedToday()
		return err
	})
	g.Go(func() (err error) {
		stats.WithWallet, err = s.store.CountWithWallet()
		return err
	})
	g.Go(func() (err error) {
		stats.RecentCompleters, err = s.store.MostRecentCompleters(s.recentLimit)
		return err
	})
	g.Go(func() (err error) {
		stats.RecentJoiners, err = s.store.RecentUsers(s.recentLimit)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}
