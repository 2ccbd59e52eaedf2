package service

import (
	"context"
	"math"
	"time"

	"commerce-service/internal/models"
	"commerce-service/internal/redisclient"
	"commerce-service/internal/util"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ScorePolicy weights ranking signals
type ScorePolicy struct {
	ViewWeight  float64
	LikeWeight  float64
	OrderWeight float64
	// BonusUnit is the order amount at which the amount bonus starts to grow
	BonusUnit float64
}

// DefaultScorePolicy is view 0.1, like 0.3, order 0.6
var DefaultScorePolicy = ScorePolicy{
	ViewWeight:  0.1,
	LikeWeight:  0.3,
	OrderWeight: 0.6,
	BonusUnit:   10000,
}

// View scores one product view
func (p ScorePolicy) View() float64 {
	return p.ViewWeight
}

// Like scores a like delta, +1 or -1
func (p ScorePolicy) Like(delta int) float64 {
	return p.LikeWeight * float64(delta)
}

// Order scores an ordered line: quantity × weight × max(1+log10(amount/unit), 1).
// Non-positive amounts get no bonus.
func (p ScorePolicy) Order(quantity int, amount int64) float64 {
	bonus := 1.0
	if amount > 0 {
		bonus = math.Max(1+math.Log10(float64(amount)/p.BonusUnit), 1)
	}
	return float64(quantity) * p.OrderWeight * bonus
}

// Deltas returns the score change per product caused by event
func (p ScorePolicy) Deltas(event models.Event) map[int64]float64 {
	deltas := make(map[int64]float64)
	switch e := event.(type) {
	case *models.ProductViewedEvent:
		deltas[e.ProductID] += p.View()
	case *models.LikeChangedEvent:
		deltas[e.ProductID] += p.Like(e.DeltaCount)
	case *models.OrderCompletedEvent:
		for _, item := range e.Items {
			deltas[item.ProductID] += p.Order(item.Quantity, item.Amount())
		}
	}
	return deltas
}

// RankingEntry is one row of a ranking page
type RankingEntry struct {
	Rank      int64   `json:"rank"`
	ProductID int64   `json:"productId"`
	Score     float64 `json:"score"`
}

// RankingPage is a window of the daily leaderboard
type RankingPage struct {
	Entries []RankingEntry
	Total   int64
}

// RankingService maintains the per-day weighted product leaderboard
type RankingService struct {
	redis    *redisclient.Client
	policy   ScorePolicy
	ttl      time.Duration
	location *time.Location
	logger   *zap.Logger
}

// NewRankingService creates a new ranking service
func NewRankingService(rc *redisclient.Client, policy ScorePolicy, ttl time.Duration, loc *time.Location) *RankingService {
	if loc == nil {
		loc = time.UTC
	}
	return &RankingService{
		redis:    rc,
		policy:   policy,
		ttl:      ttl,
		location: loc,
		logger:   util.GetLogger(),
	}
}

// Today returns the current date in the ranking time zone
func (s *RankingService) Today() time.Time {
	return time.Now().In(s.location)
}

// Location is the ranking time zone
func (s *RankingService) Location() *time.Location {
	return s.location
}

// IncrementScore adds delta to a product's score for date and refreshes
// the key TTL. Errors are returned so consumers can retry.
func (s *RankingService) IncrementScore(ctx context.Context, productID int64, delta float64, date time.Time) error {
	_, err := s.redis.IncrementScore(ctx, redisclient.RankingKey(date.In(s.location)),
		redisclient.ProductMember(productID), delta, s.ttl)
	if err != nil {
		util.RankingErrorsTotal.WithLabelValues("increment").Inc()
		return err
	}
	return nil
}

// Apply adds the score deltas of event to the day it occurred. All of an
// event's deltas are written by one script call.
func (s *RankingService) Apply(ctx context.Context, event models.Event) error {
	members := make(map[string]float64)
	for productID, delta := range s.policy.Deltas(event) {
		if delta != 0 {
			members[redisclient.ProductMember(productID)] = delta
		}
	}
	if len(members) == 0 {
		return nil
	}

	key := redisclient.RankingKey(event.Meta().OccurredAt.In(s.location))
	if err := s.redis.IncrementScores(ctx, key, members, s.ttl); err != nil {
		util.RankingErrorsTotal.WithLabelValues("increment").Inc()
		return err
	}
	return nil
}

// PageRankings returns a descending page of the leaderboard. A cache
// failure yields an empty page.
func (s *RankingService) PageRankings(ctx context.Context, date time.Time, page, size int) RankingPage {
	key := redisclient.RankingKey(date.In(s.location))
	start := int64(page) * int64(size)
	stop := start + int64(size) - 1

	total, err := s.redis.Count(ctx, key)
	if err != nil {
		s.readFailed("count", key, err)
		return RankingPage{Entries: []RankingEntry{}}
	}

	members, err := s.redis.TopScores(ctx, key, start, stop)
	if err != nil {
		s.readFailed("page", key, err)
		return RankingPage{Entries: []RankingEntry{}}
	}

	entries := make([]RankingEntry, 0, len(members))
	for i, z := range members {
		productID, err := parseMember(z)
		if err != nil {
			s.logger.Warn("Skipping malformed ranking member", zap.Error(err))
			continue
		}
		entries = append(entries, RankingEntry{
			Rank:      start + int64(i) + 1,
			ProductID: productID,
			Score:     math.Round(z.Score*100) / 100,
		})
	}
	return RankingPage{Entries: entries, Total: total}
}

// RankOf returns the 1-based rank of a product. ok is false when the
// product is unranked or the cache is unavailable.
func (s *RankingService) RankOf(ctx context.Context, productID int64, date time.Time) (rank int64, ok bool) {
	key := redisclient.RankingKey(date.In(s.location))
	r, ok, err := s.redis.RevRank(ctx, key, redisclient.ProductMember(productID))
	if err != nil {
		s.readFailed("rank", key, err)
		return 0, false
	}
	if !ok {
		return 0, false
	}
	return r + 1, true
}

func (s *RankingService) readFailed(op, key string, err error) {
	util.RankingErrorsTotal.WithLabelValues(op).Inc()
	s.logger.Warn("Ranking read failed",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err))
}

func parseMember(z redis.Z) (int64, error) {
	member, _ := z.Member.(string)
	return redisclient.ParseProductMember(member)
}
