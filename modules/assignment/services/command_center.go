package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/workmesh/assign-sdk/modules/assignment/domain/aggregates/workitem"
	"github.com/workmesh/assign-sdk/modules/assignment/domain/entities/queueentry"
)

const (
	commandCenterCacheKey = "command_center"
	// responseSampleSize caps the response-time sample so the rollup query
	// stays bounded regardless of table size.
	responseSampleSize = 200

	DefaultMetricsCacheTTL = 60 * time.Second
)

type ResponseStats struct {
	SampleSize     int     `json:"sampleSize"`
	MeanMinutes    float64 `json:"meanMinutes"`
	MedianMinutes  float64 `json:"medianMinutes"`
	CompletionRate float64 `json:"completionRate"`
}

type CommandCenterMetrics struct {
	TotalWorkItems      int64                       `json:"totalWorkItems"`
	AutoAssignEnabled   int64                       `json:"autoAssignEnabled"`
	TotalQueueSize      int64                       `json:"totalQueueSize"`
	AvgQueueSize        float64                     `json:"avgQueueSize"`
	NewcomerGuaranteeOn int64                       `json:"newcomerGuaranteeOn"`
	LastRunAt           *time.Time                  `json:"lastRunAt,omitempty"`
	EntriesByStatus     map[queueentry.Status]int64 `json:"entriesByStatus"`
	Response            ResponseStats               `json:"response"`
	ComputedAt          time.Time                   `json:"computedAt"`
}

// CommandCenterService computes and caches the operational rollup. The cache
// is process-local with a fixed TTL; any queue or settings mutation
// invalidates it, and recomputation is serialized so concurrent cache-miss
// readers share a single in-flight result.
type CommandCenterService struct {
	workItems workitem.Repository
	entries   queueentry.Repository
	cache     *ttlcache.Cache[string, *CommandCenterMetrics]
	mu        sync.Mutex
	clock     func() time.Time
}

type CommandCenterOption func(*CommandCenterService)

func WithMetricsClock(clock func() time.Time) CommandCenterOption {
	return func(s *CommandCenterService) {
		s.clock = clock
	}
}

func NewCommandCenterService(workItems workitem.Repository, entries queueentry.Repository, ttl time.Duration, opts ...CommandCenterOption) *CommandCenterService {
	if ttl <= 0 {
		ttl = DefaultMetricsCacheTTL
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *CommandCenterMetrics](ttl),
		ttlcache.WithDisableTouchOnHit[string, *CommandCenterMetrics](),
	)
	go cache.Start()
	s := &CommandCenterService{
		workItems: workItems,
		entries:   entries,
		cache:     cache,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the rollup, served from cache within the TTL unless
// forceRefresh is set.
func (s *CommandCenterService) Get(ctx context.Context, forceRefresh bool) (*CommandCenterMetrics, error) {
	if forceRefresh {
		s.cache.Delete(commandCenterCacheKey)
	}
	if item := s.cache.Get(commandCenterCacheKey); item != nil {
		return item.Value(), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another reader may have recomputed while we waited for the lock.
	if item := s.cache.Get(commandCenterCacheKey); item != nil {
		return item.Value(), nil
	}

	metrics, err := s.compute(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set(commandCenterCacheKey, metrics, ttlcache.DefaultTTL)
	return metrics, nil
}

// Invalidate drops the cached rollup so the next read recomputes.
func (s *CommandCenterService) Invalidate() {
	s.cache.Delete(commandCenterCacheKey)
}

// Close stops the cache's background expiry goroutine. Reads still work
// afterwards; expired items are then only dropped lazily on access.
func (s *CommandCenterService) Close() {
	s.cache.Stop()
}

func (s *CommandCenterService) compute(ctx context.Context) (*CommandCenterMetrics, error) {
	stats, err := s.workItems.AutoAssignStats(ctx)
	if err != nil {
		return nil, err
	}
	byStatus, err := s.entries.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	resolved, err := s.entries.RecentlyResolved(ctx, responseSampleSize)
	if err != nil {
		return nil, err
	}

	metrics := &CommandCenterMetrics{
		TotalWorkItems:      stats.TotalItems,
		AutoAssignEnabled:   stats.EnabledItems,
		TotalQueueSize:      stats.TotalQueueSize,
		NewcomerGuaranteeOn: stats.NewcomerGuaranteeOn,
		LastRunAt:           stats.LastRunAt,
		EntriesByStatus:     byStatus,
		Response:            responseStats(resolved),
		ComputedAt:          s.clock(),
	}
	if stats.EnabledItems > 0 {
		metrics.AvgQueueSize = float64(stats.TotalQueueSize) / float64(stats.EnabledItems)
	}
	return metrics, nil
}

func responseStats(resolved []queueentry.QueueEntry) ResponseStats {
	durations := make([]float64, 0, len(resolved))
	completed := 0
	for _, entry := range resolved {
		notified, resolvedAt := entry.NotifiedAt(), entry.ResolvedAt()
		if notified == nil || resolvedAt == nil {
			continue
		}
		durations = append(durations, resolvedAt.Sub(*notified).Minutes())
		if entry.Status() == queueentry.StatusAccepted || entry.Status() == queueentry.StatusCompleted {
			completed++
		}
	}
	stats := ResponseStats{SampleSize: len(durations)}
	if len(durations) == 0 {
		return stats
	}

	sum := 0.0
	for _, d := range durations {
		sum += d
	}
	stats.MeanMinutes = sum / float64(len(durations))

	sort.Float64s(durations)
	mid := len(durations) / 2
	if len(durations)%2 == 0 {
		stats.MedianMinutes = (durations[mid-1] + durations[mid]) / 2
	} else {
		stats.MedianMinutes = durations[mid]
	}
	stats.CompletionRate = float64(completed) / float64(len(durations))
	return stats
}
