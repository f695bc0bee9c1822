package models

import "time"

type WorkItem struct {
	ID                 string
	Title              string
	BudgetAmount       string
	Location           string
	AutoAssignEnabled  bool
	AutoAssignStatus   string
	AutoAssignSettings []byte
	LastRunAt          *time.Time
	LastQueueSize      int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type QueueEntry struct {
	ID              string
	TargetType      string
	TargetID        string
	CandidateID     string
	Status          string
	Score           float64
	WeightBreakdown []byte
	NotifiedAt      *time.Time
	ResolvedAt      *time.Time
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

type AssignmentEvent struct {
	ID        string
	TargetID  string
	ActorID   *string
	EventType string
	Payload   []byte
	CreatedAt time.Time
}
