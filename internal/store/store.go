package store

import (
	"context"
	"time"

	"github.com/fundradar/radar/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Date   string          `json:"date,omitempty"`
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the radar pipeline.
// Lookup methods return (nil, nil) when no row matches.
type Store interface {
	// Runs
	GetRun(ctx context.Context, date, slot string) (*model.Run, error)
	CreateRun(ctx context.Context, run *model.Run) (bool, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, stats model.RunStats, errText string) error
	RestartRun(ctx context.Context, runID string) error
	UpdateRunStats(ctx context.Context, runID string, stats model.RunStats) error
	FailStaleRuns(ctx context.Context, startedBefore time.Time, errText string) (int, error)
	CountRunningRuns(ctx context.Context) (int, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Items
	GetItemByExternalID(ctx context.Context, externalID string) (*model.Item, error)
	CreateItem(ctx context.Context, item *model.Item) error
	UpdateItemContent(ctx context.Context, itemID, rawHTML, text, contentHash string) error
	UpdateItemStatus(ctx context.Context, itemID string, status model.ItemStatus) error
	ListPendingItems(ctx context.Context, publishedSince time.Time) ([]model.Item, error)

	// Verdicts
	CreateVerdict(ctx context.Context, verdict *model.Verdict, opps []model.OpportunityRecord) error
	ListVerdictsForDate(ctx context.Context, date string) ([]model.Verdict, error)

	// Notifications
	CreateNotification(ctx context.Context, rec *model.NotificationRecord) error
	CountNotifications(ctx context.Context, date string, pushType model.PushType, status model.NotificationStatus) (int, error)
	GetNotificationByKey(ctx context.Context, key string) (*model.NotificationRecord, error)

	// Digests
	UpsertDailyDigest(ctx context.Context, digest *model.DailyDigest) error
	GetDailyDigest(ctx context.Context, date string) (*model.DailyDigest, error)

	// Prompt configs
	GetActivePromptConfig(ctx context.Context, name string) (*model.PromptConfig, error)
	CreatePromptConfig(ctx context.Context, pc *model.PromptConfig) error
	ActivatePromptConfig(ctx context.Context, name string, version int) error

	// Settings
	GetSettings(ctx context.Context) (model.Settings, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
