package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/convoloop/types"
)

// snapshotRecord is the database row for one session snapshot. The
// variable-shaped parts (history, roster, counts) are stored as JSON
// blobs; only the fields worth querying get their own columns.
type snapshotRecord struct {
	SessionID            string `gorm:"primaryKey;column:session_id"`
	Title                string `gorm:"column:title"`
	State                string `gorm:"column:state;index"`
	Round                int    `gorm:"column:round"`
	Environment          string `gorm:"column:environment"`
	SceneDescription     string `gorm:"column:scene_description"`
	TerminationCondition string `gorm:"column:termination_condition"`
	Agents               []byte `gorm:"column:agents"`
	History              []byte `gorm:"column:history"`
	InvocationCounts     []byte `gorm:"column:invocation_counts"`
	UpdatedAt            time.Time
}

func (snapshotRecord) TableName() string { return "session_snapshots" }

// SQLiteStore persists snapshots in a local SQLite database.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (or creates) the database at path and migrates the
// snapshot schema. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.AutoMigrate(&snapshotRecord{}); err != nil {
		return nil, fmt.Errorf("migrate snapshot schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *types.Snapshot) error {
	if err := validateSnapshot(snap); err != nil {
		return err
	}
	rec, err := toRecord(snap)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			UpdateAll: true,
		}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadSnapshot(ctx context.Context, sessionID string) (*types.Snapshot, error) {
	var rec snapshotRecord
	err := s.db.WithContext(ctx).First(&rec, "session_id = ?", sessionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return fromRecord(&rec)
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&snapshotRecord{}).
		Order("session_id").
		Pluck("session_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, sessionID string) error {
	res := s.db.WithContext(ctx).Delete(&snapshotRecord{}, "session_id = ?", sessionID)
	if res.Error != nil {
		return fmt.Errorf("delete snapshot: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(snap *types.Snapshot) (*snapshotRecord, error) {
	agents, err := json.Marshal(snap.Agents)
	if err != nil {
		return nil, fmt.Errorf("marshal agents: %w", err)
	}
	history, err := json.Marshal(snap.History)
	if err != nil {
		return nil, fmt.Errorf("marshal history: %w", err)
	}
	counts, err := json.Marshal(snap.InvocationCounts)
	if err != nil {
		return nil, fmt.Errorf("marshal counts: %w", err)
	}
	return &snapshotRecord{
		SessionID:            snap.SessionID,
		Title:                snap.Title,
		State:                snap.State,
		Round:                snap.Round,
		Environment:          snap.Scene.Environment,
		SceneDescription:     snap.Scene.SceneDescription,
		TerminationCondition: snap.TerminationCondition,
		Agents:               agents,
		History:              history,
		InvocationCounts:     counts,
		UpdatedAt:            snap.UpdatedAt,
	}, nil
}

func fromRecord(rec *snapshotRecord) (*types.Snapshot, error) {
	snap := &types.Snapshot{
		SessionID:            rec.SessionID,
		Title:                rec.Title,
		State:                rec.State,
		Round:                rec.Round,
		Scene:                types.Scene{Environment: rec.Environment, SceneDescription: rec.SceneDescription},
		TerminationCondition: rec.TerminationCondition,
		UpdatedAt:            rec.UpdatedAt,
	}
	if err := json.Unmarshal(rec.Agents, &snap.Agents); err != nil {
		return nil, fmt.Errorf("unmarshal agents: %w", err)
	}
	if err := json.Unmarshal(rec.History, &snap.History); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	if err := json.Unmarshal(rec.InvocationCounts, &snap.InvocationCounts); err != nil {
		return nil, fmt.Errorf("unmarshal counts: %w", err)
	}
	return snap, nil
}
