package runlog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"maestro/internal/logger"
	"maestro/internal/orchestrator"
	"maestro/internal/scheduler"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// RunRecordModel 持久化单次 agent 运行。
type RunRecordModel struct {
	ID         uint   `gorm:"primaryKey"`
	TraceID    string `gorm:"size:64;index"`
	Agent      string `gorm:"size:64;index"`
	Timestamp  int64  `gorm:"index"`
	DurationMs int64
	Success    bool
	Error      string
	Raw        datatypes.JSON
}

func (RunRecordModel) TableName() string { return "agent_runs" }

// CycleRecordModel 持久化单轮编排周期。
type CycleRecordModel struct {
	ID          uint   `gorm:"primaryKey"`
	TraceID     string `gorm:"size:64;index"`
	CycleNumber int    `gorm:"index"`
	Timestamp   int64  `gorm:"index"`
	DurationMs  int64
	Activated   datatypes.JSON
	Actions     datatypes.JSON
	Errors      datatypes.JSON
}

func (CycleRecordModel) TableName() string { return "orchestration_cycles" }

// Store 是运行遥测库：调度器与编排引擎的 sink 都落在这里。
// 写入全部 best-effort，失败只记日志，绝不反压调度路径。
type Store struct {
	db *gorm.DB
}

// Open opens (and migrates) the telemetry database at path.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open runlog db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	if err := db.AutoMigrate(&RunRecordModel{}, &CycleRecordModel{}); err != nil {
		return nil, fmt.Errorf("migrate runlog db: %w", err)
	}
	return &Store{db: db}, nil
}

// AppendRun implements scheduler.RunSink.
func (s *Store) AppendRun(rec scheduler.RunRecord) {
	model := RunRecordModel{
		TraceID:    rec.TraceID,
		Agent:      rec.Agent,
		Timestamp:  rec.Timestamp.Unix(),
		DurationMs: rec.Duration.Milliseconds(),
		Success:    rec.Success,
		Error:      rec.Error,
	}
	if len(rec.Raw) > 0 {
		model.Raw = datatypes.JSON(rec.Raw)
	}
	if err := s.db.Create(&model).Error; err != nil {
		logger.Warnf("runlog: append run failed: %v", err)
	}
}

// AppendCycle implements orchestrator.CycleSink.
func (s *Store) AppendCycle(rec orchestrator.CycleRecord) {
	model := CycleRecordModel{
		TraceID:     rec.TraceID,
		CycleNumber: rec.CycleNumber,
		Timestamp:   rec.Timestamp.Unix(),
		DurationMs:  rec.Duration.Milliseconds(),
		Activated:   jsonList(rec.AgentsActivated),
		Actions:     jsonList(rec.ActionsTaken),
		Errors:      jsonList(rec.Errors),
	}
	if err := s.db.Create(&model).Error; err != nil {
		logger.Warnf("runlog: append cycle failed: %v", err)
	}
}

// RecentRuns returns the latest runs, newest first, optionally filtered by
// agent name.
func (s *Store) RecentRuns(agent string, limit int) ([]RunRecordModel, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := s.db.Order("id DESC").Limit(limit)
	if agent = strings.TrimSpace(agent); agent != "" {
		q = q.Where("agent = ?", agent)
	}
	var out []RunRecordModel
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// RecentCycles returns the latest orchestration cycles, newest first.
func (s *Store) RecentCycles(limit int) ([]CycleRecordModel, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []CycleRecordModel
	if err := s.db.Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// PruneBefore drops telemetry older than the cutoff.
func (s *Store) PruneBefore(cutoff time.Time) error {
	ts := cutoff.Unix()
	if err := s.db.Where("timestamp < ?", ts).Delete(&RunRecordModel{}).Error; err != nil {
		return err
	}
	return s.db.Where("timestamp < ?", ts).Delete(&CycleRecordModel{}).Error
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func jsonList(items []string) datatypes.JSON {
	if items == nil {
		items = []string{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(raw)
}
