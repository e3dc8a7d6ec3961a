package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jkaninda/fundi/internal/tester"
)

// StoreConfig selects the persistence driver. SQLite is the zero-config
// default; PostgreSQL serves shared deployments.
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver"` // "sqlite" (default) or "postgres".
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// runRecord is the persisted form of a Report header.
type runRecord struct {
	RunID       string `gorm:"primaryKey;size:36"`
	TaskID      string `gorm:"index;size:255"`
	Description string
	StartedAt   time.Time
	FinishedAt  time.Time
	Passed      bool
	Degraded    bool
}

func (runRecord) TableName() string { return "runs" }

// verdictRecord is one subtask row of a persisted report.
type verdictRecord struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	RunID       string `gorm:"index;size:36"`
	Position    int    // Submission order within the run.
	SubtaskID   string `gorm:"size:255"`
	Description string
	Discipline  string `gorm:"size:32"`
	Status      string `gorm:"size:16"`
	MetricKind  string `gorm:"size:32"`
	MetricValue float64
	Message     string
	Attempts    int
}

func (verdictRecord) TableName() string { return "verdicts" }

// Store persists run reports through GORM.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// OpenStore opens the configured database and migrates the schema.
func OpenStore(cfg StoreConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = "fundi.db"
		}
		dialector = sqlite.Open(path)
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres driver requires a dsn")
		}
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Driver, err)
	}
	if err := db.AutoMigrate(&runRecord{}, &verdictRecord{}); err != nil {
		return nil, fmt.Errorf("migrating report schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// SaveReport persists a report and its subtask rows in one transaction.
func (s *Store) SaveReport(ctx context.Context, rep *Report) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		run := runRecord{
			RunID:       rep.RunID.String(),
			TaskID:      rep.TaskID,
			Description: rep.Description,
			StartedAt:   rep.StartedAt,
			FinishedAt:  rep.FinishedAt,
			Passed:      rep.Passed,
			Degraded:    rep.Degraded,
		}
		if err := tx.Create(&run).Error; err != nil {
			return fmt.Errorf("saving run: %w", err)
		}
		for i, sub := range rep.Subtasks {
			row := verdictRecord{
				RunID:       rep.RunID.String(),
				Position:    i,
				SubtaskID:   sub.SubtaskID,
				Description: sub.Description,
				Discipline:  string(sub.Discipline),
				Status:      string(sub.Status),
				MetricKind:  string(sub.Metric.Kind),
				MetricValue: sub.Metric.Value,
				Message:     sub.Message,
				Attempts:    sub.Attempts,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("saving verdict %s: %w", sub.SubtaskID, err)
			}
		}
		return nil
	})
}

// GetReport loads a persisted report by run ID.
func (s *Store) GetReport(ctx context.Context, runID uuid.UUID) (*Report, error) {
	var run runRecord
	if err := s.db.WithContext(ctx).First(&run, "run_id = ?", runID.String()).Error; err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	var rows []verdictRecord
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID.String()).
		Order("position asc").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("loading verdicts for run %s: %w", runID, err)
	}

	rep := &Report{
		RunID:       runID,
		TaskID:      run.TaskID,
		Description: run.Description,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		Passed:      run.Passed,
		Degraded:    run.Degraded,
		Subtasks:    make([]SubtaskResult, 0, len(rows)),
	}
	for _, row := range rows {
		rep.Subtasks = append(rep.Subtasks, SubtaskResult{
			SubtaskID:   row.SubtaskID,
			Description: row.Description,
			Discipline:  tester.Discipline(row.Discipline),
			Status:      tester.Status(row.Status),
			Metric:      tester.Metric{Kind: tester.MetricKind(row.MetricKind), Value: row.MetricValue},
			Message:     row.Message,
			Attempts:    row.Attempts,
		})
	}
	return rep, nil
}

// Ping verifies the underlying database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
