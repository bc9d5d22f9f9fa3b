package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// appendAttempts bounds the optimistic retry loop when concurrent writers
// race for the same next version.
const appendAttempts = 3

// artifactRow is the relational shape of one stored version. The unique
// index over (name, version) is what makes concurrent version assignment
// safe: the loser of a race gets a duplicate-key error and re-reads MAX.
type artifactRow struct {
	ID         uint   `gorm:"primaryKey"`
	ArtifactID string `gorm:"size:64;not null"`
	Name       string `gorm:"size:255;not null;uniqueIndex:idx_artifact_name_version,priority:1"`
	Version    int    `gorm:"not null;uniqueIndex:idx_artifact_name_version,priority:2"`
	Type       string `gorm:"size:128;not null"`
	Owner      string `gorm:"size:128;not null;index"`
	Checksum   string `gorm:"size:64;not null"`
	SizeBytes  int    `gorm:"not null"`
	ReadCaps   string `gorm:"size:1024"`
	Writers    string `gorm:"size:1024"`
	Data       []byte
	CreatedAt  time.Time
}

func (artifactRow) TableName() string { return "artifacts" }

// SQLStore is a relational Store on gorm, targeting postgres in production
// and sqlite in tests.
type SQLStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLStore wraps an open gorm handle and migrates the artifacts table.
func NewSQLStore(db *gorm.DB, logger *zap.Logger) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("artifact: nil database handle")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&artifactRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate artifacts table: %w", err)
	}
	return &SQLStore{
		db:     db,
		logger: logger.With(zap.String("component", "artifact.sql")),
	}, nil
}

// Append assigns MAX(version)+1 inside a transaction. On a duplicate-key
// conflict with a concurrent writer the transaction is retried with a
// freshly read MAX.
func (s *SQLStore) Append(ctx context.Context, rec *Record) (int, error) {
	if rec == nil || rec.Name == "" {
		return 0, ErrInvalidRecord
	}

	var assigned int
	var lastErr error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		lastErr = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var current int
			err := tx.Model(&artifactRow{}).
				Where("name = ?", rec.Name).
				Select("COALESCE(MAX(version), 0)").
				Scan(&current).Error
			if err != nil {
				return err
			}

			assigned = current + 1
			return tx.Create(rowFromRecord(rec, assigned)).Error
		})
		if lastErr == nil {
			return assigned, nil
		}
		if !isVersionConflict(lastErr) {
			return 0, lastErr
		}
		s.logger.Debug("version conflict, retrying append",
			zap.String("name", rec.Name),
			zap.Int("attempt", attempt+1),
		)
	}
	return 0, fmt.Errorf("failed to assign version for %q: %w", rec.Name, lastErr)
}

// Get retrieves one exact version.
func (s *SQLStore) Get(ctx context.Context, name string, version int) (*Record, error) {
	var row artifactRow
	err := s.db.WithContext(ctx).
		Where("name = ? AND version = ?", name, version).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return recordFromRow(&row), nil
}

// Latest retrieves the highest stored version.
func (s *SQLStore) Latest(ctx context.Context, name string) (*Record, error) {
	var row artifactRow
	err := s.db.WithContext(ctx).
		Where("name = ?", name).
		Order("version DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return recordFromRow(&row), nil
}

// Versions lists version metadata in ascending order, without content.
func (s *SQLStore) Versions(ctx context.Context, name string) ([]Meta, error) {
	var rows []artifactRow
	err := s.db.WithContext(ctx).
		Select("artifact_id", "name", "type", "version", "owner",
			"checksum", "size_bytes", "read_caps", "writers", "created_at").
		Where("name = ?", name).
		Order("version ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}

	out := make([]Meta, 0, len(rows))
	for i := range rows {
		out = append(out, recordFromRow(&rows[i]).Meta)
	}
	return out, nil
}

// Ping checks if the store is healthy.
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func rowFromRecord(rec *Record, version int) *artifactRow {
	return &artifactRow{
		ArtifactID: rec.ID,
		Name:       rec.Name,
		Version:    version,
		Type:       rec.Type,
		Owner:      rec.Owner,
		Checksum:   rec.Checksum,
		SizeBytes:  rec.SizeBytes,
		ReadCaps:   strings.Join(rec.Permissions.ReadCaps, ","),
		Writers:    strings.Join(rec.Permissions.Writers, ","),
		Data:       rec.Data,
		CreatedAt:  rec.CreatedAt,
	}
}

func recordFromRow(row *artifactRow) *Record {
	return &Record{
		Meta: Meta{
			ID:        row.ArtifactID,
			Name:      row.Name,
			Type:      row.Type,
			Version:   row.Version,
			Owner:     row.Owner,
			Checksum:  row.Checksum,
			SizeBytes: row.SizeBytes,
			CreatedAt: row.CreatedAt.UTC(),
			Permissions: Permissions{
				ReadCaps: splitCaps(row.ReadCaps),
				Writers:  splitCaps(row.Writers),
			},
		},
		Data: row.Data,
	}
}

func splitCaps(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, ",")
}

// isVersionConflict recognizes a lost race for (name, version) uniqueness
// across the dialects in play.
func isVersionConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}

var _ Store = (*SQLStore)(nil)
