package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	trackingdomain "github.com/smallbiznis/attribution/internal/tracking/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLStore persists clicks and conversions through gorm. It is a drop-in
// replacement for MemoryStore when state must outlive the process.
type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) PutClick(ctx context.Context, record trackingdomain.ClickRecord) (bool, error) {
	var replaced bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		replaced, err = exists(tx, &trackingdomain.ClickRecord{}, "session_id = ?", record.SessionID)
		if err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			UpdateAll: true,
		}).Create(&record).Error
	})
	if err != nil {
		return false, fmt.Errorf("put click: %w", err)
	}
	return replaced, nil
}

func (s *SQLStore) PutConversion(ctx context.Context, record trackingdomain.ConversionRecord) (bool, error) {
	var replaced bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		replaced, err = upsertConversion(tx, &record)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("put conversion: %w", err)
	}
	return replaced, nil
}

func (s *SQLStore) GetClick(ctx context.Context, sessionID string) (*trackingdomain.ClickRecord, error) {
	click, err := findClick(s.db.WithContext(ctx), sessionID, false)
	if err != nil {
		return nil, fmt.Errorf("get click: %w", err)
	}
	return click, nil
}

func (s *SQLStore) Attribute(
	ctx context.Context,
	sessionID string,
	build trackingdomain.BuildConversion,
) (trackingdomain.ConversionRecord, bool, error) {
	var (
		record   trackingdomain.ConversionRecord
		replaced bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		click, err := findClick(tx, sessionID, true)
		if err != nil {
			return err
		}
		record = build(click)
		replaced, err = upsertConversion(tx, &record)
		return err
	})
	if err != nil {
		return trackingdomain.ConversionRecord{}, false, fmt.Errorf("attribute conversion: %w", err)
	}
	return record, replaced, nil
}

func (s *SQLStore) Snapshot(ctx context.Context) (trackingdomain.Snapshot, error) {
	var snapshot trackingdomain.Snapshot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Find(&snapshot.Clicks).Error; err != nil {
			return err
		}
		return tx.Find(&snapshot.Conversions).Error
	})
	if err != nil {
		return trackingdomain.Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	return snapshot, nil
}

func (s *SQLStore) ExpireClicks(ctx context.Context, before time.Time) (int, error) {
	res := s.db.WithContext(ctx).
		Where("received_at < ?", before).
		Delete(&trackingdomain.ClickRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("expire clicks: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func findClick(db *gorm.DB, sessionID string, lock bool) (*trackingdomain.ClickRecord, error) {
	if lock && supportsRowLocks(db) {
		db = db.Clauses(clause.Locking{Strength: "SHARE"})
	}
	var click trackingdomain.ClickRecord
	err := db.Where("session_id = ?", sessionID).Take(&click).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &click, nil
}

func upsertConversion(tx *gorm.DB, record *trackingdomain.ConversionRecord) (bool, error) {
	replaced, err := exists(tx, &trackingdomain.ConversionRecord{}, "order_id = ?", record.OrderID)
	if err != nil {
		return false, err
	}
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		UpdateAll: true,
	}).Create(record).Error
	return replaced, err
}

func exists(tx *gorm.DB, model any, query string, args ...any) (bool, error) {
	var count int64
	if err := tx.Model(model).Where(query, args...).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func supportsRowLocks(db *gorm.DB) bool {
	switch db.Dialector.Name() {
	case "postgres", "mysql":
		return true
	default:
		return false
	}
}

var _ trackingdomain.Store = (*SQLStore)(nil)
