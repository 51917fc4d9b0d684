package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shahidanowar/Meshage/internal/core"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

func Init(path string) (*gorm.DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Vacuum(db); err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&IdentityRecord{}, &Friend{}, &PendingRequest{}, &Message{}); err != nil {
		return nil, err
	}
	return db, nil
}

func Vacuum(db *gorm.DB) error {
	return db.Exec("VACUUM").Error
}

// ErrNoIdentity is returned before an identity has been created.
var ErrNoIdentity = errors.New("no persistent identity")

// Store is the key-value style persistence the mesh session consumes.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open initialises the database at path and wraps it.
func Open(path string) (*Store, error) {
	db, err := Init(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}
	return New(db), nil
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) GetPersistentIdentity() (core.Identity, error) {
	var rec IdentityRecord
	err := s.db.First(&rec, "slot = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.Identity{}, ErrNoIdentity
	}
	if err != nil {
		return core.Identity{}, err
	}
	return core.Identity{ID: rec.PersistentID, DisplayName: rec.DisplayName, PubKey: rec.PubKey, PrivKey: rec.PrivKey}, nil
}

func (s *Store) SavePersistentIdentity(id core.Identity) error {
	rec := IdentityRecord{Slot: 1, PersistentID: id.ID, DisplayName: id.DisplayName, PubKey: id.PubKey, PrivKey: id.PrivKey, CreatedAt: time.Now()}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slot"}},
		DoUpdates: clause.AssignmentColumns([]string{"persistent_id", "display_name", "pub_key", "priv_key"}),
	}).Create(&rec).Error
}

// LoadOrCreateIdentity returns the stored identity, creating one named displayName
// on first run. A stored identity keeps its id; only its display name follows displayName.
func (s *Store) LoadOrCreateIdentity(displayName string) (core.Identity, error) {
	id, err := s.GetPersistentIdentity()
	switch {
	case err == nil:
		if displayName != "" && id.DisplayName != displayName {
			id.DisplayName = displayName
			if err := s.SavePersistentIdentity(id); err != nil {
				return core.Identity{}, fmt.Errorf("failed to rename identity: %w", err)
			}
		}
		return id, nil
	case errors.Is(err, ErrNoIdentity):
		id, err = core.GenerateIdentity(displayName)
		if err != nil {
			return core.Identity{}, err
		}
		if err := s.SavePersistentIdentity(id); err != nil {
			return core.Identity{}, fmt.Errorf("failed to save identity: %w", err)
		}
		return id, nil
	default:
		return core.Identity{}, err
	}
}

// ResetIdentity forgets the identity; the next start creates a new one.
func (s *Store) ResetIdentity() error {
	return s.db.Where("1 = 1").Delete(&IdentityRecord{}).Error
}

func (s *Store) GetFriends() ([]Friend, error) {
	var friends []Friend
	result := s.db.Order("display_name").Find(&friends)
	return friends, result.Error
}

func (s *Store) UpsertFriend(f Friend) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "persistent_id"}},
		UpdateAll: true,
	}).Create(&f).Error
}

func (s *Store) RemoveFriend(id string) error {
	return s.db.Delete(&Friend{}, "persistent_id = ?", id).Error
}

func (s *Store) GetPendingRequests() ([]PendingRequest, error) {
	var reqs []PendingRequest
	result := s.db.Order("timestamp").Find(&reqs)
	return reqs, result.Error
}

func (s *Store) UpsertPendingRequest(r PendingRequest) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "persistent_id"}},
		UpdateAll: true,
	}).Create(&r).Error
}

func (s *Store) RemovePendingRequest(id string) error {
	return s.db.Delete(&PendingRequest{}, "persistent_id = ?", id).Error
}

func (s *Store) SaveMessage(msg *Message) error {
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(msg).Error
}

// GetMessages returns the newest limit messages, newest first.
func (s *Store) GetMessages(limit int) ([]Message, error) {
	var messages []Message
	result := s.db.Order("timestamp desc").Limit(limit).Find(&messages)
	return messages, result.Error
}
