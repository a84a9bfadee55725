package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event — одна совершённая мутация ростера. Журнал вторичен по
// отношению к живому файлу и никогда не участвует в его восстановлении.
type Event struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	Op        string         `gorm:"size:16;index" json:"op"` // add|delete|init|import
	Peer      string         `gorm:"size:255" json:"peer,omitempty"`
	PublicKey string         `gorm:"size:64" json:"public_key,omitempty"`
	Address   string         `gorm:"size:64" json:"address,omitempty"`
	Detail    datatypes.JSON `json:"detail,omitempty"`
}

type Store struct{ db *gorm.DB }

func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Event{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Record реализует registry.Recorder.
func (s *Store) Record(ctx context.Context, op, peer, publicKey, address string, detail map[string]any) error {
	e := Event{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Op:        op,
		Peer:      peer,
		PublicKey: publicKey,
		Address:   address,
	}
	if detail != nil {
		b, err := json.Marshal(detail)
		if err != nil {
			return err
		}
		e.Detail = datatypes.JSON(b)
	}
	return s.db.WithContext(ctx).Create(&e).Error
}

// Recent возвращает последние события, новые первыми.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []Event
	err := s.db.WithContext(ctx).
		Order("created_at desc").
		Limit(limit).
		Find(&events).Error
	return events, err
}
