package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event describes one engine state transition to store in the outbox.
type Event struct {
	InvoiceID snowflake.ID
	Type      string
	Payload   map[string]any
	DedupeKey string
}

// Record is the persisted outbox row.
type Record struct {
	ID         snowflake.ID       `gorm:"primaryKey"`
	InvoiceID  snowflake.ID       `gorm:"index"`
	EventType  string             `gorm:"type:text;not null;index"`
	Payload    datatypes.JSONMap  `gorm:"not null"`
	DedupeKey  string             `gorm:"type:text;not null;uniqueIndex"`
	OccurredAt time.Time          `gorm:"not null"`
}

// TableName sets the database table name.
func (Record) TableName() string { return "engine_events" }

// Outbox appends immutable event rows inside the caller's transaction.
type Outbox struct {
	genID *snowflake.Node
}

func NewOutbox(genID *snowflake.Node) *Outbox {
	return &Outbox{genID: genID}
}

// PublishTx stores an event using an existing transaction so the event
// becomes visible if and only if the state change commits.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, now time.Time, event Event) error {
	if o == nil || o.genID == nil {
		return errors.New("outbox_unavailable")
	}
	if tx == nil {
		return errors.New("missing_transaction")
	}
	name := strings.TrimSpace(event.Type)
	if name == "" {
		return errors.New("missing_event_type")
	}

	payload := datatypes.JSONMap{}
	for key, value := range event.Payload {
		if strings.TrimSpace(key) == "" {
			continue
		}
		payload[key] = value
	}

	dedupe := strings.TrimSpace(event.DedupeKey)
	if dedupe == "" {
		dedupe = uuid.NewString()
	}

	record := Record{
		ID:         o.genID.Generate(),
		InvoiceID:  event.InvoiceID,
		EventType:  name,
		Payload:    payload,
		DedupeKey:  dedupe,
		OccurredAt: now,
	}
	return tx.WithContext(ctx).Create(&record).Error
}
