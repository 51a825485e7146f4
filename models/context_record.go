package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// ContextRecord is the persisted row behind a long-term item. Content plus
// this record is enough to rebuild keyword and vector state on restart.
type ContextRecord struct {
	ID             string         `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Content        string         `json:"content" gorm:"type:text;not null"`
	Kind           string         `json:"kind" gorm:"type:varchar(32);not null;index"`
	Priority       string         `json:"priority" gorm:"type:varchar(32);not null"`
	ConversationID string         `json:"conversation_id,omitempty" gorm:"type:varchar(128);index"`
	Metadata       datatypes.JSON `json:"metadata,omitempty" gorm:"type:jsonb"`
	TokenEstimate  int            `json:"token_estimate" gorm:"not null"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (ContextRecord) TableName() string {
	return "context_records"
}

// RecordFromItem converts an in-memory item to its persisted form
func RecordFromItem(item *ContextItem) (*ContextRecord, error) {
	rec := &ContextRecord{
		ID:             item.ID,
		Content:        item.Content,
		Kind:           string(item.Kind),
		Priority:       string(item.Priority),
		ConversationID: item.ConversationID,
		TokenEstimate:  item.TokenEstimate,
		CreatedAt:      item.CreatedAt,
	}
	if len(item.Metadata) > 0 {
		raw, err := json.Marshal(item.Metadata)
		if err != nil {
			return nil, err
		}
		rec.Metadata = datatypes.JSON(raw)
	}
	return rec, nil
}

// Item converts a persisted record back to its in-memory form
func (r *ContextRecord) Item() (*ContextItem, error) {
	item := &ContextItem{
		ID:             r.ID,
		Content:        r.Content,
		Kind:           ContextKind(r.Kind),
		Priority:       Priority(r.Priority),
		ConversationID: r.ConversationID,
		TokenEstimate:  r.TokenEstimate,
		CreatedAt:      r.CreatedAt,
		LastAccessedAt: r.UpdatedAt,
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &item.Metadata); err != nil {
			return nil, err
		}
	}
	return item, nil
}
