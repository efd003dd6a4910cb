package gormstore

import "time"

// Record is one persisted sync state row.
type Record struct {
	AccountType string    `gorm:"primaryKey;column:account_type"`
	AccountName string    `gorm:"primaryKey;column:account_name"`
	Authority   string    `gorm:"primaryKey;column:authority"`
	Data        []byte    `gorm:"type:bytea;not null"`
	SnapshotID  string    `gorm:"not null;column:snapshot_id"`
	ETag        string    `gorm:"not null;column:etag"`
	UpdatedAt   time.Time `gorm:"not null;column:updated_at"`
	Extra       []byte    `gorm:"type:jsonb;column:extra"`
}

func (Record) TableName() string {
	return "sync_state"
}
