package models

import "time"

type Recording struct {
	ID          string    `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	RoundID     string    `gorm:"column:round_id;type:uuid;index" json:"round_id"`
	ObjectPath  string    `gorm:"column:object_path;type:text" json:"object_path"`
	ContentType string    `gorm:"column:content_type;type:text" json:"content_type"`
	SizeBytes   int64     `gorm:"column:size_bytes" json:"size_bytes"`
	Attempts    int       `gorm:"column:attempts" json:"attempts"`
	UploadedAt  time.Time `gorm:"column:uploaded_at;type:timestamptz" json:"uploaded_at"`
}

func (Recording) TableName() string { return "round_recordings" }
