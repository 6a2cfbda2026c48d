// Package domain contains the click and conversion records used for attribution.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

const DefaultEventType = "click"

// ClickRecord is a single ad click, keyed by the session it opened.
type ClickRecord struct {
	SessionID   string            `json:"session_id" gorm:"primaryKey;type:varchar(255)"`
	EventID     string            `json:"event_id" gorm:"type:varchar(64);not null;uniqueIndex"`
	PixelID     string            `json:"pixel_id,omitempty" gorm:"type:varchar(255)"`
	EventType   string            `json:"event_type" gorm:"type:varchar(64);not null"`
	ClickID     string            `json:"click_id,omitempty" gorm:"type:text"`
	ClickIDType string            `json:"click_id_type,omitempty" gorm:"type:varchar(64)"`
	UTMSource   string            `json:"utm_source,omitempty" gorm:"type:text"`
	UTMCampaign string            `json:"utm_campaign,omitempty" gorm:"type:text"`
	UTMMedium   string            `json:"utm_medium,omitempty" gorm:"type:text"`
	UTMTerm     string            `json:"utm_term,omitempty" gorm:"type:text"`
	UTMContent  string            `json:"utm_content,omitempty" gorm:"type:text"`
	PageURL     string            `json:"page_url,omitempty" gorm:"type:text"`
	Referrer    string            `json:"referrer,omitempty" gorm:"type:text"`
	IPAddress   string            `json:"ip_address,omitempty" gorm:"type:varchar(64)"`
	UserAgent   string            `json:"user_agent,omitempty" gorm:"type:text"`
	Timestamp   time.Time         `json:"timestamp" gorm:"not null"`
	ReceivedAt  time.Time         `json:"received_at" gorm:"not null;index"`
	Payload     datatypes.JSONMap `json:"payload,omitempty"`
}

// TableName sets the database table name.
func (ClickRecord) TableName() string { return "click_records" }

// ConversionRecord is a purchase, attributed to a click when its session was known at write time.
type ConversionRecord struct {
	OrderID      string    `json:"order_id" gorm:"primaryKey;type:varchar(255)"`
	ConversionID string    `json:"conversion_id" gorm:"type:varchar(64);not null;uniqueIndex"`
	SessionID    string    `json:"session_id" gorm:"type:varchar(255);not null;index"`
	Attributed   bool      `json:"attributed" gorm:"not null;default:false"`
	ClickID      string    `json:"click_id,omitempty" gorm:"type:text"`
	UTMSource    string    `json:"utm_source,omitempty" gorm:"type:text"`
	UTMCampaign  string    `json:"utm_campaign,omitempty" gorm:"type:text"`
	Revenue      float64   `json:"revenue" gorm:"not null"`
	Currency     string    `json:"currency" gorm:"type:varchar(3);not null"`
	Timestamp    time.Time `json:"timestamp" gorm:"not null"`
}

// TableName sets the database table name.
func (ConversionRecord) TableName() string { return "conversion_records" }

// Snapshot is a point-in-time copy of the store contents.
type Snapshot struct {
	Clicks      []ClickRecord
	Conversions []ConversionRecord
}
