package domain

import (
	"context"
	"errors"
	"time"
)

// ClickSubmission is a validated click as handed over by the ingestion layer.
type ClickSubmission struct {
	PixelID     string     `json:"pixel_id"`
	EventType   string     `json:"event_type"`
	SessionID   string     `json:"session_id"`
	ClickID     string     `json:"click_id"`
	ClickIDType string     `json:"click_id_type"`
	UTMSource   string     `json:"utm_source"`
	UTMMedium   string     `json:"utm_medium"`
	UTMCampaign string     `json:"utm_campaign"`
	UTMTerm     string     `json:"utm_term"`
	UTMContent  string     `json:"utm_content"`
	PageURL     string     `json:"page_url"`
	Referrer    string     `json:"referrer"`
	IPAddress   string     `json:"ip_address"`
	UserAgent   string     `json:"user_agent"`
	Timestamp   *time.Time `json:"timestamp"`

	// Raw is the original payload, kept verbatim on the record.
	Raw map[string]any `json:"-"`
}

// ConversionSubmission is a validated conversion; Revenue is already known to be positive.
type ConversionSubmission struct {
	SessionID string     `json:"session_id"`
	OrderID   string     `json:"order_id"`
	Revenue   float64    `json:"revenue"`
	Currency  string     `json:"currency"`
	Email     string     `json:"email"`
	Phone     string     `json:"phone"`
	Timestamp *time.Time `json:"timestamp"`
}

type ClickResult struct {
	EventID string `json:"event_id"`
	// Replaced reports that an earlier click under the same session was discarded.
	Replaced bool `json:"replaced"`
}

type ConversionResult struct {
	Attributed   bool    `json:"attributed"`
	ConversionID string  `json:"conversion_id"`
	CampaignID   *string `json:"campaign_id,omitempty"`
	// Replaced reports that an earlier conversion under the same order was discarded.
	Replaced bool `json:"replaced"`
}

type Stats struct {
	TotalClicks           int     `json:"total_clicks"`
	TotalConversions      int     `json:"total_conversions"`
	AttributedConversions int     `json:"attributed_conversions"`
	TotalRevenue          float64 `json:"total_revenue"`
	ConversionRate        float64 `json:"conversion_rate"`
}

type Service interface {
	RecordClick(context.Context, ClickSubmission) (ClickResult, error)
	RecordConversion(context.Context, ConversionSubmission) (ConversionResult, error)
	Stats(context.Context) (Stats, error)
}

// BuildConversion produces the record to store given the click found for the
// session, or nil when the session is unknown.
type BuildConversion func(click *ClickRecord) ConversionRecord

// Store holds clicks by session id and conversions by order id.
type Store interface {
	PutClick(ctx context.Context, record ClickRecord) (replaced bool, err error)
	PutConversion(ctx context.Context, record ConversionRecord) (replaced bool, err error)
	// GetClick returns nil without error when the session is unknown.
	GetClick(ctx context.Context, sessionID string) (*ClickRecord, error)
	// Attribute looks up the session and stores the built conversion as one atomic step.
	Attribute(ctx context.Context, sessionID string, build BuildConversion) (record ConversionRecord, replaced bool, err error)
	Snapshot(ctx context.Context) (Snapshot, error)
	// ExpireClicks removes clicks received before the cutoff and returns how many were removed.
	ExpireClicks(ctx context.Context, before time.Time) (int, error)
}

var (
	ErrInvalidPixel    = errors.New("invalid_pixel_id")
	ErrInvalidSession  = errors.New("invalid_session_id")
	ErrInvalidPageURL  = errors.New("invalid_page_url")
	ErrInvalidOrder    = errors.New("invalid_order_id")
	ErrInvalidRevenue  = errors.New("invalid_revenue")
	ErrInvalidCurrency = errors.New("invalid_currency")

	// ErrStorageFull is reserved for a bounded store; the shipped backends never return it.
	ErrStorageFull = errors.New("storage_full")
)
