package liveevents

import (
	"errors"
	"strings"
	"sync"
	"time"

	trackingdomain "github.com/smallbiznis/attribution/internal/tracking/domain"
)

// StreamUnattributed collects conversions whose session had no click.
const StreamUnattributed = "unattributed"

// StreamNoCampaign collects attributed conversions whose click carried no campaign.
const StreamNoCampaign = "none"

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

var (
	ErrHubUnavailable  = errors.New("hub_unavailable")
	ErrInvalidCampaign = errors.New("invalid_campaign")
)

type LiveEvent struct {
	ConversionID string  `json:"conversion_id"`
	OrderID      string  `json:"order_id"`
	SessionID    string  `json:"session_id"`
	Attributed   bool    `json:"attributed"`
	UTMSource    string  `json:"utm_source,omitempty"`
	UTMCampaign  string  `json:"utm_campaign,omitempty"`
	Revenue      float64 `json:"revenue"`
	Currency     string  `json:"currency"`
	RecordedAt   string  `json:"recorded_at"`
	Replaced     bool    `json:"replaced"`
}

// FromConversion builds the live view of a stored conversion.
func FromConversion(record trackingdomain.ConversionRecord, replaced bool) LiveEvent {
	return LiveEvent{
		ConversionID: record.ConversionID,
		OrderID:      record.OrderID,
		SessionID:    record.SessionID,
		Attributed:   record.Attributed,
		UTMSource:    record.UTMSource,
		UTMCampaign:  record.UTMCampaign,
		Revenue:      record.Revenue,
		Currency:     record.Currency,
		RecordedAt:   record.Timestamp.UTC().Format(time.RFC3339),
		Replaced:     replaced,
	}
}

// StreamKey returns the stream a conversion is published on.
func StreamKey(record trackingdomain.ConversionRecord) string {
	if !record.Attributed {
		return StreamUnattributed
	}
	campaign := strings.TrimSpace(record.UTMCampaign)
	if campaign == "" {
		return StreamNoCampaign
	}
	return campaign
}

// Hub fans conversions out to subscribers of a campaign stream. Each stream keeps
// a short replay buffer that new subscribers receive first. Streams exist only
// while they have subscribers.
type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []LiveEvent
	subs   map[uint64]chan LiveEvent
	nextID uint64
}

type Subscription struct {
	hub      *Hub
	campaign string
	id       uint64
	ch       chan LiveEvent
	once     sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Publish delivers event to current subscribers of campaign. Slow subscribers
// drop events rather than block the caller.
func (h *Hub) Publish(campaign string, event LiveEvent) {
	if h == nil {
		return
	}
	key := strings.TrimSpace(campaign)
	if key == "" {
		return
	}
	h.mu.RLock()
	stream := h.streams[key]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	stream.buffer = append(stream.buffer, event)
	if len(stream.buffer) > h.bufferSize {
		stream.buffer = stream.buffer[len(stream.buffer)-h.bufferSize:]
	}
	subs := make([]chan LiveEvent, 0, len(stream.subs))
	for _, ch := range stream.subs {
		subs = append(subs, ch)
	}
	stream.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// PublishConversion routes a stored conversion to its campaign stream.
func (h *Hub) PublishConversion(record trackingdomain.ConversionRecord, replaced bool) {
	h.Publish(StreamKey(record), FromConversion(record, replaced))
}

func (h *Hub) Subscribe(campaign string) (*Subscription, []LiveEvent, error) {
	if h == nil {
		return nil, nil, ErrHubUnavailable
	}
	key := strings.TrimSpace(campaign)
	if key == "" {
		return nil, nil, ErrInvalidCampaign
	}

	stream := h.ensureStream(key)
	stream.mu.Lock()
	id := stream.nextID
	stream.nextID++
	ch := make(chan LiveEvent, h.subscriberBuffer)
	stream.subs[id] = ch
	buffer := append([]LiveEvent(nil), stream.buffer...)
	stream.mu.Unlock()

	return &Subscription{
		hub:      h,
		campaign: key,
		id:       id,
		ch:       ch,
	}, buffer, nil
}

func (h *Hub) ensureStream(campaign string) *stream {
	h.mu.RLock()
	current := h.streams[campaign]
	h.mu.RUnlock()
	if current != nil {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current = h.streams[campaign]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan LiveEvent)}
		h.streams[campaign] = current
	}
	return current
}

func (h *Hub) unsubscribe(campaign string, id uint64) {
	h.mu.RLock()
	stream := h.streams[campaign]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	delete(stream.subs, id)
	remaining := len(stream.subs)
	stream.mu.Unlock()
	if remaining != 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.streams[campaign] != stream {
		return
	}
	stream.mu.Lock()
	empty := len(stream.subs) == 0
	stream.mu.Unlock()
	if empty {
		delete(h.streams, campaign)
	}
}

func (s *Subscription) Events() <-chan LiveEvent {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.campaign, s.id)
	})
}
