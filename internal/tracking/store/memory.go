package store

import (
	"context"
	"sync"
	"time"

	trackingdomain "github.com/smallbiznis/attribution/internal/tracking/domain"
)

// MemoryStore keeps clicks and conversions in two maps, each behind its own lock.
// Lock order is clicks before conversions.
type MemoryStore struct {
	clicksMu sync.RWMutex
	clicks   map[string]trackingdomain.ClickRecord

	conversionsMu sync.RWMutex
	conversions   map[string]trackingdomain.ConversionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clicks:      make(map[string]trackingdomain.ClickRecord),
		conversions: make(map[string]trackingdomain.ConversionRecord),
	}
}

func (m *MemoryStore) PutClick(_ context.Context, record trackingdomain.ClickRecord) (bool, error) {
	m.clicksMu.Lock()
	defer m.clicksMu.Unlock()

	_, replaced := m.clicks[record.SessionID]
	m.clicks[record.SessionID] = record
	return replaced, nil
}

func (m *MemoryStore) PutConversion(_ context.Context, record trackingdomain.ConversionRecord) (bool, error) {
	m.conversionsMu.Lock()
	defer m.conversionsMu.Unlock()

	return m.putConversionLocked(record), nil
}

func (m *MemoryStore) GetClick(_ context.Context, sessionID string) (*trackingdomain.ClickRecord, error) {
	m.clicksMu.RLock()
	defer m.clicksMu.RUnlock()

	record, ok := m.clicks[sessionID]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

// Attribute holds the click read lock until the conversion is stored, so a
// click written concurrently is ordered entirely before or after the lookup.
func (m *MemoryStore) Attribute(
	_ context.Context,
	sessionID string,
	build trackingdomain.BuildConversion,
) (trackingdomain.ConversionRecord, bool, error) {
	m.clicksMu.RLock()
	defer m.clicksMu.RUnlock()

	var click *trackingdomain.ClickRecord
	if found, ok := m.clicks[sessionID]; ok {
		click = &found
	}
	record := build(click)

	m.conversionsMu.Lock()
	replaced := m.putConversionLocked(record)
	m.conversionsMu.Unlock()

	return record, replaced, nil
}

func (m *MemoryStore) Snapshot(_ context.Context) (trackingdomain.Snapshot, error) {
	m.clicksMu.RLock()
	defer m.clicksMu.RUnlock()
	m.conversionsMu.RLock()
	defer m.conversionsMu.RUnlock()

	snapshot := trackingdomain.Snapshot{
		Clicks:      make([]trackingdomain.ClickRecord, 0, len(m.clicks)),
		Conversions: make([]trackingdomain.ConversionRecord, 0, len(m.conversions)),
	}
	for _, click := range m.clicks {
		snapshot.Clicks = append(snapshot.Clicks, click)
	}
	for _, conversion := range m.conversions {
		snapshot.Conversions = append(snapshot.Conversions, conversion)
	}
	return snapshot, nil
}

func (m *MemoryStore) ExpireClicks(_ context.Context, before time.Time) (int, error) {
	m.clicksMu.Lock()
	defer m.clicksMu.Unlock()

	removed := 0
	for sessionID, click := range m.clicks {
		if click.ReceivedAt.Before(before) {
			delete(m.clicks, sessionID)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) putConversionLocked(record trackingdomain.ConversionRecord) bool {
	_, replaced := m.conversions[record.OrderID]
	m.conversions[record.OrderID] = record
	return replaced
}

var _ trackingdomain.Store = (*MemoryStore)(nil)
