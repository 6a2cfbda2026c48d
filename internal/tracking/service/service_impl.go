package service

import (
	"context"
	"encoding/json"
	"math"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/attribution/internal/clock"
	"github.com/smallbiznis/attribution/internal/config"
	"github.com/smallbiznis/attribution/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/attribution/internal/observability/metrics"
	trackingdomain "github.com/smallbiznis/attribution/internal/tracking/domain"
	"github.com/smallbiznis/attribution/internal/tracking/liveevents"
	"github.com/smallbiznis/attribution/internal/tracking/stats"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	overwriteKindClick      = "click"
	overwriteKindConversion = "conversion"
)

type ServiceParam struct {
	fx.In

	Store      trackingdomain.Store
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Policy     *config.TrackingConfigHolder `optional:"true"`
	ObsMetrics *obsmetrics.Metrics          `optional:"true"`
	LiveEvents *liveevents.Hub              `optional:"true"`
}

type Service struct {
	store trackingdomain.Store
	log   *zap.Logger

	genID      *snowflake.Node
	clock      clock.Clock
	policy     *config.TrackingConfigHolder
	obsMetrics *obsmetrics.Metrics
	liveEvents *liveevents.Hub
}

func NewService(p ServiceParam) trackingdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		store: p.Store,
		log:   p.Log.Named("tracking.service"),

		genID:      p.GenID,
		clock:      clk,
		policy:     p.Policy,
		obsMetrics: p.ObsMetrics,
		liveEvents: p.LiveEvents,
	}
}

func (s *Service) RecordClick(
	ctx context.Context,
	req trackingdomain.ClickSubmission,
) (trackingdomain.ClickResult, error) {
	req = normalizeClick(req)
	switch {
	case req.PixelID == "":
		return trackingdomain.ClickResult{}, trackingdomain.ErrInvalidPixel
	case req.SessionID == "":
		return trackingdomain.ClickResult{}, trackingdomain.ErrInvalidSession
	case req.PageURL == "":
		return trackingdomain.ClickResult{}, trackingdomain.ErrInvalidPageURL
	}

	now := s.clock.Now().UTC()
	timestamp := now
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		timestamp = req.Timestamp.UTC()
	}

	record := trackingdomain.ClickRecord{
		SessionID:   req.SessionID,
		EventID:     s.genID.Generate().String(),
		PixelID:     req.PixelID,
		EventType:   req.EventType,
		ClickID:     req.ClickID,
		ClickIDType: req.ClickIDType,
		UTMSource:   req.UTMSource,
		UTMCampaign: req.UTMCampaign,
		UTMMedium:   req.UTMMedium,
		UTMTerm:     req.UTMTerm,
		UTMContent:  req.UTMContent,
		PageURL:     req.PageURL,
		Referrer:    strings.TrimSpace(req.Referrer),
		IPAddress:   strings.TrimSpace(req.IPAddress),
		UserAgent:   strings.TrimSpace(req.UserAgent),
		Timestamp:   timestamp,
		ReceivedAt:  now,
		Payload:     payloadOf(req),
	}

	replaced, err := s.store.PutClick(ctx, record)
	if err != nil {
		return trackingdomain.ClickResult{}, err
	}

	log := logger.WithSession(logger.WithContext(ctx, s.log), record.PixelID, record.SessionID)
	if replaced {
		s.obsMetrics.RecordOverwrite(ctx, overwriteKindClick)
		log.Warn("click replaced an earlier click for the session", zap.String("event_id", record.EventID))
	}
	s.obsMetrics.RecordClick(ctx, record.UTMSource)
	log.Info("click tracked",
		zap.String("event_id", record.EventID),
		zap.String("utm_source", record.UTMSource),
		zap.String("utm_campaign", record.UTMCampaign),
	)

	return trackingdomain.ClickResult{EventID: record.EventID, Replaced: replaced}, nil
}

func (s *Service) RecordConversion(
	ctx context.Context,
	req trackingdomain.ConversionSubmission,
) (trackingdomain.ConversionResult, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	orderID := strings.TrimSpace(req.OrderID)
	if sessionID == "" {
		return trackingdomain.ConversionResult{}, trackingdomain.ErrInvalidSession
	}
	if orderID == "" {
		return trackingdomain.ConversionResult{}, trackingdomain.ErrInvalidOrder
	}
	if !(req.Revenue > 0) || math.IsInf(req.Revenue, 0) {
		return trackingdomain.ConversionResult{}, trackingdomain.ErrInvalidRevenue
	}
	currency := normalizeCurrency(req.Currency, s.policy.Get().DefaultCurrency)
	if !isCurrencyCode(currency) {
		return trackingdomain.ConversionResult{}, trackingdomain.ErrInvalidCurrency
	}

	now := s.clock.Now().UTC()
	timestamp := now
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		timestamp = req.Timestamp.UTC()
	}
	conversionID := s.genID.Generate().String()

	record, replaced, err := s.store.Attribute(ctx, sessionID, func(click *trackingdomain.ClickRecord) trackingdomain.ConversionRecord {
		out := trackingdomain.ConversionRecord{
			OrderID:      orderID,
			ConversionID: conversionID,
			SessionID:    sessionID,
			Revenue:      req.Revenue,
			Currency:     currency,
			Timestamp:    timestamp,
		}
		if click != nil {
			out.Attributed = true
			out.ClickID = click.ClickID
			out.UTMSource = click.UTMSource
			out.UTMCampaign = click.UTMCampaign
		}
		return out
	})
	if err != nil {
		return trackingdomain.ConversionResult{}, err
	}

	result := trackingdomain.ConversionResult{
		Attributed:   record.Attributed,
		ConversionID: record.ConversionID,
		Replaced:     replaced,
	}
	if record.Attributed && record.UTMCampaign != "" {
		campaign := record.UTMCampaign
		result.CampaignID = &campaign
	}

	log := logger.WithContext(ctx, s.log).With(
		zap.String("session_id", sessionID),
		zap.String("order_id", orderID),
		zap.String("conversion_id", record.ConversionID),
	)
	if replaced {
		s.obsMetrics.RecordOverwrite(ctx, overwriteKindConversion)
		log.Warn("conversion replaced an earlier conversion for the order")
	}
	s.obsMetrics.RecordConversion(ctx, record.Attributed, record.Revenue, record.Currency)
	s.liveEvents.PublishConversion(record, replaced)

	if record.Attributed {
		log.Info("conversion attributed",
			zap.Float64("revenue", record.Revenue),
			zap.String("currency", record.Currency),
			zap.String("utm_source", record.UTMSource),
			zap.String("utm_campaign", record.UTMCampaign),
		)
	} else {
		log.Info("conversion not attributed, session not found",
			zap.Float64("revenue", record.Revenue),
			zap.String("currency", record.Currency),
		)
	}

	return result, nil
}

func (s *Service) Stats(ctx context.Context) (trackingdomain.Stats, error) {
	snapshot, err := s.store.Snapshot(ctx)
	if err != nil {
		return trackingdomain.Stats{}, err
	}
	return stats.Aggregate(snapshot), nil
}

// payloadOf keeps the submission as the caller sent it. Submissions built in
// code without a raw body are encoded from their fields.
func payloadOf(req trackingdomain.ClickSubmission) datatypes.JSONMap {
	if len(req.Raw) > 0 {
		return datatypes.JSONMap(req.Raw)
	}
	encoded, err := json.Marshal(req)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil
	}
	return datatypes.JSONMap(out)
}
