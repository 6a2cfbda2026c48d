package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	trackingdomain "github.com/smallbiznis/attribution/internal/tracking/domain"
)

const (
	messageClickTracked        = "Click tracked successfully"
	messageConversionMatched   = "Conversion tracked and attributed"
	messageConversionUnmatched = "Conversion tracked but not attributed (session not found)"
)

type trackClickRequest struct {
	PixelID     string     `json:"pixel_id" binding:"required"`
	EventType   string     `json:"event_type"`
	SessionID   string     `json:"session_id" binding:"required"`
	ClickID     string     `json:"click_id"`
	ClickIDType string     `json:"click_id_type"`
	UTMSource   string     `json:"utm_source"`
	UTMMedium   string     `json:"utm_medium"`
	UTMCampaign string     `json:"utm_campaign"`
	UTMTerm     string     `json:"utm_term"`
	UTMContent  string     `json:"utm_content"`
	PageURL     string     `json:"page_url" binding:"required"`
	Referrer    string     `json:"referrer"`
	IPAddress   string     `json:"ip_address"`
	UserAgent   string     `json:"user_agent"`
	Timestamp   *time.Time `json:"timestamp"`
}

type trackClickResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	EventID  string `json:"event_id"`
	Replaced bool   `json:"replaced,omitempty"`
}

type trackConversionRequest struct {
	SessionID string     `json:"session_id" binding:"required"`
	OrderID   string     `json:"order_id" binding:"required"`
	Revenue   float64    `json:"revenue" binding:"gt=0"`
	Currency  string     `json:"currency" binding:"omitempty,len=3,alpha"`
	Email     string     `json:"email"`
	Phone     string     `json:"phone"`
	Timestamp *time.Time `json:"timestamp"`
}

type trackConversionResponse struct {
	Success      bool    `json:"success"`
	Message      string  `json:"message"`
	Attributed   bool    `json:"attributed"`
	CampaignID   *string `json:"campaign_id,omitempty"`
	ConversionID string  `json:"conversion_id"`
	Replaced     bool    `json:"replaced,omitempty"`
}

func (s *Server) TrackClick(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var req trackClickRequest
	if err := binding.JSON.BindBody(body, &req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}
	if pixelID := strings.TrimSpace(req.PixelID); pixelID != "" {
		c.Set("pixel_id", pixelID)
	}

	ipAddress := strings.TrimSpace(req.IPAddress)
	if ipAddress == "" {
		ipAddress = c.ClientIP()
	}

	var raw map[string]any
	_ = json.Unmarshal(body, &raw)

	result, err := s.trackingSvc.RecordClick(c.Request.Context(), trackingdomain.ClickSubmission{
		PixelID:     req.PixelID,
		EventType:   req.EventType,
		SessionID:   req.SessionID,
		ClickID:     req.ClickID,
		ClickIDType: req.ClickIDType,
		UTMSource:   req.UTMSource,
		UTMMedium:   req.UTMMedium,
		UTMCampaign: req.UTMCampaign,
		UTMTerm:     req.UTMTerm,
		UTMContent:  req.UTMContent,
		PageURL:     req.PageURL,
		Referrer:    req.Referrer,
		IPAddress:   ipAddress,
		UserAgent:   req.UserAgent,
		Timestamp:   req.Timestamp,
		Raw:         raw,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, trackClickResponse{
		Success:  true,
		Message:  messageClickTracked,
		EventID:  result.EventID,
		Replaced: result.Replaced,
	})
}

func (s *Server) TrackConversion(c *gin.Context) {
	var req trackConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	result, err := s.trackingSvc.RecordConversion(c.Request.Context(), trackingdomain.ConversionSubmission{
		SessionID: req.SessionID,
		OrderID:   req.OrderID,
		Revenue:   req.Revenue,
		Currency:  req.Currency,
		Email:     req.Email,
		Phone:     req.Phone,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	message := messageConversionUnmatched
	if result.Attributed {
		message = messageConversionMatched
	}

	c.JSON(http.StatusOK, trackConversionResponse{
		Success:      true,
		Message:      message,
		Attributed:   result.Attributed,
		CampaignID:   result.CampaignID,
		ConversionID: result.ConversionID,
		Replaced:     result.Replaced,
	})
}

func (s *Server) GetStats(c *gin.Context) {
	stats, err := s.trackingSvc.Stats(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
