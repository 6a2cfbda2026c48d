package service

import (
	"net/url"
	"strings"

	trackingdomain "github.com/smallbiznis/attribution/internal/tracking/domain"
)

// Query parameters that carry an ad network click id, in lookup order.
var clickIDParams = []string{"fbclid", "gclid"}

// normalizeClick trims the submission and fills click id and utm fields that
// the pixel left empty from the landing page query string.
func normalizeClick(req trackingdomain.ClickSubmission) trackingdomain.ClickSubmission {
	req.PixelID = strings.TrimSpace(req.PixelID)
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.PageURL = strings.TrimSpace(req.PageURL)
	req.EventType = strings.TrimSpace(req.EventType)
	if req.EventType == "" {
		req.EventType = trackingdomain.DefaultEventType
	}
	req.ClickID = strings.TrimSpace(req.ClickID)
	req.ClickIDType = strings.TrimSpace(req.ClickIDType)

	query := pageQuery(req.PageURL)
	if query == nil {
		return req
	}

	if req.ClickID == "" {
		for _, param := range clickIDParams {
			if value := strings.TrimSpace(query.Get(param)); value != "" {
				req.ClickID = value
				req.ClickIDType = param
				break
			}
		}
	}

	fill(&req.UTMSource, query, "utm_source")
	fill(&req.UTMMedium, query, "utm_medium")
	fill(&req.UTMCampaign, query, "utm_campaign")
	fill(&req.UTMTerm, query, "utm_term")
	fill(&req.UTMContent, query, "utm_content")

	return req
}

func pageQuery(pageURL string) url.Values {
	if pageURL == "" {
		return nil
	}
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.RawQuery == "" {
		return nil
	}
	return parsed.Query()
}

func fill(field *string, query url.Values, key string) {
	if strings.TrimSpace(*field) != "" {
		return
	}
	*field = strings.TrimSpace(query.Get(key))
}

func normalizeCurrency(raw, fallback string) string {
	currency := strings.ToUpper(strings.TrimSpace(raw))
	if currency == "" {
		currency = strings.ToUpper(strings.TrimSpace(fallback))
	}
	if currency == "" {
		currency = "USD"
	}
	return currency
}

func isCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
