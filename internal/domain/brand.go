// Package domain contains core domain types for the onboarding service.
package domain

import (
	"strings"
	"time"
)

// SocialHandle is one social media account named by the client.
type SocialHandle struct {
	Platform string `json:"platform" yaml:"platform"`
	Handle   string `json:"handle" yaml:"handle"`
}

// ProfileURL derives the canonical profile URL for the handle:
// https://{platform lowercased}.com/{handle without '@'}.
func (s SocialHandle) ProfileURL() string {
	platform := strings.ToLower(strings.TrimSpace(s.Platform))
	handle := strings.TrimLeft(strings.TrimSpace(s.Handle), "@")
	return "https://" + platform + ".com/" + handle
}

// BrandProfile is the complete structured record extracted from a conversation.
// It is only constructed once all required fields are present.
type BrandProfile struct {
	BrandName   string         `json:"brand_name" yaml:"brand_name"`
	WebsiteURL  string         `json:"website_url" yaml:"website_url"`
	Description string         `json:"description" yaml:"description"`
	SocialMedia []SocialHandle `json:"social_media" yaml:"social_media"`
	KeyTerms    []string       `json:"key_terms" yaml:"key_terms"`
}

// Clone returns a deep copy so callers can't mutate a session's stored record.
func (p *BrandProfile) Clone() *BrandProfile {
	if p == nil {
		return nil
	}
	out := *p
	if p.SocialMedia != nil {
		out.SocialMedia = make([]SocialHandle, len(p.SocialMedia))
		copy(out.SocialMedia, p.SocialMedia)
	}
	if p.KeyTerms != nil {
		out.KeyTerms = make([]string, len(p.KeyTerms))
		copy(out.KeyTerms, p.KeyTerms)
	}
	return &out
}

// Brand is a persisted brand row together with its child rows.
type Brand struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	WebsiteURL  string              `json:"website_url"`
	Description string              `json:"description"`
	SocialMedia []SocialMediaRecord `json:"social_media"`
	Keywords    []string            `json:"keywords"`
	CreatedAt   time.Time           `json:"created_at"`
}

// SocialMediaRecord is a persisted brand_social_media row.
type SocialMediaRecord struct {
	Platform string `json:"platform"`
	Handle   string `json:"handle"`
	URL      string `json:"url"`
}
