package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/ashureev/brand-onboarding/internal/domain"
)

// Status tags the outcome of Extract.
type Status int

const (
	// StatusIncomplete means no usable block yet; the conversation continues.
	StatusIncomplete Status = iota
	// StatusOK means a complete BrandProfile was decoded.
	StatusOK
	// StatusMalformed means a structured block was found but could not be decoded.
	StatusMalformed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusMalformed:
		return "malformed"
	default:
		return "incomplete"
	}
}

// Format is the payload encoding named by a fence's info string.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Block is a fenced structured-data region found in assistant output.
type Block struct {
	Format  Format
	Payload string
}

// Result is the tagged outcome of Extract. Profile is set only for StatusOK,
// Err only for StatusMalformed, Missing only when a decoded block lacked keys.
type Result struct {
	Status  Status
	Profile *domain.BrandProfile
	Block   *Block
	Missing []string
	Err     error
}

// Complete reports whether the result carries a BrandProfile.
func (r Result) Complete() bool {
	return r.Status == StatusOK && r.Profile != nil
}

// MalformedPayloadError describes a structured block that failed to decode.
type MalformedPayloadError struct {
	Format Format
	Reason string
	Err    error
}

func (e *MalformedPayloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s payload: %s: %v", e.Format, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed %s payload: %s", e.Format, e.Reason)
}

func (e *MalformedPayloadError) Unwrap() error {
	return e.Err
}

// FindBlock returns the first fenced code block whose info string names a
// structured format (json, yaml or yml), in document order. Untagged blocks
// and blocks in other languages are skipped.
func FindBlock(src string) (*Block, bool) {
	source := []byte(src)
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))

	var found *Block
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fence, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		format, ok := formatFor(string(fence.Language(source)))
		if !ok {
			return ast.WalkSkipChildren, nil
		}

		var payload bytes.Buffer
		lines := fence.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			payload.Write(seg.Value(source))
		}
		found = &Block{Format: format, Payload: payload.String()}
		return ast.WalkStop, nil
	})
	return found, found != nil
}

func formatFor(lang string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "json":
		return FormatJSON, true
	case "yaml", "yml":
		return FormatYAML, true
	default:
		return "", false
	}
}

// Extract scans assistant output for a structured block and converts it into
// a BrandProfile. It never returns an error: a missing or partial block is
// StatusIncomplete, an undecodable one is StatusMalformed.
func Extract(src string) Result {
	block, ok := FindBlock(src)
	if !ok {
		return Result{Status: StatusIncomplete}
	}

	fields, err := decodeMapping(block)
	if err != nil {
		return Result{Status: StatusMalformed, Block: block, Err: err}
	}

	if missing := missingFields(fields); len(missing) > 0 {
		return Result{Status: StatusIncomplete, Block: block, Missing: missing}
	}

	profile, err := toProfile(block.Format, fields)
	if err != nil {
		return Result{Status: StatusMalformed, Block: block, Err: err}
	}
	return Result{Status: StatusOK, Block: block, Profile: profile}
}

func decodeMapping(block *Block) (map[string]any, error) {
	var fields map[string]any
	switch block.Format {
	case FormatYAML:
		if err := yaml.Unmarshal([]byte(block.Payload), &fields); err != nil {
			return nil, &MalformedPayloadError{Format: block.Format, Reason: "decode", Err: err}
		}
	default:
		if err := json.Unmarshal([]byte(block.Payload), &fields); err != nil {
			return nil, &MalformedPayloadError{Format: block.Format, Reason: "decode", Err: err}
		}
	}
	if fields == nil {
		return nil, &MalformedPayloadError{Format: block.Format, Reason: "payload is not a mapping"}
	}
	return fields, nil
}

// missingFields treats absent and null keys alike, and a blank brand_name as absent.
func missingFields(fields map[string]any) []string {
	var missing []string
	for _, f := range RequiredFields {
		v, ok := fields[f.Name]
		if !ok || v == nil {
			missing = append(missing, f.Name)
			continue
		}
		if f.Name == "brand_name" {
			if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
				missing = append(missing, f.Name)
			}
		}
	}
	return missing
}

// toProfile re-encodes the generic mapping through encoding/json so yaml and
// json payloads share one set of type checks.
func toProfile(format Format, fields map[string]any) (*domain.BrandProfile, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, &MalformedPayloadError{Format: format, Reason: "re-encode", Err: err}
	}

	var profile domain.BrandProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, &MalformedPayloadError{Format: format, Reason: "field types", Err: err}
	}

	for i, s := range profile.SocialMedia {
		if strings.TrimSpace(s.Platform) == "" || strings.TrimSpace(s.Handle) == "" {
			return nil, &MalformedPayloadError{
				Format: format,
				Reason: fmt.Sprintf("social_media[%d] needs both platform and handle", i),
			}
		}
	}
	if profile.SocialMedia == nil {
		profile.SocialMedia = []domain.SocialHandle{}
	}
	if profile.KeyTerms == nil {
		profile.KeyTerms = []string{}
	}
	return &profile, nil
}
