package jsoncfg

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// GenerationInput is the request contract persisted with every job. It is
// immutable once the job is created.
type GenerationInput struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	SourceImage    string  `json:"source_image,omitempty"`
	Duration       int     `json:"duration,omitempty"`
	FPS            int     `json:"fps,omitempty"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	Style          string  `json:"style,omitempty"`
	AspectRatio    string  `json:"aspect_ratio,omitempty"`
	CFGScale       float64 `json:"cfg_scale,omitempty"`
}

const (
	// MinPromptLength is the shortest prompt accepted for text-sourced jobs.
	MinPromptLength = 10
	// MinDuration and MaxDuration bound the requested clip length in seconds.
	MinDuration = 2
	MaxDuration = 10
	// DefaultDuration is applied when the request omits the duration.
	DefaultDuration = 4
	// DefaultFPS is applied when the request omits the frame rate.
	DefaultFPS = 24
	// MaxFPS caps the frame rate sent to frame-based models.
	MaxFPS = 60
	// DefaultWidth and DefaultHeight are used by frame-based models.
	DefaultWidth  = 768
	DefaultHeight = 768
	// MaxPromptLength guards the provider against oversized prompts.
	MaxPromptLength = 2000
)

var allowedStyles = map[string]struct{}{
	"realistic": {},
	"cinematic": {},
	"anime":     {},
	"cartoon":   {},
}

// Normalize fills server defaults. It never rejects input; Validate does.
func (in *GenerationInput) Normalize() {
	if in == nil {
		return
	}
	in.Prompt = strings.TrimSpace(in.Prompt)
	in.NegativePrompt = strings.TrimSpace(in.NegativePrompt)
	in.SourceImage = strings.TrimSpace(in.SourceImage)
	in.Style = strings.ToLower(strings.TrimSpace(in.Style))
	in.AspectRatio = strings.TrimSpace(in.AspectRatio)
	if in.Duration == 0 {
		in.Duration = DefaultDuration
	}
	if in.FPS <= 0 {
		in.FPS = DefaultFPS
	}
	if in.FPS > MaxFPS {
		in.FPS = MaxFPS
	}
	if in.Width <= 0 {
		in.Width = DefaultWidth
	}
	if in.Height <= 0 {
		in.Height = DefaultHeight
	}
}

// Validate checks the normalized input for the given job kind ("text" or
// "image"). The returned error names the offending field.
func (in GenerationInput) Validate(kind string) error {
	switch kind {
	case "text":
		if len([]rune(in.Prompt)) < MinPromptLength {
			return fieldError("prompt", fmt.Sprintf("must be at least %d characters long", MinPromptLength))
		}
	case "image":
		if in.SourceImage == "" {
			return fieldError("source_image", "is required for image-sourced jobs")
		}
		if !isHTTPURL(in.SourceImage) && !strings.HasPrefix(in.SourceImage, "data:image/") {
			return fieldError("source_image", "must be an http(s) URL or an image data URL")
		}
	default:
		return fieldError("kind", "must be one of text, image")
	}
	if len([]rune(in.Prompt)) > MaxPromptLength {
		return fieldError("prompt", fmt.Sprintf("must be at most %d characters long", MaxPromptLength))
	}
	if in.Duration < MinDuration || in.Duration > MaxDuration {
		return fieldError("duration", fmt.Sprintf("must be between %d and %d seconds", MinDuration, MaxDuration))
	}
	if in.Style != "" {
		if _, ok := allowedStyles[in.Style]; !ok {
			return fieldError("style", "must be one of realistic, cinematic, anime, cartoon")
		}
	}
	if in.CFGScale < 0 || in.CFGScale > 1 {
		return fieldError("cfg_scale", "must be between 0 and 1")
	}
	return nil
}

// FieldError reports which input field failed validation.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + " " + e.Message
}

func fieldError(field, msg string) error {
	return &FieldError{Field: field, Message: msg}
}

// ValidateCallbackURL accepts an empty value or an absolute http(s) URL.
func ValidateCallbackURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	if !isHTTPURL(raw) {
		return fieldError("callback_url", "must be an absolute http(s) URL")
	}
	return nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("json marshal: %w", err))
	}
	return b
}
