package video

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"vidgen/internal/domain"
	"vidgen/internal/domain/jsoncfg"
)

const (
	defaultInferenceSteps = 25
	defaultImagePrompt    = "A high quality video"
	defaultAspectRatio    = "16:9"
)

var (
	klingDurations    = []int{5, 10}
	klingAspectRatios = []string{"16:9", "9:16", "1:1"}

	styleSuffixes = map[string]string{
		"realistic": "ultra realistic, high detail, natural colors",
		"cinematic": "cinematic, dramatic lighting, film grain, shallow depth of field",
		"anime":     "anime style, vibrant colors, clean lines, cel shaded",
		"cartoon":   "cartoon style, bold outlines, flat colors, playful",
	}
)

// IsKling reports whether the model takes discrete durations and aspect
// ratios instead of frame counts.
func IsKling(model string) bool {
	return strings.Contains(cases.Lower(language.Und).String(model), "kling")
}

// ShapeInput maps generic generation options onto the parameter set the
// model accepts. Out-of-range values snap to the nearest allowed value.
func ShapeInput(model string, kind domain.JobKind, in jsoncfg.GenerationInput) map[string]any {
	prompt := StyledPrompt(in.Prompt, in.Style)
	out := map[string]any{}

	if kind == domain.JobKindImage {
		if prompt == "" {
			prompt = defaultImagePrompt
		}
		out["reference_images"] = []string{in.SourceImage}
	}
	out["prompt"] = prompt
	if in.NegativePrompt != "" {
		out["negative_prompt"] = in.NegativePrompt
	}

	if IsKling(model) {
		out["duration"] = SnapDuration(in.Duration)
		out["aspect_ratio"] = AspectRatio(in.AspectRatio, in.Width, in.Height)
		if in.CFGScale > 0 {
			out["cfg_scale"] = in.CFGScale
		}
		return out
	}

	out["num_inference_steps"] = defaultInferenceSteps
	if in.Duration > 0 && in.FPS > 0 {
		out["num_frames"] = in.Duration * in.FPS
	}
	if in.FPS > 0 {
		out["fps"] = in.FPS
	}
	if in.Width > 0 {
		out["width"] = in.Width
	}
	if in.Height > 0 {
		out["height"] = in.Height
	}
	return out
}

// StyledPrompt appends the style's keyword suffix to the prompt.
func StyledPrompt(prompt, style string) string {
	suffix, ok := styleSuffixes[cases.Fold().String(strings.TrimSpace(style))]
	if !ok || prompt == "" {
		return prompt
	}
	return prompt + ", " + suffix
}

// SnapDuration returns the allowed duration nearest to seconds. Ties go to
// the shorter clip.
func SnapDuration(seconds int) int {
	best := klingDurations[0]
	for _, d := range klingDurations[1:] {
		if abs(d-seconds) < abs(best-seconds) {
			best = d
		}
	}
	return best
}

// AspectRatio keeps an allowed ratio, otherwise derives one from the
// requested frame size, defaulting to 16:9.
func AspectRatio(requested string, width, height int) string {
	for _, ar := range klingAspectRatios {
		if requested == ar {
			return ar
		}
	}
	switch {
	case width <= 0 || height <= 0:
		return defaultAspectRatio
	case width > height:
		return "16:9"
	case width < height:
		return "9:16"
	default:
		return "1:1"
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
