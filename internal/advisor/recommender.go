// Package advisor turns schedules into yoga recommendations using a
// generative backend: a structured recommendation, a pose illustration and
// a verified list of practice videos.
package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/zenflow/internal/gemini"
)

// ContentGenerator is the text side of the backend.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, req gemini.GenerateRequest) (*gemini.GenerateResponse, error)
}

// ImageGenerator is the image side of the backend.
type ImageGenerator interface {
	GenerateImages(ctx context.Context, model, prompt string, opts gemini.ImageOptions) ([]gemini.GeneratedImage, error)
}

// Recommender produces a Recommendation for a schedule.
type Recommender struct {
	gen   ContentGenerator
	model string
}

// NewRecommender returns a Recommender that calls model through gen.
func NewRecommender(gen ContentGenerator, model string) *Recommender {
	return &Recommender{gen: gen, model: model}
}

// recommendationRecord detects fields the model left out.
type recommendationRecord struct {
	BusynessLevel   *string `json:"busynessLevel"`
	RecommendedFlow *string `json:"recommendedFlow"`
	Reasoning       *string `json:"reasoning"`
	SamplePose      *string `json:"samplePose"`
}

// Recommend asks the backend for a structured recommendation. Backend errors
// are returned with their message intact; a response missing any field or
// carrying an unknown busyness level is an error.
func (r *Recommender) Recommend(ctx context.Context, schedule string) (Recommendation, error) {
	resp, err := r.gen.GenerateContent(ctx, r.model, gemini.GenerateRequest{
		Contents: []gemini.Content{gemini.UserText(RecommendPrompt(schedule))},
		GenerationConfig: &gemini.GenerationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   recommendationSchema(),
		},
	})
	if err != nil {
		return Recommendation{}, err
	}
	return ParseRecommendation(resp.Text())
}

// ParseRecommendation decodes and validates a recommendation JSON object.
func ParseRecommendation(raw string) (Recommendation, error) {
	var rec recommendationRecord
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &rec); err != nil {
		return Recommendation{}, fmt.Errorf("malformed recommendation: %w", err)
	}

	var missing []string
	if rec.BusynessLevel == nil {
		missing = append(missing, "busynessLevel")
	}
	if rec.RecommendedFlow == nil {
		missing = append(missing, "recommendedFlow")
	}
	if rec.Reasoning == nil {
		missing = append(missing, "reasoning")
	}
	if rec.SamplePose == nil {
		missing = append(missing, "samplePose")
	}
	if len(missing) > 0 {
		return Recommendation{}, fmt.Errorf("malformed recommendation: missing %s", strings.Join(missing, ", "))
	}

	out := Recommendation{
		BusynessLevel:   BusynessLevel(*rec.BusynessLevel),
		RecommendedFlow: strings.TrimSpace(*rec.RecommendedFlow),
		Reasoning:       strings.TrimSpace(*rec.Reasoning),
		SamplePose:      strings.TrimSpace(*rec.SamplePose),
	}
	if err := out.Validate(); err != nil {
		return Recommendation{}, fmt.Errorf("malformed recommendation: %w", err)
	}
	return out, nil
}

// Illustrator renders a pose as a single square image.
type Illustrator struct {
	gen   ImageGenerator
	model string
}

// NewIllustrator returns an Illustrator that calls model through gen.
func NewIllustrator(gen ImageGenerator, model string) *Illustrator {
	return &Illustrator{gen: gen, model: model}
}

// Illustrate generates one square PNG of pose.
func (i *Illustrator) Illustrate(ctx context.Context, pose string) (Image, error) {
	prompt := PosePrompt(pose)
	imgs, err := i.gen.GenerateImages(ctx, i.model, prompt, gemini.ImageOptions{
		NumberOfImages: 1,
		MIMEType:       "image/png",
		AspectRatio:    "1:1",
	})
	if err != nil {
		return Image{}, err
	}
	if len(imgs) == 0 || len(imgs[0].Data) == 0 {
		return Image{}, fmt.Errorf("no image was generated")
	}
	return Image{MIMEType: imgs[0].MIMEType, Data: imgs[0].Data, Prompt: prompt}, nil
}
