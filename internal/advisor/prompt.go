package advisor

import (
	"fmt"

	"github.com/kalambet/zenflow/internal/gemini"
)

const recommendPromptTemplate = `You are a yoga and wellness expert. Analyze the provided calendar schedule to determine its busyness level.
Based on the busyness, recommend a suitable yoga flow.
- If the day is packed with back-to-back meetings and activities, it's a 'Busy' day. Recommend a restorative or yin yoga flow to help de-stress and relax.
- If the day has a mix of meetings and free time, it's a 'Moderate' day. Recommend a balanced hatha or gentle flow.
- If the day is mostly open with few commitments, it's a 'Relaxed' day. Recommend an energetic vinyasa or power yoga flow to build energy and strength.

Provide a brief reasoning for your recommendation and suggest one sample pose from the recommended flow.
The user's calendar is:
---
%s
---`

const posePromptTemplate = `A serene, minimalist digital art illustration of a person doing the %s yoga pose. The person should be gender-neutral. The background should be a solid, calming, soft green color. The style should be clean, modern, and peaceful.`

const videoPromptTemplate = `You are a helpful yoga assistant.
1. Use Google Search to find %d popular, free, and highly-rated yoga flow videos on YouTube for a "%s" practice.
2. From the real search results, extract the video title, channel name, and the correct 11-character YouTube video ID. Do not invent video IDs.

Return ONLY a single, minified JSON array of objects. Each object must have "title", "channel", and "videoId" keys.`

const verifyPromptTemplate = `Use Google Search to check whether the YouTube video with ID "%s" (title: "%s", channel: "%s") is currently public and playable.
Answer with exactly one line: AVAILABLE if it is, or UNAVAILABLE: <reason> if it is private, removed, deleted, or otherwise unavailable.`

// RecommendPrompt builds the recommend-stage prompt for a schedule.
func RecommendPrompt(schedule string) string {
	return fmt.Sprintf(recommendPromptTemplate, schedule)
}

// PosePrompt builds the image prompt for a pose name.
func PosePrompt(pose string) string {
	return fmt.Sprintf(posePromptTemplate, pose)
}

func videoPrompt(flow string, n int) string {
	return fmt.Sprintf(videoPromptTemplate, n, flow)
}

func verifyPrompt(v Video) string {
	return fmt.Sprintf(verifyPromptTemplate, v.VideoID, v.Title, v.Channel)
}

// recommendationSchema constrains the recommend-stage response.
func recommendationSchema() *gemini.Schema {
	levels := make([]string, len(Levels))
	for i, l := range Levels {
		levels[i] = string(l)
	}
	return &gemini.Schema{
		Type: gemini.TypeObject,
		Properties: map[string]*gemini.Schema{
			"busynessLevel": {
				Type:        gemini.TypeString,
				Enum:        levels,
				Description: "The assessed busyness level of the calendar.",
			},
			"recommendedFlow": {
				Type:        gemini.TypeString,
				Description: "The name of the recommended yoga flow (e.g., 'Restorative Yoga').",
			},
			"reasoning": {
				Type:        gemini.TypeString,
				Description: "A brief explanation for why this flow was recommended based on the calendar.",
			},
			"samplePose": {
				Type:        gemini.TypeString,
				Description: "The name of a single, representative yoga pose from the recommended flow (e.g., 'Child's Pose').",
			},
		},
		Required: []string{"busynessLevel", "recommendedFlow", "reasoning", "samplePose"},
	}
}
