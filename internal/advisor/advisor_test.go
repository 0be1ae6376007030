package advisor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kalambet/zenflow/internal/gemini"
)

type mockGenerator struct {
	mu       sync.Mutex
	requests []gemini.GenerateRequest
	fn       func(req gemini.GenerateRequest) (*gemini.GenerateResponse, error)
}

func (m *mockGenerator) GenerateContent(_ context.Context, _ string, req gemini.GenerateRequest) (*gemini.GenerateResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return m.fn(req)
}

type mockImager struct {
	fn func(prompt string, opts gemini.ImageOptions) ([]gemini.GeneratedImage, error)
}

func (m *mockImager) GenerateImages(_ context.Context, _, prompt string, opts gemini.ImageOptions) ([]gemini.GeneratedImage, error) {
	return m.fn(prompt, opts)
}

type mockVerifier struct {
	fn func(v Video) (string, error)
}

func (m *mockVerifier) Verify(_ context.Context, v Video) (string, error) {
	return m.fn(v)
}

func textResponse(text string, sources ...gemini.WebChunk) *gemini.GenerateResponse {
	c := gemini.Candidate{Content: gemini.Content{Parts: []gemini.Part{{Text: text}}}}
	if len(sources) > 0 {
		md := &gemini.GroundingMetadata{}
		for i := range sources {
			md.GroundingChunks = append(md.GroundingChunks, gemini.GroundingChunk{Web: &sources[i]})
		}
		c.GroundingMetadata = md
	}
	return &gemini.GenerateResponse{Candidates: []gemini.Candidate{c}}
}

func promptOf(req gemini.GenerateRequest) string {
	return req.Contents[0].Parts[0].Text
}

// --- Recommender ---

func TestRecommend_StructuredRequest(t *testing.T) {
	gen := &mockGenerator{fn: func(req gemini.GenerateRequest) (*gemini.GenerateResponse, error) {
		return textResponse(`{"busynessLevel":"Busy","recommendedFlow":"Restorative Yoga","reasoning":"Back to back meetings.","samplePose":"Child's Pose"}`), nil
	}}
	rec, err := NewRecommender(gen, "gemini-2.5-flash").Recommend(context.Background(), "9:00 Standup")
	require.NoError(t, err)
	require.Equal(t, Recommendation{
		BusynessLevel:   Busy,
		RecommendedFlow: "Restorative Yoga",
		Reasoning:       "Back to back meetings.",
		SamplePose:      "Child's Pose",
	}, rec)

	req := gen.requests[0]
	require.Contains(t, promptOf(req), "9:00 Standup")
	require.NotNil(t, req.GenerationConfig)
	require.Equal(t, "application/json", req.GenerationConfig.ResponseMIMEType)
	schema := req.GenerationConfig.ResponseSchema
	require.Equal(t, []string{"Busy", "Moderate", "Relaxed"}, schema.Properties["busynessLevel"].Enum)
	require.Len(t, schema.Required, 4)
	require.Empty(t, req.Tools)
}

func TestRecommend_BackendErrorPreserved(t *testing.T) {
	gen := &mockGenerator{fn: func(gemini.GenerateRequest) (*gemini.GenerateResponse, error) {
		return nil, errors.New("gemini api error: quota exceeded")
	}}
	_, err := NewRecommender(gen, "m").Recommend(context.Background(), "x")
	require.EqualError(t, err, "gemini api error: quota exceeded")
}

func TestParseRecommendation_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"not json", "sure! here you go", "malformed recommendation"},
		{"missing field", `{"busynessLevel":"Busy","recommendedFlow":"Yin","reasoning":"r"}`, "missing samplePose"},
		{"bad enum", `{"busynessLevel":"Hectic","recommendedFlow":"Yin","reasoning":"r","samplePose":"p"}`, "invalid busynessLevel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRecommendation(tt.raw)
			require.ErrorContains(t, err, tt.want)
		})
	}
}

// --- Illustrator ---

func TestIllustrate(t *testing.T) {
	var gotPrompt string
	var gotOpts gemini.ImageOptions
	img := &mockImager{fn: func(prompt string, opts gemini.ImageOptions) ([]gemini.GeneratedImage, error) {
		gotPrompt, gotOpts = prompt, opts
		return []gemini.GeneratedImage{{MIMEType: "image/png", Data: []byte{1, 2}}}, nil
	}}
	out, err := NewIllustrator(img, "imagen").Illustrate(context.Background(), "Child's Pose")
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2}, out.Data)
	require.Contains(t, gotPrompt, "Child's Pose yoga pose")
	require.Contains(t, gotPrompt, "soft green")
	require.Equal(t, gemini.ImageOptions{NumberOfImages: 1, MIMEType: "image/png", AspectRatio: "1:1"}, gotOpts)
}

func TestIllustrate_Empty(t *testing.T) {
	img := &mockImager{fn: func(string, gemini.ImageOptions) ([]gemini.GeneratedImage, error) {
		return nil, nil
	}}
	_, err := NewIllustrator(img, "imagen").Illustrate(context.Background(), "Tree Pose")
	require.ErrorContains(t, err, "no image was generated")
}

// --- Videos ---

const threeVideos = "Here you go:\n```json\n" +
	`[{"title":"Yin for stress","channel":"A","videoId":"aaaaaaaaaaa"},` +
	`{"title":"Gentle yin","channel":"B","videoId":"bbbbbbbbbbb"},` +
	`{"title":"Deep yin","channel":"C","videoId":"ccccccccccc"}]` + "\n```"

func TestFindVideos_TwoOfThreeUnavailable(t *testing.T) {
	gen := &mockGenerator{fn: func(gemini.GenerateRequest) (*gemini.GenerateResponse, error) {
		return textResponse(threeVideos, gemini.WebChunk{URI: "https://youtube.com", Title: "youtube.com"}), nil
	}}
	verifier := &mockVerifier{fn: func(v Video) (string, error) {
		if v.VideoID == "bbbbbbbbbbb" {
			return "AVAILABLE", nil
		}
		return "UNAVAILABLE: this video is private", nil
	}}

	res, err := NewVideoFinder(gen, "m", verifier, 3).FindVideos(context.Background(), "Yin Yoga")
	require.NoError(t, err)
	require.Len(t, res.Videos, 1)
	require.Equal(t, "bbbbbbbbbbb", res.Videos[0].VideoID)
	require.Equal(t, []Source{{URI: "https://youtube.com", Title: "youtube.com"}}, res.Sources)

	req := gen.requests[0]
	require.Contains(t, promptOf(req), `"Yin Yoga"`)
	require.Len(t, req.Tools, 1)
	require.NotNil(t, req.Tools[0].GoogleSearch)
	require.Equal(t, 0, req.GenerationConfig.ThinkingConfig.ThinkingBudget)
}

func TestFindVideos_NoSurvivorsIsSuccess(t *testing.T) {
	gen := &mockGenerator{fn: func(gemini.GenerateRequest) (*gemini.GenerateResponse, error) {
		return textResponse(threeVideos), nil
	}}
	verifier := &mockVerifier{fn: func(Video) (string, error) { return "This video has been removed", nil }}

	res, err := NewVideoFinder(gen, "m", verifier, 3).FindVideos(context.Background(), "Yin Yoga")
	require.NoError(t, err)
	require.NotNil(t, res.Videos)
	require.Empty(t, res.Videos)
	require.NotNil(t, res.Sources)
}

func TestFindVideos_VerificationErrorKeepsCandidate(t *testing.T) {
	gen := &mockGenerator{fn: func(gemini.GenerateRequest) (*gemini.GenerateResponse, error) {
		return textResponse(threeVideos), nil
	}}
	verifier := &mockVerifier{fn: func(v Video) (string, error) {
		if v.VideoID == "aaaaaaaaaaa" {
			return "", errors.New("timeout")
		}
		return "deleted", nil
	}}

	res, err := NewVideoFinder(gen, "m", verifier, 3).FindVideos(context.Background(), "Yin Yoga")
	require.NoError(t, err)
	require.Len(t, res.Videos, 1)
	require.Equal(t, "aaaaaaaaaaa", res.Videos[0].VideoID)
}

func TestFindVideos_FormatProblem(t *testing.T) {
	for _, text := range []string{"I could not find any videos.", "[{not json}]"} {
		gen := &mockGenerator{fn: func(gemini.GenerateRequest) (*gemini.GenerateResponse, error) {
			return textResponse(text), nil
		}}
		res, err := NewVideoFinder(gen, "m", nil, 3).FindVideos(context.Background(), "Yin Yoga")
		require.ErrorIs(t, err, ErrVideoFormat, "text %q", text)
		require.Empty(t, res.Videos)
	}
}

func TestFindVideos_BackendError(t *testing.T) {
	gen := &mockGenerator{fn: func(gemini.GenerateRequest) (*gemini.GenerateResponse, error) {
		return nil, errors.New("gemini api error: unavailable")
	}}
	_, err := NewVideoFinder(gen, "m", nil, 3).FindVideos(context.Background(), "Yin Yoga")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrVideoFormat))
}

func TestFindVideos_ScreensIDsAndCaps(t *testing.T) {
	raw := `[{"title":"short","channel":"x","videoId":"abc"},` +
		`{"title":"one","channel":"x","videoId":"11111111111"},` +
		`{"title":"dup","channel":"x","videoId":"11111111111"},` +
		`{"title":"two","channel":"x","videoId":"22222222222"},` +
		`{"title":"three","channel":"x","videoId":"33333333333"}]`
	gen := &mockGenerator{fn: func(gemini.GenerateRequest) (*gemini.GenerateResponse, error) {
		return textResponse(raw), nil
	}}

	res, err := NewVideoFinder(gen, "m", nil, 2).FindVideos(context.Background(), "Power Yoga")
	require.NoError(t, err)
	require.Len(t, res.Videos, 2)
	require.Equal(t, "11111111111", res.Videos[0].VideoID)
	require.Equal(t, "22222222222", res.Videos[1].VideoID)
}

func fiveVideos() string {
	var items []string
	for _, id := range []string{"11111111111", "22222222222", "33333333333", "44444444444", "55555555555"} {
		items = append(items, `{"title":"t","channel":"c","videoId":"`+id+`"}`)
	}
	return "[" + strings.Join(items, ",") + "]"
}

func TestFindVideos_CapAppliesAfterVerification(t *testing.T) {
	gen := &mockGenerator{fn: func(gemini.GenerateRequest) (*gemini.GenerateResponse, error) {
		return textResponse(fiveVideos()), nil
	}}
	gone := map[string]bool{"11111111111": true, "22222222222": true, "33333333333": true}
	verifier := &mockVerifier{fn: func(v Video) (string, error) {
		if gone[v.VideoID] {
			return "UNAVAILABLE", nil
		}
		return "AVAILABLE", nil
	}}

	res, err := NewVideoFinder(gen, "m", verifier, 3).FindVideos(context.Background(), "Vinyasa")
	require.NoError(t, err)
	require.Len(t, res.Videos, 2)
	require.Equal(t, "44444444444", res.Videos[0].VideoID)
	require.Equal(t, "55555555555", res.Videos[1].VideoID)
}

func TestFindVideos_VerificationCallsBounded(t *testing.T) {
	gen := &mockGenerator{fn: func(gemini.GenerateRequest) (*gemini.GenerateResponse, error) {
		return textResponse(fiveVideos()), nil
	}}
	var mu sync.Mutex
	calls := 0
	verifier := &mockVerifier{fn: func(Video) (string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return "AVAILABLE", nil
	}}

	res, err := NewVideoFinder(gen, "m", verifier, 2).FindVideos(context.Background(), "Vinyasa")
	require.NoError(t, err)
	require.Len(t, res.Videos, 2)
	require.Equal(t, "11111111111", res.Videos[0].VideoID)
	require.Equal(t, 4, calls)
}

func TestGroundedVerifier(t *testing.T) {
	gen := &mockGenerator{fn: func(req gemini.GenerateRequest) (*gemini.GenerateResponse, error) {
		return textResponse("AVAILABLE"), nil
	}}
	text, err := NewGroundedVerifier(gen, "m").Verify(context.Background(), Video{VideoID: "aaaaaaaaaaa", Title: "t", Channel: "c"})
	require.NoError(t, err)
	require.Equal(t, "AVAILABLE", text)
	require.True(t, strings.Contains(promptOf(gen.requests[0]), "aaaaaaaaaaa"))
}

func TestUnavailable(t *testing.T) {
	require.False(t, Unavailable("AVAILABLE"))
	require.True(t, Unavailable("Video unavailable"))
	require.True(t, Unavailable("This video is PRIVATE"))
	require.True(t, Unavailable("removed by uploader"))
}
