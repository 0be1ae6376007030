package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kalambet/zenflow/internal/advisor"
	"github.com/kalambet/zenflow/internal/session"
	"github.com/kalambet/zenflow/internal/storage"
	"github.com/kalambet/zenflow/internal/usage"
)

// --- mock stages ---

type mockRecommender struct {
	fn func(ctx context.Context, schedule string) (advisor.Recommendation, error)
}

func (m *mockRecommender) Recommend(ctx context.Context, schedule string) (advisor.Recommendation, error) {
	return m.fn(ctx, schedule)
}

type mockIllustrator struct {
	calls int
	fn    func(ctx context.Context, pose string) (advisor.Image, error)
}

func (m *mockIllustrator) Illustrate(ctx context.Context, pose string) (advisor.Image, error) {
	m.calls++
	return m.fn(ctx, pose)
}

type mockVideoFinder struct {
	calls int
	fn    func(ctx context.Context, flow string) (advisor.VideoResult, error)
}

func (m *mockVideoFinder) FindVideos(ctx context.Context, flow string) (advisor.VideoResult, error) {
	m.calls++
	return m.fn(ctx, flow)
}

var restorative = advisor.Recommendation{
	BusynessLevel:   advisor.Busy,
	RecommendedFlow: "Restorative Yoga",
	Reasoning:       "...",
	SamplePose:      "Child's Pose",
}

const busySchedule = "9:00 AM - 10:00 AM: Standup\n10:00 AM - 11:00 AM: Planning\n11:00 AM - 12:00 PM: Review\n1:00 PM - 2:00 PM: 1:1"

type harness struct {
	db       *storage.Store
	sessions *session.Store
	gate     *usage.Gate
	rec      *mockRecommender
	ill      *mockIllustrator
	vids     *mockVideoFinder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sessions := session.NewStore(db)
	gate, err := usage.NewGate(sessions)
	require.NoError(t, err)

	return &harness{
		db:       db,
		sessions: sessions,
		gate:     gate,
		rec: &mockRecommender{fn: func(context.Context, string) (advisor.Recommendation, error) {
			return restorative, nil
		}},
		ill: &mockIllustrator{fn: func(_ context.Context, pose string) (advisor.Image, error) {
			return advisor.Image{MIMEType: "image/png", Data: []byte("png"), Prompt: pose}, nil
		}},
		vids: &mockVideoFinder{fn: func(context.Context, string) (advisor.VideoResult, error) {
			return advisor.VideoResult{
				Videos:  []advisor.Video{{Title: "Restore", Channel: "Yoga", VideoID: "aaaaaaaaaaa"}},
				Sources: []advisor.Source{{URI: "https://youtube.com", Title: "youtube.com"}},
			}, nil
		}},
	}
}

func (h *harness) pipeline(concurrent bool) *Pipeline {
	return New(Deps{
		Recommender: h.rec,
		Illustrator: h.ill,
		VideoFinder: h.vids,
		Images:      h.db,
		Snapshots:   h.sessions,
		Gate:        h.gate,
	}, concurrent)
}

func TestRun_AllStagesSucceed(t *testing.T) {
	for _, concurrent := range []bool{false, true} {
		t.Run(fmt.Sprintf("concurrent=%v", concurrent), func(t *testing.T) {
			h := newHarness(t)
			res, err := h.pipeline(concurrent).Run(context.Background(), busySchedule)
			require.NoError(t, err)

			require.Equal(t, restorative, res.Snapshot.Recommendation)
			require.Equal(t, 50, res.Snapshot.BusynessScore)
			require.NotEmpty(t, res.Snapshot.ImageHandle)
			require.Len(t, res.Snapshot.Videos, 1)
			require.Len(t, res.Snapshot.Sources, 1)
			require.False(t, res.Illustrate.Failed())
			require.False(t, res.Videos.Failed())
			require.Equal(t, 1, res.Usage.Count)

			saved, err := h.sessions.LoadSnapshot()
			require.NoError(t, err)
			require.Equal(t, res.Snapshot, saved)

			img, err := h.db.GetImage(saved.ImageHandle)
			require.NoError(t, err)
			require.Equal(t, []byte("png"), img.Data)
		})
	}
}

func TestRun_OptionalStagesFail(t *testing.T) {
	for _, concurrent := range []bool{false, true} {
		t.Run(fmt.Sprintf("concurrent=%v", concurrent), func(t *testing.T) {
			h := newHarness(t)
			h.ill.fn = func(context.Context, string) (advisor.Image, error) {
				return advisor.Image{}, errors.New("gemini api error: image quota")
			}
			h.vids.fn = func(context.Context, string) (advisor.VideoResult, error) {
				return advisor.VideoResult{}, errors.New("gemini api error: search failed")
			}

			res, err := h.pipeline(concurrent).Run(context.Background(), busySchedule)
			require.NoError(t, err)

			require.Equal(t, restorative, res.Snapshot.Recommendation)
			require.Empty(t, res.Snapshot.ImageHandle)
			require.Nil(t, res.Image)
			require.NotNil(t, res.Snapshot.Videos)
			require.Empty(t, res.Snapshot.Videos)
			require.Equal(t, 1, res.Usage.Count)
			require.Equal(t, 1, h.gate.State().Count)

			// Both stages ran even though the other failed.
			require.Equal(t, 1, h.ill.calls)
			require.Equal(t, 1, h.vids.calls)
			require.EqualError(t, res.Illustrate.Err, "gemini api error: image quota")
			require.Equal(t, NoticeImageFailed, res.Illustrate.Notice)
			require.Equal(t, NoticeVideosFailed, res.Videos.Notice)

			saved, err := h.sessions.LoadSnapshot()
			require.NoError(t, err)
			require.Equal(t, restorative, saved.Recommendation)
			require.Empty(t, saved.ImageHandle)
			require.Empty(t, saved.Videos)
		})
	}
}

func TestRun_RecommendFailureLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sessions.SetUsageCount(1))
	gate, err := usage.NewGate(h.sessions)
	require.NoError(t, err)
	h.gate = gate

	h.rec.fn = func(context.Context, string) (advisor.Recommendation, error) {
		return advisor.Recommendation{}, errors.New("gemini api error: API key not valid")
	}

	_, err = h.pipeline(true).Run(context.Background(), busySchedule)
	require.EqualError(t, err, "gemini api error: API key not valid")
	require.Equal(t, "gemini api error: API key not valid", UserMessage(err))

	ok, err := h.sessions.HasSnapshot()
	require.NoError(t, err)
	require.False(t, ok)

	n, err := h.sessions.UsageCount()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 0, h.ill.calls)
	require.Equal(t, 0, h.vids.calls)
}

func TestRun_VideoFormatNotice(t *testing.T) {
	h := newHarness(t)
	h.vids.fn = func(context.Context, string) (advisor.VideoResult, error) {
		return advisor.VideoResult{Videos: []advisor.Video{}, Sources: []advisor.Source{}},
			fmt.Errorf("%w: model did not return a JSON array", advisor.ErrVideoFormat)
	}

	res, err := h.pipeline(false).Run(context.Background(), busySchedule)
	require.NoError(t, err)
	require.Equal(t, NoticeVideoFormat, res.Videos.Notice)
	require.Empty(t, res.Snapshot.Videos)
}

func TestRun_ZeroVideosIsNotAFailure(t *testing.T) {
	h := newHarness(t)
	h.vids.fn = func(context.Context, string) (advisor.VideoResult, error) {
		return advisor.VideoResult{Videos: []advisor.Video{}, Sources: []advisor.Source{}}, nil
	}

	res, err := h.pipeline(false).Run(context.Background(), busySchedule)
	require.NoError(t, err)
	require.False(t, res.Videos.Failed())
	require.Empty(t, res.Videos.Notice)
	require.Empty(t, res.Snapshot.Videos)
}

func TestRun_SkipsStagesForEmptyFields(t *testing.T) {
	h := newHarness(t)
	h.rec.fn = func(context.Context, string) (advisor.Recommendation, error) {
		return advisor.Recommendation{BusynessLevel: advisor.Relaxed, Reasoning: "open day"}, nil
	}

	res, err := h.pipeline(true).Run(context.Background(), busySchedule)
	require.NoError(t, err)
	require.True(t, res.Illustrate.Skipped)
	require.True(t, res.Videos.Skipped)
	require.Equal(t, 0, h.ill.calls)
	require.Equal(t, 0, h.vids.calls)
	require.Equal(t, 1, res.Usage.Count)
}

func TestRun_OverwritesPreviousSnapshotAndPrunesImages(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline(false)

	first, err := p.Run(context.Background(), busySchedule)
	require.NoError(t, err)
	second, err := p.Run(context.Background(), "14:00 Gym")
	require.NoError(t, err)
	require.NotEqual(t, first.Snapshot.ImageHandle, second.Snapshot.ImageHandle)

	saved, err := h.sessions.LoadSnapshot()
	require.NoError(t, err)
	require.Equal(t, "14:00 Gym", saved.ScheduleText)
	require.Equal(t, 2, h.gate.State().Count)

	_, err = h.db.GetImage(first.Snapshot.ImageHandle)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRun_CancelledSkipsWrites(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.vids.fn = func(context.Context, string) (advisor.VideoResult, error) {
		cancel()
		return advisor.VideoResult{}, context.Canceled
	}

	_, err := h.pipeline(false).Run(ctx, busySchedule)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, MessageCancelled, UserMessage(err))

	ok, err := h.sessions.HasSnapshot()
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, h.gate.State().Count)
}

func TestRun_RejectsReentry(t *testing.T) {
	h := newHarness(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	h.rec.fn = func(context.Context, string) (advisor.Recommendation, error) {
		close(entered)
		<-release
		return restorative, nil
	}
	p := h.pipeline(true)

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = p.Run(context.Background(), busySchedule)
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first run did not start")
	}
	require.True(t, p.Running())

	_, err := p.Run(context.Background(), busySchedule)
	require.ErrorIs(t, err, ErrInFlight)

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)
	require.False(t, p.Running())
	require.Equal(t, 1, h.gate.State().Count)
}

func TestAnalyze_Preconditions(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline(false)

	_, err := p.Analyze(context.Background(), "  \n ")
	require.ErrorIs(t, err, ErrEmptySchedule)
	require.Equal(t, MessageEmpty, UserMessage(err))

	for i := 0; i < usage.Limit; i++ {
		_, err := p.Analyze(context.Background(), busySchedule)
		require.NoError(t, err)
	}

	_, err = p.Analyze(context.Background(), busySchedule)
	require.ErrorIs(t, err, ErrLimitReached)
	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	require.Equal(t, usage.Limit, limitErr.State.Count)
	require.Equal(t, MessageLimit, UserMessage(err))

	_, err = h.gate.GrantSubscription()
	require.NoError(t, err)
	_, err = p.Analyze(context.Background(), busySchedule)
	require.NoError(t, err)
}

func TestUserMessage(t *testing.T) {
	require.Equal(t, "", UserMessage(nil))
	require.Equal(t, MessageInFlight, UserMessage(ErrInFlight))
	require.Equal(t, MessageTimeout, UserMessage(fmt.Errorf("gemini request: %w", context.DeadlineExceeded)))
	require.Equal(t, MessageUnknown, UserMessage(errors.New("")))
	require.Equal(t, "gemini api error: boom", UserMessage(errors.New("gemini api error: boom")))
}

// pausingGate blocks inside the first CanProceed call after it has answered.
type pausingGate struct {
	*usage.Gate
	once    sync.Once
	checked chan struct{}
	release chan struct{}
}

func (g *pausingGate) CanProceed() bool {
	ok := g.Gate.CanProceed()
	g.once.Do(func() {
		close(g.checked)
		<-g.release
	})
	return ok
}

func TestAnalyze_UsageCheckHoldsRunSlot(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < usage.Limit-1; i++ {
		_, err := h.gate.RecordUsage()
		require.NoError(t, err)
	}
	gate := &pausingGate{Gate: h.gate, checked: make(chan struct{}), release: make(chan struct{})}
	p := New(Deps{
		Recommender: h.rec,
		Illustrator: h.ill,
		VideoFinder: h.vids,
		Images:      h.db,
		Snapshots:   h.sessions,
		Gate:        gate,
	}, true)

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = p.Analyze(context.Background(), busySchedule)
	}()

	select {
	case <-gate.checked:
	case <-time.After(5 * time.Second):
		t.Fatal("first request never reached the usage check")
	}
	_, err := p.Analyze(context.Background(), busySchedule)
	require.ErrorIs(t, err, ErrInFlight)

	close(gate.release)
	wg.Wait()
	require.NoError(t, firstErr)

	_, err = p.Analyze(context.Background(), busySchedule)
	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	require.Equal(t, usage.Limit, h.gate.State().Count)
}

type failingSnapshots struct{ err error }

func (f failingSnapshots) SaveSnapshot(session.Snapshot) error { return f.err }

func TestRun_FailedSnapshotChargesNothing(t *testing.T) {
	h := newHarness(t)
	p := New(Deps{
		Recommender: h.rec,
		Illustrator: h.ill,
		VideoFinder: h.vids,
		Images:      h.db,
		Snapshots:   failingSnapshots{err: errors.New("disk full")},
		Gate:        h.gate,
	}, false)

	_, err := p.Analyze(context.Background(), busySchedule)
	require.EqualError(t, err, "disk full")
	require.Zero(t, h.gate.State().Count)

	n, err := h.sessions.UsageCount()
	require.NoError(t, err)
	require.Zero(t, n)

	// The image stored for the run was discarded, so nothing is left to prune.
	pruned, err := h.db.PruneImages("")
	require.NoError(t, err)
	require.Zero(t, pruned)
}
