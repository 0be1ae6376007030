package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/zenflow/internal/advisor"
	"github.com/kalambet/zenflow/internal/busyness"
	"github.com/kalambet/zenflow/internal/session"
	"github.com/kalambet/zenflow/internal/storage"
	"github.com/kalambet/zenflow/internal/usage"
)

type Recommender interface {
	Recommend(ctx context.Context, schedule string) (advisor.Recommendation, error)
}

type Illustrator interface {
	Illustrate(ctx context.Context, pose string) (advisor.Image, error)
}

type VideoFinder interface {
	FindVideos(ctx context.Context, flow string) (advisor.VideoResult, error)
}

// ImageStore keeps generated images and hands back a handle.
type ImageStore interface {
	SaveImage(img storage.Image) (string, error)
}

type imagePruner interface {
	PruneImages(keep string) (int64, error)
}

type imageDeleter interface {
	DeleteImage(handle string) error
}

type SnapshotStore interface {
	SaveSnapshot(snap session.Snapshot) error
}

// Gate is the usage gate consulted before and updated after a run.
type Gate interface {
	CanProceed() bool
	State() usage.State
	RecordUsage() (usage.State, error)
}

// StageOutcome reports how an optional stage went. Err is the raw failure;
// Notice is the text shown to the user.
type StageOutcome struct {
	Skipped bool
	Err     error
	Notice  string
	Elapsed time.Duration
}

// Failed reports whether the stage ran and did not fully succeed.
func (o StageOutcome) Failed() bool {
	return o.Err != nil
}

// Result is everything a successful run produced.
type Result struct {
	Snapshot   session.Snapshot
	Image      *advisor.Image
	Usage      usage.State
	Illustrate StageOutcome
	Videos     StageOutcome
	Elapsed    time.Duration
}

// Deps wires the pipeline to its collaborators.
type Deps struct {
	Recommender Recommender
	Illustrator Illustrator
	VideoFinder VideoFinder
	Images      ImageStore
	Snapshots   SnapshotStore
	Gate        Gate
}

// Pipeline runs recommend, then illustrate and find-videos, then persists
// the outcome. Only one run may be in flight at a time.
type Pipeline struct {
	deps       Deps
	concurrent bool
	running    atomic.Bool
}

// New builds a Pipeline. With concurrent set, the illustrate and video
// stages run in parallel once a recommendation exists.
func New(deps Deps, concurrent bool) *Pipeline {
	return &Pipeline{deps: deps, concurrent: concurrent}
}

// Running reports whether a run is in flight.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Analyze is the user-facing entry point: it rejects empty schedules and
// exhausted usage before starting a run. The usage check happens after the
// run slot is taken so a concurrent run cannot finish in between.
func (p *Pipeline) Analyze(ctx context.Context, schedule string) (Result, error) {
	if strings.TrimSpace(schedule) == "" {
		return Result{}, ErrEmptySchedule
	}
	if !p.running.CompareAndSwap(false, true) {
		return Result{}, ErrInFlight
	}
	defer p.running.Store(false)

	if !p.deps.Gate.CanProceed() {
		return Result{}, &LimitError{State: p.deps.Gate.State()}
	}
	return p.run(ctx, schedule)
}

// Run executes the stages for a non-empty schedule without consulting the
// gate. A recommend failure is returned unchanged and nothing is written.
// Illustrate and video failures are recorded on the Result. The snapshot is
// written once every stage has finished and usage is recorded only after
// that write succeeds; a cancelled context skips both.
func (p *Pipeline) Run(ctx context.Context, schedule string) (Result, error) {
	if !p.running.CompareAndSwap(false, true) {
		return Result{}, ErrInFlight
	}
	defer p.running.Store(false)
	return p.run(ctx, schedule)
}

func (p *Pipeline) run(ctx context.Context, schedule string) (Result, error) {
	start := time.Now()

	rec, err := p.deps.Recommender.Recommend(ctx, schedule)
	if err != nil {
		slog.Warn("pipeline: recommend stage failed", "error", err)
		return Result{}, err
	}
	slog.Debug("pipeline: recommend stage complete", "level", rec.BusynessLevel, "flow", rec.RecommendedFlow, "elapsed", time.Since(start))

	res := Result{
		Illustrate: StageOutcome{Skipped: rec.SamplePose == ""},
		Videos:     StageOutcome{Skipped: rec.RecommendedFlow == ""},
	}
	videos := advisor.VideoResult{Videos: []advisor.Video{}, Sources: []advisor.Source{}}

	illustrate := func() {
		if res.Illustrate.Skipped {
			return
		}
		t := time.Now()
		img, err := p.deps.Illustrator.Illustrate(ctx, rec.SamplePose)
		res.Illustrate.Elapsed = time.Since(t)
		if err != nil {
			slog.Warn("pipeline: illustrate stage failed", "pose", rec.SamplePose, "error", err)
			res.Illustrate.Err = err
			res.Illustrate.Notice = NoticeImageFailed
			return
		}
		res.Image = &img
		slog.Debug("pipeline: illustrate stage complete", "bytes", len(img.Data), "elapsed", res.Illustrate.Elapsed)
	}

	findVideos := func() {
		if res.Videos.Skipped {
			return
		}
		t := time.Now()
		vr, err := p.deps.VideoFinder.FindVideos(ctx, rec.RecommendedFlow)
		res.Videos.Elapsed = time.Since(t)
		if err != nil {
			slog.Warn("pipeline: video stage failed", "flow", rec.RecommendedFlow, "error", err)
			res.Videos.Err = err
			res.Videos.Notice = videoNotice(err)
			return
		}
		if vr.Videos != nil {
			videos.Videos = vr.Videos
		}
		if vr.Sources != nil {
			videos.Sources = vr.Sources
		}
		slog.Debug("pipeline: video stage complete", "videos", len(videos.Videos), "elapsed", res.Videos.Elapsed)
	}

	if p.concurrent {
		// Each stage writes only its own fields and never returns an error,
		// so one failing cannot cancel the other.
		var g errgroup.Group
		g.Go(func() error { illustrate(); return nil })
		g.Go(func() error { findVideos(); return nil })
		g.Wait()
	} else {
		illustrate()
		findVideos()
	}

	if err := ctx.Err(); err != nil {
		slog.Info("pipeline: run cancelled before persisting", "error", err)
		return Result{}, err
	}

	snap := session.Snapshot{
		ScheduleText:   schedule,
		Recommendation: rec,
		BusynessScore:  busyness.Score(schedule),
		Videos:         videos.Videos,
		Sources:        videos.Sources,
	}

	if res.Image != nil && p.deps.Images != nil {
		handle, err := p.deps.Images.SaveImage(storage.Image{
			MIMEType: res.Image.MIMEType,
			Data:     res.Image.Data,
			Prompt:   res.Image.Prompt,
		})
		if err != nil {
			slog.Warn("pipeline: failed to store image", "error", err)
			res.Illustrate.Err = err
			res.Illustrate.Notice = NoticeImageFailed
		} else {
			snap.ImageHandle = handle
		}
	}

	if err := p.deps.Snapshots.SaveSnapshot(snap); err != nil {
		slog.Warn("pipeline: failed to save snapshot", "error", err)
		p.discardImage(snap.ImageHandle)
		return Result{}, err
	}

	state, err := p.deps.Gate.RecordUsage()
	if err != nil {
		slog.Error("pipeline: snapshot saved but usage not recorded", "error", err)
		return Result{}, err
	}
	res.Usage = state

	// Only the image referenced by the current snapshot is reachable.
	if pr, ok := p.deps.Images.(imagePruner); ok {
		if n, err := pr.PruneImages(snap.ImageHandle); err != nil {
			slog.Warn("pipeline: failed to prune old images", "error", err)
		} else if n > 0 {
			slog.Debug("pipeline: pruned old images", "count", n)
		}
	}

	res.Snapshot = snap
	res.Elapsed = time.Since(start)
	slog.Debug("pipeline: run complete", "usage", state.Count, "elapsed", res.Elapsed)
	return res, nil
}

// discardImage removes an image stored for a run whose snapshot was never
// written.
func (p *Pipeline) discardImage(handle string) {
	d, ok := p.deps.Images.(imageDeleter)
	if handle == "" || !ok {
		return
	}
	if err := d.DeleteImage(handle); err != nil {
		slog.Warn("pipeline: failed to discard unreferenced image", "handle", handle, "error", err)
	}
}
