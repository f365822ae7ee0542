package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"transcoder/internal/encoder"
	"transcoder/internal/events"
	"transcoder/internal/logging"
	"transcoder/internal/manifest"
	"transcoder/internal/rendition"
	"transcoder/internal/services"
)

type probeResult struct {
	codec  rendition.CodecData
	ladder []rendition.Spec
}

type encodeResult struct {
	// results is indexed like the ladder; unresolved rungs have no playlist.
	results []rendition.Result
	codec   rendition.CodecData
}

type joinResult struct {
	results []rendition.Result
	codec   rendition.CodecData
}

type previewResult struct {
	screenshots []string
	errText     string
}

func (r *jobRun) probe(ctx context.Context) (probeResult, error) {
	wrap := func(msg string, err error) error {
		if errors.Is(err, services.ErrProbe) {
			return err
		}
		return services.Wrap(services.ErrProbe, StageProbingMetadata.String(), "probe", msg, err)
	}
	src, err := r.o.content.OpenReadStream(ctx, r.job.ContentHash)
	if err != nil {
		return probeResult{}, wrap("open source", err)
	}
	defer src.Close()

	meta, err := r.o.encoder.Probe(ctx, src)
	if err != nil {
		return probeResult{}, wrap("read metadata", err)
	}
	video, ok := meta.PrimaryVideo()
	if !ok {
		return probeResult{}, wrap("source has no video stream", nil)
	}
	aspect := rendition.ParseAspect(video.DisplayAspectRatio, video.Width, video.Height)
	ladder := rendition.Fit(rendition.Ladder(video.Height), aspect)

	labels := make([]string, len(ladder))
	for i, spec := range ladder {
		labels[i] = spec.Label()
	}
	logging.WithContext(ctx, r.o.logger).Info("source probed",
		logging.String(logging.FieldEventType, "probe_complete"),
		logging.String("video_codec", video.Codec),
		logging.Int("source_width", video.Width),
		logging.Int("source_height", video.Height),
		logging.Duration("duration", meta.Duration),
		logging.Any("ladder", labels),
	)
	return probeResult{codec: meta.CodecData(), ladder: ladder}, nil
}

func (r *jobRun) encode(ctx context.Context, probe probeResult) (encodeResult, error) {
	limit := len(probe.ladder)
	if c := r.o.rungConcurrency; c > 0 && c < limit {
		limit = c
	}
	sem := semaphore.NewWeighted(int64(limit))
	g, gctx := errgroup.WithContext(ctx)

	results := make([]rendition.Result, len(probe.ladder))
	var (
		codecOnce sync.Once
		codec     rendition.CodecData
		haveCodec bool
	)
	onCodec := func(c rendition.CodecData) {
		codecOnce.Do(func() {
			codec = c
			haveCodec = true
		})
	}

	for i, spec := range probe.ladder {
		i, spec := i, spec
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			res, err := r.encodeRung(gctx, spec, probe.codec.Duration, onCodec)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return encodeResult{}, services.Wrap(nil, StageEncoding.String(), "encode", "job canceled", ctxErr)
		}
		return encodeResult{}, err
	}
	if !haveCodec {
		codec = probe.codec
	}
	return encodeResult{results: results, codec: codec}, nil
}

func (r *jobRun) encodeRung(ctx context.Context, spec rendition.Spec, duration time.Duration, onCodec func(rendition.CodecData)) (rendition.Result, error) {
	label := spec.Label()
	ctx = services.WithRendition(ctx, label)
	logger := logging.WithContext(ctx, r.o.logger)
	fail := func(msg string, err error) error {
		return services.Wrap(services.ErrEncode, StageEncoding.String(), "rendition "+label, msg, err)
	}

	src, err := r.o.content.OpenReadStream(ctx, r.job.ContentHash)
	if err != nil {
		return rendition.Result{}, fail("open source", err)
	}
	defer src.Close()

	stream, err := r.o.encoder.Encode(ctx, src, r.o.profile, spec, r.root)
	if err != nil {
		return rendition.Result{}, fail("start encoder", err)
	}
	logger.Info("rendition encode started",
		logging.String(logging.FieldEventType, "rendition_start"),
		logging.String("bitrate", spec.Bitrate),
	)

	result := rendition.Result{Spec: spec}
	var (
		terminal bool
		encErr   error
	)
	for ev := range stream {
		switch ev.Kind {
		case encoder.EventProgress:
			r.progress(ctx, spec, ev.Progress, duration)
		case encoder.EventCodecData:
			result.CodecData = ev.Codec
			onCodec(ev.Codec)
		case encoder.EventError:
			terminal = true
			encErr = ev.Err
			if encErr == nil {
				encErr = errors.New("encoder reported failure")
			}
		case encoder.EventDone:
			terminal = true
			result.PlaylistPath = ev.PlaylistPath
		}
	}
	if encErr != nil {
		return rendition.Result{}, fail("encode", encErr)
	}
	if !terminal {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return rendition.Result{}, fail("encode interrupted", ctxErr)
		}
		return rendition.Result{}, fail("encoder stopped without a result", nil)
	}
	if result.PlaylistPath != "" && !filepath.IsAbs(result.PlaylistPath) {
		result.PlaylistPath = filepath.Join(r.root, result.PlaylistPath)
	}
	logger.Info("rendition encoded",
		logging.String(logging.FieldEventType, "rendition_complete"),
		logging.String("playlist", result.PlaylistPath),
	)
	return result, nil
}

func (r *jobRun) progress(ctx context.Context, spec rendition.Spec, p encoder.Progress, duration time.Duration) {
	percent, ok := p.Percent, p.HasPercent
	if !ok {
		percent, ok = encoder.ProgressPercent(p.Timemark, duration)
	}
	if !ok {
		return
	}
	r.o.bus.Publish(events.Event{
		Kind:        events.KindProgress,
		JobID:       r.job.ID,
		ContentHash: r.job.ContentHash,
		Stage:       StageEncoding.String(),
		Rendition:   spec.Label(),
		Percent:     percent,
	})
	logging.WithContext(ctx, r.o.logger).Debug("rendition progress",
		logging.String(logging.FieldEventType, "rendition_progress"),
		logging.String("timemark", encoder.FormatTimemark(p.Timemark)),
		logging.Float64("percent", percent),
	)
}

// join verifies every rung resolved. Encode already fails on the first rung
// error, so a short count means an encoder ended without a playlist.
func (r *jobRun) join(ctx context.Context, probe probeResult, encoded encodeResult) (joinResult, error) {
	resolved := make([]rendition.Result, 0, len(encoded.results))
	for _, res := range encoded.results {
		if res.PlaylistPath == "" {
			continue
		}
		if res.CodecData == (rendition.CodecData{}) {
			res.CodecData = encoded.codec
		}
		resolved = append(resolved, res)
	}
	if len(resolved) != len(probe.ladder) {
		return joinResult{}, services.Wrap(services.ErrJoinIncomplete, StageJoining.String(), "join",
			fmt.Sprintf("resolved %d of %d renditions", len(resolved), len(probe.ladder)), nil)
	}
	rendition.SortDescending(resolved)
	logging.WithContext(ctx, r.o.logger).Debug("renditions joined",
		logging.String(logging.FieldEventType, "join_complete"),
		logging.Int("renditions", len(resolved)),
	)
	return joinResult{results: resolved, codec: encoded.codec}, nil
}

func (r *jobRun) buildManifest(ctx context.Context, joined joinResult) (string, error) {
	m, err := manifest.Build(joined.results, joined.codec, r.o.profile.VideoCodec)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := m.Write(r.root)
	if err != nil {
		return "", err
	}
	logging.WithContext(ctx, r.o.logger).Info("manifest written",
		logging.String(logging.FieldEventType, "manifest_written"),
		logging.String("path", path),
		logging.String("codecs", manifest.Codecs(r.o.profile.VideoCodec, joined.codec)),
	)
	return path, nil
}

// preview extracts screenshots from the master playlist. Extraction failures
// are recorded on the result; only cancellation aborts the job.
func (r *jobRun) preview(ctx context.Context, manifestPath string, probe probeResult, joined joinResult) (previewResult, error) {
	if r.o.screenshots < 0 {
		return previewResult{}, nil
	}
	duration := joined.codec.Duration
	if duration <= 0 {
		duration = probe.codec.Duration
	}
	req := encoder.ScreenshotRequest{
		Count:    r.o.screenshots,
		Size:     joined.results[0].Spec.Label(),
		Duration: duration,
	}
	names, err := r.o.encoder.Screenshots(ctx, manifestPath, r.root, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return previewResult{}, ctxErr
		}
		logging.WarnWithContext(logging.WithContext(ctx, r.o.logger), "preview generation failed", "preview_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run ffmpeg against master.m3u8 manually"),
			logging.String(logging.FieldImpact, "bundle is published without screenshots"),
		)
		return previewResult{errText: err.Error()}, nil
	}
	return previewResult{screenshots: names}, nil
}

func (r *jobRun) publish(ctx context.Context) (string, error) {
	hash, err := r.o.content.PublishDirectory(ctx, r.root)
	if err != nil {
		if errors.Is(err, services.ErrPublish) {
			return "", err
		}
		return "", services.Wrap(services.ErrPublish, StagePublishing.String(), "publish", "publish bundle", err)
	}
	logging.WithContext(ctx, r.o.logger).Info("bundle published",
		logging.String(logging.FieldEventType, "bundle_published"),
		logging.String("bundle_hash", hash),
	)
	return hash, nil
}
