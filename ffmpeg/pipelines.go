package ffmpeg

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"vidcompose/task"
)

// Longest slice taken from each clip in concat mode: the head of the first
// and the tail of the second.
const concatSegmentSeconds = 10.0

// pixel margin between a picture-in-picture overlay and the frame edge
const overlayMargin = 10

// Concat inputs may arrive with arbitrary geometry; both segments are
// brought to this canvas before joining so mismatched uploads compose
// instead of failing the demuxer.
const (
	normalizeWidth  = 1280
	normalizeHeight = 720
	normalizeFPS    = 30
)

// composeConcat normalizes a head segment of the first clip and a tail
// segment of the second, joins them, and muxes the looped background track.
func (r *Runner) composeConcat(ctx context.Context, job *task.Job, workDir string) (string, error) {
	p0, err := r.probeVideo(ctx, job.Inputs[0])
	if err != nil {
		return "", err
	}
	p1, err := r.probeVideo(ctx, job.Inputs[1])
	if err != nil {
		return "", err
	}

	seg0 := filepath.Join(workDir, "seg0.mp4")
	d0 := math.Min(concatSegmentSeconds, p0.Duration)
	if err := r.run(ctx, buildNormalizedSegmentArgs(r.extraArgs, job.Inputs[0], seg0, 0, d0)); err != nil {
		return "", err
	}

	seg1 := filepath.Join(workDir, "seg1.mp4")
	d1 := math.Min(concatSegmentSeconds, p1.Duration)
	start1 := math.Max(0, p1.Duration-d1)
	if err := r.run(ctx, buildNormalizedSegmentArgs(r.extraArgs, job.Inputs[1], seg1, start1, d1)); err != nil {
		return "", err
	}

	listPath := filepath.Join(workDir, "concat_list.txt")
	list := fmt.Sprintf("file '%s'\nfile '%s'\n", seg0, seg1)
	if err := os.WriteFile(listPath, []byte(list), 0o644); err != nil {
		return "", fmt.Errorf("could not write concat list: %w", err)
	}

	joined := filepath.Join(workDir, "joined.mp4")
	if err := r.run(ctx, buildConcatArgs(r.extraArgs, listPath, joined)); err != nil {
		return "", err
	}

	final := filepath.Join(workDir, "final.mp4")
	if err := r.run(ctx, buildMuxAudioArgs(r.extraArgs, joined, r.cfg.ConcatAudio, final)); err != nil {
		return "", err
	}

	return r.finalize(final, fmt.Sprintf("concat_%s.mp4", job.TaskID))
}

// composePiP trims both clips to the shorter of the two durations (so an
// overlay longer than the base is clamped to the base), composites the
// second clip as a quarter-size overlay at the top right of the first, burns
// in the score text when given one, and muxes the looped background track.
func (r *Runner) composePiP(ctx context.Context, job *task.Job, workDir, score string) (string, error) {
	p0, err := r.probeVideo(ctx, job.Inputs[0])
	if err != nil {
		return "", err
	}
	p1, err := r.probeVideo(ctx, job.Inputs[1])
	if err != nil {
		return "", err
	}

	finalDur := math.Min(p0.Duration, p1.Duration)

	basePath := job.Inputs[0]
	if p0.Duration > finalDur {
		basePath = filepath.Join(workDir, "base_trimmed.mp4")
		if err := r.run(ctx, buildSegmentArgs(r.extraArgs, job.Inputs[0], basePath, 0, finalDur)); err != nil {
			return "", err
		}
	}
	overlayPath := job.Inputs[1]
	if p1.Duration > finalDur {
		overlayPath = filepath.Join(workDir, "overlay_trimmed.mp4")
		if err := r.run(ctx, buildSegmentArgs(r.extraArgs, job.Inputs[1], overlayPath, 0, finalDur)); err != nil {
			return "", err
		}
	}

	pip := filepath.Join(workDir, "pip.mp4")
	if err := r.run(ctx, buildOverlayArgs(r.extraArgs, basePath, overlayPath, pip, p0.Width, p0.Height, score)); err != nil {
		return "", err
	}

	final := filepath.Join(workDir, "final.mp4")
	if err := r.run(ctx, buildMuxAudioArgs(r.extraArgs, pip, r.cfg.PiPAudio, final)); err != nil {
		return "", err
	}

	name := fmt.Sprintf("pip_%s.mp4", job.TaskID)
	if score != "" {
		name = fmt.Sprintf("pip_score_%s.mp4", job.TaskID)
	}
	return r.finalize(final, name)
}

// composeSingle runs one normalization pass over the input.
func (r *Runner) composeSingle(ctx context.Context, job *task.Job, workDir string) (string, error) {
	if _, err := r.probeVideo(ctx, job.Inputs[0]); err != nil {
		return "", err
	}

	out := filepath.Join(workDir, "single.mp4")
	if err := r.run(ctx, buildSingleArgs(r.extraArgs, job.Inputs[0], out)); err != nil {
		return "", err
	}

	return r.finalize(out, fmt.Sprintf("single_%s.mp4", job.TaskID))
}

// composeImage synthesizes a fixed-duration clip from a still image with a
// slow zoom, muxing the looped background track.
func (r *Runner) composeImage(ctx context.Context, job *task.Job, workDir string) (string, error) {
	p, err := r.Probe(ctx, job.Inputs[0])
	if err != nil {
		return "", err
	}
	if p.Width <= 0 || p.Height <= 0 {
		return "", fmt.Errorf("input %s has no image stream", filepath.Base(job.Inputs[0]))
	}

	seconds := r.cfg.ImageVideoDuration.Seconds()
	out := filepath.Join(workDir, "image.mp4")
	if err := r.run(ctx, buildImageArgs(r.extraArgs, job.Inputs[0], r.cfg.ConcatAudio, out, p.Width, p.Height, seconds)); err != nil {
		return "", err
	}

	return r.finalize(out, fmt.Sprintf("image_%s.mp4", job.TaskID))
}

// probeVideo probes a path and rejects inputs without a playable duration.
func (r *Runner) probeVideo(ctx context.Context, path string) (*ProbeResult, error) {
	p, err := r.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	if p.Duration <= 0 {
		return nil, fmt.Errorf("input %s has zero duration (malformed or not a video)", filepath.Base(path))
	}
	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("input %s has no video stream", filepath.Base(path))
	}
	return p, nil
}

// --- argument builders ---
//
// Pure functions returning the full ffmpeg argument slice (binary excluded),
// so command shapes are testable without invoking the tool.

// preamble returns the flags shared by every invocation plus the
// operator-configured extra arguments.
func preamble(extra []string) []string {
	args := []string{"-hide_banner", "-nostdin", "-y", "-loglevel", "error"}
	return append(args, extra...)
}

// encodeOpts is the normalization target every re-encode converges on.
func encodeOpts() []string {
	return []string{
		"-c:v", "libx264",
		"-c:a", "aac",
		"-preset", "medium",
		"-crf", "18",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-avoid_negative_ts", "make_zero",
		"-fflags", "+genpts",
	}
}

// buildSegmentArgs extracts and normalizes a [start, start+dur) slice.
func buildSegmentArgs(extra []string, in, out string, start, dur float64) []string {
	args := preamble(extra)
	args = append(args,
		"-accurate_seek",
		"-ss", ffFloat(start),
		"-t", ffFloat(dur),
		"-i", in,
	)
	args = append(args, encodeOpts()...)
	return append(args, out)
}

// buildNormalizedSegmentArgs is buildSegmentArgs plus the shared-canvas
// filter: scale into the target frame preserving aspect ratio, pad the rest,
// and resample to a common frame rate. Required before the concat demuxer
// will accept segments from differently-shaped uploads.
func buildNormalizedSegmentArgs(extra []string, in, out string, start, dur float64) []string {
	args := preamble(extra)
	args = append(args,
		"-accurate_seek",
		"-ss", ffFloat(start),
		"-t", ffFloat(dur),
		"-i", in,
		"-vf", fmt.Sprintf(
			"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,fps=%d",
			normalizeWidth, normalizeHeight, normalizeWidth, normalizeHeight, normalizeFPS),
	)
	args = append(args, encodeOpts()...)
	return append(args, out)
}

// buildConcatArgs joins the pre-normalized segments listed in listPath.
func buildConcatArgs(extra []string, listPath, out string) []string {
	args := preamble(extra)
	args = append(args, "-f", "concat", "-safe", "0", "-i", listPath)
	args = append(args, encodeOpts()...)
	return append(args, out)
}

// buildMuxAudioArgs replaces the video's audio with the looped background
// track, copying the video stream. -shortest ends the loop at video end.
func buildMuxAudioArgs(extra []string, videoIn, audioPath, out string) []string {
	args := preamble(extra)
	args = append(args,
		"-i", videoIn,
		"-stream_loop", "-1",
		"-i", audioPath,
		"-map", "0:v",
		"-map", "1:a",
		"-c:v", "copy",
		"-c:a", "aac",
		"-shortest",
		"-movflags", "+faststart",
	)
	return append(args, out)
}

// buildOverlayArgs composites overlayIn at quarter size onto the top-right
// corner of baseIn. A non-empty score adds a drawtext burn-in at the top
// left. Audio is dropped here; the background track is muxed afterwards.
func buildOverlayArgs(extra []string, baseIn, overlayIn, out string, baseW, baseH int, score string) []string {
	ow := baseW / 4
	oh := baseH / 4
	ox := baseW - ow - overlayMargin
	oy := overlayMargin

	filter := fmt.Sprintf("[1:v]scale=%d:%d[ov];[0:v][ov]overlay=%d:%d[vout]", ow, oh, ox, oy)
	outLabel := "[vout]"
	if score != "" {
		fontSize := baseW / 40
		if fontSize < 24 {
			fontSize = 24
		}
		filter += fmt.Sprintf(
			";[vout]drawtext=text=%s:fontsize=%d:fontcolor=white:x=20:y=20:box=1:boxcolor=black@0.5:boxborderw=5[vtext]",
			escapeDrawtext(score), fontSize)
		outLabel = "[vtext]"
	}

	args := preamble(extra)
	args = append(args,
		"-i", baseIn,
		"-i", overlayIn,
		"-filter_complex", filter,
		"-map", outLabel,
		"-an",
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "18",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
	)
	return append(args, out)
}

// buildSingleArgs re-encodes one input to the normalization target.
func buildSingleArgs(extra []string, in, out string) []string {
	args := preamble(extra)
	args = append(args, "-i", in)
	args = append(args, encodeOpts()...)
	return append(args, out)
}

// buildImageArgs synthesizes seconds of video from a still with a slow
// center zoom, muxing the looped audio track underneath.
func buildImageArgs(extra []string, image, audioPath, out string, w, h int, seconds float64) []string {
	// libx264 needs even dimensions
	w -= w % 2
	h -= h % 2
	frames := int(seconds * 25)

	filter := fmt.Sprintf(
		"[0:v]scale=%d:%d,zoompan=z='min(zoom+0.0015,1.25)':x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':d=%d:s=%dx%d:fps=25,format=yuv420p[vout]",
		w, h, frames, w, h)

	args := preamble(extra)
	args = append(args,
		"-i", image,
		"-stream_loop", "-1",
		"-i", audioPath,
		"-filter_complex", filter,
		"-map", "[vout]",
		"-map", "1:a",
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "18",
		"-movflags", "+faststart",
		"-c:a", "aac",
		"-t", ffFloat(seconds),
		"-shortest",
	)
	return append(args, out)
}

// escapeDrawtext escapes the characters the filter graph parser treats
// specially inside a drawtext text value.
func escapeDrawtext(s string) string {
	return strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`:`, `\:`,
		`,`, `\,`,
		`;`, `\;`,
		`[`, `\[`,
		`]`, `\]`,
		`=`, `\=`,
	).Replace(s)
}

func ffFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 3, 64)
}
