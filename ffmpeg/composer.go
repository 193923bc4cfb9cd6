package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/shlex"

	"vidcompose/config"
	"vidcompose/task"
)

// ErrConfig marks fatal configuration problems (missing binary, missing
// fixed asset). These are startup errors, never per-task failures.
var ErrConfig = errors.New("configuration error")

// Runner is the media composer: it translates a (mode, inputs, options) job
// into external ffmpeg invocations and reports exactly one output file or an
// error carrying the tool's diagnostics.
type Runner struct {
	cfg       *config.Config
	extraArgs []string
}

func NewRunner(cfg *config.Config) (*Runner, error) {
	if _, err := exec.LookPath(cfg.FFBin); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg binary not found in PATH: %s", ErrConfig, cfg.FFBin)
	}
	if _, err := exec.LookPath(cfg.FFProbeBin); err != nil {
		return nil, fmt.Errorf("%w: ffprobe binary not found in PATH: %s", ErrConfig, cfg.FFProbeBin)
	}

	// Background audio tracks are fixed assets; a missing one must fail the
	// process, not individual tasks later.
	for _, asset := range []string{cfg.ConcatAudio, cfg.PiPAudio} {
		if info, err := os.Stat(asset); err != nil || info.Size() == 0 {
			return nil, fmt.Errorf("%w: background audio asset missing or empty: %s", ErrConfig, asset)
		}
	}

	if cfg.StagingDir == "" {
		dir, err := os.MkdirTemp("", "vidcompose_staging_")
		if err != nil {
			return nil, fmt.Errorf("%w: could not create staging directory: %v", ErrConfig, err)
		}
		cfg.StagingDir = dir
	} else if err := os.MkdirAll(cfg.StagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: staging directory: %v", ErrConfig, err)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: output directory: %v", ErrConfig, err)
	}
	log.Printf("staging in %s, outputs in %s", cfg.StagingDir, cfg.OutputDir)

	extra, err := shlex.Split(cfg.FFExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid FF_EXTRA_ARGS: %v", ErrConfig, err)
	}

	return &Runner{cfg: cfg, extraArgs: extra}, nil
}

// Compose dispatches on the job's mode. Each pipeline works in a private
// temp directory and only moves its result into the output directory after
// ffmpeg exited cleanly and the file verified non-empty.
func (r *Runner) Compose(ctx context.Context, job *task.Job) (string, error) {
	if err := r.checkResources(); err != nil {
		return "", fmt.Errorf("insufficient system resources: %w", err)
	}

	workDir, err := os.MkdirTemp(r.cfg.StagingDir, "job_")
	if err != nil {
		return "", fmt.Errorf("could not create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	switch job.Mode {
	case task.ModeConcat:
		return r.composeConcat(ctx, job, workDir)
	case task.ModePiP:
		return r.composePiP(ctx, job, workDir, "")
	case task.ModePiPScore:
		return r.composePiP(ctx, job, workDir, job.Options.Score)
	case task.ModeSingle:
		return r.composeSingle(ctx, job, workDir)
	case task.ModeImage:
		return r.composeImage(ctx, job, workDir)
	}
	return "", fmt.Errorf("unknown mode %q", job.Mode)
}

// Healthcheck reports whether the encoding tool is reachable, and its
// version banner when it is.
func (r *Runner) Healthcheck(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, r.cfg.FFBin, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("ffmpeg not executable: %w", err)
	}
	version, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(version), nil
}

// run executes one ffmpeg invocation, capturing combined stdout/stderr. On a
// non-zero exit the tail of the diagnostics rides along in the error.
func (r *Runner) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, r.cfg.FFBin, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	log.Printf("executing: %s %s", r.cfg.FFBin, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, tail(buf.String(), 1500))
	}
	return nil
}

// finalize verifies the work file is complete and moves it under the output
// directory. The destination is only ever a fully-written file.
func (r *Runner) finalize(workPath, finalName string) (string, error) {
	info, err := os.Stat(workPath)
	if err != nil {
		return "", fmt.Errorf("output file missing after encode: %w", err)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("output file %s is empty", filepath.Base(workPath))
	}

	dest := filepath.Join(r.cfg.OutputDir, finalName)
	if err := moveFile(workPath, dest); err != nil {
		return "", fmt.Errorf("could not publish output: %w", err)
	}
	return dest, nil
}

// moveFile renames src to dest, falling back to copy+remove when the
// staging and output directories live on different filesystems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dest + ".partial"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Remove(src)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
