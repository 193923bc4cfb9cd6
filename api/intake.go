package api

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lithammer/shortuuid/v4"
)

// stageUpload validates one multipart file field and persists it into the
// staging directory. The returned path is what gets handed to the scheduler;
// the staged file is owned by the task from submission onwards.
func (h *Handler) stageUpload(c *gin.Context, field, typePrefix, defaultExt string) (string, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return "", fmt.Errorf("missing file field %q", field)
	}
	if fh.Size == 0 {
		return "", fmt.Errorf("file %q is empty", field)
	}
	if fh.Size > h.cfg.MaxInputSize {
		return "", fmt.Errorf("file %q exceeds the %d byte limit", field, h.cfg.MaxInputSize)
	}
	contentType := fh.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, typePrefix) {
		return "", fmt.Errorf("file %q must be %s*, got %s", field, typePrefix, contentType)
	}

	ext := filepath.Ext(fh.Filename)
	if ext == "" {
		ext = defaultExt
	}
	dest := filepath.Join(h.cfg.StagingDir, fmt.Sprintf("%s_%s%s", field, shortuuid.New(), ext))

	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("could not read upload %q: %w", field, err)
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("could not stage upload %q: %w", field, err)
	}

	// The multipart header size is client-supplied; enforce the cap on the
	// actual bytes too.
	limited := &io.LimitedReader{R: src, N: h.cfg.MaxInputSize + 1}
	written, err := io.Copy(out, limited)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("could not stage upload %q: %w", field, err)
	}
	if written > h.cfg.MaxInputSize {
		os.Remove(dest)
		return "", fmt.Errorf("file %q exceeds the %d byte limit", field, h.cfg.MaxInputSize)
	}

	return dest, nil
}

// discardStaged removes staged files for a submission that never reached the
// scheduler.
func discardStaged(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Printf("could not remove staged file %s: %v", p, err)
		}
	}
}
