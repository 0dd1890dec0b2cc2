package ingestion

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"endgame/internal/types"
)

// IntakeFile copies an artifact into the uploads area under its owning
// user, prefixing the stored name with a short unique id so repeated
// uploads of the same file never collide. Returns the stored path.
func IntakeFile(dataRoot, userID, srcPath string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("%w: user id is required", types.ErrValidation)
	}

	dir := filepath.Join(dataRoot, "uploads", userID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", srcPath, err)
	}
	defer src.Close()

	dstPath := filepath.Join(dir, uuid.New().String()[:8]+"_"+filepath.Base(srcPath))
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dstPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(dstPath)
		return "", fmt.Errorf("failed to copy upload: %w", err)
	}
	return dstPath, nil
}
