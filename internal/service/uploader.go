package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/raphaelgruber/gearflow/internal/models"
)

const (
	DefaultSettleDelay    = 10 * time.Second
	DefaultVisiblePoll    = time.Second
	DefaultVisibleTimeout = 5 * time.Minute
)

// UploadOptions configures Uploader.Upload.
type UploadOptions struct {
	Overwrite   bool
	ReplaceInfo map[string]any
	// Fields are top-level file attributes such as modality or type.
	Fields map[string]any
}

// Uploader puts local files onto platform containers.
type Uploader struct {
	platform FilePlatform
	logger   *slog.Logger

	// SettleDelay is waited after deleting a file that is being replaced.
	SettleDelay time.Duration
	// VisiblePoll and VisibleTimeout bound the wait for an upload to show up
	// on the container.
	VisiblePoll    time.Duration
	VisibleTimeout time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// NewUploader creates an uploader with default delays.
func NewUploader(platform FilePlatform, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		platform:       platform,
		logger:         logger,
		SettleDelay:    DefaultSettleDelay,
		VisiblePoll:    DefaultVisiblePoll,
		VisibleTimeout: DefaultVisibleTimeout,
		sleep:          sleepContext,
	}
}

// Upload uploads localPath to container. It returns false when the file was
// already present and opts.Overwrite is not set.
func (u *Uploader) Upload(ctx context.Context, container models.ContainerRef, localPath string, opts UploadOptions) (bool, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return false, err
	}
	if !info.Mode().IsRegular() {
		return false, fmt.Errorf("%s is not a regular file", localPath)
	}
	name := filepath.Base(localPath)

	existing, err := u.platform.GetContainerFile(ctx, container, name)
	if err != nil {
		return false, fmt.Errorf("check %s on %s: %w", name, container, err)
	}
	if existing != nil {
		if !opts.Overwrite {
			u.logger.Info("file already exists in container, skipping", "file", name, "container", container.String())
			return false, nil
		}
		u.logger.Info("file already exists, overwriting", "file", name, "container", container.String())
		if err := u.platform.DeleteContainerFile(ctx, container, name); err != nil {
			return false, fmt.Errorf("delete %s: %w", name, err)
		}
		if err := u.sleep(ctx, u.SettleDelay); err != nil {
			return false, err
		}
	}

	u.logger.Info("uploading file", "path", localPath, "container", container.String())
	if err := u.platform.UploadContainerFile(ctx, container, localPath); err != nil {
		return false, fmt.Errorf("upload %s: %w", name, err)
	}
	if err := u.waitVisible(ctx, container, name); err != nil {
		return true, err
	}

	if len(opts.ReplaceInfo) > 0 {
		if err := u.platform.ReplaceFileInfo(ctx, container, name, opts.ReplaceInfo); err != nil {
			return true, fmt.Errorf("replace info of %s: %w", name, err)
		}
		u.logger.Info("replaced file info", "file", name, "container", container.String(), "keys", len(opts.ReplaceInfo))
	}
	if len(opts.Fields) > 0 {
		if err := u.platform.UpdateFile(ctx, container, name, opts.Fields); err != nil {
			return true, fmt.Errorf("update %s: %w", name, err)
		}
	}
	return true, nil
}

// waitVisible polls until the uploaded file is listed on the container.
func (u *Uploader) waitVisible(ctx context.Context, container models.ContainerRef, name string) error {
	waited := time.Duration(0)
	for {
		f, err := u.platform.GetContainerFile(ctx, container, name)
		if err != nil {
			return fmt.Errorf("check %s on %s: %w", name, container, err)
		}
		if f != nil {
			return nil
		}
		if waited >= u.VisibleTimeout {
			return fmt.Errorf("%s not visible on %s after %s", name, container, u.VisibleTimeout)
		}
		if err := u.sleep(ctx, u.VisiblePoll); err != nil {
			return err
		}
		waited += u.VisiblePoll
	}
}
