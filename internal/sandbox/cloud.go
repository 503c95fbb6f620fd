package sandbox

import (
	"context"
	"fmt"
	"time"
)

// cloudSandbox is a placeholder for remote execution services. Every
// operation fails with ErrUnsupported: an explicit error is safer than a
// silent no-op that looks like isolation while running nothing.
type cloudSandbox struct{}

func (c *cloudSandbox) Start(ctx context.Context) error {
	return fmt.Errorf("%w: cloud backend not implemented", ErrUnsupported)
}

func (c *cloudSandbox) Stop(ctx context.Context) error { return nil }

func (c *cloudSandbox) Exec(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error) {
	return nil, fmt.Errorf("%w: cloud backend not implemented", ErrUnsupported)
}

func (c *cloudSandbox) UploadFile(ctx context.Context, localPath, remotePath string) error {
	return fmt.Errorf("%w: cloud backend not implemented", ErrUnsupported)
}

func (c *cloudSandbox) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	return fmt.Errorf("%w: cloud backend not implemented", ErrUnsupported)
}

func (c *cloudSandbox) SyncDir(ctx context.Context, localDir, remoteDir string) error {
	return fmt.Errorf("%w: cloud backend not implemented", ErrUnsupported)
}

func (c *cloudSandbox) WorkDir() string { return "" }
