package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/ctxlog"
)

// CopyAll copies every resolved output to its destination, logging each
// copy and the total count. Directories are copied recursively, preserving
// their internal structure; files are copied byte-for-byte. A copy error
// is logged and does not abort the remaining copies.
func CopyAll(ctx context.Context, outputs []Output) int {
	logger := ctxlog.FromContext(ctx)
	copied := 0
	for _, o := range outputs {
		logger.Info(fmt.Sprintf("Copying %s to %s", o.Src, o.Dst))
		if err := copyPath(o.Src, o.Dst); err != nil {
			logger.Warn(fmt.Sprintf("%s: %s", o.Dst, err))
			continue
		}
		copied++
	}
	logger.Info(fmt.Sprintf("Copying %d outputs", copied))
	return copied
}

func copyPath(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return copyDir(src, dst)
	}
	return copyFile(src, dst, info.Mode())
}

func copyDir(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if err := copyPath(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
