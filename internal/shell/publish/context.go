package publish

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// =============================================================================
// Build Context
// =============================================================================

// tarBuildContext archives the source tree for the docker build. Paths are
// stored relative to the context root; VCS metadata is skipped.
func tarBuildContext(contextDir string) (*bytes.Buffer, error) {
	info, err := os.Stat(contextDir)
	if err != nil {
		return nil, fmt.Errorf("stat build context: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("build context %s is not a directory", contextDir)
	}

	buf := new(bytes.Buffer)
	tw := tar.NewWriter(buf)

	err = filepath.Walk(contextDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(contextDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if fi.IsDir() {
			if fi.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		return addFile(tw, path, rel, fi)
	})
	if err != nil {
		return nil, fmt.Errorf("archive build context: %w", err)
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close build context archive: %w", err)
	}
	return buf, nil
}

func addFile(tw *tar.Writer, path, rel string, fi os.FileInfo) error {
	header, err := tar.FileInfoHeader(fi, "")
	if err != nil {
		return err
	}
	header.Name = strings.ReplaceAll(rel, string(os.PathSeparator), "/")

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = io.Copy(tw, file)
	return err
}
