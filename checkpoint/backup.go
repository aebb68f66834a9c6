package checkpoint

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Archiver creates and extracts the tar.gz rollback bundles attached to
// checkpoints. Paths are archived relative to WorkDir so a bundle can be
// restored into the same tree later.
type Archiver struct {
	// WorkDir is the root the archived paths are relative to
	WorkDir string
	// BackupDir is where bundles are written
	BackupDir string
}

// Create archives the given paths (relative to WorkDir) into
// BackupDir/<name>.tar.gz and returns the bundle path. Paths that do not
// exist are skipped; an empty path list or all-missing paths still produce
// a valid (empty) bundle.
func (a *Archiver) Create(name string, paths []string) (string, error) {
	if err := os.MkdirAll(a.BackupDir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	bundlePath := filepath.Join(a.BackupDir, name+".tar.gz")

	f, err := os.Create(bundlePath)
	if err != nil {
		return "", fmt.Errorf("create backup archive: %w", err)
	}
	defer f.Close()

	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)

	for _, p := range paths {
		root := filepath.Join(a.WorkDir, p)
		info, err := os.Stat(root)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return "", err
		}
		if info.IsDir() {
			err = filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				return a.addEntry(tw, path, fi)
			})
		} else {
			err = a.addEntry(tw, root, info)
		}
		if err != nil {
			return "", err
		}
	}

	if err := tw.Close(); err != nil {
		return "", err
	}
	if err := gw.Close(); err != nil {
		return "", err
	}
	return bundlePath, nil
}

func (a *Archiver) addEntry(tw *tar.Writer, path string, fi os.FileInfo) error {
	rel, err := filepath.Rel(a.WorkDir, path)
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(fi, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(rel)
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if fi.IsDir() {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

// Extract unpacks a bundle into WorkDir, overwriting existing files.
// Entries that would escape WorkDir are rejected.
func (a *Archiver) Extract(bundlePath string) error {
	f, err := os.Open(bundlePath)
	if err != nil {
		return fmt.Errorf("open backup archive: %w", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("read backup archive: %w", err)
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		name := filepath.FromSlash(hdr.Name)
		if strings.Contains(name, "..") {
			return fmt.Errorf("archive entry escapes work dir: %s", hdr.Name)
		}
		dest := filepath.Join(a.WorkDir, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		}
	}
}
