// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Hostinsight (https://hostinsight.io/).
// Copyright 2024-present Hostinsight, Inc.

// Package archive produces the single-use compressed artifact that the upload
// engine transmits. The diagnostic collection itself is an external
// collaborator; this package stages its output and packages it.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression selects the archive compression algorithm.
type Compression string

const (
	Gzip Compression = "gz"
	Zstd Compression = "zstd"
	None Compression = "none"
)

// ParseCompression maps a config value to a Compression.
func ParseCompression(raw string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "gz", "gzip":
		return Gzip, nil
	case "zstd":
		return Zstd, nil
	case "none", "":
		return None, nil
	}
	return None, fmt.Errorf("unknown compressor %q", raw)
}

func (c Compression) extension() string {
	switch c {
	case Gzip:
		return ".tar.gz"
	case Zstd:
		return ".tar.zst"
	default:
		return ".tar"
	}
}

// ContentType returns the MIME type reported to the intake.
func (c Compression) ContentType() string {
	switch c {
	case Gzip:
		return "application/gzip"
	case Zstd:
		return "application/zstd"
	default:
		return "application/x-tar"
	}
}

// Archive is an ephemeral, single-use compressed payload. It is owned by the
// invocation that created it and deleted after the upload completes or fails
// terminally.
type Archive struct {
	Path        string
	Size        int64
	Compression Compression

	// owned marks archives created by this invocation. Caller-supplied
	// files are wrapped unowned and survive Delete.
	owned  bool
	tmpDir string
}

// Open returns a reader over the archive bytes.
func (a *Archive) Open() (io.ReadCloser, error) {
	return os.Open(a.Path)
}

// Name returns the file name sent to the intake.
func (a *Archive) Name() string {
	return filepath.Base(a.Path)
}

// WriteTo copies the archive to w, the sink used by emit-without-upload runs.
func (a *Archive) WriteTo(w io.Writer) (int64, error) {
	f, err := a.Open()
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(w, f)
}

// Delete removes the archive and any staging data behind it. Unowned
// archives are left untouched.
func (a *Archive) Delete() error {
	if !a.owned {
		return nil
	}
	if a.tmpDir != "" {
		return os.RemoveAll(a.tmpDir)
	}
	if a.Path != "" {
		if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// FromFile wraps a pre-built archive supplied by the caller. The file is not
// owned by the invocation and is never deleted by Delete.
func FromFile(path string) (*Archive, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &Archive{
		Path:        path,
		Size:        info.Size(),
		Compression: sniffCompression(path),
	}, nil
}

// FromReader spools a pre-built archive from a stream (typically stdin) into
// a temp file so it can be sized and retried.
func FromReader(r io.Reader, compression Compression) (*Archive, error) {
	tmpDir, err := os.MkdirTemp("", "hostinsight-archive-")
	if err != nil {
		return nil, err
	}
	path := filepath.Join(tmpDir, "payload"+compression.extension())
	f, err := os.Create(path)
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, err
	}
	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, err
	}
	return &Archive{Path: path, Size: size, Compression: compression, owned: true, tmpDir: tmpDir}, nil
}

func sniffCompression(path string) Compression {
	switch {
	case strings.HasSuffix(path, ".gz"), strings.HasSuffix(path, ".tgz"):
		return Gzip
	case strings.HasSuffix(path, ".zst"):
		return Zstd
	default:
		return None
	}
}

// buildTarball packages srcDir into a compressed tarball at destPath. Entries
// are placed under prefix so the archive unpacks into a single directory.
func buildTarball(destPath, srcDir, prefix string, compression Compression) (retErr error) {
	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); retErr == nil {
			retErr = cerr
		}
	}()

	var w io.Writer = out
	switch compression {
	case Gzip:
		gw := gzip.NewWriter(out)
		defer func() {
			if cerr := gw.Close(); retErr == nil {
				retErr = cerr
			}
		}()
		w = gw
	case Zstd:
		zw, err := zstd.NewWriter(out)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := zw.Close(); retErr == nil {
				retErr = cerr
			}
		}()
		w = zw
	}

	tw := tar.NewWriter(w)
	defer func() {
		if cerr := tw.Close(); retErr == nil {
			retErr = cerr
		}
	}()

	return filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(filepath.Join(prefix, rel))
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}
