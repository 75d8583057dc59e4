// Package archive packs a staging directory into a compressed tarball.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
)

// Supported formats.
const (
	FormatGzip = "gzip"
	FormatZstd = "zstd"
)

var ErrUnsupportedFormat = errors.New("unsupported archive format")

// Info describes a created archive.
type Info struct {
	Path      string
	Files     int
	SizeBytes int64
}

// Extension returns the filename suffix for format.
func Extension(format string) (string, error) {
	switch format {
	case FormatGzip, "":
		return ".tar.gz", nil
	case FormatZstd:
		return ".tar.zst", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// compressor wraps w with the stream compressor for format.
func compressor(w io.Writer, format string) (io.WriteCloser, error) {
	switch format {
	case FormatGzip, "":
		return gzip.NewWriterLevel(w, gzip.DefaultCompression)
	case FormatZstd:
		return zstd.NewWriter(w)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Create writes every regular file below srcDir into dest. Entry names are
// prefixed with the base name of srcDir, the way `tar -C parent -czf dest dir`
// lays them out. The archive is written to dest+".part" and renamed on
// success so a partial archive is never mistaken for a finished one.
func Create(fs afero.Fs, srcDir, dest, format string) (Info, error) {
	info, err := fs.Stat(srcDir)
	if err != nil {
		return Info{}, fmt.Errorf("stat source %q: %w", srcDir, err)
	}
	if !info.IsDir() {
		return Info{}, fmt.Errorf("source %q is not a directory", srcDir)
	}

	part := dest + ".part"
	out, err := fs.OpenFile(part, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return Info{}, fmt.Errorf("create archive %q: %w", part, err)
	}

	files, werr := write(fs, out, srcDir, format)
	if cerr := out.Close(); werr == nil && cerr != nil {
		werr = fmt.Errorf("close archive %q: %w", part, cerr)
	}
	if werr != nil {
		_ = fs.Remove(part)
		return Info{}, werr
	}

	if err := fs.Rename(part, dest); err != nil {
		_ = fs.Remove(part)
		return Info{}, fmt.Errorf("rename archive into place: %w", err)
	}

	st, err := fs.Stat(dest)
	if err != nil {
		return Info{}, fmt.Errorf("stat archive %q: %w", dest, err)
	}
	return Info{Path: dest, Files: files, SizeBytes: st.Size()}, nil
}

func write(fs afero.Fs, w io.Writer, srcDir, format string) (int, error) {
	zw, err := compressor(w, format)
	if err != nil {
		return 0, err
	}
	tw := tar.NewWriter(zw)

	root := filepath.Base(filepath.Clean(srcDir))
	files := 0
	walkErr := afero.Walk(fs, srcDir, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		name := path.Join(root, filepath.ToSlash(rel))

		switch {
		case fi.IsDir():
			hdr, err := tar.FileInfoHeader(fi, "")
			if err != nil {
				return err
			}
			hdr.Name = name + "/"
			return tw.WriteHeader(hdr)
		case fi.Mode().IsRegular():
			hdr, err := tar.FileInfoHeader(fi, "")
			if err != nil {
				return err
			}
			hdr.Name = name
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			f, err := fs.Open(p)
			if err != nil {
				return err
			}
			defer f.Close()
			if _, err := io.Copy(tw, f); err != nil {
				return fmt.Errorf("copy %q: %w", p, err)
			}
			files++
			return nil
		default:
			return nil
		}
	})
	if walkErr != nil {
		tw.Close()
		zw.Close()
		return 0, fmt.Errorf("archive %q: %w", srcDir, walkErr)
	}
	if err := tw.Close(); err != nil {
		zw.Close()
		return 0, fmt.Errorf("finish tar stream: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("finish %s stream: %w", format, err)
	}
	return files, nil
}

// List returns the regular file entries of an archive created by Create.
func List(fs afero.Fs, archivePath, format string) ([]string, error) {
	f, err := fs.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive %q: %w", archivePath, err)
	}
	defer f.Close()

	var r io.Reader
	switch format {
	case FormatGzip, "":
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("read gzip header: %w", err)
		}
		defer gz.Close()
		r = gz
	case FormatZstd:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("read zstd stream: %w", err)
		}
		defer zr.Close()
		r = zr
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	var names []string
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read tar entry: %w", err)
		}
		if hdr.Typeflag == tar.TypeReg {
			names = append(names, hdr.Name)
		}
	}
}
