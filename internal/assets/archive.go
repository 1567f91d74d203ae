package assets

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"path"
	"strings"
	"testing/fstest"

	"github.com/keithlinneman/insightdash/internal/xerrors"
)

const (
	// maxBundleSize caps the compressed tarball read from S3.
	maxBundleSize int64 = 50 << 20

	// maxSingleFile caps one extracted file.
	maxSingleFile int64 = 10 << 20

	// maxTotalExtract caps the extracted bundle.
	maxTotalExtract int64 = 100 << 20
)

// hashEqual compares hex digests in constant time, ignoring case.
func hashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(a)), []byte(strings.ToLower(b))) == 1
}

// readWithHash reads up to maxSize bytes from r and returns them with
// their hex SHA-256.
func readWithHash(r io.Reader, maxSize int64) ([]byte, string, error) {
	h := sha256.New()
	data, err := io.ReadAll(io.TeeReader(io.LimitReader(r, maxSize+1), h))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > maxSize {
		return nil, "", xerrors.Newf("bundle exceeds max size (limit %d bytes)", maxSize)
	}
	return data, hex.EncodeToString(h.Sum(nil)), nil
}

// extractTarGz unpacks a gzipped tarball into memory. Only regular files
// and directories are accepted; links, devices and paths escaping the root
// are rejected.
func extractTarGz(data []byte) (fs.FS, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, xerrors.Wrap(err, "open gzip")
	}
	defer gr.Close()

	mfs := fstest.MapFS{}
	tr := tar.NewReader(gr)
	var total int64

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, xerrors.Wrap(err, "read tar header")
		}

		name := path.Clean(strings.TrimPrefix(hdr.Name, "./"))
		if name == "." || name == "" {
			continue
		}
		if path.IsAbs(name) || strings.Contains(hdr.Name, "\\") || !fs.ValidPath(name) {
			return nil, xerrors.Newf("unsafe path in archive: %q", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			continue
		case tar.TypeReg:
			if hdr.Size > maxSingleFile {
				return nil, xerrors.Newf("file %s exceeds max size (%d > %d)", name, hdr.Size, maxSingleFile)
			}
			body, err := io.ReadAll(io.LimitReader(tr, maxSingleFile+1))
			if err != nil {
				return nil, xerrors.Wrapf(err, "read %s", name)
			}
			if int64(len(body)) > maxSingleFile {
				return nil, xerrors.Newf("file %s exceeds max size after read", name)
			}
			total += int64(len(body))
			if total > maxTotalExtract {
				return nil, xerrors.Newf("extracted size exceeds limit (max %d bytes)", maxTotalExtract)
			}
			mfs[name] = &fstest.MapFile{Data: body, Mode: hdr.FileInfo().Mode().Perm()}
		default:
			return nil, xerrors.Newf("unsupported entry in archive: %s (type=%d)", name, hdr.Typeflag)
		}
	}
	return mfs, nil
}
