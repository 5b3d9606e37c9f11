package fileutil

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteAtomic creates path's parent directories, streams write into a
// hidden temp file beside path and renames it into place on success. Readers
// never observe a partially written artifact.
func WriteAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	fill := func() error {
		buffered := bufio.NewWriter(tmp)
		if err := write(buffered); err != nil {
			return err
		}
		if err := buffered.Flush(); err != nil {
			return err
		}
		return tmp.Chmod(0o644)
	}
	if err := fill(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// WriteJSON writes v as indented JSON followed by a newline.
func WriteJSON(path string, v any) error {
	return WriteAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// CopyFileVerified copies src to dst through WriteAtomic and then re-reads
// dst, failing if its size or SHA-256 digest differ from the source. A
// mismatched copy is removed.
func CopyFileVerified(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	srcDigest := sha256.New()
	var copied int64
	if err := WriteAtomic(dst, func(w io.Writer) error {
		n, err := io.Copy(w, io.TeeReader(in, srcDigest))
		copied = n
		return err
	}); err != nil {
		return fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}

	dstSize, dstSum, err := digest(dst)
	if err != nil {
		return err
	}
	switch {
	case dstSize != copied:
		_ = os.Remove(dst)
		return fmt.Errorf("copy size mismatch: source %d bytes, destination %d bytes", copied, dstSize)
	case !bytes.Equal(srcDigest.Sum(nil), dstSum):
		_ = os.Remove(dst)
		return errors.New("copy hash mismatch: destination differs from source")
	}
	return nil
}

func digest(path string) (int64, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, nil, fmt.Errorf("hash %s: %w", path, err)
	}
	return n, h.Sum(nil), nil
}
