package niftiio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/henghuang/nifti"
	"github.com/klauspost/compress/gzip"

	"mriprep/internal/fileutil"
	"mriprep/internal/volume"
)

// ReadHeader decodes only the header of path.
func ReadHeader(path string) (Header, error) {
	file, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer file.Close()

	var r io.Reader = file
	if isGzip(path) {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return Header{}, fmt.Errorf("open gzip stream %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}
	h, _, err := DecodeHeader(r)
	if err != nil {
		return Header{}, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

// Read loads the first volume of path.
func Read(path string) (*volume.Volume, error) {
	h, err := ReadHeader(path)
	if err != nil {
		return nil, err
	}
	grid, err := h.Grid()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	img, err := safelyLoad(path)
	if err != nil {
		return nil, fmt.Errorf("read voxels %s: %w", path, err)
	}
	dims := img.GetDims()
	for axis := 0; axis < 3; axis++ {
		if int(dims[axis]) != grid.Dims[axis] {
			return nil, fmt.Errorf("read voxels %s: axis %d has %d samples, header says %d", path, axis, dims[axis], grid.Dims[axis])
		}
	}

	vol := volume.New(grid)
	for z := 0; z < grid.Dims[2]; z++ {
		for y := 0; y < grid.Dims[1]; y++ {
			for x := 0; x < grid.Dims[0]; x++ {
				vol.Data[grid.Index(x, y, z)] = float64(img.GetAt(x, y, z, 0))
			}
		}
	}
	return vol, nil
}

// safelyLoad converts panics raised by the nifti reader into errors.
func safelyLoad(path string) (img nifti.Nifti1Image, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%v", recovered)
		}
	}()
	img.LoadImage(path, true)
	return img, nil
}

// Write stores vol at path as float32 NIfTI-1.
func Write(path string, vol *volume.Volume) error {
	if vol == nil {
		return fmt.Errorf("write %s: nil volume", path)
	}
	if err := vol.Grid.Validate(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	for axis, n := range vol.Grid.Dims {
		if n > math.MaxInt16 {
			return fmt.Errorf("write %s: axis %d size %d exceeds NIfTI-1 limit", path, axis, n)
		}
	}
	return fileutil.WriteAtomic(path, func(w io.Writer) error {
		if !isGzip(path) {
			return encode(w, vol)
		}
		gz, err := gzip.NewWriterLevel(w, gzip.DefaultCompression)
		if err != nil {
			return err
		}
		if err := encode(gz, vol); err != nil {
			_ = gz.Close()
			return err
		}
		return gz.Close()
	})
}

func encode(w io.Writer, vol *volume.Volume) error {
	h := headerFor(vol.Grid, "mriprep")
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	// Empty extension block.
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}
	buf := make([]byte, 4*len(vol.Data))
	for i, value := range vol.Data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(value)))
	}
	_, err := w.Write(buf)
	return err
}

func isGzip(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}
