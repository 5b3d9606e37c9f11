package niftiio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"mriprep/internal/volume"
)

const (
	headerSize     = 348
	dataOffset     = 352
	datatypeFloat  = 16
	xformScanner   = 1
	unitsMMSeconds = 2 | 8
)

var (
	magicSingle = [4]byte{'n', '+', '1', 0}
	magicPair   = [4]byte{'n', 'i', '1', 0}
)

var (
	// ErrNotNIfTI is returned when a file does not carry a NIfTI-1 header.
	ErrNotNIfTI = errors.New("not a NIfTI-1 file")
	// ErrOblique is returned for orientations that are not axis aligned.
	ErrOblique = errors.New("oblique orientation not supported")
)

// Header mirrors the on-disk NIfTI-1 header.
type Header struct {
	SizeofHdr      int32
	DataType       [10]byte
	DBName         [18]byte
	Extents        int32
	SessionError   int16
	Regular        byte
	DimInfo        byte
	Dim            [8]int16
	IntentP1       float32
	IntentP2       float32
	IntentP3       float32
	IntentCode     int16
	Datatype       int16
	Bitpix         int16
	SliceStart     int16
	Pixdim         [8]float32
	VoxOffset      float32
	SclSlope       float32
	SclInter       float32
	SliceEnd       int16
	SliceCode      byte
	XyztUnits      byte
	CalMax         float32
	CalMin         float32
	SliceDuration  float32
	Toffset        float32
	Glmax          int32
	Glmin          int32
	Descrip        [80]byte
	AuxFile        [24]byte
	QformCode      int16
	SformCode      int16
	QuaternB       float32
	QuaternC       float32
	QuaternD       float32
	QoffsetX       float32
	QoffsetY       float32
	QoffsetZ       float32
	SrowX          [4]float32
	SrowY          [4]float32
	SrowZ          [4]float32
	IntentName     [16]byte
	Magic          [4]byte
}

// DecodeHeader reads a header, detecting byte order from sizeof_hdr.
func DecodeHeader(r io.Reader) (Header, binary.ByteOrder, error) {
	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return Header{}, nil, fmt.Errorf("%w: short header: %v", ErrNotNIfTI, err)
	}
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		var h Header
		if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
			return Header{}, nil, err
		}
		if h.SizeofHdr != headerSize {
			continue
		}
		if h.Magic != magicSingle && h.Magic != magicPair {
			return Header{}, nil, fmt.Errorf("%w: bad magic %q", ErrNotNIfTI, h.Magic[:3])
		}
		if h.Dim[0] < 1 || h.Dim[0] > 7 {
			return Header{}, nil, fmt.Errorf("%w: dim[0]=%d out of range", ErrNotNIfTI, h.Dim[0])
		}
		return h, order, nil
	}
	return Header{}, nil, fmt.Errorf("%w: sizeof_hdr is not %d", ErrNotNIfTI, headerSize)
}

// Grid derives the axis-aligned grid described by the header. The sform is
// preferred, then the qform; with neither, pixdim and a zero origin are used.
// Negative axis directions become Grid.Flip. Oblique or axis-permuting
// orientations are rejected with ErrOblique.
func (h Header) Grid() (volume.Grid, error) {
	var g volume.Grid
	var pixdim [3]float64
	for axis := 0; axis < 3; axis++ {
		g.Dims[axis] = 1
		if int(h.Dim[0]) > axis {
			g.Dims[axis] = int(h.Dim[axis+1])
		}
		pixdim[axis] = math.Abs(float64(h.Pixdim[axis+1]))
		if pixdim[axis] == 0 {
			pixdim[axis] = 1
		}
	}

	switch {
	case h.SformCode > 0:
		rows := [3][4]float32{h.SrowX, h.SrowY, h.SrowZ}
		var affine [3][3]float64
		for i, row := range rows {
			for j := 0; j < 3; j++ {
				affine[i][j] = float64(row[j])
			}
			g.Origin[i] = float64(row[3])
		}
		steps, err := diagonal(affine, "sform")
		if err != nil {
			return volume.Grid{}, err
		}
		for axis, step := range steps {
			g.Spacing[axis] = math.Abs(step)
			g.Flip[axis] = step < 0
		}
	case h.QformCode > 0:
		rotation := h.quaternionMatrix()
		signs, err := diagonal(rotation, "qform")
		if err != nil {
			return volume.Grid{}, err
		}
		for axis, sign := range signs {
			g.Spacing[axis] = pixdim[axis]
			g.Flip[axis] = sign < 0
		}
		g.Origin = [3]float64{float64(h.QoffsetX), float64(h.QoffsetY), float64(h.QoffsetZ)}
	default:
		g.Spacing = pixdim
	}
	if err := g.Validate(); err != nil {
		return volume.Grid{}, fmt.Errorf("header geometry: %w", err)
	}
	return g, nil
}

// quaternionMatrix returns the qform rotation with the qfac sign folded into
// its third column.
func (h Header) quaternionMatrix() [3][3]float64 {
	b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
	a := math.Sqrt(math.Max(0, 1-(b*b+c*c+d*d)))
	qfac := 1.0
	if h.Pixdim[0] < 0 {
		qfac = -1
	}
	return [3][3]float64{
		{a*a + b*b - c*c - d*d, 2 * (b*c - a*d), 2 * (b*d + a*c) * qfac},
		{2 * (b*c + a*d), a*a + c*c - b*b - d*d, 2 * (c*d - a*b) * qfac},
		{2 * (b*d - a*c), 2 * (c*d + a*b), (a*a + d*d - c*c - b*b) * qfac},
	}
}

// diagonal returns m's diagonal, failing when an off-diagonal term is
// significant relative to the largest diagonal magnitude or a diagonal term
// vanishes.
func diagonal(m [3][3]float64, source string) ([3]float64, error) {
	var diag [3]float64
	scale := 0.0
	for i := 0; i < 3; i++ {
		diag[i] = m[i][i]
		scale = math.Max(scale, math.Abs(diag[i]))
	}
	for i := 0; i < 3; i++ {
		if math.Abs(diag[i]) <= 1e-6*scale {
			return diag, fmt.Errorf("%w: %s axis %d has no diagonal term", ErrOblique, source, i)
		}
		for j := 0; j < 3; j++ {
			if i != j && math.Abs(m[i][j]) > 1e-4*scale {
				return diag, fmt.Errorf("%w: %s term [%d][%d]=%g", ErrOblique, source, i, j, m[i][j])
			}
		}
	}
	return diag, nil
}

// headerFor encodes g with matching sform and qform. Flipped axes are written
// as negative sform diagonal terms; the qform carries the same orientation as
// a 180 degree rotation plus qfac.
func headerFor(g volume.Grid, description string) Header {
	var sign [3]float32
	for axis := range sign {
		sign[axis] = 1
		if g.Flip[axis] {
			sign[axis] = -1
		}
	}
	qfac := sign[0] * sign[1] * sign[2]
	// Rotation diagonal with determinant +1 once qfac absorbs the z sign.
	rx, ry := sign[0], sign[1]
	var qb, qc, qd float32
	switch {
	case rx < 0 && ry < 0:
		qd = 1
	case rx < 0:
		qc = 1
	case ry < 0:
		qb = 1
	}

	h := Header{
		SizeofHdr: headerSize,
		Regular:   'r',
		Dim:       [8]int16{3, int16(g.Dims[0]), int16(g.Dims[1]), int16(g.Dims[2]), 1, 1, 1, 1},
		Datatype:  datatypeFloat,
		Bitpix:    32,
		Pixdim:    [8]float32{qfac, float32(g.Spacing[0]), float32(g.Spacing[1]), float32(g.Spacing[2]), 1, 1, 1, 1},
		VoxOffset: dataOffset,
		SclSlope:  1,
		XyztUnits: unitsMMSeconds,
		QformCode: xformScanner,
		SformCode: xformScanner,
		QuaternB:  qb,
		QuaternC:  qc,
		QuaternD:  qd,
		QoffsetX:  float32(g.Origin[0]),
		QoffsetY:  float32(g.Origin[1]),
		QoffsetZ:  float32(g.Origin[2]),
		SrowX:     [4]float32{float32(g.Step(0)), 0, 0, float32(g.Origin[0])},
		SrowY:     [4]float32{0, float32(g.Step(1)), 0, float32(g.Origin[1])},
		SrowZ:     [4]float32{0, 0, float32(g.Step(2)), float32(g.Origin[2])},
		Magic:     magicSingle,
	}
	copy(h.Descrip[:], description)
	return h
}
