package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/image/tiff/lzw"
)

// ErrUnsupportedTIFF is returned for TIFF layouts this package cannot decode.
var ErrUnsupportedTIFF = errors.New("raster: unsupported tiff")

// TIFF tags.
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagPhotometric         = 262
	tagStripOffsets        = 273
	tagSamplesPerPixel     = 277
	tagRowsPerStrip        = 278
	tagStripByteCounts     = 279
	tagPlanarConfig        = 284
	tagPredictor           = 317
	tagTileWidth           = 322
	tagTileLength          = 323
	tagTileOffsets         = 324
	tagTileByteCounts      = 325
	tagSampleFormat        = 339
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGDALNoData          = 42113
)

// TIFF field types.
const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndefined = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
	dtLong8     = 16
)

const (
	compressionNone    = 1
	compressionLZW     = 5
	compressionDeflate = 8
	compressionZlibOld = 32946

	predictorNone       = 1
	predictorHorizontal = 2
	predictorFloat      = 3

	sampleUint  = 1
	sampleInt   = 2
	sampleFloat = 3
)

// GeoKeys.
const (
	geoKeyRasterType    = 1025
	geoKeyGeographic    = 2048
	geoKeyProjected     = 3072
	rasterPixelIsPoint  = 2
	geoKeyUserDefined   = 32767
	geoKeyDirectoryHead = 4
)

var typeSizes = map[uint16]int{
	dtByte: 1, dtASCII: 1, dtShort: 2, dtLong: 4, dtRational: 8, dtSByte: 1,
	dtUndefined: 1, dtSShort: 2, dtSLong: 4, dtSRational: 8, dtFloat: 4, dtDouble: 8, dtLong8: 8,
}

type ifdEntry struct {
	typ   uint16
	count uint32
	raw   []byte
}

type ifd struct {
	bo      binary.ByteOrder
	entries map[uint16]ifdEntry
}

// ReadFile decodes the first band of a GeoTIFF file.
func ReadFile(path string) (*Raster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read raster: %w", err)
	}
	r, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return r, nil
}

// Decode decodes the first band of an in-memory GeoTIFF.
func Decode(data []byte) (*Raster, error) {
	d, err := parseIFD(data)
	if err != nil {
		return nil, err
	}

	width := int(d.uint(tagImageWidth, 0))
	height := int(d.uint(tagImageLength, 0))
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: missing image dimensions", ErrUnsupportedTIFF)
	}

	l := layout{
		bo:          d.bo,
		width:       width,
		height:      height,
		bps:         int(d.uint(tagBitsPerSample, 1)),
		format:      int(d.uint(tagSampleFormat, sampleUint)),
		spp:         int(d.uint(tagSamplesPerPixel, 1)),
		planar:      int(d.uint(tagPlanarConfig, 1)),
		compression: int(d.uint(tagCompression, compressionNone)),
		predictor:   int(d.uint(tagPredictor, predictorNone)),
	}
	if err := l.validate(); err != nil {
		return nil, err
	}

	r := New(width, height, GeoTransform{0, 1, 0, 0, 0, 1}, 0)
	if err := l.readChunks(d, data, r); err != nil {
		return nil, err
	}
	d.georeference(r)
	return r, nil
}

func parseIFD(data []byte) (*ifd, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: short header", ErrUnsupportedTIFF)
	}
	var bo binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: bad byte order mark", ErrUnsupportedTIFF)
	}
	if magic := bo.Uint16(data[2:4]); magic != 42 {
		return nil, fmt.Errorf("%w: magic %d (BigTIFF is not supported)", ErrUnsupportedTIFF, magic)
	}

	off := int(bo.Uint32(data[4:8]))
	if off+2 > len(data) {
		return nil, fmt.Errorf("%w: ifd offset out of range", ErrUnsupportedTIFF)
	}
	n := int(bo.Uint16(data[off : off+2]))
	if off+2+12*n > len(data) {
		return nil, fmt.Errorf("%w: truncated ifd", ErrUnsupportedTIFF)
	}

	d := &ifd{bo: bo, entries: make(map[uint16]ifdEntry, n)}
	for i := 0; i < n; i++ {
		e := data[off+2+12*i : off+2+12*(i+1)]
		tag := bo.Uint16(e[0:2])
		typ := bo.Uint16(e[2:4])
		count := bo.Uint32(e[4:8])
		size, known := typeSizes[typ]
		if !known {
			continue
		}
		total := size * int(count)
		var raw []byte
		if total <= 4 {
			raw = e[8 : 8+total]
		} else {
			vo := int(bo.Uint32(e[8:12]))
			if vo < 0 || vo+total > len(data) {
				return nil, fmt.Errorf("%w: tag %d value out of range", ErrUnsupportedTIFF, tag)
			}
			raw = data[vo : vo+total]
		}
		d.entries[tag] = ifdEntry{typ: typ, count: count, raw: raw}
	}
	return d, nil
}

func (d *ifd) uints(tag uint16) []uint64 {
	e, ok := d.entries[tag]
	if !ok {
		return nil
	}
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case dtByte, dtUndefined:
			out[i] = uint64(e.raw[i])
		case dtShort:
			out[i] = uint64(d.bo.Uint16(e.raw[2*i:]))
		case dtLong:
			out[i] = uint64(d.bo.Uint32(e.raw[4*i:]))
		case dtLong8:
			out[i] = d.bo.Uint64(e.raw[8*i:])
		default:
			return nil
		}
	}
	return out
}

func (d *ifd) uint(tag uint16, def uint64) uint64 {
	v := d.uints(tag)
	if len(v) == 0 {
		return def
	}
	return v[0]
}

func (d *ifd) floats(tag uint16) []float64 {
	e, ok := d.entries[tag]
	if !ok {
		return nil
	}
	out := make([]float64, e.count)
	for i := range out {
		switch e.typ {
		case dtDouble:
			out[i] = math.Float64frombits(d.bo.Uint64(e.raw[8*i:]))
		case dtFloat:
			out[i] = float64(math.Float32frombits(d.bo.Uint32(e.raw[4*i:])))
		default:
			u := d.uints(tag)
			if u == nil {
				return nil
			}
			for j := range u {
				out[j] = float64(u[j])
			}
			return out
		}
	}
	return out
}

func (d *ifd) ascii(tag uint16) (string, bool) {
	e, ok := d.entries[tag]
	if !ok || e.typ != dtASCII {
		return "", false
	}
	return strings.TrimRight(string(e.raw), "\x00 "), true
}

func (d *ifd) georeference(r *Raster) {
	if m := d.floats(tagModelTransformation); len(m) == 16 {
		r.Transform = GeoTransform{m[3], m[0], m[1], m[7], m[4], m[5]}
	} else if scale, tie := d.floats(tagModelPixelScale), d.floats(tagModelTiepoint); len(scale) >= 2 && len(tie) >= 6 {
		sx, sy := scale[0], scale[1]
		r.Transform = GeoTransform{tie[3] - tie[0]*sx, sx, 0, tie[4] + tie[1]*sy, 0, -sy}
	}

	keys := d.uints(tagGeoKeyDirectory)
	if len(keys) >= geoKeyDirectoryHead {
		n := int(keys[3])
		for i := 0; i < n && geoKeyDirectoryHead+4*i+3 < len(keys); i++ {
			k := keys[geoKeyDirectoryHead+4*i:]
			id, location, value := k[0], k[1], k[3]
			if location != 0 {
				continue
			}
			switch id {
			case geoKeyRasterType:
				if value == rasterPixelIsPoint {
					r.Transform[0] -= 0.5 * r.Transform[1]
					r.Transform[3] -= 0.5 * r.Transform[5]
				}
			case geoKeyGeographic, geoKeyProjected:
				if value != geoKeyUserDefined {
					r.EPSG = int(value)
				}
			}
		}
	}

	if s, ok := d.ascii(tagGDALNoData); ok && s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			r.NoData = v
			r.HasNoData = true
		}
	}
}

type layout struct {
	bo            binary.ByteOrder
	width, height int
	bps, format   int
	spp, planar   int
	compression   int
	predictor     int
}

func (l layout) validate() error {
	switch l.bps {
	case 8, 16, 32, 64:
	default:
		return fmt.Errorf("%w: %d bits per sample", ErrUnsupportedTIFF, l.bps)
	}
	switch l.format {
	case sampleUint, sampleInt:
	case sampleFloat:
		if l.bps != 32 && l.bps != 64 {
			return fmt.Errorf("%w: %d-bit float", ErrUnsupportedTIFF, l.bps)
		}
	default:
		return fmt.Errorf("%w: sample format %d", ErrUnsupportedTIFF, l.format)
	}
	switch l.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionZlibOld:
	default:
		return fmt.Errorf("%w: compression %d", ErrUnsupportedTIFF, l.compression)
	}
	switch l.predictor {
	case predictorNone, predictorHorizontal, predictorFloat:
	default:
		return fmt.Errorf("%w: predictor %d", ErrUnsupportedTIFF, l.predictor)
	}
	if l.spp < 1 {
		return fmt.Errorf("%w: %d samples per pixel", ErrUnsupportedTIFF, l.spp)
	}
	return nil
}

// stride is the number of interleaved samples per pixel inside a chunk.
func (l layout) stride() int {
	if l.planar == 2 {
		return 1
	}
	return l.spp
}

func (l layout) readChunks(d *ifd, data []byte, r *Raster) error {
	var (
		offsets, counts []uint64
		chunkW, chunkH  int
		across          int
		tiled           bool
	)
	if tw, th := int(d.uint(tagTileWidth, 0)), int(d.uint(tagTileLength, 0)); tw > 0 && th > 0 {
		tiled = true
		chunkW, chunkH = tw, th
		across = (l.width + tw - 1) / tw
		offsets, counts = d.uints(tagTileOffsets), d.uints(tagTileByteCounts)
	} else {
		rps := int(d.uint(tagRowsPerStrip, uint64(l.height)))
		if rps <= 0 || rps > l.height {
			rps = l.height
		}
		chunkW, chunkH = l.width, rps
		across = 1
		offsets, counts = d.uints(tagStripOffsets), d.uints(tagStripByteCounts)
	}
	if len(offsets) == 0 || len(offsets) != len(counts) {
		return fmt.Errorf("%w: missing chunk offsets", ErrUnsupportedTIFF)
	}

	down := (l.height + chunkH - 1) / chunkH
	perPlane := across * down
	if len(offsets) < perPlane {
		return fmt.Errorf("%w: %d chunks for %d expected", ErrUnsupportedTIFF, len(offsets), perPlane)
	}

	for i := 0; i < perPlane; i++ {
		cx := (i % across) * chunkW
		cy := (i / across) * chunkH
		rows := chunkH
		if !tiled && cy+rows > l.height {
			rows = l.height - cy
		}
		start, n := offsets[i], counts[i]
		if start+n > uint64(len(data)) {
			return fmt.Errorf("%w: chunk %d out of range", ErrUnsupportedTIFF, i)
		}
		raw, err := l.decompress(data[start : start+n])
		if err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
		values, err := l.decodeChunk(raw, chunkW, rows)
		if err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
		stride := l.stride()
		for y := 0; y < rows; y++ {
			py := cy + y
			if py >= l.height {
				break
			}
			for x := 0; x < chunkW; x++ {
				px := cx + x
				if px >= l.width {
					break
				}
				r.Data[py*l.width+px] = values[(y*chunkW+x)*stride]
			}
		}
	}
	return nil
}

func (l layout) decompress(chunk []byte) ([]byte, error) {
	switch l.compression {
	case compressionNone:
		return chunk, nil
	case compressionLZW:
		rc := lzw.NewReader(bytes.NewReader(chunk), lzw.MSB, 8)
		defer rc.Close()
		return io.ReadAll(rc)
	default:
		zr, err := zlib.NewReader(bytes.NewReader(chunk))
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	}
}

// decodeChunk undoes the predictor and converts a decompressed chunk of
// width x rows pixels to float64 samples.
func (l layout) decodeChunk(raw []byte, width, rows int) ([]float64, error) {
	bytesPer := l.bps / 8
	stride := l.stride()
	rowSamples := width * stride
	want := rowSamples * rows * bytesPer
	if len(raw) < want {
		return nil, fmt.Errorf("%w: chunk holds %d bytes, want %d", ErrUnsupportedTIFF, len(raw), want)
	}
	buf := make([]byte, want)
	copy(buf, raw[:want])

	bo := l.bo
	if l.predictor == predictorFloat {
		bo = binary.BigEndian
		rowBytes := rowSamples * bytesPer
		tmp := make([]byte, rowBytes)
		for y := 0; y < rows; y++ {
			row := buf[y*rowBytes : (y+1)*rowBytes]
			for i := stride; i < rowBytes; i++ {
				row[i] += row[i-stride]
			}
			copy(tmp, row)
			for s := 0; s < rowSamples; s++ {
				for b := 0; b < bytesPer; b++ {
					row[s*bytesPer+b] = tmp[b*rowSamples+s]
				}
			}
		}
	}

	out := make([]float64, rowSamples*rows)
	for i := range out {
		out[i] = l.value(buf[i*bytesPer:], bo)
	}

	if l.predictor == predictorHorizontal && l.format != sampleFloat {
		for y := 0; y < rows; y++ {
			row := out[y*rowSamples : (y+1)*rowSamples]
			for i := stride; i < rowSamples; i++ {
				row[i] = l.wrap(row[i] + row[i-stride])
			}
		}
	}
	return out, nil
}

// value decodes one sample. Floating point predictor output is always big
// endian, everything else follows the file byte order.
func (l layout) value(b []byte, bo binary.ByteOrder) float64 {
	switch l.format {
	case sampleFloat:
		if l.bps == 32 {
			return float64(math.Float32frombits(bo.Uint32(b)))
		}
		return math.Float64frombits(bo.Uint64(b))
	case sampleInt:
		switch l.bps {
		case 8:
			return float64(int8(b[0]))
		case 16:
			return float64(int16(bo.Uint16(b)))
		case 32:
			return float64(int32(bo.Uint32(b)))
		default:
			return float64(int64(bo.Uint64(b)))
		}
	default:
		switch l.bps {
		case 8:
			return float64(b[0])
		case 16:
			return float64(bo.Uint16(b))
		case 32:
			return float64(bo.Uint32(b))
		default:
			return float64(bo.Uint64(b))
		}
	}
}

// wrap applies integer overflow of the sample width to a predicted sum.
func (l layout) wrap(v float64) float64 {
	bits := uint(l.bps)
	if bits >= 64 {
		return v
	}
	mod := math.Ldexp(1, int(bits))
	v = math.Mod(v, mod)
	if l.format == sampleInt {
		half := mod / 2
		if v >= half {
			v -= mod
		} else if v < -half {
			v += mod
		}
		return v
	}
	if v < 0 {
		v += mod
	}
	return v
}
