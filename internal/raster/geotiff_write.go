package raster

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// EncodeOptions controls GeoTIFF output.
type EncodeOptions struct {
	// Deflate compresses each strip with zlib.
	Deflate bool
}

type outEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

// WriteFile writes r as a single band float32 GeoTIFF. The file is written to
// a temporary name in the same directory and renamed into place.
func WriteFile(path string, r *Raster, opts *EncodeOptions) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tif-*")
	if err != nil {
		return fmt.Errorf("create raster: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := Encode(w, r, opts); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write raster: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close raster: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename raster: %w", err)
	}
	return nil
}

// Encode writes r as a little endian, single band float32 GeoTIFF with one
// strip per row.
func Encode(w io.Writer, r *Raster, opts *EncodeOptions) error {
	if r.Width <= 0 || r.Height <= 0 || len(r.Data) != r.Width*r.Height {
		return fmt.Errorf("encode raster: invalid dimensions %dx%d", r.Width, r.Height)
	}
	if opts == nil {
		opts = &EncodeOptions{}
	}
	bo := binary.LittleEndian

	strips := make([][]byte, r.Height)
	row := make([]byte, 4*r.Width)
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			bo.PutUint32(row[4*x:], math.Float32bits(float32(r.Data[y*r.Width+x])))
		}
		if opts.Deflate {
			var buf bytes.Buffer
			zw := zlib.NewWriter(&buf)
			if _, err := zw.Write(row); err != nil {
				return fmt.Errorf("deflate row %d: %w", y, err)
			}
			if err := zw.Close(); err != nil {
				return fmt.Errorf("deflate row %d: %w", y, err)
			}
			strips[y] = buf.Bytes()
		} else {
			strips[y] = append([]byte(nil), row...)
		}
	}

	const headerSize = 8
	offsets := make([]uint32, r.Height)
	counts := make([]uint32, r.Height)
	pos := uint32(headerSize)
	for i, s := range strips {
		offsets[i] = pos
		counts[i] = uint32(len(s))
		pos += uint32(len(s))
	}
	if pos%2 == 1 {
		pos++
	}
	ifdOffset := pos

	compression := uint16(compressionNone)
	if opts.Deflate {
		compression = compressionDeflate
	}
	epsg := r.EPSG
	if epsg == 0 {
		epsg = EPSGWGS84
	}
	t := r.Transform

	entries := []outEntry{
		longEntry(tagImageWidth, uint32(r.Width)),
		longEntry(tagImageLength, uint32(r.Height)),
		shortEntry(tagBitsPerSample, 32),
		shortEntry(tagCompression, compression),
		shortEntry(tagPhotometric, 1),
		longsEntry(tagStripOffsets, offsets),
		shortEntry(tagSamplesPerPixel, 1),
		longEntry(tagRowsPerStrip, 1),
		longsEntry(tagStripByteCounts, counts),
		shortEntry(tagPlanarConfig, 1),
		shortEntry(tagSampleFormat, sampleFloat),
		doublesEntry(tagModelPixelScale, []float64{t[1], -t[5], 0}),
		doublesEntry(tagModelTiepoint, []float64{0, 0, 0, t[0], t[3], 0}),
		shortsEntry(tagGeoKeyDirectory, geoKeys(epsg)),
	}
	if r.HasNoData {
		entries = append(entries, asciiEntry(tagGDALNoData, strconv.FormatFloat(r.NoData, 'g', -1, 64)))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	ifdSize := uint32(2 + 12*len(entries) + 4)
	overflow := ifdOffset + ifdSize

	var out bytes.Buffer
	out.Grow(int(overflow))
	out.WriteString("II")
	_ = binary.Write(&out, bo, uint16(42))
	_ = binary.Write(&out, bo, ifdOffset)
	for _, s := range strips {
		out.Write(s)
	}
	for uint32(out.Len()) < ifdOffset {
		out.WriteByte(0)
	}

	var tail bytes.Buffer
	_ = binary.Write(&out, bo, uint16(len(entries)))
	for _, e := range entries {
		_ = binary.Write(&out, bo, e.tag)
		_ = binary.Write(&out, bo, e.typ)
		_ = binary.Write(&out, bo, e.count)
		if len(e.data) <= 4 {
			var v [4]byte
			copy(v[:], e.data)
			out.Write(v[:])
			continue
		}
		_ = binary.Write(&out, bo, overflow+uint32(tail.Len()))
		tail.Write(e.data)
		if tail.Len()%2 == 1 {
			tail.WriteByte(0)
		}
	}
	_ = binary.Write(&out, bo, uint32(0))
	out.Write(tail.Bytes())

	if _, err := w.Write(out.Bytes()); err != nil {
		return fmt.Errorf("write raster: %w", err)
	}
	return nil
}

// geoKeys describes a geographic lat/lon model with PixelIsArea cells.
func geoKeys(epsg int) []uint16 {
	model := uint16(2)
	code := uint16(geoKeyGeographic)
	if epsg != EPSGWGS84 && (epsg < 4000 || epsg >= 5000) {
		model = 1
		code = geoKeyProjected
	}
	return []uint16{
		1, 1, 0, 3,
		1024, 0, 1, model,
		geoKeyRasterType, 0, 1, 1,
		code, 0, 1, uint16(epsg),
	}
}

func longEntry(tag uint16, v uint32) outEntry {
	return longsEntry(tag, []uint32{v})
}

func longsEntry(tag uint16, v []uint32) outEntry {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[4*i:], x)
	}
	return outEntry{tag: tag, typ: dtLong, count: uint32(len(v)), data: b}
}

func shortEntry(tag uint16, v uint16) outEntry {
	return shortsEntry(tag, []uint16{v})
}

func shortsEntry(tag uint16, v []uint16) outEntry {
	b := make([]byte, 2*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint16(b[2*i:], x)
	}
	return outEntry{tag: tag, typ: dtShort, count: uint32(len(v)), data: b}
}

func doublesEntry(tag uint16, v []float64) outEntry {
	b := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(x))
	}
	return outEntry{tag: tag, typ: dtDouble, count: uint32(len(v)), data: b}
}

func asciiEntry(tag uint16, s string) outEntry {
	b := append([]byte(s), 0)
	return outEntry{tag: tag, typ: dtASCII, count: uint32(len(b)), data: b}
}
