package dataset

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/dustin/go-humanize"
	"github.com/richardlehane/mscfb"
)

// BIFF8 record types read from the Workbook stream.
const (
	recFormula    = 0x0006
	recEOF        = 0x000A
	recFilePass   = 0x002F
	recContinue   = 0x003C
	recBoundSheet = 0x0085
	recMulRK      = 0x00BD
	recSST        = 0x00FC
	recLabelSST   = 0x00FD
	recNumber     = 0x0203
	recLabel      = 0x0204
	recBoolErr    = 0x0205
	recString     = 0x0207
	recRK         = 0x027E
	recBOF        = 0x0809
)

const (
	biff8Version  = 0x0600
	bofGlobals    = 0x0005
	bofWorksheet  = 0x0010
	sheetTypeGrid = 0x00
)

var le = binary.LittleEndian

var errTruncated = errors.New("truncated record")

var cellErrors = map[byte]string{
	0x00: "#NULL!",
	0x07: "#DIV/0!",
	0x0F: "#VALUE!",
	0x17: "#REF!",
	0x1D: "#NAME?",
	0x24: "#NUM!",
	0x2A: "#N/A",
}

// walkXLS reads the first worksheet of a BIFF8 workbook. Numbers are passed
// on in their stored form, ignoring display formats, and formulas yield
// their cached results.
func (l Limits) walkXLS(path string, visit func([]string) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	stream, err := l.workbookStream(file)
	if err != nil {
		return err
	}
	rows, err := decodeBIFF(stream)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileFormat, err)
	}
	for _, cells := range rows {
		if err := visit(cells); err != nil {
			return err
		}
	}
	return nil
}

func (l Limits) workbookStream(ra io.ReaderAt) ([]byte, error) {
	doc, err := mscfb.New(ra)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileFormat, err)
	}
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		switch entry.Name {
		case "Workbook":
		case "Book":
			return nil, fmt.Errorf("%w: Excel 5.0/95 workbooks are not supported", ErrFileFormat)
		default:
			continue
		}
		if l.MaxUnzipBytes > 0 && entry.Size > l.MaxUnzipBytes {
			return nil, fmt.Errorf("%w: workbook stream is %s, larger than the %s limit", ErrFileFormat,
				humanize.IBytes(uint64(entry.Size)), humanize.IBytes(uint64(l.MaxUnzipBytes)))
		}
		buf := make([]byte, entry.Size)
		if _, err := io.ReadFull(entry, buf); err != nil {
			return nil, fmt.Errorf("%w: reading workbook stream: %v", ErrFileFormat, err)
		}
		return buf, nil
	}
	return nil, fmt.Errorf("%w: no workbook stream", ErrFileFormat)
}

type record struct {
	typ  uint16
	data []byte
}

// biffReader splits a Workbook stream into records.
type biffReader struct {
	buf []byte
	off int
}

func (r *biffReader) next() (record, error) {
	if r.off+4 > len(r.buf) {
		return record{}, io.ErrUnexpectedEOF
	}
	typ := le.Uint16(r.buf[r.off:])
	n := int(le.Uint16(r.buf[r.off+2:]))
	start := r.off + 4
	if start+n > len(r.buf) {
		return record{}, errTruncated
	}
	r.off = start + n
	return record{typ: typ, data: r.buf[start : start+n]}, nil
}

func (r *biffReader) peek() uint16 {
	if r.off+4 > len(r.buf) {
		return 0
	}
	return le.Uint16(r.buf[r.off:])
}

// continued returns rec's data followed by the data of every CONTINUE
// record after it, one fragment each.
func (r *biffReader) continued(rec record) ([][]byte, error) {
	frags := [][]byte{rec.data}
	for r.peek() == recContinue {
		c, err := r.next()
		if err != nil {
			return nil, err
		}
		frags = append(frags, c.data)
	}
	return frags, nil
}

func expectBOF(r *biffReader, dt uint16) error {
	rec, err := r.next()
	if err != nil {
		return err
	}
	if rec.typ != recBOF || len(rec.data) < 4 {
		return errors.New("not an Excel 97-2003 workbook")
	}
	if v := le.Uint16(rec.data); v != biff8Version {
		return fmt.Errorf("unsupported BIFF version %#04x", v)
	}
	if got := le.Uint16(rec.data[2:]); got != dt {
		return fmt.Errorf("unexpected substream type %#04x", got)
	}
	return nil
}

// decodeBIFF returns the cell texts of the first worksheet, one slice per
// row from row 0 to the last row holding a value. Rows without values are nil.
func decodeBIFF(stream []byte) ([][]string, error) {
	r := &biffReader{buf: stream}
	if err := expectBOF(r, bofGlobals); err != nil {
		return nil, err
	}

	var (
		sst         []string
		sheetOffset = -1
	)
	for {
		rec, err := r.next()
		if err != nil {
			return nil, fmt.Errorf("workbook globals: %w", err)
		}
		if rec.typ == recEOF {
			break
		}
		switch rec.typ {
		case recFilePass:
			return nil, errors.New("workbook is password protected")
		case recBoundSheet:
			if len(rec.data) < 6 {
				return nil, errTruncated
			}
			if sheetOffset < 0 && rec.data[5] == sheetTypeGrid {
				sheetOffset = int(le.Uint32(rec.data))
			}
		case recSST:
			frags, err := r.continued(rec)
			if err != nil {
				return nil, err
			}
			if sst, err = parseSST(frags); err != nil {
				return nil, fmt.Errorf("shared strings: %w", err)
			}
		}
	}
	if sheetOffset < 0 {
		return nil, errors.New("workbook has no sheets")
	}
	if sheetOffset >= len(stream) {
		return nil, fmt.Errorf("sheet offset %d outside workbook stream", sheetOffset)
	}

	r.off = sheetOffset
	if err := expectBOF(r, bofWorksheet); err != nil {
		return nil, err
	}
	g := &grid{rows: make(map[int][]string), maxRow: -1}
	if err := g.read(r, sst); err != nil {
		return nil, fmt.Errorf("worksheet: %w", err)
	}
	return g.flatten(), nil
}

type grid struct {
	rows   map[int][]string
	maxRow int
}

func (g *grid) set(row, col int, v string) {
	cells := g.rows[row]
	for len(cells) <= col {
		cells = append(cells, "")
	}
	cells[col] = v
	g.rows[row] = cells
	g.maxRow = max(g.maxRow, row)
}

func (g *grid) flatten() [][]string {
	out := make([][]string, g.maxRow+1)
	for i := range out {
		out[i] = g.rows[i]
	}
	return out
}

func (g *grid) read(r *biffReader, sst []string) error {
	// A FORMULA with a text result is followed by a STRING record.
	pendingRow, pendingCol := -1, -1
	for {
		rec, err := r.next()
		if err != nil {
			return err
		}
		d := rec.data
		if rec.typ == recEOF {
			return nil
		}
		switch rec.typ {
		case recNumber:
			if len(d) < 14 {
				return errTruncated
			}
			row, col := cellPos(d)
			g.set(row, col, formatNumber(math.Float64frombits(le.Uint64(d[6:]))))
		case recRK:
			if len(d) < 10 {
				return errTruncated
			}
			row, col := cellPos(d)
			g.set(row, col, formatNumber(decodeRK(le.Uint32(d[6:]))))
		case recMulRK:
			if len(d) < 6 {
				return errTruncated
			}
			row, col := int(le.Uint16(d)), int(le.Uint16(d[2:]))
			for p := d[4 : len(d)-2]; len(p) >= 6; p = p[6:] {
				g.set(row, col, formatNumber(decodeRK(le.Uint32(p[2:]))))
				col++
			}
		case recLabelSST:
			if len(d) < 10 {
				return errTruncated
			}
			idx := int(le.Uint32(d[6:]))
			if idx >= len(sst) {
				return fmt.Errorf("shared string %d out of range", idx)
			}
			row, col := cellPos(d)
			g.set(row, col, sst[idx])
		case recLabel:
			if len(d) < 6 {
				return errTruncated
			}
			s, err := xlString(d[6:])
			if err != nil {
				return err
			}
			row, col := cellPos(d)
			g.set(row, col, s)
		case recBoolErr:
			if len(d) < 8 {
				return errTruncated
			}
			row, col := cellPos(d)
			g.set(row, col, boolErrText(d[6], d[7] != 0))
		case recFormula:
			if len(d) < 14 {
				return errTruncated
			}
			row, col := cellPos(d)
			v := d[6:14]
			if le.Uint16(v[6:]) != 0xFFFF {
				g.set(row, col, formatNumber(math.Float64frombits(le.Uint64(v))))
				continue
			}
			switch v[0] {
			case 0x00:
				pendingRow, pendingCol = row, col
			case 0x01:
				g.set(row, col, boolErrText(v[2], false))
			case 0x02:
				g.set(row, col, boolErrText(v[2], true))
			}
		case recString:
			if pendingRow < 0 {
				continue
			}
			s, err := xlString(d)
			if err != nil {
				return err
			}
			g.set(pendingRow, pendingCol, s)
			pendingRow, pendingCol = -1, -1
		}
	}
}

func cellPos(d []byte) (row, col int) {
	return int(le.Uint16(d)), int(le.Uint16(d[2:]))
}

func decodeRK(rk uint32) float64 {
	var v float64
	if rk&0x02 != 0 {
		v = float64(int32(rk) >> 2)
	} else {
		v = math.Float64frombits(uint64(rk&0xFFFFFFFC) << 32)
	}
	if rk&0x01 != 0 {
		v /= 100
	}
	return v
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func boolErrText(v byte, isErr bool) string {
	if isErr {
		if s, ok := cellErrors[v]; ok {
			return s
		}
		return "#ERR!"
	}
	if v != 0 {
		return "TRUE"
	}
	return "FALSE"
}

// xlString decodes an XLUnicodeString held in a single record: a 16-bit
// character count, an option byte, then the characters.
func xlString(d []byte) (string, error) {
	if len(d) < 3 {
		return "", errTruncated
	}
	n := int(le.Uint16(d))
	wide := d[2]&0x01 != 0
	d = d[3:]
	if wide {
		if len(d) < 2*n {
			return "", errTruncated
		}
		units := make([]uint16, n)
		for i := range units {
			units[i] = le.Uint16(d[2*i:])
		}
		return string(utf16.Decode(units)), nil
	}
	if len(d) < n {
		return "", errTruncated
	}
	return latin1(d[:n]), nil
}

func latin1(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}

// sstReader reads the shared string table across its CONTINUE fragments.
type sstReader struct {
	frags [][]byte
	cur   []byte
}

func (s *sstReader) advance() bool {
	if len(s.frags) == 0 {
		return false
	}
	s.cur, s.frags = s.frags[0], s.frags[1:]
	return true
}

func (s *sstReader) take(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		if len(s.cur) == 0 && !s.advance() {
			return nil, errTruncated
		}
		k := min(n-len(out), len(s.cur))
		out = append(out, s.cur[:k]...)
		s.cur = s.cur[k:]
	}
	return out, nil
}

func (s *sstReader) skip(n int) error {
	for n > 0 {
		if len(s.cur) == 0 && !s.advance() {
			return errTruncated
		}
		k := min(n, len(s.cur))
		s.cur = s.cur[k:]
		n -= k
	}
	return nil
}

// chars reads n characters. A fragment boundary inside the characters starts
// with a fresh option byte that may switch the character width.
func (s *sstReader) chars(n int, wide bool) (string, error) {
	units := make([]uint16, 0, n)
	for len(units) < n {
		if len(s.cur) == 0 {
			if !s.advance() || len(s.cur) == 0 {
				return "", errTruncated
			}
			wide = s.cur[0]&0x01 != 0
			s.cur = s.cur[1:]
			continue
		}
		if wide {
			if len(s.cur) < 2 {
				return "", errTruncated
			}
			units = append(units, le.Uint16(s.cur))
			s.cur = s.cur[2:]
		} else {
			units = append(units, uint16(s.cur[0]))
			s.cur = s.cur[1:]
		}
	}
	return string(utf16.Decode(units)), nil
}

func parseSST(frags [][]byte) ([]string, error) {
	s := &sstReader{frags: frags}
	head, err := s.take(8)
	if err != nil {
		return nil, err
	}
	unique := int(le.Uint32(head[4:]))
	// Each entry takes at least three bytes.
	out := make([]string, 0, min(unique, len(frags[0])/3+1))
	for range unique {
		h, err := s.take(3)
		if err != nil {
			return nil, err
		}
		n, flags := int(le.Uint16(h)), h[2]
		var runs, ext int
		if flags&0x08 != 0 {
			b, err := s.take(2)
			if err != nil {
				return nil, err
			}
			runs = int(le.Uint16(b))
		}
		if flags&0x04 != 0 {
			b, err := s.take(4)
			if err != nil {
				return nil, err
			}
			ext = int(int32(le.Uint32(b)))
			if ext < 0 {
				return nil, errors.New("negative extended string size")
			}
		}
		str, err := s.chars(n, flags&0x01 != 0)
		if err != nil {
			return nil, err
		}
		if err := s.skip(4*runs + ext); err != nil {
			return nil, err
		}
		out = append(out, str)
	}
	return out, nil
}
