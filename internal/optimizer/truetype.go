package optimizer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// subsetTrueType drops unused glyph outlines from a TrueType font while
// preserving glyph IDs, so CID-keyed fonts with an identity CID-to-GID map
// keep working without remapping. Fonts that cannot be subset safely (CFF
// outlines, shaping-heavy scripts) are returned unchanged.
func subsetTrueType(data []byte, used map[uint16]bool) ([]byte, error) {
	f, err := parseSfnt(data)
	if err != nil {
		return nil, err
	}

	for _, tag := range []string{"glyf", "loca", "head", "maxp", "hhea", "hmtx"} {
		if !f.has(tag) {
			return data, nil
		}
	}
	// Sparse subsetting breaks ligature substitution for shaped scripts.
	if f.usesArabicShaping() {
		return data, nil
	}

	head, err := f.table("head")
	if err != nil {
		return nil, err
	}
	if len(head) < 54 {
		return nil, errors.New("head table truncated")
	}
	longLoca := binary.BigEndian.Uint16(head[50:52]) != 0

	maxp, err := f.table("maxp")
	if err != nil {
		return nil, err
	}
	if len(maxp) < 6 {
		return nil, errors.New("maxp table truncated")
	}
	numGlyphs := int(binary.BigEndian.Uint16(maxp[4:6]))

	keep := map[int]bool{0: true} // .notdef stays
	for gid := range used {
		if int(gid) < numGlyphs {
			keep[int(gid)] = true
		}
	}
	if err := f.addComposites(keep, numGlyphs, longLoca); err != nil {
		return nil, err
	}

	// Trailing unused glyphs are dropped entirely; everything below the
	// highest kept GID stays addressable, empty or not.
	newNumGlyphs := 1
	for gid := range keep {
		if gid+1 > newNumGlyphs {
			newNumGlyphs = gid + 1
		}
	}
	if newNumGlyphs > numGlyphs {
		newNumGlyphs = numGlyphs
	}

	glyf, loca, err := f.rebuildGlyphs(keep, newNumGlyphs, longLoca)
	if err != nil {
		return nil, err
	}
	hmtx, err := f.rebuildMetrics(newNumGlyphs)
	if err != nil {
		return nil, err
	}

	newMaxp := append([]byte(nil), maxp...)
	binary.BigEndian.PutUint16(newMaxp[4:], uint16(newNumGlyphs))

	// loca is always written in long format, so head must say so.
	newHead := append([]byte(nil), head...)
	binary.BigEndian.PutUint16(newHead[50:], 1)

	b := &sfntBuilder{}
	b.add("glyf", glyf)
	b.add("loca", loca)
	b.add("hmtx", hmtx)
	b.add("maxp", newMaxp)
	b.add("head", newHead)

	for _, tag := range []string{"hhea", "cmap", "name", "OS/2", "post", "cvt ", "fpgm", "prep", "GSUB", "GPOS", "GDEF", "gasp"} {
		if !f.has(tag) {
			continue
		}
		t, err := f.table(tag)
		if err != nil {
			return nil, err
		}
		if tag == "hhea" && len(t) >= 36 {
			// hmtx is rebuilt with one full metric per glyph.
			t = append([]byte(nil), t...)
			binary.BigEndian.PutUint16(t[34:], uint16(newNumGlyphs))
		}
		b.add(tag, t)
	}

	return b.bytes(), nil
}

type sfntFont struct {
	data []byte
	dir  map[string]sfntRange
}

type sfntRange struct {
	off, len uint32
}

func parseSfnt(data []byte) (*sfntFont, error) {
	if len(data) < 12 {
		return nil, errors.New("sfnt header truncated")
	}
	numTables := int(binary.BigEndian.Uint16(data[4:6]))
	f := &sfntFont{data: data, dir: make(map[string]sfntRange, numTables)}

	pos := 12
	for i := 0; i < numTables; i++ {
		if pos+16 > len(data) {
			return nil, errors.New("sfnt table directory truncated")
		}
		tag := string(data[pos : pos+4])
		f.dir[tag] = sfntRange{
			off: binary.BigEndian.Uint32(data[pos+8 : pos+12]),
			len: binary.BigEndian.Uint32(data[pos+12 : pos+16]),
		}
		pos += 16
	}
	return f, nil
}

func (f *sfntFont) has(tag string) bool {
	_, ok := f.dir[tag]
	return ok
}

func (f *sfntFont) table(tag string) ([]byte, error) {
	r, ok := f.dir[tag]
	if !ok {
		return nil, fmt.Errorf("sfnt table %q missing", tag)
	}
	if uint64(r.off)+uint64(r.len) > uint64(len(f.data)) {
		return nil, fmt.Errorf("sfnt table %q out of bounds", tag)
	}
	return f.data[r.off : r.off+r.len], nil
}

// usesArabicShaping checks the GSUB script list for the arab script tag.
func (f *sfntFont) usesArabicShaping() bool {
	gsub, err := f.table("GSUB")
	if err != nil || len(gsub) < 10 {
		return false
	}
	listOff := int(binary.BigEndian.Uint16(gsub[4:6]))
	if listOff+2 > len(gsub) {
		return false
	}
	list := gsub[listOff:]
	count := int(binary.BigEndian.Uint16(list[0:2]))
	for i, pos := 0, 2; i < count && pos+6 <= len(list); i, pos = i+1, pos+6 {
		if string(list[pos:pos+4]) == "arab" {
			return true
		}
	}
	return false
}

func (f *sfntFont) locaOffset(loca []byte, gid int, longLoca bool) (uint32, bool) {
	if longLoca {
		if (gid+1)*4 > len(loca) {
			return 0, false
		}
		return binary.BigEndian.Uint32(loca[gid*4:]), true
	}
	if (gid+1)*2 > len(loca) {
		return 0, false
	}
	return uint32(binary.BigEndian.Uint16(loca[gid*2:])) * 2, true
}

// addComposites grows keep with every glyph referenced as a component of a
// kept composite glyph.
func (f *sfntFont) addComposites(keep map[int]bool, numGlyphs int, longLoca bool) error {
	loca, err := f.table("loca")
	if err != nil {
		return err
	}
	glyf, err := f.table("glyf")
	if err != nil {
		return err
	}

	queue := make([]int, 0, len(keep))
	for gid := range keep {
		queue = append(queue, gid)
	}

	for len(queue) > 0 {
		gid := queue[0]
		queue = queue[1:]
		if gid >= numGlyphs {
			continue
		}

		start, ok1 := f.locaOffset(loca, gid, longLoca)
		end, ok2 := f.locaOffset(loca, gid+1, longLoca)
		if !ok1 || !ok2 || start >= end || start+10 > uint32(len(glyf)) {
			continue
		}
		if int16(binary.BigEndian.Uint16(glyf[start:start+2])) >= 0 {
			continue // simple glyph
		}

		for pos := start + 10; pos+4 <= uint32(len(glyf)); {
			flags := binary.BigEndian.Uint16(glyf[pos : pos+2])
			component := int(binary.BigEndian.Uint16(glyf[pos+2 : pos+4]))
			if !keep[component] {
				keep[component] = true
				queue = append(queue, component)
			}
			pos += 4
			if flags&0x0001 != 0 { // ARG_1_AND_2_ARE_WORDS
				pos += 4
			} else {
				pos += 2
			}
			switch {
			case flags&0x0008 != 0: // WE_HAVE_A_SCALE
				pos += 2
			case flags&0x0040 != 0: // WE_HAVE_AN_X_AND_Y_SCALE
				pos += 4
			case flags&0x0080 != 0: // WE_HAVE_A_TWO_BY_TWO
				pos += 8
			}
			if flags&0x0020 == 0 { // MORE_COMPONENTS
				break
			}
		}
	}
	return nil
}

// rebuildGlyphs writes a glyf table holding only the kept outlines and a
// matching long-format loca table.
func (f *sfntFont) rebuildGlyphs(keep map[int]bool, numGlyphs int, longLoca bool) ([]byte, []byte, error) {
	oldLoca, err := f.table("loca")
	if err != nil {
		return nil, nil, err
	}
	oldGlyf, err := f.table("glyf")
	if err != nil {
		return nil, nil, err
	}

	var glyf bytes.Buffer
	loca := make([]byte, 0, (numGlyphs+1)*4)

	for gid := 0; gid < numGlyphs; gid++ {
		loca = binary.BigEndian.AppendUint32(loca, uint32(glyf.Len()))
		if !keep[gid] {
			continue
		}
		start, ok1 := f.locaOffset(oldLoca, gid, longLoca)
		end, ok2 := f.locaOffset(oldLoca, gid+1, longLoca)
		if !ok1 || !ok2 || start >= end || end > uint32(len(oldGlyf)) {
			continue
		}
		glyf.Write(oldGlyf[start:end])
	}
	loca = binary.BigEndian.AppendUint32(loca, uint32(glyf.Len()))

	return glyf.Bytes(), loca, nil
}

// rebuildMetrics writes an hmtx table with an explicit advance and side
// bearing for every remaining glyph.
func (f *sfntFont) rebuildMetrics(numGlyphs int) ([]byte, error) {
	hhea, err := f.table("hhea")
	if err != nil {
		return nil, err
	}
	if len(hhea) < 36 {
		return nil, errors.New("hhea table truncated")
	}
	numMetrics := int(binary.BigEndian.Uint16(hhea[34:36]))
	if numMetrics == 0 {
		return nil, errors.New("hhea reports zero metrics")
	}

	hmtx, err := f.table("hmtx")
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, numGlyphs*4)
	for gid := 0; gid < numGlyphs; gid++ {
		var adv, lsb uint16
		switch {
		case gid < numMetrics && (gid+1)*4 <= len(hmtx):
			adv = binary.BigEndian.Uint16(hmtx[gid*4:])
			lsb = binary.BigEndian.Uint16(hmtx[gid*4+2:])
		case numMetrics*4 <= len(hmtx):
			adv = binary.BigEndian.Uint16(hmtx[(numMetrics-1)*4:])
			if off := numMetrics*4 + (gid-numMetrics)*2; off+2 <= len(hmtx) {
				lsb = binary.BigEndian.Uint16(hmtx[off:])
			}
		}
		out = binary.BigEndian.AppendUint16(out, adv)
		out = binary.BigEndian.AppendUint16(out, lsb)
	}
	return out, nil
}

// sfntBuilder assembles a font file from finished tables.
type sfntBuilder struct {
	tables []struct {
		tag  string
		data []byte
	}
}

func (b *sfntBuilder) add(tag string, data []byte) {
	b.tables = append(b.tables, struct {
		tag  string
		data []byte
	}{tag, data})
}

func (b *sfntBuilder) bytes() []byte {
	sort.Slice(b.tables, func(i, j int) bool { return b.tables[i].tag < b.tables[j].tag })

	n := len(b.tables)
	entrySelector := 0
	for 1<<(entrySelector+1) <= n {
		entrySelector++
	}
	searchRange := (1 << entrySelector) * 16

	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x01, 0x00, 0x00})
	writeU16(&buf, uint16(n))
	writeU16(&buf, uint16(searchRange))
	writeU16(&buf, uint16(entrySelector))
	writeU16(&buf, uint16(n*16-searchRange))

	offset := 12 + 16*n
	for _, t := range b.tables {
		buf.WriteString(t.tag)
		writeU32(&buf, sfntChecksum(t.data))
		writeU32(&buf, uint32(offset))
		writeU32(&buf, uint32(len(t.data)))
		offset += (len(t.data) + 3) &^ 3
	}

	tableStart := map[string]int{}
	for _, t := range b.tables {
		tableStart[t.tag] = buf.Len()
		buf.Write(t.data)
		for buf.Len()%4 != 0 {
			buf.WriteByte(0)
		}
	}

	out := buf.Bytes()

	// The head checksumAdjustment makes the whole file sum to a fixed
	// constant; zero it, sum, then store the difference.
	if off, ok := tableStart["head"]; ok && off+12 <= len(out) {
		binary.BigEndian.PutUint32(out[off+8:], 0)
		for i, t := range b.tables {
			if t.tag != "head" {
				continue
			}
			dir := 12 + 16*i
			padded := (len(t.data) + 3) &^ 3
			binary.BigEndian.PutUint32(out[dir+4:], sfntChecksum(out[off:off+padded]))
			break
		}
		binary.BigEndian.PutUint32(out[off+8:], 0xB1B0AFBA-sfntChecksum(out))
	}
	return out
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func sfntChecksum(data []byte) uint32 {
	var sum uint32
	for i := 0; i+4 <= len(data); i += 4 {
		sum += binary.BigEndian.Uint32(data[i : i+4])
	}
	if rem := len(data) % 4; rem != 0 {
		var tail [4]byte
		copy(tail[:], data[len(data)-rem:])
		sum += binary.BigEndian.Uint32(tail[:])
	}
	return sum
}
