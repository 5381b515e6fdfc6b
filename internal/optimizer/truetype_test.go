package optimizer

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// testFont builds a four-glyph TrueType font: .notdef, two simple glyphs and
// a composite referencing glyph 1. Long loca format throughout.
func testFont(t *testing.T, extra map[string][]byte) []byte {
	t.Helper()

	simple := func(fill byte) []byte {
		g := make([]byte, 12)
		binary.BigEndian.PutUint16(g[0:], 1) // one contour
		g[10], g[11] = fill, fill
		return g
	}
	composite := func(component uint16) []byte {
		g := make([]byte, 16)
		binary.BigEndian.PutUint16(g[0:], 0xffff) // numberOfContours = -1
		binary.BigEndian.PutUint16(g[10:], 0)     // flags: byte args, no more components
		binary.BigEndian.PutUint16(g[12:], component)
		return g
	}

	glyphs := [][]byte{simple(0xaa), simple(0xbb), simple(0xcc), composite(1)}
	var glyf bytes.Buffer
	loca := make([]byte, 0, (len(glyphs)+1)*4)
	for _, g := range glyphs {
		loca = binary.BigEndian.AppendUint32(loca, uint32(glyf.Len()))
		glyf.Write(g)
	}
	loca = binary.BigEndian.AppendUint32(loca, uint32(glyf.Len()))

	head := make([]byte, 54)
	binary.BigEndian.PutUint16(head[50:], 1) // long loca

	maxp := make([]byte, 6)
	binary.BigEndian.PutUint32(maxp[0:], 0x00010000)
	binary.BigEndian.PutUint16(maxp[4:], uint16(len(glyphs)))

	hhea := make([]byte, 36)
	binary.BigEndian.PutUint16(hhea[34:], uint16(len(glyphs)))

	hmtx := make([]byte, 0, len(glyphs)*4)
	for gid := range glyphs {
		hmtx = binary.BigEndian.AppendUint16(hmtx, uint16(500+gid))
		hmtx = binary.BigEndian.AppendUint16(hmtx, uint16(gid))
	}

	b := &sfntBuilder{}
	b.add("glyf", glyf.Bytes())
	b.add("loca", loca)
	b.add("head", head)
	b.add("maxp", maxp)
	b.add("hhea", hhea)
	b.add("hmtx", hmtx)
	for tag, data := range extra {
		b.add(tag, data)
	}
	return b.bytes()
}

func glyphExtents(t *testing.T, font []byte) []uint32 {
	t.Helper()
	f, err := parseSfnt(font)
	if err != nil {
		t.Fatalf("parse subset: %v", err)
	}
	loca, err := f.table("loca")
	if err != nil {
		t.Fatal(err)
	}
	extents := make([]uint32, len(loca)/4)
	for i := range extents {
		extents[i] = binary.BigEndian.Uint32(loca[i*4:])
	}
	return extents
}

func numGlyphsOf(t *testing.T, font []byte) int {
	t.Helper()
	f, err := parseSfnt(font)
	if err != nil {
		t.Fatal(err)
	}
	maxp, err := f.table("maxp")
	if err != nil {
		t.Fatal(err)
	}
	return int(binary.BigEndian.Uint16(maxp[4:6]))
}

func TestSubsetDropsUnusedGlyphData(t *testing.T) {
	font := testFont(t, nil)
	out, err := subsetTrueType(font, map[uint16]bool{3: true})
	if err != nil {
		t.Fatalf("subsetTrueType: %v", err)
	}

	if got := numGlyphsOf(t, out); got != 4 {
		t.Errorf("numGlyphs = %d, want 4 (GIDs preserved)", got)
	}

	// Glyph 2 is unused; its outline must be gone while 0, 1 and the
	// composite 3 (whose component is glyph 1) survive.
	offsets := glyphExtents(t, out)
	want := []uint32{0, 12, 24, 24, 40}
	if len(offsets) != len(want) {
		t.Fatalf("loca has %d entries, want %d", len(offsets), len(want))
	}
	for i := range want {
		if offsets[i] != want[i] {
			t.Errorf("loca[%d] = %d, want %d", i, offsets[i], want[i])
		}
	}
}

func TestSubsetTrimsTrailingGlyphs(t *testing.T) {
	font := testFont(t, nil)
	out, err := subsetTrueType(font, map[uint16]bool{1: true})
	if err != nil {
		t.Fatal(err)
	}
	if got := numGlyphsOf(t, out); got != 2 {
		t.Errorf("numGlyphs = %d, want 2", got)
	}

	f, _ := parseSfnt(out)
	hhea, err := f.table("hhea")
	if err != nil {
		t.Fatal(err)
	}
	if got := binary.BigEndian.Uint16(hhea[34:36]); got != 2 {
		t.Errorf("numberOfHMetrics = %d, want 2", got)
	}
	hmtx, err := f.table("hmtx")
	if err != nil {
		t.Fatal(err)
	}
	if len(hmtx) != 8 {
		t.Fatalf("hmtx length = %d, want 8", len(hmtx))
	}
	if adv := binary.BigEndian.Uint16(hmtx[4:]); adv != 501 {
		t.Errorf("glyph 1 advance = %d, want 501", adv)
	}
}

func TestSubsetAlwaysKeepsNotdef(t *testing.T) {
	out, err := subsetTrueType(testFont(t, nil), nil)
	if err != nil {
		t.Fatal(err)
	}
	offsets := glyphExtents(t, out)
	if len(offsets) < 2 || offsets[1]-offsets[0] == 0 {
		t.Error(".notdef outline dropped")
	}
}

func TestSubsetWritesLongLocaFormat(t *testing.T) {
	out, err := subsetTrueType(testFont(t, nil), map[uint16]bool{1: true})
	if err != nil {
		t.Fatal(err)
	}
	f, _ := parseSfnt(out)
	head, err := f.table("head")
	if err != nil {
		t.Fatal(err)
	}
	if got := binary.BigEndian.Uint16(head[50:52]); got != 1 {
		t.Errorf("indexToLocFormat = %d, want 1", got)
	}
}

func TestSubsetLeavesFontsWithoutGlyfAlone(t *testing.T) {
	b := &sfntBuilder{}
	b.add("CFF ", []byte{1, 2, 3, 4})
	b.add("head", make([]byte, 54))
	font := b.bytes()

	out, err := subsetTrueType(font, map[uint16]bool{1: true})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, font) {
		t.Error("CFF-flavored font was modified")
	}
}

func TestSubsetLeavesArabicFontsAlone(t *testing.T) {
	gsub := make([]byte, 18)
	binary.BigEndian.PutUint32(gsub[0:], 0x00010000)
	binary.BigEndian.PutUint16(gsub[4:], 10) // script list offset
	binary.BigEndian.PutUint16(gsub[10:], 1) // script count
	copy(gsub[12:], "arab")

	font := testFont(t, map[string][]byte{"GSUB": gsub})
	out, err := subsetTrueType(font, map[uint16]bool{1: true})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, font) {
		t.Error("shaping-dependent font was modified")
	}
}
