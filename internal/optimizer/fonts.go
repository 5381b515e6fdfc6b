package optimizer

import (
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// subsetFonts rewrites embedded TrueType programs of CID-keyed fonts with an
// identity encoding to contain only the glyphs the document shows. Each font
// is handled independently; one failing font never blocks the others.
func (d *document) subsetFonts() error {
	usage := d.collectFontUsage()
	for objNr, codes := range usage {
		if err := d.subsetFont(objNr, codes); err != nil {
			d.logger.Warn("font not subset", "object", objNr, "error", err)
		}
	}
	return nil
}

// collectFontUsage walks every content stream and returns, per font object,
// the set of 2-byte character codes shown with it. For Identity-H fonts the
// codes are the glyph IDs.
func (d *document) collectFontUsage() map[int]map[uint16]bool {
	usage := map[int]map[uint16]bool{}
	visited := map[int]bool{}

	record := func(fontObjNr int, s []byte) {
		codes := usage[fontObjNr]
		if codes == nil {
			codes = map[uint16]bool{}
			usage[fontObjNr] = codes
		}
		for i := 0; i+1 < len(s); i += 2 {
			codes[uint16(s[i])<<8|uint16(s[i+1])] = true
		}
	}

	var walk func(objNr int, res types.Dict)
	walk = func(objNr int, res types.Dict) {
		if visited[objNr] {
			return
		}
		visited[objNr] = true

		fonts := map[string]int{}
		if res != nil {
			if fontDict, ok := d.dict(res["Font"]); ok {
				for name, o := range fontDict {
					if ir, ok := o.(types.IndirectRef); ok {
						fonts[name] = ir.ObjectNumber.Value()
					}
				}
			}
		}

		if content, ok := d.decodedStream(objNr); ok {
			collectTextCodes(content, fonts, record)
		}

		// Form XObjects carry their own text.
		if res == nil {
			return
		}
		if xobjects, ok := d.dict(res["XObject"]); ok {
			for _, o := range xobjects {
				xObjNr, ok := d.streamObjNr(o)
				if !ok {
					continue
				}
				sd, _ := d.stream(xObjNr)
				if subtype, _ := d.name(sd.Dict, "Subtype"); subtype != "Form" {
					continue
				}
				formRes := res
				if inner, ok := d.dict(sd.Dict["Resources"]); ok {
					formRes = inner
				}
				walk(xObjNr, formRes)
			}
		}
	}

	d.eachPage(func(_ int, pageDict types.Dict, attrs *model.InheritedPageAttrs) error {
		res, _ := d.pageResources(pageDict, attrs)
		for _, objNr := range d.contentObjNrs(pageDict) {
			walk(objNr, res)
		}
		return nil
	})
	return usage
}

// collectTextCodes scans one decoded content stream and reports each shown
// string to sink together with the font object it was shown with. The font
// selection follows Tf and the q/Q graphics state stack; strings shown before
// any Tf are ignored, conforming streams always select a font first.
func collectTextCodes(src []byte, fonts map[string]int, sink func(fontObjNr int, s []byte)) {
	lex := &contentLexer{src: src}
	current := 0
	var stack []int
	var pending []token

	emit := func(all bool) {
		if current == 0 {
			return
		}
		for i := len(pending) - 1; i >= 0; i-- {
			if pending[i].kind == tokString {
				sink(current, pending[i].str)
				if !all {
					return
				}
			}
		}
	}

	for {
		tok, ok := lex.next()
		if !ok {
			return
		}
		if tok.kind != tokOperator {
			if tok.kind != tokInlineImage {
				pending = append(pending, tok)
			}
			continue
		}
		switch tok.op {
		case "Tf":
			current = 0
			for i := len(pending) - 1; i >= 0; i-- {
				if pending[i].kind == tokName {
					current = fonts[pending[i].op]
					break
				}
			}
		case "q":
			stack = append(stack, current)
		case "Q":
			if n := len(stack); n > 0 {
				current = stack[n-1]
				stack = stack[:n-1]
			}
		case "Tj", "'", "\"":
			emit(false)
		case "TJ":
			emit(true)
		}
		pending = pending[:0]
	}
}

var errNotSubsettable = errors.New("font is not an identity-encoded CID TrueType font")

// subsetFont replaces the FontFile2 program of one Type0 font when it
// qualifies for GID-preserving subsetting.
func (d *document) subsetFont(objNr int, codes map[uint16]bool) error {
	fd, ok := d.dict(types.IndirectRef{ObjectNumber: types.Integer(objNr), GenerationNumber: types.Integer(0)})
	if !ok {
		return nil
	}
	if subtype, _ := d.name(fd, "Subtype"); subtype != "Type0" {
		return nil // simple fonts are left alone
	}
	if enc, _ := d.name(fd, "Encoding"); enc != "Identity-H" && enc != "Identity-V" {
		return errNotSubsettable
	}

	descendants, ok := d.array(fd["DescendantFonts"])
	if !ok || len(descendants) != 1 {
		return errNotSubsettable
	}
	df, ok := d.dict(descendants[0])
	if !ok {
		return errNotSubsettable
	}
	if subtype, _ := d.name(df, "Subtype"); subtype != "CIDFontType2" {
		return errNotSubsettable
	}
	if cidToGID, found := df["CIDToGIDMap"]; found {
		if name, ok := d.deref(cidToGID).(types.Name); !ok || string(name) != "Identity" {
			return errNotSubsettable
		}
	}

	descriptor, ok := d.dict(df["FontDescriptor"])
	if !ok {
		return errNotSubsettable
	}
	fileObjNr, ok := d.streamObjNr(descriptor["FontFile2"])
	if !ok {
		return errNotSubsettable
	}
	program, ok := d.decodedStream(fileObjNr)
	if !ok {
		return fmt.Errorf("font program of object %d cannot be decoded", fileObjNr)
	}

	subset, err := subsetTrueType(program, codes)
	if err != nil {
		return err
	}
	if len(subset) >= len(program) {
		return nil // nothing gained
	}

	sd, _ := d.stream(fileObjNr)
	if err := setFlate(&sd, subset); err != nil {
		return err
	}
	sd.Dict["Length1"] = types.Integer(len(subset))
	d.setStream(fileObjNr, sd)

	tag := subsetTag(subset)
	retagName(d, fd, "BaseFont", tag)
	retagName(d, df, "BaseFont", tag)
	retagName(d, descriptor, "FontName", tag)

	d.logger.Debug("font subset",
		"object", objNr, "glyphs", len(codes),
		"before", len(program), "after", len(subset))
	return nil
}

// retagName prefixes a font name with a subset tag unless it already has one.
func retagName(d *document, dict types.Dict, key, tag string) {
	name, ok := d.name(dict, key)
	if !ok {
		return
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '+' {
			return
		}
	}
	dict[key] = types.Name(tag + "+" + name)
}

// subsetTag derives the conventional six-letter subset prefix from the font
// program so repeated runs stay deterministic.
func subsetTag(program []byte) string {
	v := sfntChecksum(program)
	tag := make([]byte, 6)
	for i := range tag {
		tag[i] = byte('A' + v%26)
		v /= 26
	}
	return string(tag)
}
