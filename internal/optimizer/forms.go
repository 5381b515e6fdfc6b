package optimizer

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// flattenForms paints every widget annotation's normal appearance into its
// page content and removes the interactive layer. Widgets without a usable
// appearance stream are dropped without being drawn, as are hidden ones.
func (d *document) flattenForms() error {
	catalog, err := d.ctx.Catalog()
	if err != nil {
		return err
	}
	if _, ok := d.dict(catalog["AcroForm"]); !ok {
		return nil
	}

	counter := 0
	err = d.eachPage(func(pageNr int, pageDict types.Dict, attrs *model.InheritedPageAttrs) error {
		annots, ok := d.array(pageDict["Annots"])
		if !ok {
			return nil
		}

		var kept types.Array
		var overlay bytes.Buffer
		for _, o := range annots {
			annot, ok := d.dict(o)
			if !ok {
				kept = append(kept, o)
				continue
			}
			if subtype, _ := d.name(annot, "Subtype"); subtype != "Widget" {
				kept = append(kept, o)
				continue
			}
			if snippet, ok := d.widgetOverlay(pageDict, attrs, annot, &counter); ok {
				overlay.WriteString(snippet)
			} else {
				d.logger.Debug("widget dropped without appearance", "page", pageNr)
			}
		}

		if len(kept) == 0 {
			delete(pageDict, "Annots")
		} else {
			pageDict["Annots"] = kept
		}

		if overlay.Len() > 0 {
			if err := d.appendContent(pageDict, overlay.Bytes()); err != nil {
				return fmt.Errorf("page %d: %w", pageNr, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	delete(catalog, "AcroForm")
	return nil
}

// widgetOverlay registers a widget's normal appearance stream as a form
// XObject in the page resources and returns the cm/Do snippet that paints it
// into the widget rectangle. It reports false when the widget has nothing to
// draw.
func (d *document) widgetOverlay(pageDict types.Dict, attrs *model.InheritedPageAttrs, annot types.Dict, counter *int) (string, bool) {
	const hiddenFlag = 2
	if flags, ok := d.integer(annot, "F"); ok && flags&hiddenFlag != 0 {
		return "", false
	}

	rx, ry, rw, rh, ok := d.rectOf(annot["Rect"])
	if !ok || rw == 0 || rh == 0 {
		return "", false
	}

	appearance, ok := d.normalAppearance(annot)
	if !ok {
		return "", false
	}
	objNr, ok := d.streamObjNr(appearance)
	if !ok {
		return "", false
	}

	sd, _ := d.stream(objNr)
	bx, by, bw, bh, ok := d.transformedBBox(sd.Dict)
	if !ok {
		return "", false
	}

	// Appearance streams are form XObjects in all but name; make it
	// explicit so the Do below is valid.
	sd.Dict["Type"] = types.Name("XObject")
	sd.Dict["Subtype"] = types.Name("Form")
	d.setStream(objNr, sd)

	res, ok := d.pageResources(pageDict, attrs)
	if !ok {
		res = types.Dict{}
		pageDict["Resources"] = res
	}
	xobjects, ok := d.dict(res["XObject"])
	if !ok {
		xobjects = types.Dict{}
		res["XObject"] = xobjects
	}

	var name string
	for {
		*counter++
		name = fmt.Sprintf("WFlat%d", *counter)
		if _, taken := xobjects[name]; !taken {
			break
		}
	}
	xobjects[name] = types.IndirectRef{
		ObjectNumber:     types.Integer(objNr),
		GenerationNumber: types.Integer(0),
	}

	sx, sy := 1.0, 1.0
	if bw != 0 {
		sx = rw / bw
	}
	if bh != 0 {
		sy = rh / bh
	}
	tx := rx - bx*sx
	ty := ry - by*sy

	return fmt.Sprintf("q %s 0 0 %s %s %s cm /%s Do Q\n",
		pdfNum(sx), pdfNum(sy), pdfNum(tx), pdfNum(ty), name), true
}

// normalAppearance resolves a widget's /AP /N entry, following the /AS state
// selector when the normal appearance is a sub-dictionary.
func (d *document) normalAppearance(annot types.Dict) (types.Object, bool) {
	ap, ok := d.dict(annot["AP"])
	if !ok {
		return nil, false
	}
	n, found := ap["N"]
	if !found {
		return nil, false
	}
	if _, ok := d.streamObjNr(n); ok {
		return n, true
	}
	states, ok := d.dict(n)
	if !ok {
		return nil, false
	}
	if as, ok := d.name(annot, "AS"); ok {
		if state, found := states[as]; found {
			return state, true
		}
	}
	return nil, false
}

// rectOf reads a rectangle array into origin and extent, normalizing corner
// order.
func (d *document) rectOf(o types.Object) (x, y, w, h float64, ok bool) {
	arr, isArr := d.array(o)
	if !isArr || len(arr) != 4 {
		return 0, 0, 0, 0, false
	}
	var v [4]float64
	for i := range arr {
		f, isNum := d.number(arr[i])
		if !isNum {
			return 0, 0, 0, 0, false
		}
		v[i] = f
	}
	x, y = min(v[0], v[2]), min(v[1], v[3])
	return x, y, max(v[0], v[2]) - x, max(v[1], v[3]) - y, true
}

// transformedBBox returns the appearance BBox mapped through the form's
// Matrix, as origin and extent.
func (d *document) transformedBBox(formDict types.Dict) (x, y, w, h float64, ok bool) {
	bx, by, bw, bh, ok := d.rectOf(formDict["BBox"])
	if !ok {
		return 0, 0, 0, 0, false
	}

	m := [6]float64{1, 0, 0, 1, 0, 0}
	if arr, isArr := d.array(formDict["Matrix"]); isArr && len(arr) == 6 {
		for i := range arr {
			if f, isNum := d.number(arr[i]); isNum {
				m[i] = f
			}
		}
	}

	minX, minY := 0.0, 0.0
	maxX, maxY := 0.0, 0.0
	first := true
	for _, c := range [][2]float64{{bx, by}, {bx + bw, by}, {bx, by + bh}, {bx + bw, by + bh}} {
		px := m[0]*c[0] + m[2]*c[1] + m[4]
		py := m[1]*c[0] + m[3]*c[1] + m[5]
		if first {
			minX, maxX, minY, maxY = px, px, py, py
			first = false
			continue
		}
		minX, maxX = min(minX, px), max(maxX, px)
		minY, maxY = min(minY, py), max(maxY, py)
	}
	return minX, minY, maxX - minX, maxY - minY, true
}

// appendContent adds an overlay content stream after the page's existing
// content.
func (d *document) appendContent(pageDict types.Dict, content []byte) error {
	sd := types.StreamDict{Dict: types.Dict{}}
	if err := setFlate(&sd, content); err != nil {
		return err
	}
	ir, err := d.ctx.IndRefForNewObject(sd)
	if err != nil {
		return err
	}

	existing, found := pageDict["Contents"]
	switch {
	case !found:
		pageDict["Contents"] = *ir
	default:
		if arr, ok := d.array(existing); ok {
			pageDict["Contents"] = append(append(types.Array{}, arr...), *ir)
		} else {
			pageDict["Contents"] = types.Array{existing, *ir}
		}
	}
	return nil
}

// pdfNum formats a number for a content stream; exponent notation is not
// valid there.
func pdfNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
