package optimizer

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"log/slog"

	"github.com/pdfcpu/pdfcpu/pkg/filter"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// document wraps an open pdfcpu context with the small set of traversal and
// mutation helpers the optimizer sub-steps share. Exactly one stage owns the
// handle at a time; it is released when the stage serializes the result.
type document struct {
	ctx    *model.Context
	logger *slog.Logger
}

func (d *document) deref(o types.Object) types.Object {
	resolved, err := d.ctx.Dereference(o)
	if err != nil {
		return nil
	}
	return resolved
}

// dict resolves o to a dictionary, following indirect references.
func (d *document) dict(o types.Object) (types.Dict, bool) {
	switch v := d.deref(o).(type) {
	case types.Dict:
		return v, true
	case types.StreamDict:
		return v.Dict, true
	}
	return nil, false
}

func (d *document) array(o types.Object) (types.Array, bool) {
	a, ok := d.deref(o).(types.Array)
	return a, ok
}

// name resolves a dictionary entry to its name value.
func (d *document) name(dct types.Dict, key string) (string, bool) {
	o, found := dct[key]
	if !found {
		return "", false
	}
	n, ok := d.deref(o).(types.Name)
	return string(n), ok
}

func (d *document) integer(dct types.Dict, key string) (int, bool) {
	o, found := dct[key]
	if !found {
		return 0, false
	}
	i, ok := d.deref(o).(types.Integer)
	return i.Value(), ok
}

// number resolves o to a float, accepting both integer and real values.
func (d *document) number(o types.Object) (float64, bool) {
	switch v := d.deref(o).(type) {
	case types.Integer:
		return float64(v.Value()), true
	case types.Float:
		return v.Value(), true
	}
	return 0, false
}

// streamObjNr returns the object number behind o when it references a stream.
func (d *document) streamObjNr(o types.Object) (int, bool) {
	ir, ok := o.(types.IndirectRef)
	if !ok {
		return 0, false
	}
	objNr := ir.ObjectNumber.Value()
	if _, ok := d.stream(objNr); !ok {
		return 0, false
	}
	return objNr, true
}

// stream fetches the stream dict stored under objNr. The returned value is a
// copy; mutations must be written back with setStream.
func (d *document) stream(objNr int) (types.StreamDict, bool) {
	entry, found := d.ctx.Table[objNr]
	if !found || entry == nil || entry.Object == nil {
		return types.StreamDict{}, false
	}
	sd, ok := entry.Object.(types.StreamDict)
	return sd, ok
}

func (d *document) setStream(objNr int, sd types.StreamDict) {
	if entry, found := d.ctx.Table[objNr]; found && entry != nil {
		entry.Object = sd
	}
}

// decodedStream returns the decoded content of the stream stored under objNr.
func (d *document) decodedStream(objNr int) ([]byte, bool) {
	sd, ok := d.stream(objNr)
	if !ok {
		return nil, false
	}
	if err := sd.Decode(); err != nil {
		return nil, false
	}
	return sd.Content, true
}

// setFlate replaces a stream's payload with content, deflated.
func setFlate(sd *types.StreamDict, content []byte) error {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(content); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	raw := buf.Bytes()
	sd.Raw = raw
	sd.Content = content
	sd.FilterPipeline = []types.PDFFilter{{Name: filter.Flate}}

	l := int64(len(raw))
	sd.StreamLength = &l
	sd.Dict["Filter"] = types.Name(filter.Flate)
	delete(sd.Dict, "DecodeParms")
	sd.Dict["Length"] = types.Integer(len(raw))
	return nil
}

// eachPage walks the page tree in page order.
func (d *document) eachPage(fn func(pageNr int, pageDict types.Dict, attrs *model.InheritedPageAttrs) error) error {
	for pageNr := 1; pageNr <= d.ctx.PageCount; pageNr++ {
		pageDict, _, attrs, err := d.ctx.PageDict(pageNr, false)
		if err != nil {
			return fmt.Errorf("page %d: %w", pageNr, err)
		}
		if err := fn(pageNr, pageDict, attrs); err != nil {
			return err
		}
	}
	return nil
}

// contentObjNrs returns the object numbers of a page's content streams.
func (d *document) contentObjNrs(pageDict types.Dict) []int {
	var objNrs []int

	o, found := pageDict["Contents"]
	if !found {
		return nil
	}

	collect := func(o types.Object) {
		if objNr, ok := d.streamObjNr(o); ok {
			objNrs = append(objNrs, objNr)
		}
	}

	if ir, ok := o.(types.IndirectRef); ok {
		if _, isStream := d.stream(ir.ObjectNumber.Value()); isStream {
			collect(o)
			return objNrs
		}
	}
	if arr, ok := d.array(o); ok {
		for _, el := range arr {
			collect(el)
		}
	}
	return objNrs
}

// pageResources returns the page's effective resource dictionary, own or
// inherited.
func (d *document) pageResources(pageDict types.Dict, attrs *model.InheritedPageAttrs) (types.Dict, bool) {
	if res, ok := d.dict(pageDict["Resources"]); ok {
		return res, true
	}
	if attrs != nil && attrs.Resources != nil {
		return attrs.Resources, true
	}
	return nil, false
}
