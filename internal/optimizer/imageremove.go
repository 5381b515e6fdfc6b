package optimizer

import (
	"bytes"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// resourceEntry marks one XObject name for removal from its resource
// dictionary.
type resourceEntry struct {
	dict types.Dict
	name string
}

// removeImages drops every raster image from the document: image XObjects are
// unreferenced by rewriting the content streams that paint them, and inline
// images are cut out of the stream bytes. Resource entries are deleted only
// after every stream is rewritten, since pages can share a resource
// dictionary. The orphaned image objects are swept by garbage collection at
// serialization time.
func (d *document) removeImages() error {
	visited := map[int]bool{}
	var doomed []resourceEntry
	err := d.eachPage(func(_ int, pageDict types.Dict, attrs *model.InheritedPageAttrs) error {
		res, _ := d.pageResources(pageDict, attrs)
		for _, objNr := range d.contentObjNrs(pageDict) {
			d.stripImages(objNr, res, visited, &doomed)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, e := range doomed {
		delete(e.dict, e.name)
	}
	return nil
}

// stripImages rewrites one content stream against its resource dictionary,
// then recurses into the form XObjects it can reach.
func (d *document) stripImages(objNr int, res types.Dict, visited map[int]bool, doomed *[]resourceEntry) {
	if visited[objNr] {
		return
	}
	visited[objNr] = true

	imageNames := map[string]bool{}
	type formRef struct {
		objNr int
		res   types.Dict
	}
	var forms []formRef

	xobjects, haveXObjects := types.Dict(nil), false
	if res != nil {
		xobjects, haveXObjects = d.dict(res["XObject"])
	}
	if haveXObjects {
		for name, o := range xobjects {
			xObjNr, ok := d.streamObjNr(o)
			if !ok {
				continue
			}
			sd, _ := d.stream(xObjNr)
			switch subtype, _ := d.name(sd.Dict, "Subtype"); subtype {
			case "Image":
				imageNames[name] = true
			case "Form":
				formRes := res
				if inner, ok := d.dict(sd.Dict["Resources"]); ok {
					formRes = inner
				}
				forms = append(forms, formRef{objNr: xObjNr, res: formRes})
			}
		}
	}

	if content, ok := d.decodedStream(objNr); ok {
		if out, changed := stripImageOps(content, imageNames); changed {
			sd, _ := d.stream(objNr)
			if err := setFlate(&sd, out); err == nil {
				d.setStream(objNr, sd)
			}
		}
	}

	for name := range imageNames {
		*doomed = append(*doomed, resourceEntry{dict: xobjects, name: name})
	}
	for _, f := range forms {
		d.stripImages(f.objNr, f.res, visited, doomed)
	}
}

// stripImageOps removes inline images and Do invocations of the named image
// XObjects from a decoded content stream. It reports whether anything was
// cut.
func stripImageOps(src []byte, imageNames map[string]bool) ([]byte, bool) {
	lex := &contentLexer{src: src}
	var out bytes.Buffer
	copyFrom := 0
	changed := false
	var pending []token

	for {
		tok, ok := lex.next()
		if !ok {
			break
		}
		switch tok.kind {
		case tokInlineImage:
			out.Write(src[copyFrom:tok.start])
			copyFrom = tok.end
			changed = true
			pending = pending[:0]
		case tokOperator:
			if tok.op == "Do" && len(pending) == 1 &&
				pending[0].kind == tokName && imageNames[pending[0].op] {
				out.Write(src[copyFrom:pending[0].start])
				copyFrom = tok.end
				changed = true
			}
			pending = pending[:0]
		default:
			pending = append(pending, tok)
		}
	}
	if !changed {
		return src, false
	}
	out.Write(src[copyFrom:])
	return out.Bytes(), true
}
