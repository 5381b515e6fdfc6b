package optimizer

import (
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// scrubMetadata strips identifying and auxiliary payloads from the document:
// the Info dictionary, XMP metadata, embedded files and document JavaScript,
// page thumbnails and piece info, and any stored form field values.
func (d *document) scrubMetadata() error {
	d.ctx.Info = nil

	catalog, err := d.ctx.Catalog()
	if err != nil {
		return err
	}

	delete(catalog, "Metadata")
	delete(catalog, "PieceInfo")

	if names, ok := d.dict(catalog["Names"]); ok {
		delete(names, "EmbeddedFiles")
		delete(names, "JavaScript")
		if len(names) == 0 {
			delete(catalog, "Names")
		}
	}

	if acro, ok := d.dict(catalog["AcroForm"]); ok {
		delete(acro, "CO")
		if fields, ok := d.array(acro["Fields"]); ok {
			seen := map[int]bool{}
			d.resetFields(fields, seen)
		}
	}

	return d.eachPage(func(pageNr int, pageDict types.Dict, _ *model.InheritedPageAttrs) error {
		delete(pageDict, "Thumb")
		delete(pageDict, "Metadata")
		delete(pageDict, "PieceInfo")
		delete(pageDict, "AA")
		return nil
	})
}

// resetFields clears stored values from an AcroForm field tree.
func (d *document) resetFields(fields types.Array, seen map[int]bool) {
	for _, o := range fields {
		if ir, ok := o.(types.IndirectRef); ok {
			objNr := ir.ObjectNumber.Value()
			if seen[objNr] {
				continue
			}
			seen[objNr] = true
		}
		field, ok := d.dict(o)
		if !ok {
			continue
		}
		delete(field, "V")
		delete(field, "RV")
		delete(field, "DV")
		if kids, ok := d.array(field["Kids"]); ok {
			d.resetFields(kids, seen)
		}
	}
}
