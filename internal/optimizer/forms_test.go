package optimizer

import (
	"fmt"
	"strings"
	"testing"

	"pdfslim/internal/config"
)

// formPDF builds a single-page document with an AcroForm holding one widget
// annotation (object 5). The appearance objects follow as 6 0 R, 7 0 R, ...
func formPDF(t *testing.T, widgetBody string, appearances ...string) []byte {
	content := "BT ET"
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R /AcroForm << /Fields [5 0 R] >> >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> /Contents 4 0 R /Annots [5 0 R] >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		widgetBody,
	}
	return buildPDF(t, append(objects, appearances...)...)
}

func appearanceBody(bbox, extra, content string) string {
	return fmt.Sprintf("<< /Subtype /Form /BBox %s %s/Length %d >>\nstream\n%s\nendstream",
		bbox, extra, len(content), content)
}

// flattenCfg keeps the annotation pass out of the way so the test observes
// what flattening alone does to the widget.
func flattenCfg() config.CompressionConfig {
	cfg := config.Default()
	cfg.RemoveAnnotations = false
	return cfg
}

// pageOverlay returns the decoded content of the page's appended overlay
// stream, requiring that the original stream is still in front of it.
func pageOverlay(t *testing.T, d *document) string {
	t.Helper()

	pageDict, _, _, err := d.ctx.PageDict(1, false)
	if err != nil {
		t.Fatalf("PageDict: %v", err)
	}
	objNrs := d.contentObjNrs(pageDict)
	if len(objNrs) < 2 {
		t.Fatalf("content stream count = %d, want the original plus an overlay", len(objNrs))
	}
	overlay, ok := d.decodedStream(objNrs[len(objNrs)-1])
	if !ok {
		t.Fatal("overlay stream does not decode")
	}
	return string(overlay)
}

func TestFlattenFormsPaintsWidgetIntoPage(t *testing.T) {
	pdf := formPDF(t,
		"<< /Type /Annot /Subtype /Widget /FT /Btn /T (Send) /F 4 /Rect [100 100 200 150] /AP << /N 6 0 R >> >>",
		appearanceBody("[0 0 100 50]", "", "0 0 1 rg 0 0 100 50 re f"),
	)
	d := optimizeToDoc(t, flattenCfg(), pdf)

	catalog, err := d.ctx.Catalog()
	if err != nil {
		t.Fatalf("Catalog: %v", err)
	}
	if _, found := catalog["AcroForm"]; found {
		t.Error("AcroForm survived flattening")
	}

	pageDict, _, attrs, err := d.ctx.PageDict(1, false)
	if err != nil {
		t.Fatalf("PageDict: %v", err)
	}
	if _, found := pageDict["Annots"]; found {
		t.Error("widget annotation survived flattening")
	}

	// Rect and BBox are congruent, so the overlay places the appearance with
	// an unscaled translation.
	overlay := pageOverlay(t, d)
	if want := "q 1 0 0 1 100 100 cm /WFlat1 Do Q"; !strings.Contains(overlay, want) {
		t.Errorf("overlay = %q, want it to contain %q", overlay, want)
	}

	res, ok := d.pageResources(pageDict, attrs)
	if !ok {
		t.Fatal("page has no resources")
	}
	xobjects, ok := d.dict(res["XObject"])
	if !ok {
		t.Fatal("page has no XObject resources")
	}
	objNr, ok := d.streamObjNr(xobjects["WFlat1"])
	if !ok {
		t.Fatal("overlay form is not registered in the page resources")
	}
	sd, _ := d.stream(objNr)
	if subtype, _ := d.name(sd.Dict, "Subtype"); subtype != "Form" {
		t.Errorf("appearance subtype = %q, want Form", subtype)
	}
	appearance, ok := d.decodedStream(objNr)
	if !ok {
		t.Fatal("appearance stream does not decode")
	}
	if !strings.Contains(string(appearance), "re f") {
		t.Errorf("appearance content = %q, want the original fill operators", appearance)
	}
}

func TestFlattenFormsResolvesAppearanceState(t *testing.T) {
	on := "1 0 0 rg 0 0 20 20 re f"
	off := "0 1 0 rg 0 0 20 20 re f"
	pdf := formPDF(t,
		"<< /Type /Annot /Subtype /Widget /FT /Btn /T (Check) /Rect [50 50 70 70] /AS /On /AP << /N << /On 6 0 R /Off 7 0 R >> >> >>",
		appearanceBody("[0 0 20 20]", "", on),
		appearanceBody("[0 0 20 20]", "", off),
	)
	d := optimizeToDoc(t, flattenCfg(), pdf)

	overlay := pageOverlay(t, d)
	if !strings.Contains(overlay, "/WFlat1 Do") {
		t.Fatalf("overlay = %q, want a painted widget", overlay)
	}

	pageDict, _, attrs, err := d.ctx.PageDict(1, false)
	if err != nil {
		t.Fatalf("PageDict: %v", err)
	}
	res, _ := d.pageResources(pageDict, attrs)
	xobjects, _ := d.dict(res["XObject"])
	objNr, ok := d.streamObjNr(xobjects["WFlat1"])
	if !ok {
		t.Fatal("overlay form is not registered in the page resources")
	}
	appearance, ok := d.decodedStream(objNr)
	if !ok {
		t.Fatal("appearance stream does not decode")
	}
	if string(appearance) != on {
		t.Errorf("painted state = %q, want the /On appearance %q", appearance, on)
	}
}

func TestFlattenFormsAppliesAppearanceMatrix(t *testing.T) {
	// A 90 degree rotation maps BBox [0 0 100 50] onto [-50 0 0 100]; the
	// widget rectangle is 100x50, so the appearance is scaled 2x horizontally
	// and halved vertically, then shifted to the rectangle origin.
	pdf := formPDF(t,
		"<< /Type /Annot /Subtype /Widget /FT /Btn /T (Spin) /Rect [100 100 200 150] /AP << /N 6 0 R >> >>",
		appearanceBody("[0 0 100 50]", "/Matrix [0 1 -1 0 0 0] ", "0 0 1 rg 0 0 100 50 re f"),
	)
	d := optimizeToDoc(t, flattenCfg(), pdf)

	overlay := pageOverlay(t, d)
	if want := "q 2 0 0 0.5 200 100 cm /WFlat1 Do Q"; !strings.Contains(overlay, want) {
		t.Errorf("overlay = %q, want it to contain %q", overlay, want)
	}
}

func TestFlattenFormsDropsHiddenWidget(t *testing.T) {
	pdf := formPDF(t,
		"<< /Type /Annot /Subtype /Widget /FT /Btn /T (Ghost) /F 2 /Rect [100 100 200 150] /AP << /N 6 0 R >> >>",
		appearanceBody("[0 0 100 50]", "", "0 0 1 rg 0 0 100 50 re f"),
	)
	d := optimizeToDoc(t, flattenCfg(), pdf)

	pageDict, _, _, err := d.ctx.PageDict(1, false)
	if err != nil {
		t.Fatalf("PageDict: %v", err)
	}
	if _, found := pageDict["Annots"]; found {
		t.Error("hidden widget survived flattening")
	}
	if objNrs := d.contentObjNrs(pageDict); len(objNrs) != 1 {
		t.Errorf("content stream count = %d, want no overlay for a hidden widget", len(objNrs))
	}

	catalog, err := d.ctx.Catalog()
	if err != nil {
		t.Fatalf("Catalog: %v", err)
	}
	if _, found := catalog["AcroForm"]; found {
		t.Error("AcroForm survived flattening")
	}
}

func TestFlattenFormsDropsWidgetWithoutAppearance(t *testing.T) {
	pdf := formPDF(t,
		"<< /Type /Annot /Subtype /Widget /FT /Btn /T (Blank) /Rect [100 100 200 150] >>",
	)
	d := optimizeToDoc(t, flattenCfg(), pdf)

	pageDict, _, _, err := d.ctx.PageDict(1, false)
	if err != nil {
		t.Fatalf("PageDict: %v", err)
	}
	if _, found := pageDict["Annots"]; found {
		t.Error("appearance-less widget survived flattening")
	}
	if objNrs := d.contentObjNrs(pageDict); len(objNrs) != 1 {
		t.Errorf("content stream count = %d, want no overlay without an appearance", len(objNrs))
	}
}

func TestFlattenFormsKeepsNonWidgetAnnotations(t *testing.T) {
	pdf := buildPDF(t,
		"<< /Type /Catalog /Pages 2 0 R /AcroForm << /Fields [] >> >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> /Contents 4 0 R /Annots [5 0 R] >>",
		"<< /Length 5 >>\nstream\nBT ET\nendstream",
		"<< /Type /Annot /Subtype /Link /Rect [0 0 10 10] /A << /S /URI /URI (https://example.com) >> >>",
	)
	d := optimizeToDoc(t, flattenCfg(), pdf)

	pageDict, _, _, err := d.ctx.PageDict(1, false)
	if err != nil {
		t.Fatalf("PageDict: %v", err)
	}
	annots, ok := d.array(pageDict["Annots"])
	if !ok || len(annots) != 1 {
		t.Fatalf("annotation count = %d, want the link kept", len(annots))
	}
}
