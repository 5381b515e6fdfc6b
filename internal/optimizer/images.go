package optimizer

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"

	xdraw "golang.org/x/image/draw"

	"github.com/pdfcpu/pdfcpu/pkg/filter"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"pdfslim/internal/config"
)

var errUnsupportedImage = errors.New("unsupported image encoding")

// imageRef ties an image XObject to the dimensions of the page it first
// appears on, in points. Page size is what turns pixel counts into an
// effective resolution.
type imageRef struct {
	objNr        int
	pageW, pageH float64
}

// recompressImages downsamples every raster image whose effective resolution
// exceeds the configured threshold and re-encodes it as JPEG. Images that
// cannot be handled are left untouched.
func (d *document) recompressImages(cfg config.CompressionConfig) error {
	for _, ref := range d.collectImages() {
		if err := d.recompressImage(ref, cfg); err != nil {
			d.logger.Warn("image left as-is", "object", ref.objNr, "error", err)
		}
	}
	return nil
}

// collectImages walks every page's resources and returns the image XObjects
// in deterministic page order, descending into form XObjects.
func (d *document) collectImages() []imageRef {
	var refs []imageRef
	seen := map[int]bool{}

	var fromResources func(res types.Dict, pageW, pageH float64)
	fromResources = func(res types.Dict, pageW, pageH float64) {
		xobjects, ok := d.dict(res["XObject"])
		if !ok {
			return
		}
		for _, o := range xobjects {
			objNr, ok := d.streamObjNr(o)
			if !ok || seen[objNr] {
				continue
			}
			seen[objNr] = true
			sd, _ := d.stream(objNr)
			switch subtype, _ := d.name(sd.Dict, "Subtype"); subtype {
			case "Image":
				refs = append(refs, imageRef{objNr: objNr, pageW: pageW, pageH: pageH})
			case "Form":
				if inner, ok := d.dict(sd.Dict["Resources"]); ok {
					fromResources(inner, pageW, pageH)
				}
			}
		}
	}

	d.eachPage(func(_ int, pageDict types.Dict, attrs *model.InheritedPageAttrs) error {
		pageW, pageH := 612.0, 792.0
		if attrs != nil && attrs.MediaBox != nil {
			pageW, pageH = attrs.MediaBox.Width(), attrs.MediaBox.Height()
		}
		if res, ok := d.pageResources(pageDict, attrs); ok {
			fromResources(res, pageW, pageH)
		}
		return nil
	})
	return refs
}

func (d *document) recompressImage(ref imageRef, cfg config.CompressionConfig) error {
	sd, ok := d.stream(ref.objNr)
	if !ok {
		return nil
	}
	if mask, ok := d.deref(sd.Dict["ImageMask"]).(types.Boolean); ok && mask.Value() {
		return nil
	}

	w, okW := d.integer(sd.Dict, "Width")
	h, okH := d.integer(sd.Dict, "Height")
	if !okW || !okH || w <= 0 || h <= 0 {
		return errUnsupportedImage
	}

	img, isJPEG, err := d.decodeImage(&sd)
	if err != nil {
		return err
	}

	// Effective resolution assumes the image spans the page, which errs
	// toward leaving small images alone.
	dpi := float64(w) / (ref.pageW / 72.0)
	if dpiY := float64(h) / (ref.pageH / 72.0); dpiY > dpi {
		dpi = dpiY
	}
	needResize := dpi > float64(cfg.DPIThreshold)
	scale := float64(cfg.DPITarget) / dpi
	if scale >= 1 {
		// Resampling never upscales.
		needResize = false
	}

	_, alreadyGray := img.(*image.Gray)
	wantGray := cfg.ToGrayscale || alreadyGray
	if !needResize && isJPEG && (alreadyGray || !cfg.ToGrayscale) {
		return nil
	}

	if needResize {
		tw, th := max(1, int(float64(w)*scale+0.5)), max(1, int(float64(h)*scale+0.5))
		img = resample(img, tw, th, wantGray)
	} else if wantGray && !alreadyGray {
		img = toGray(img)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: cfg.ImageQuality}); err != nil {
		return err
	}
	if buf.Len() >= len(sd.Raw) {
		return nil // the original encoding is already tighter
	}

	bounds := img.Bounds()
	colorSpace := "DeviceRGB"
	if _, ok := img.(*image.Gray); ok {
		colorSpace = "DeviceGray"
	}

	raw := buf.Bytes()
	sd.Raw = raw
	sd.Content = nil
	sd.FilterPipeline = []types.PDFFilter{{Name: filter.DCT}}
	l := int64(len(raw))
	sd.StreamLength = &l

	sd.Dict["Width"] = types.Integer(bounds.Dx())
	sd.Dict["Height"] = types.Integer(bounds.Dy())
	sd.Dict["BitsPerComponent"] = types.Integer(8)
	sd.Dict["ColorSpace"] = types.Name(colorSpace)
	sd.Dict["Filter"] = types.Name(filter.DCT)
	sd.Dict["Length"] = types.Integer(len(raw))
	delete(sd.Dict, "DecodeParms")
	delete(sd.Dict, "Decode")

	d.setStream(ref.objNr, sd)
	return nil
}

// decodeImage turns an image XObject's payload into an image.Image. Only
// DCTDecode and plain sample buffers (deflated or raw) in the device color
// spaces are handled; everything else reports errUnsupportedImage.
func (d *document) decodeImage(sd *types.StreamDict) (image.Image, bool, error) {
	var filters []string
	for _, f := range sd.FilterPipeline {
		filters = append(filters, f.Name)
	}

	if len(filters) == 1 && filters[0] == filter.DCT {
		img, err := jpeg.Decode(bytes.NewReader(sd.Raw))
		if err != nil {
			return nil, false, err
		}
		return img, true, nil
	}

	for _, f := range filters {
		if f != filter.Flate {
			return nil, false, errUnsupportedImage
		}
	}
	if bpc, ok := d.integer(sd.Dict, "BitsPerComponent"); !ok || bpc != 8 {
		return nil, false, errUnsupportedImage
	}
	if err := sd.Decode(); err != nil {
		return nil, false, err
	}

	w, _ := d.integer(sd.Dict, "Width")
	h, _ := d.integer(sd.Dict, "Height")
	cs, _ := d.name(sd.Dict, "ColorSpace")
	rect := image.Rect(0, 0, w, h)
	data := sd.Content

	switch cs {
	case "DeviceGray":
		if len(data) < w*h {
			return nil, false, errUnsupportedImage
		}
		return &image.Gray{Pix: data, Stride: w, Rect: rect}, false, nil
	case "DeviceRGB":
		if len(data) < w*h*3 {
			return nil, false, errUnsupportedImage
		}
		img := image.NewNRGBA(rect)
		for i, j := 0, 0; i < w*h*3; i, j = i+3, j+4 {
			img.Pix[j], img.Pix[j+1], img.Pix[j+2], img.Pix[j+3] = data[i], data[i+1], data[i+2], 0xff
		}
		return img, false, nil
	case "DeviceCMYK":
		if len(data) < w*h*4 {
			return nil, false, errUnsupportedImage
		}
		return &image.CMYK{Pix: data, Stride: w * 4, Rect: rect}, false, nil
	}
	return nil, false, errUnsupportedImage
}

func resample(src image.Image, w, h int, gray bool) image.Image {
	if gray {
		dst := image.NewGray(image.Rect(0, 0, w, h))
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
		return dst
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

func toGray(src image.Image) image.Image {
	dst := image.NewGray(src.Bounds())
	xdraw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, xdraw.Src)
	return dst
}
