package pdfdoc

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"strconv"

	// stamp formats
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"seehuhn.de/go/pdf"

	"github.com/FocuswithJustin/PageDesk/core/document"
	pderrors "github.com/FocuswithJustin/PageDesk/core/errors"
)

// DecodeImage decodes stamp image bytes in any registered format.
func DecodeImage(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode stamp image: %w", err)
	}
	return img, format, nil
}

// CompositeImage implements document.Handle. The image is embedded as an RGB
// image XObject (with a soft mask when it has transparency) and drawn into
// box by a content stream appended to the page.
func (h *Handle) CompositeImage(i int, data []byte, box document.Box) error {
	img, _, err := DecodeImage(data)
	if err != nil {
		return err
	}
	if box.W <= 0 || box.H <= 0 {
		return pderrors.NewValidation("box", "stamp box must have positive size")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	dict, err := h.page(i)
	if err != nil {
		return err
	}

	imgRef, err := h.writeImage(img)
	if err != nil {
		return err
	}

	resources, err := h.copyDict(dict["Resources"])
	if err != nil {
		return fmt.Errorf("page %d resources: %w", i, err)
	}
	xobjects, err := h.copyDict(resources["XObject"])
	if err != nil {
		return fmt.Errorf("page %d xobjects: %w", i, err)
	}
	name := h.stampName(xobjects)
	xobjects[name] = imgRef
	resources["XObject"] = xobjects
	dict["Resources"] = resources

	if err := h.wrapContents(i, dict); err != nil {
		return err
	}

	// box is relative to the MediaBox origin.
	mb := h.mediaBox(dict)
	var ops bytes.Buffer
	fmt.Fprintf(&ops, "q %s 0 0 %s %s %s cm /%s Do Q\n",
		num(box.W), num(box.H), num(mb.LLx+box.X), num(mb.LLy+box.Y), name)
	ref, err := h.writeStream(nil, ops.Bytes())
	if err != nil {
		return err
	}
	dict["Contents"] = append(dict["Contents"].(pdf.Array), ref)
	return nil
}

// wrapContents turns the page contents into an array bracketed by q/Q so
// that appended streams start from the default graphics state.
func (h *Handle) wrapContents(i int, dict pdf.Dict) error {
	if h.wrapped == nil {
		h.wrapped = make(map[int]bool)
	}
	if h.wrapped[i] {
		return nil
	}

	existing, err := pdf.Resolve(h.g, dict["Contents"])
	if err != nil {
		return fmt.Errorf("page %d contents: %w", i, err)
	}
	var body pdf.Array
	switch c := existing.(type) {
	case pdf.Array:
		body = append(body, c...)
	case nil:
	default:
		body = append(body, dict["Contents"])
	}

	open, err := h.writeStream(nil, []byte("q\n"))
	if err != nil {
		return err
	}
	closeRef, err := h.writeStream(nil, []byte("Q\n"))
	if err != nil {
		return err
	}
	contents := pdf.Array{open}
	contents = append(contents, body...)
	contents = append(contents, closeRef)
	dict["Contents"] = contents
	h.wrapped[i] = true
	return nil
}

// copyDict resolves obj to a dictionary and returns a shallow copy, so that
// resources shared through the page tree are not modified for other pages.
func (h *Handle) copyDict(obj pdf.Object) (pdf.Dict, error) {
	d, err := pdf.GetDict(h.g, obj)
	if err != nil {
		return nil, err
	}
	out := pdf.Dict{}
	for k, v := range d {
		out[k] = v
	}
	return out, nil
}

func (h *Handle) stampName(xobjects pdf.Dict) pdf.Name {
	for {
		h.nextStamp++
		name := pdf.Name("PDStamp" + strconv.Itoa(h.nextStamp))
		if _, taken := xobjects[name]; !taken {
			return name
		}
	}
}

// writeImage embeds img as a DeviceRGB image XObject.
func (h *Handle) writeImage(img image.Image) (pdf.Reference, error) {
	var none pdf.Reference
	b := img.Bounds()
	w, ht := b.Dx(), b.Dy()
	rgb := make([]byte, 0, w*ht*3)
	alpha := make([]byte, 0, w*ht)
	opaque := true
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			if a != 0 && a != 0xffff {
				// un-premultiply
				r, g, bl = r*0xffff/a, g*0xffff/a, bl*0xffff/a
			}
			rgb = append(rgb, byte(r>>8), byte(g>>8), byte(bl>>8))
			alpha = append(alpha, byte(a>>8))
			if a != 0xffff {
				opaque = false
			}
		}
	}

	dict := pdf.Dict{
		"Type":             pdf.Name("XObject"),
		"Subtype":          pdf.Name("Image"),
		"Width":            pdf.Integer(w),
		"Height":           pdf.Integer(ht),
		"ColorSpace":       pdf.Name("DeviceRGB"),
		"BitsPerComponent": pdf.Integer(8),
	}
	if !opaque {
		mask, err := h.writeStream(pdf.Dict{
			"Type":             pdf.Name("XObject"),
			"Subtype":          pdf.Name("Image"),
			"Width":            pdf.Integer(w),
			"Height":           pdf.Integer(ht),
			"ColorSpace":       pdf.Name("DeviceGray"),
			"BitsPerComponent": pdf.Integer(8),
		}, alpha)
		if err != nil {
			return none, err
		}
		dict["SMask"] = mask
	}
	return h.writeStream(dict, rgb)
}

// writeStream stores a compressed stream object and returns its reference.
func (h *Handle) writeStream(dict pdf.Dict, body []byte) (pdf.Reference, error) {
	var none pdf.Reference
	ref := h.data.Alloc()
	w, err := h.data.OpenStream(ref, dict, pdf.FilterCompress{})
	if err != nil {
		return none, fmt.Errorf("open stream: %w", err)
	}
	if _, err := io.Copy(w, bytes.NewReader(body)); err != nil {
		w.Close()
		return none, fmt.Errorf("write stream: %w", err)
	}
	if err := w.Close(); err != nil {
		return none, fmt.Errorf("close stream: %w", err)
	}
	return ref, nil
}

// num formats a coordinate for a content stream.
func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
