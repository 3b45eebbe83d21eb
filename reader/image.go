package reader

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/pkg/errors"

	"github.com/tsawler/folio/core"
	"github.com/tsawler/folio/internal/filters"
	"github.com/tsawler/folio/pages"
)

// PageImage is an image XObject used by a page.
type PageImage struct {
	Name             string          // resource name (e.g., "Im1")
	Ref              *core.Reference // nil for a direct stream
	Width            int
	Height           int
	ColorSpace       string // DeviceGray, DeviceRGB, DeviceCMYK, etc.
	BitsPerComponent int
	Filter           string // last filter, which names the codec of encoded data
	Data             []byte // decoded samples, or codec data for DCT, JPX and JBIG2
}

// Encoded reports whether Data is still in an image codec's format.
func (img *PageImage) Encoded() bool {
	return filters.IsImageCodec(img.Filter)
}

// PageImages returns the image XObjects in the page's resources, ordered by
// resource name. Images are decoded once per document and shared; callers
// must not modify Data.
func (d *Document) PageImages(ctx context.Context, page *pages.Page) ([]PageImage, error) {
	resources, err := page.Resources()
	if err != nil {
		return nil, nil
	}
	xobjObj := resources.Get("XObject")
	if xobjObj == nil {
		return nil, nil
	}
	resolved, err := d.Resolve(xobjObj)
	if err != nil {
		return nil, errors.Wrap(err, "resolving /XObject")
	}
	xobjects, ok := resolved.(core.Dict)
	if !ok {
		return nil, nil
	}

	var images []PageImage
	for _, name := range xobjects.Keys() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := d.pageImage(ctx, name, xobjects[name])
		if err != nil {
			d.logger.Debug("skipping image", "name", name, "error", err)
			continue
		}
		if img != nil {
			images = append(images, *img)
		}
	}
	return images, nil
}

// pageImage returns nil, nil for XObjects that are not images.
func (d *Document) pageImage(ctx context.Context, name string, obj core.Object) (*PageImage, error) {
	var ref *core.Reference
	if r, ok := obj.(core.Reference); ok {
		ref = &r
	}
	resolved, err := d.Resolve(obj)
	if err != nil {
		return nil, err
	}
	stream, ok := resolved.(*core.Stream)
	if !ok {
		return nil, nil
	}
	if subtype, _ := stream.Dict.GetName("Subtype"); subtype != "Image" {
		return nil, nil
	}

	img := &PageImage{
		Name:             name,
		Ref:              ref,
		ColorSpace:       d.colorSpace(stream.Dict.Get("ColorSpace")),
		BitsPerComponent: 8,
		Filter:           lastFilter(stream.Dict),
	}
	width, wok := stream.Dict.GetInt("Width")
	height, hok := stream.Dict.GetInt("Height")
	if !wok || !hok {
		return nil, errors.New("image missing Width or Height")
	}
	img.Width, img.Height = int(width), int(height)
	if bpc, ok := stream.Dict.GetInt("BitsPerComponent"); ok {
		img.BitsPerComponent = int(bpc)
	} else if mask, _ := stream.Dict.GetBool("ImageMask"); mask {
		img.BitsPerComponent = 1
	}

	if ref == nil {
		img.Data, err = stream.Decode()
	} else {
		img.Data, err = d.store.Image(ctx, *ref, (*core.Stream).Decode)
	}
	if err != nil {
		return nil, err
	}
	return img, nil
}

func lastFilter(dict core.Dict) string {
	switch f := dict.Get("Filter").(type) {
	case core.Name:
		return filters.Canonical(string(f))
	case core.Array:
		for i := len(f) - 1; i >= 0; i-- {
			if name, ok := f[i].(core.Name); ok {
				return filters.Canonical(string(name))
			}
		}
	}
	return ""
}

// colorSpace names a color space; Indexed reports its base space.
func (d *Document) colorSpace(obj core.Object) string {
	if obj == nil {
		return "DeviceGray"
	}
	resolved, err := d.Resolve(obj)
	if err != nil {
		return "DeviceGray"
	}
	switch v := resolved.(type) {
	case core.Name:
		return string(v)
	case core.Array:
		if len(v) == 0 {
			break
		}
		name, _ := v[0].(core.Name)
		if name == "Indexed" && len(v) > 1 {
			return d.colorSpace(v[1])
		}
		if name == "ICCBased" && len(v) > 1 {
			if s, err := d.Resolve(v[1]); err == nil {
				if stream, ok := s.(*core.Stream); ok {
					switch n, _ := stream.Dict.GetInt("N"); n {
					case 3:
						return "DeviceRGB"
					case 4:
						return "DeviceCMYK"
					}
				}
			}
			return "DeviceGray"
		}
		return string(name)
	}
	return "DeviceGray"
}

// components returns the samples per pixel of the color space.
func (img *PageImage) components() int {
	switch img.ColorSpace {
	case "DeviceRGB", "CalRGB", "Lab":
		return 3
	case "DeviceCMYK":
		return 4
	}
	return 1
}

// Image converts the image to an image.Image. DCT data is decoded as JPEG;
// other codecs are not supported.
func (img *PageImage) Image() (image.Image, error) {
	if img.Encoded() {
		if img.Filter == filters.FilterDCT {
			return jpeg.Decode(bytes.NewReader(img.Data))
		}
		return nil, errors.Errorf("cannot convert %s data", img.Filter)
	}
	if img.Width <= 0 || img.Height <= 0 {
		return nil, errors.Errorf("invalid image size %dx%d", img.Width, img.Height)
	}

	rect := image.Rect(0, 0, img.Width, img.Height)
	switch n := img.components(); {
	case n == 1:
		samples, err := img.unpack(1)
		if err != nil {
			return nil, err
		}
		return &image.Gray{Pix: samples, Stride: img.Width, Rect: rect}, nil

	case img.BitsPerComponent != 8:
		return nil, errors.Errorf("unsupported bits per component for %s: %d", img.ColorSpace, img.BitsPerComponent)

	case n == 3:
		if err := img.need(img.Width * img.Height * 3); err != nil {
			return nil, err
		}
		out := image.NewRGBA(rect)
		for i := 0; i < img.Width*img.Height; i++ {
			copy(out.Pix[i*4:i*4+3], img.Data[i*3:i*3+3])
			out.Pix[i*4+3] = 255
		}
		return out, nil

	default:
		if err := img.need(img.Width * img.Height * 4); err != nil {
			return nil, err
		}
		out := image.NewCMYK(rect)
		copy(out.Pix, img.Data)
		return out, nil
	}
}

func (img *PageImage) need(n int) error {
	if len(img.Data) < n {
		return errors.Errorf("insufficient data: got %d, expected %d", len(img.Data), n)
	}
	return nil
}

// unpack expands 1, 2, 4 or 8 bit samples to one byte each, scaled to
// 0-255. Rows start on byte boundaries.
func (img *PageImage) unpack(components int) ([]byte, error) {
	bpc := img.BitsPerComponent
	switch bpc {
	case 1, 2, 4, 8:
	default:
		return nil, errors.Errorf("unsupported bits per component: %d", bpc)
	}
	perRow := img.Width * components
	stride := (perRow*bpc + 7) / 8
	if err := img.need(stride * img.Height); err != nil {
		return nil, err
	}

	top := byte(1<<bpc - 1)
	out := make([]byte, perRow*img.Height)
	for y := 0; y < img.Height; y++ {
		row := img.Data[y*stride : (y+1)*stride]
		for x := 0; x < perRow; x++ {
			bit := x * bpc
			v := row[bit/8] >> (8 - bpc - bit%8) & top
			out[y*perRow+x] = v * (255 / top)
		}
	}
	return out, nil
}

// ToPNG encodes the image as PNG.
func (img *PageImage) ToPNG() ([]byte, error) {
	goImg, err := img.Image()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, goImg); err != nil {
		return nil, errors.Wrap(err, "encoding PNG")
	}
	return buf.Bytes(), nil
}
