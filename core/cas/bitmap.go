package cas

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/ulikunitz/xz"

	pderrors "github.com/FocuswithJustin/PageDesk/core/errors"
)

// Injectable for testing.
var (
	xzNewWriter = xz.NewWriter
	xzNewReader = xz.NewReader
)

// bitmapMagic prefixes every serialized bitmap.
var bitmapMagic = [4]byte{'P', 'D', 'B', 'M'}

const bitmapVersion = 1

// maxBitmapPixels bounds decoded dimensions (roughly a 16k x 16k page).
const maxBitmapPixels = 1 << 28

// ErrCorruptBitmap is returned when a stored bitmap fails header validation.
var ErrCorruptBitmap = errors.New("corrupt bitmap blob")

type bitmapHeader struct {
	Magic   [4]byte
	Version uint32
	Width   uint32
	Height  uint32
	Stride  uint32
}

// EncodeBitmap serializes an RGBA bitmap as a fixed header followed by its
// pixel rows, xz-compressed.
func EncodeBitmap(img *image.RGBA) ([]byte, error) {
	if img == nil {
		return nil, errors.New("nil bitmap")
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	hdr := bitmapHeader{
		Magic:   bitmapMagic,
		Version: bitmapVersion,
		Width:   uint32(w),
		Height:  uint32(h),
		Stride:  uint32(4 * w),
	}

	var buf bytes.Buffer
	xw, err := xzNewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create xz writer: %w", err)
	}
	if err := binary.Write(xw, binary.BigEndian, hdr); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	for y := 0; y < h; y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		if _, err := xw.Write(img.Pix[off : off+4*w]); err != nil {
			return nil, fmt.Errorf("failed to write pixels: %w", err)
		}
	}
	if err := xw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close xz writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeBitmap reverses EncodeBitmap. The result always has its origin at (0, 0).
func DecodeBitmap(data []byte) (*image.RGBA, error) {
	xr, err := xzNewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBitmap, err)
	}
	var hdr bitmapHeader
	if err := binary.Read(xr, binary.BigEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorruptBitmap, err)
	}
	if hdr.Magic != bitmapMagic || hdr.Version != bitmapVersion {
		return nil, fmt.Errorf("%w: bad magic or version", ErrCorruptBitmap)
	}
	if hdr.Stride != 4*hdr.Width || uint64(hdr.Width)*uint64(hdr.Height) > maxBitmapPixels {
		return nil, fmt.Errorf("%w: bad dimensions %dx%d", ErrCorruptBitmap, hdr.Width, hdr.Height)
	}

	img := image.NewRGBA(image.Rect(0, 0, int(hdr.Width), int(hdr.Height)))
	if _, err := io.ReadFull(xr, img.Pix); err != nil {
		return nil, fmt.Errorf("%w: pixels: %v", ErrCorruptBitmap, err)
	}
	return img, nil
}

// BitmapOverflow stores evicted page bitmaps in a Store. It satisfies
// cache.Overflow[string, *image.RGBA].
type BitmapOverflow struct {
	store *Store
}

// NewBitmapOverflow creates an overflow tier rooted at dir.
func NewBitmapOverflow(dir string) (*BitmapOverflow, error) {
	s, err := NewStore(dir)
	if err != nil {
		return nil, err
	}
	return &BitmapOverflow{store: s}, nil
}

// Store writes a bitmap under key. Failures are reported as CacheWriteError.
func (o *BitmapOverflow) Store(key string, img *image.RGBA) error {
	data, err := EncodeBitmap(img)
	if err != nil {
		return pderrors.NewCacheWrite(key, err)
	}
	if _, err := o.store.Put(key, data); err != nil {
		return pderrors.NewCacheWrite(key, err)
	}
	return nil
}

// Load reads the bitmap stored under key. A missing blob is reported as
// (nil, false, nil); a corrupt blob is removed and reported as an error.
func (o *BitmapOverflow) Load(key string) (*image.RGBA, bool, error) {
	data, err := o.store.Get(key)
	if errors.Is(err, ErrBlobNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	img, err := DecodeBitmap(data)
	if err != nil {
		_ = o.store.Delete(key)
		return nil, false, err
	}
	return img, true, nil
}

// Remove deletes the bitmap stored under key.
func (o *BitmapOverflow) Remove(key string) error {
	return o.store.Delete(key)
}

// Clear deletes every stored bitmap.
func (o *BitmapOverflow) Clear() error {
	return o.store.Clear()
}
