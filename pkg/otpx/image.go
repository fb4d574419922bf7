package otpx

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"net/url"

	"github.com/pquerna/otp"
)

// ImageSize is the edge length in pixels of rendered enrollment QR codes.
const ImageSize = 256

// RenderEnrollmentImage encodes an otpauth:// URI as a PNG QR code. The
// output is deterministic for a given URI.
func RenderEnrollmentImage(uri string) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "otpauth" {
		return nil, fmt.Errorf("%w: not an otpauth uri", ErrEncoding)
	}
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	if key.Type() != "totp" || key.Secret() == "" {
		return nil, fmt.Errorf("%w: missing totp secret", ErrEncoding)
	}

	img, err := key.Image(ImageSize, ImageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return buf.Bytes(), nil
}

// EnrollmentDataURI wraps PNG bytes in a data: URI suitable for an <img> src.
func EnrollmentDataURI(pngBytes []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
}
