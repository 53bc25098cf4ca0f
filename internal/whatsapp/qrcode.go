package whatsapp

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"
)

// ErrEmptyQRCode is returned when there is no pairing payload to render.
var ErrEmptyQRCode = errors.New("whatsapp: empty qr code")

const pngDataURL = "data:image/png;base64,"

// RenderQR returns a PNG for a pairing payload. A payload that already is a
// PNG data URL is decoded as is; anything else is encoded as a QR code.
func RenderQR(payload string, size int) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, ErrEmptyQRCode
	}
	if strings.HasPrefix(payload, pngDataURL) {
		png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(payload, pngDataURL))
		if err != nil {
			return nil, fmt.Errorf("whatsapp: decode qr data url: %w", err)
		}
		return png, nil
	}
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(payload, qrcode.Medium, size)
}
