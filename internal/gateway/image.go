// ABOUTME: Inbound image validation: base64 decode, size ceiling, magic-byte sniff
// ABOUTME: Everything that can be rejected here never reaches an upstream vendor

package gateway

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/2389/glimpse-gateway/internal/fault"
	"github.com/2389/glimpse-gateway/internal/vision"
)

// decodeImage turns the request's image_base64 field into validated image
// bytes. A data:image/...;base64, prefix is tolerated and stripped. The
// decoded size must stay under maxBytes and the bytes must sniff as JPEG,
// PNG, GIF, or WebP.
func decodeImage(payload string, maxBytes int64) (vision.Image, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return vision.Image{}, fault.New(fault.KindInvalidImage, "image_base64 is required")
	}

	if strings.HasPrefix(payload, "data:") {
		_, rest, ok := strings.Cut(payload, ";base64,")
		if !ok {
			return vision.Image{}, fault.New(fault.KindInvalidImage, "data URL is not base64-encoded")
		}
		payload = rest
	}

	// Base64 inflates by 4/3, so the encoded length bounds the decoded
	// size. Rejecting here avoids decoding oversized payloads at all.
	if int64(len(payload))/4*3 > maxBytes {
		return vision.Image{}, fault.New(fault.KindInvalidImage,
			fmt.Sprintf("image exceeds the %d byte limit", maxBytes))
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return vision.Image{}, fault.New(fault.KindInvalidImage, "image_base64 is not valid base64", fault.WithWrapped(err))
	}

	if int64(len(data)) > maxBytes {
		return vision.Image{}, fault.New(fault.KindInvalidImage,
			fmt.Sprintf("image exceeds the %d byte limit", maxBytes))
	}

	mime := sniffImageMIME(data)
	if mime == "" {
		return vision.Image{}, fault.New(fault.KindInvalidImage,
			"unrecognized image format, expected JPEG, PNG, GIF, or WebP")
	}

	return vision.Image{Data: data, MIME: mime}, nil
}

// sniffImageMIME identifies the image format from its leading bytes.
// Returns "" for anything that is not a supported format.
func sniffImageMIME(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return "image/png"
	case bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")):
		return "image/gif"
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp"
	default:
		return ""
	}
}
