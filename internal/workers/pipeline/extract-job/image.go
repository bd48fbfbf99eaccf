package extractjob

import (
	"encoding/base64"
	"fmt"
	"strings"

	apperrors "jobpilot-workers/internal/common/errors"
)

// normalizeImage strips a data URL prefix and whitespace and checks the blob
// decodes to a plausible image size.
func normalizeImage(raw string, minBytes, maxBytes int) (string, error) {
	b64 := strings.TrimSpace(raw)
	if i := strings.Index(b64, ";base64,"); strings.HasPrefix(b64, "data:") && i > 0 {
		b64 = b64[i+len(";base64,"):]
	}
	b64 = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, b64)

	if b64 == "" {
		return "", apperrors.NewInvalid(apperrors.ErrCodeInvalidImage, "empty image", "")
	}
	// Upper bound before decoding avoids allocating for absurd payloads.
	if base64.StdEncoding.DecodedLen(len(b64)) > maxBytes+3 {
		return "", apperrors.NewInvalid(apperrors.ErrCodeInvalidImage, "image too large",
			fmt.Sprintf("max %d bytes", maxBytes))
	}
	decoded, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", apperrors.NewInvalid(apperrors.ErrCodeInvalidImage, "image is not valid base64", err.Error())
	}
	if len(decoded) < minBytes || len(decoded) > maxBytes {
		return "", apperrors.NewInvalid(apperrors.ErrCodeInvalidImage, "implausible image size",
			fmt.Sprintf("%d bytes", len(decoded)))
	}
	return b64, nil
}
