package endpoint

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"
)

const fallbackImageMIME = "image/jpeg"

// ImageDataURL encodes data as a data: URL. An empty mime is sniffed from
// the content, falling back to image/jpeg for anything that is not an image.
func ImageDataURL(mime string, data []byte) string {
	if mime == "" {
		mime = SniffImageMIME(data)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// SniffImageMIME detects the image content type of data.
func SniffImageMIME(data []byte) string {
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	return fallbackImageMIME
}

// EncodeImageFile reads path and returns its data URL.
func EncodeImageFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if len(b) == 0 {
		return "", fmt.Errorf("read image: %s is empty", path)
	}
	return ImageDataURL("", b), nil
}

// IsRemoteImage reports whether ref is an http(s) URL that can be passed to
// the server as-is.
func IsRemoteImage(ref string) bool {
	l := strings.ToLower(ref)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

// ImageRef turns a path, http(s) URL or data URL into the image_url value.
func ImageRef(ref string) (string, error) {
	if IsRemoteImage(ref) || strings.HasPrefix(ref, "data:") {
		return ref, nil
	}
	return EncodeImageFile(ref)
}
