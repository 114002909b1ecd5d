package form

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MaxImageBytes caps uploads turned into data URIs.
const MaxImageBytes = 2 << 20

var ErrImageTooLarge = errors.New("image exceeds 2 MiB")

// ImageDataURI reads an upload into a data:<mime>;base64,... URI. The mime
// type is sniffed from the content, not taken from the client.
func ImageDataURI(r io.Reader) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r, MaxImageBytes+1))
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if len(b) > MaxImageBytes {
		return "", ErrImageTooLarge
	}
	if len(b) == 0 {
		return "", errors.New("empty image")
	}
	mime := mimetype.Detect(b).String()
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(b), nil
}
