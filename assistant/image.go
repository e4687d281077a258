package assistant

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/aschepis/backscratcher/assist/llm"
)

// DefaultImageMimeType is assumed for images given as bare base64.
const DefaultImageMimeType = "image/png"

// Image is a chart screenshot attached to a prompt.
type Image struct {
	MimeType string
	Data     []byte
}

// ParseImage accepts either a data URL ("data:image/png;base64,...") or bare
// base64 and returns the decoded image.
func ParseImage(s string) (*Image, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("image is empty")
	}

	mimeType := DefaultImageMimeType
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		header, payload, found := strings.Cut(rest, ",")
		if !found {
			return nil, errors.New("malformed data URL")
		}
		mediaType, isBase64 := strings.CutSuffix(header, ";base64")
		if !isBase64 {
			return nil, errors.New("data URL is not base64 encoded")
		}
		if mediaType != "" {
			mimeType = mediaType
		}
		s = payload
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("image is empty")
	}
	return &Image{MimeType: mimeType, Data: data}, nil
}

func (img *Image) block() (*llm.ImageBlock, error) {
	if len(img.Data) == 0 {
		return nil, errors.New("image has no data")
	}
	mimeType := img.MimeType
	if mimeType == "" {
		mimeType = DefaultImageMimeType
	}
	return &llm.ImageBlock{
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(img.Data),
	}, nil
}
