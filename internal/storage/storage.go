package storage

import (
	"context"
	"io"
	"mime"
	"strings"
)

type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (storedPath string, err error)
}

// RecordingObjectName lays recordings out per round: recordings/<round>/<id><ext>.
func RecordingObjectName(roundID, id, contentType string) string {
	return "recordings/" + roundID + "/" + id + extensionFor(contentType)
}

func extensionFor(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".bin"
	}
	switch mt {
	case "video/webm", "audio/webm":
		return ".webm"
	case "video/mp4":
		return ".mp4"
	case "audio/ogg":
		return ".ogg"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	}
	if i := strings.IndexByte(mt, '/'); i >= 0 && i < len(mt)-1 {
		return "." + mt[i+1:]
	}
	return ".bin"
}
