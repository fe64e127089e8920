package media

import (
	"path/filepath"
	"strings"
)

var supportedAudioExtensions = map[string]string{
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/ogg",
	".wav":  "audio/wav",
	".aif":  "audio/aiff",
	".aiff": "audio/aiff",
	".wma":  "audio/x-ms-wma",
	".ape":  "audio/x-ape",
	".wv":   "audio/x-wavpack",
	".mka":  "audio/x-matroska",
	".dsf":  "audio/x-dsf",
}

// Video containers are only catalogued for their audio tracks.
var supportedVideoExtensions = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
	".ts":   "video/mp2t",
	".m2ts": "video/mp2t",
	".mpg":  "video/mpeg",
	".mpeg": "video/mpeg",
	".vob":  "video/mpeg",
}

func IsSupportedAudio(filename string) bool {
	_, ok := supportedAudioExtensions[ext(filename)]
	return ok
}

func IsSupportedVideo(filename string) bool {
	_, ok := supportedVideoExtensions[ext(filename)]
	return ok
}

func IsSupportedMedia(filename string) bool {
	return IsSupportedAudio(filename) || IsSupportedVideo(filename)
}

func GetContentType(filename string) string {
	e := ext(filename)
	if ct, ok := supportedAudioExtensions[e]; ok {
		return ct
	}
	if ct, ok := supportedVideoExtensions[e]; ok {
		return ct
	}
	if ct := ImageContentType(filename); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// ImageContentType returns the MIME type of a cover image file, or "" when
// the extension is not a supported image.
func ImageContentType(filename string) string {
	switch ext(filename) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return ""
	}
}

func ext(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}
