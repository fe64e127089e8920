package didl

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const StreamPrefix = "/stream/"

var ErrBadResourcePath = errors.New("malformed resource path")

// Format describes the bytes a resource URL will deliver.
type Format struct {
	MimeType    string
	DLNAProfile string // DLNA.ORG_PN value, empty when there is none
	Transcoded  bool
}

// dlnaFlags: streaming transfer mode, background transfer, connection
// stalling, DLNA 1.5.
const dlnaFlags = "01700000000000000000000000000000"

// ContentFeatures returns the contentFeatures.dlna.org value for f. Time
// seek is advertised, byte seek is not.
func ContentFeatures(f Format) string {
	var b strings.Builder
	if f.DLNAProfile != "" {
		b.WriteString("DLNA.ORG_PN=")
		b.WriteString(f.DLNAProfile)
		b.WriteString(";")
	}
	b.WriteString("DLNA.ORG_OP=10;DLNA.ORG_CI=")
	if f.Transcoded {
		b.WriteString("1")
	} else {
		b.WriteString("0")
	}
	b.WriteString(";DLNA.ORG_FLAGS=")
	b.WriteString(dlnaFlags)
	return b.String()
}

func ProtocolInfo(f Format) string {
	return "http-get:*:" + f.MimeType + ":" + ContentFeatures(f)
}

// ResourceURL is the stream URL of one track of an item. It depends only on
// its arguments.
func ResourceURL(baseURL, objectID string, track int) string {
	return strings.TrimSuffix(baseURL, "/") + StreamPrefix + url.PathEscape(objectID) + "/" + strconv.Itoa(track)
}

// ParseResourcePath inverts ResourceURL for the path part of a request URL.
func ParseResourcePath(path string) (objectID string, track int, err error) {
	rest, ok := strings.CutPrefix(path, StreamPrefix)
	if !ok {
		return "", 0, ErrBadResourcePath
	}
	escapedID, trackStr, ok := strings.Cut(rest, "/")
	if !ok || escapedID == "" || strings.Contains(trackStr, "/") {
		return "", 0, ErrBadResourcePath
	}
	objectID, err = url.PathUnescape(escapedID)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrBadResourcePath, err)
	}
	track, err = strconv.Atoi(trackStr)
	if err != nil || track < 0 {
		return "", 0, fmt.Errorf("%w: track %q", ErrBadResourcePath, trackStr)
	}
	return objectID, track, nil
}

func ArtURL(baseURL, objectID string) string {
	return strings.TrimSuffix(baseURL, "/") + "/art/" + url.PathEscape(objectID)
}
