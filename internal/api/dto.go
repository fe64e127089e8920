package api

import (
	"time"

	"dlnamedia/internal/library"
	"dlnamedia/internal/streaming"
)

type HealthResponse struct {
	Status         string         `json:"status"`
	Version        string         `json:"version"`
	FriendlyName   string         `json:"friendly_name"`
	UDN            string         `json:"udn"`
	Objects        int            `json:"objects"`
	UpdateID       uint32         `json:"update_id"`
	CatalogBuiltAt time.Time      `json:"catalog_built_at"`
	Scanning       bool           `json:"scanning"`
	LastScan       *library.Stats `json:"last_scan,omitempty"`
}

type ScanResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type SessionsResponse struct {
	Count    int                     `json:"count"`
	Sessions []streaming.SessionInfo `json:"sessions"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Catalog browsing

type ObjectResponse struct {
	Object   ObjectNode   `json:"object"`
	Children []ObjectNode `json:"children,omitempty"`
}

type ObjectNode struct {
	ID         string      `json:"id"`
	ParentID   string      `json:"parent_id"`
	Title      string      `json:"title"`
	Kind       string      `json:"kind"`
	ChildCount int         `json:"child_count,omitempty"`
	Duration   float64     `json:"duration,omitempty"` // seconds
	Artist     string      `json:"artist,omitempty"`
	Album      string      `json:"album,omitempty"`
	Tracks     []TrackNode `json:"tracks,omitempty"`
	StreamURL  string      `json:"stream_url,omitempty"`
	ArtURL     string      `json:"art_url,omitempty"`
}

type TrackNode struct {
	Index      int    `json:"index"`
	Codec      string `json:"codec"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sample_rate"`
	Language   string `json:"language,omitempty"`
}
