package ssdp

import (
	"sort"
	"time"

	gossdp "github.com/koron/go-ssdp"
)

// Device is one answer to an M-SEARCH.
type Device struct {
	Type     string `json:"st"`
	USN      string `json:"usn"`
	Location string `json:"location"`
	Server   string `json:"server"`
}

// Discover sends an M-SEARCH for st and collects the answers received
// within wait. localAddr may be empty to use the default interface.
func Discover(st string, wait time.Duration, localAddr string) ([]Device, error) {
	secs := int(wait / time.Second)
	if secs < 1 {
		secs = 1
	}
	services, err := gossdp.Search(st, secs, localAddr)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(services))
	out := make([]Device, 0, len(services))
	for _, svc := range services {
		key := svc.USN + "|" + svc.Location
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Device{
			Type:     svc.Type,
			USN:      svc.USN,
			Location: svc.Location,
			Server:   svc.Server,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Location == out[j].Location {
			return out[i].USN < out[j].USN
		}
		return out[i].Location < out[j].Location
	})
	return out, nil
}
