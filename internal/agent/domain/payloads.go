package domain

import "time"

// StatusTransition is the payload of a status-transition operation
type StatusTransition struct {
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	ChangedAt  time.Time `json:"changed_at"`
	Notes      string    `json:"notes,omitempty"`
}

// PhotoCapture is the payload of a photo-capture operation. The image bytes
// stay on the device; only the manifest entry syncs through the queue.
type PhotoCapture struct {
	PhotoID    string    `json:"photo_id"`
	Filename   string    `json:"filename"`
	Latitude   float64   `json:"latitude,omitempty"`
	Longitude  float64   `json:"longitude,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}
