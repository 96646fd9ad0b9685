package domain

import "time"

// ProductEvent announces a product written to the archive.
type ProductEvent struct {
	Filename   string    `json:"filename"`
	Path       string    `json:"path"`
	Level      string    `json:"level"`
	Sensor     string    `json:"sensor"`
	Suite      string    `json:"suite,omitempty"`
	Variable   string    `json:"variable,omitempty"`
	Composite  string    `json:"composite,omitempty"`
	Date       time.Time `json:"date"`
	Function   string    `json:"function,omitempty"`
	Inputs     []string  `json:"inputs,omitempty"`
	ProducedAt time.Time `json:"produced_at"`
}
