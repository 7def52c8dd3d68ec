// Package models holds the provider-neutral inference request and response types.
package models

import "errors"

// ErrEmptyCompletion is returned when a provider answers without any text.
var ErrEmptyCompletion = errors.New("provider returned no completion text")

type PartKind string

const (
	PartText  PartKind = "text"
	PartImage PartKind = "image"
	PartAudio PartKind = "audio"
	PartFile  PartKind = "file"
)

// Part is one element of a multimodal user message.
type Part struct {
	Kind     PartKind
	Text     string
	MIMEType string
	Data     []byte
	Name     string
}

func TextPart(s string) Part { return Part{Kind: PartText, Text: s} }

// Request is a single-turn completion request.
type Request struct {
	System string
	Parts  []Part
	// JSON asks the provider for a JSON object reply when it supports it.
	JSON bool
}

type Response struct {
	Text     string
	Provider string
	Model    string
}
