// Package wire encodes telemetry messages carried over the message queue.
//
// Radio frames travel as a google.protobuf.StringValue and network payloads as a
// google.protobuf.Struct. Plain text frames and JSON payloads are accepted as well so that
// existing bridges can publish without a protobuf toolchain.
package wire

import (
	"errors"
	"fmt"
	"mime"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Content types understood by Format.
const (
	ContentTypeFrameProto   = "application/x-protobuf; proto=google.protobuf.StringValue"
	ContentTypePayloadProto = "application/x-protobuf; proto=google.protobuf.Struct"
	ContentTypeText         = "text/plain"
	ContentTypeJSON         = "application/json"
)

// ErrUnsupportedContentType is returned for messages whose content type is unknown.
var ErrUnsupportedContentType = errors.New("unsupported content type")

// Encoding identifies how a message body is encoded.
type Encoding int

const (
	EncodingUnknown Encoding = iota
	EncodingFrameProto
	EncodingPayloadProto
	EncodingText
	EncodingJSON
)

// Format classifies a content type. An empty content type is treated as plain text.
func Format(contentType string) (Encoding, error) {
	if contentType == "" {
		return EncodingText, nil
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return EncodingUnknown, fmt.Errorf("%w: %q: %v", ErrUnsupportedContentType, contentType, err)
	}

	switch mediaType {
	case "text/plain":
		return EncodingText, nil
	case "application/json":
		return EncodingJSON, nil
	case "application/x-protobuf", "application/protobuf":
		switch params["proto"] {
		case "google.protobuf.StringValue":
			return EncodingFrameProto, nil
		case "google.protobuf.Struct":
			return EncodingPayloadProto, nil
		}
	}
	return EncodingUnknown, fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
}

// EncodeFrame wraps a radio frame in a StringValue.
func EncodeFrame(frame string) ([]byte, error) {
	b, err := proto.Marshal(wrapperspb.String(frame))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frame: %w", err)
	}
	return b, nil
}

// DecodeFrame unwraps a radio frame from a StringValue.
func DecodeFrame(b []byte) (string, error) {
	v := &wrapperspb.StringValue{}
	if err := proto.Unmarshal(b, v); err != nil {
		return "", fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	return v.GetValue(), nil
}

// EncodePayload converts a network payload into a Struct. Values must be JSON-representable.
func EncodePayload(p map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(p)
	if err != nil {
		return nil, fmt.Errorf("failed to convert payload: %w", err)
	}

	b, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return b, nil
}

// DecodePayload converts a Struct back into a payload map. Numbers come back as float64 and
// nulls as nil.
func DecodePayload(b []byte) (map[string]any, error) {
	s := &structpb.Struct{}
	if err := proto.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return s.AsMap(), nil
}
