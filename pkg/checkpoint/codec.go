package checkpoint

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
)

// Codec serializes one checkpoint file.
type Codec interface {
	Encode(w io.Writer, v any) error
	Decode(r io.Reader, v any) error
	Extension() string
}

// JSONCodec writes indented JSON.
type JSONCodec struct {
	Indent string
}

// Encode implements Codec.
func (c JSONCodec) Encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	if c.Indent != "" {
		enc.SetIndent("", c.Indent)
	}

	err := enc.Encode(v)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}

	return nil
}

// Decode implements Codec.
func (c JSONCodec) Decode(r io.Reader, v any) error {
	err := json.NewDecoder(r).Decode(v)
	if err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	return nil
}

// Extension implements Codec.
func (JSONCodec) Extension() string { return ".json" }

// GobCodec writes gob, which keeps infinite log scores intact.
type GobCodec struct{}

// Encode implements Codec.
func (GobCodec) Encode(w io.Writer, v any) error {
	err := gob.NewEncoder(w).Encode(v)
	if err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}

	return nil
}

// Decode implements Codec.
func (GobCodec) Decode(r io.Reader, v any) error {
	err := gob.NewDecoder(r).Decode(v)
	if err != nil {
		return fmt.Errorf("gob decode: %w", err)
	}

	return nil
}

// Extension implements Codec.
func (GobCodec) Extension() string { return ".gob" }
