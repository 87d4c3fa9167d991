// Package script reads recorded pointer gestures from YAML so a crop can be
// reproduced without an interactive surface.
//
// A script looks like:
//
//	canvas: {width: 400, height: 300}
//	events:
//	  - {type: down, x: 360, y: 270}
//	  - {type: move, x: 400, y: 300}
//	  - {type: up, x: 400, y: 300}
package script

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/khetimitra/crop-engine/pkg/types"
)

// ErrInvalidEvent marks an event with an unknown type
var ErrInvalidEvent = errors.New("invalid pointer event")

// Script is a canvas size plus the events to replay on it
type Script struct {
	Canvas types.Size           `yaml:"canvas"`
	Events []types.PointerEvent `yaml:"events"`
}

// Dispatcher consumes pointer events
type Dispatcher interface {
	Dispatch(ev types.PointerEvent)
}

// Parse decodes and validates a script
func Parse(r io.Reader) (*Script, error) {
	var s Script
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty script")
		}
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadFile reads a script from disk
func LoadFile(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open script: %w", err)
	}
	defer f.Close()

	s, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Validate checks event types. A zero canvas is allowed and means "keep
// whatever canvas the caller already has".
func (s *Script) Validate() error {
	if s.Canvas.Width < 0 || s.Canvas.Height < 0 {
		return fmt.Errorf("canvas size must not be negative: %vx%v", s.Canvas.Width, s.Canvas.Height)
	}
	for i, ev := range s.Events {
		switch ev.Type {
		case types.PointerDown, types.PointerMove, types.PointerUp, types.PointerLeave:
		default:
			return fmt.Errorf("event %d: %w: type %q", i, ErrInvalidEvent, ev.Type)
		}
	}
	return nil
}

// Replay dispatches events in order
func Replay(target Dispatcher, events []types.PointerEvent) {
	for _, ev := range events {
		target.Dispatch(ev)
	}
}
