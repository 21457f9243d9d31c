// Package event decodes inbound release events.
package event

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/nickromney-org/release-propagator/internal/failure"
	"github.com/nickromney-org/release-propagator/internal/version"
	"github.com/nickromney-org/release-propagator/pkg/types"
)

// ReleaseAction is the repository_dispatch action that triggers a run
const ReleaseAction = "release"

// document covers both accepted shapes: a bare {"version": ...} payload and
// a repository_dispatch event as found at $GITHUB_EVENT_PATH.
type document struct {
	Version       *string         `json:"version"`
	Action        *string         `json:"action"`
	ClientPayload json.RawMessage `json:"client_payload"`
}

// Parse decodes a release event from r
func Parse(r io.Reader) (types.ReleaseEvent, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return types.ReleaseEvent{}, fmt.Errorf("failed to read event: %w", err)
	}
	return ParseBytes(data)
}

// ParseFile decodes the release event stored at path
func ParseFile(path string) (types.ReleaseEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.ReleaseEvent{}, fmt.Errorf("failed to read event file %s: %w", path, err)
	}
	return ParseBytes(data)
}

// ParseBytes decodes a release event and validates its version
func ParseBytes(data []byte) (types.ReleaseEvent, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return types.ReleaseEvent{}, fmt.Errorf("failed to decode event: %w", err)
	}

	if doc.Action != nil || len(doc.ClientPayload) > 0 {
		action := ""
		if doc.Action != nil {
			action = *doc.Action
		}
		return FromDispatch(action, doc.ClientPayload)
	}

	if doc.Version == nil {
		return types.ReleaseEvent{}, failure.Newf(failure.KindInvalidVersion, "event has no version")
	}
	return FromVersion(*doc.Version)
}

// FromDispatch builds a release event from a repository_dispatch action and
// its client payload
func FromDispatch(action string, clientPayload json.RawMessage) (types.ReleaseEvent, error) {
	if action != ReleaseAction {
		return types.ReleaseEvent{}, fmt.Errorf("unsupported dispatch action %q (want %q)", action, ReleaseAction)
	}
	if len(clientPayload) == 0 {
		return types.ReleaseEvent{}, failure.Newf(failure.KindInvalidVersion, "dispatch has no client_payload")
	}

	var payload struct {
		Version *string `json:"version"`
	}
	if err := json.Unmarshal(clientPayload, &payload); err != nil {
		return types.ReleaseEvent{}, fmt.Errorf("failed to decode client_payload: %w", err)
	}
	if payload.Version == nil {
		return types.ReleaseEvent{}, failure.Newf(failure.KindInvalidVersion, "client_payload has no version")
	}
	return FromVersion(*payload.Version)
}

// FromVersion builds a release event from a version given on the command line
func FromVersion(v string) (types.ReleaseEvent, error) {
	if _, err := version.Parse(v); err != nil {
		return types.ReleaseEvent{}, err
	}
	return types.ReleaseEvent{Version: v}, nil
}
