package source

import (
	"fmt"
	"strings"
)

// TriggerMode selects which fill sources run and how their health is
// enforced downstream.
type TriggerMode string

const (
	// TriggerPolling runs only the Data-API poller.
	TriggerPolling TriggerMode = "polling"

	// TriggerOnChain runs only the Polygon log watcher.
	TriggerOnChain TriggerMode = "onchain"

	// TriggerBoth runs both sources. An unhealthy on-chain source degrades
	// to polling-only detection instead of blocking admission.
	TriggerBoth TriggerMode = "both"
)

// ParseTriggerMode maps a config string to a TriggerMode.
func ParseTriggerMode(s string) (TriggerMode, error) {
	switch TriggerMode(strings.ToLower(s)) {
	case TriggerPolling, TriggerOnChain, TriggerBoth:
		return TriggerMode(strings.ToLower(s)), nil
	}
	return "", fmt.Errorf("source: unknown trigger mode %q", s)
}

// WantsPolling reports whether the mode runs the polling source.
func (m TriggerMode) WantsPolling() bool { return m == TriggerPolling || m == TriggerBoth }

// WantsOnChain reports whether the mode runs the on-chain source.
func (m TriggerMode) WantsOnChain() bool { return m == TriggerOnChain || m == TriggerBoth }
