package serialmux

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"sync"

	"github.com/banshee-data/proximity.report/internal/monitoring"
)

var (
	stateMu sync.Mutex
	// currentState holds the latest status values reported by the dongle.
	currentState = map[string]any{}
)

// CurrentState returns a copy of the merged status reports.
func CurrentState() map[string]any {
	stateMu.Lock()
	defer stateMu.Unlock()
	return maps.Clone(currentState)
}

// HandleStatus merges a JSON status line into the current state.
func HandleStatus(payload string) error {
	var values map[string]any
	if err := json.Unmarshal([]byte(payload), &values); err != nil {
		return fmt.Errorf("failed to unmarshal status JSON: %w", err)
	}

	stateMu.Lock()
	maps.Copy(currentState, values)
	stateMu.Unlock()

	monitoring.Debugf("scanner status: %s", payload)
	return nil
}

func resetState() {
	stateMu.Lock()
	currentState = map[string]any{}
	stateMu.Unlock()
}

func writeStatus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(CurrentState()); err != nil {
		http.Error(w, "Failed to encode status", http.StatusInternalServerError)
	}
}
