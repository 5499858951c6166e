package health

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/steveyegge/governor/internal/storage"
	"github.com/steveyegge/governor/internal/types"
)

// Alert is the JSON record written for each violated threshold.
type Alert struct {
	EventID        int64                    `json:"event_id,omitempty"`
	Timestamp      time.Time                `json:"timestamp"`
	Kind           types.ThresholdEventKind `json:"kind"`
	Severity       types.Severity           `json:"severity"`
	FilePath       string                   `json:"file_path"`
	ChangeType     string                   `json:"change_type"`
	CurrentValue   float64                  `json:"current_value"`
	ThresholdValue float64                  `json:"threshold_value"`
	Message        string                   `json:"message"`
}

// alertMessage renders the human-readable line for an event.
func alertMessage(ev *types.ThresholdEvent) string {
	switch ev.Kind {
	case types.EventFileSizeViolation:
		return fmt.Sprintf("%s has %.0f lines, limit %.0f", ev.FilePath, ev.CurrentValue, ev.ThresholdValue)
	case types.EventDuplicationDetected:
		return fmt.Sprintf("%s duplication ratio %.2f exceeds %.2f", ev.FilePath, ev.CurrentValue, ev.ThresholdValue)
	case types.EventTechnicalDebtThreshold:
		return fmt.Sprintf("%.0f technical-debt markers in monitored files, limit %.0f", ev.CurrentValue, ev.ThresholdValue)
	case types.EventNavigationComplexity:
		return fmt.Sprintf("mean navigation depth %.2f exceeds %.2f", ev.CurrentValue, ev.ThresholdValue)
	case types.EventComplianceBelow:
		return fmt.Sprintf("growth compliance %.2f below %.2f", ev.CurrentValue, ev.ThresholdValue)
	}
	return fmt.Sprintf("%s on %s: %.2f (threshold %.2f)", ev.Kind, ev.FilePath, ev.CurrentValue, ev.ThresholdValue)
}

// writeAlert writes one alert file named after the event time and kind.
func writeAlert(dir string, ev *types.ThresholdEvent) (string, error) {
	alert := Alert{
		EventID:        ev.ID,
		Timestamp:      ev.Timestamp.UTC(),
		Kind:           ev.Kind,
		Severity:       ev.Severity,
		FilePath:       ev.FilePath,
		ChangeType:     ev.ChangeType,
		CurrentValue:   ev.CurrentValue,
		ThresholdValue: ev.ThresholdValue,
		Message:        alertMessage(ev),
	}
	name := fmt.Sprintf("alert_%s_%s_%d.json", ev.Timestamp.UTC().Format("20060102T150405.000000000"), ev.Kind, ev.ID)
	path := filepath.Join(dir, name)
	if err := storage.WriteJSONAtomic(path, alert); err != nil {
		return "", err
	}
	return path, nil
}
