package calendar

import (
	"fmt"
	"os"
	"path/filepath"

	ics "github.com/arran4/golang-ical"
	"github.com/cuemby/sentinel/pkg/types"
	"github.com/juju/utils/v4"
)

const (
	productID   = "-//Story Sentinel//Upgrade Calendar//EN"
	defaultName = "Story Node Upgrades"
	alarmLead   = "-PT30M"
)

// Render returns the ICS document for the open entries
func Render(name string, entries []types.ScheduledUpgrade) string {
	if name == "" {
		name = defaultName
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(productID)
	cal.SetName(name)
	cal.SetXWRCalName(name)

	for _, e := range entries {
		if !e.Status.Open() {
			continue
		}

		event := cal.AddEvent(e.ID + "@story-sentinel")
		stamp := e.CreatedAt
		if stamp.IsZero() {
			stamp = e.ScheduledTime
		}
		event.SetDtStampTime(stamp.UTC())
		event.SetStartAt(e.ScheduledTime.UTC())
		event.SetEndAt(e.End().UTC())
		event.SetSummary(fmt.Sprintf("Story Upgrade: %s to %s", e.Component, e.TargetVersion))
		event.SetDescription(description(e))

		alarm := event.AddAlarm()
		alarm.SetAction(ics.ActionDisplay)
		alarm.SetTrigger(alarmLead)
		alarm.SetProperty(ics.ComponentPropertyDescription,
			fmt.Sprintf("Story upgrade starting in 30 minutes: %s", e.Component))
	}
	return cal.Serialize()
}

func description(e types.ScheduledUpgrade) string {
	notes := e.Notes
	if notes == "" {
		notes = "No additional notes"
	}
	return fmt.Sprintf("Component: %s\nCurrent Version: %s\nTarget Version: %s\nStatus: %s\nApproval Required: %t\nNotes: %s",
		e.Component, e.CurrentVersion, e.TargetVersion, e.Status, e.ApprovalRequired, notes)
}

// Writer keeps an ICS file in sync with the schedule
type Writer struct {
	Path string
	Name string
}

// NewWriter creates a writer for path
func NewWriter(path string) *Writer {
	return &Writer{Path: path, Name: defaultName}
}

// WriteCalendar renders entries and replaces the file atomically
func (w *Writer) WriteCalendar(entries []types.ScheduledUpgrade) error {
	if err := os.MkdirAll(filepath.Dir(w.Path), 0755); err != nil {
		return fmt.Errorf("failed to create calendar directory: %w", err)
	}
	if err := utils.AtomicWriteFile(w.Path, []byte(Render(w.Name, entries)), 0644); err != nil {
		return fmt.Errorf("failed to write calendar %s: %w", w.Path, err)
	}
	return nil
}
