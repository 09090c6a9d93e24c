package ical

import (
	"fmt"
	"sort"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/venkytv/calendar-sync/internal/models"
)

const productID = "-//calendar-sync//Workout Feed//EN"

// BuildFeed renders an owner's synced sessions as an iCalendar feed.
// Records are emitted in start order; failed records are left out.
func BuildFeed(calendarName string, records []*models.SyncRecord, stamp time.Time) string {
	cal := ics.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ics.MethodPublish)
	cal.SetName(calendarName)
	cal.SetXWRCalName(calendarName)

	sorted := make([]*models.SyncRecord, 0, len(records))
	for _, record := range records {
		if record.SyncStatus != models.SyncStatusSynced {
			continue
		}
		sorted = append(sorted, record)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].EventStartTime.Equal(sorted[j].EventStartTime) {
			return sorted[i].ExternalEventID < sorted[j].ExternalEventID
		}
		return sorted[i].EventStartTime.Before(sorted[j].EventStartTime)
	})

	for _, record := range sorted {
		event := cal.AddEvent(feedUID(record))
		event.SetDtStampTime(stamp.UTC())
		event.SetStartAt(record.EventStartTime.UTC())
		event.SetEndAt(record.EventEndTime.UTC())
		event.SetSummary(record.EventSummary)
		if record.EventDescription != "" {
			event.SetDescription(record.EventDescription)
		}
		if !record.LastSyncedAt.IsZero() {
			event.SetModifiedAt(record.LastSyncedAt.UTC())
		}
	}

	return cal.Serialize()
}

func feedUID(record *models.SyncRecord) string {
	return fmt.Sprintf("%s@%s", record.ExternalEventID, record.ExternalCalendarID)
}
