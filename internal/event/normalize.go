// Package event turns raw external signals into canonical events and
// classifies them for the autonomy pipeline.
package event

import (
	"fmt"
	"time"

	"github.com/navihq/recovery-core/internal/domain"
)

// Normalize converts a raw signal into a canonical Event. It never fails:
// unrecognized sources and types fall back to their Unknown variants, and
// a missing external id is replaced with a deterministic synthetic id.
func Normalize(raw domain.RawEvent) domain.Event {
	received := raw.OccurredAtUnix
	if received == 0 {
		received = time.Now().Unix()
	}

	externalID := raw.ExternalID
	if externalID == "" {
		externalID = fmt.Sprintf("%s_%d", raw.Source, received)
	}

	tags := raw.Tags
	if tags == nil {
		tags = map[string]any{}
	}

	return domain.Event{
		Source:         domain.ParseEventSource(raw.Source),
		Type:           domain.ParseEventType(raw.EventType),
		ExternalID:     externalID,
		Title:          raw.Title,
		Summary:        raw.Summary,
		Content:        raw.Content,
		URL:            raw.URL,
		Tags:           tags,
		ReceivedAtUnix: received,
	}
}
