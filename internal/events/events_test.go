package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reserva/internal/model"
)

func TestPublishRoutesByType(t *testing.T) {
	bus := NewEventBus()
	var got []string
	bus.Subscribe(func(e Event) error {
		got = append(got, e.Type+":"+e.Record.FormID)
		return nil
	}, TypeSubmitted, TypeFailed)

	bus.Publish(Event{Type: TypeSubmitted, Record: model.SubmissionRecord{FormID: "a"}})
	bus.Publish(Event{Type: TypeQueued, Record: model.SubmissionRecord{FormID: "b"}})
	bus.Publish(Event{Type: TypeFailed, Record: model.SubmissionRecord{FormID: "c"}})

	assert.Equal(t, []string{"submitted:a", "failed:c"}, got)
}

func TestPublishStampsTimeAndReportsErrors(t *testing.T) {
	bus := NewEventBus()
	var failed []error
	bus.OnError(func(_ Event, err error) { failed = append(failed, err) })

	var seen Event
	bus.Subscribe(func(e Event) error {
		seen = e
		return errors.New("disk full")
	}, TypeQueued)

	bus.Publish(Event{Type: TypeQueued})

	assert.False(t, seen.CreatedAt.IsZero())
	require.Len(t, failed, 1)
	assert.EqualError(t, failed[0], "disk full")
}
