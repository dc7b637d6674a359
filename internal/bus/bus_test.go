package bus

import (
	"testing"
	"time"

	"github.com/ernie/fortcore/internal/domain"
	"github.com/google/uuid"
)

func TestPublishSubscribeRoundTrip(t *testing.T) {
	b, err := New(-1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	received := make(chan domain.Event, 1)
	sub, err := b.Subscribe(SubjectAll, func(ev domain.Event) {
		received <- ev
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	player := uuid.New()
	ev := domain.Event{
		Type:      domain.EventRollbackComplete,
		Timestamp: time.Now(),
		Data:      domain.RollbackCompleteEvent{PlayerUUID: player, Reverted: 9},
	}
	if err := b.Publish(ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-received:
		if got.Type != domain.EventRollbackComplete {
			t.Errorf("Type = %q, want %q", got.Type, domain.EventRollbackComplete)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSubjectFor(t *testing.T) {
	tests := map[string]string{
		domain.EventStateChange:      SubjectState,
		domain.EventMatchStart:       SubjectMatch,
		domain.EventMatchEnd:         SubjectMatch,
		domain.EventRollbackStart:    SubjectRollback,
		domain.EventRollbackComplete: SubjectRollback,
		domain.EventPlayerJoin:       SubjectPlayers,
		domain.EventPlayerLeave:      SubjectPlayers,
		"something_else":             "fortcore.misc",
	}
	for eventType, want := range tests {
		if got := subjectFor(eventType); got != want {
			t.Errorf("subjectFor(%q) = %q, want %q", eventType, got, want)
		}
	}
}
