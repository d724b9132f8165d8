package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmitsAddedOncePerEntry(t *testing.T) {
	s := &Static{
		Entries: []StaticEntry{
			{Name: "db0", IP: "10.0.0.1"},
			{Name: "db1/custom_db", IP: "10.0.0.2"},
		},
		Port:     5432,
		Database: "postgres",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	ch := make(chan Event, 4)
	go s.Run(ctx, ch)

	var events []Event
	for i := 0; i < 2; i++ {
		select {
		case ev := <-ch:
			events = append(events, ev)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for discovery events")
		}
	}

	require.Len(t, events, 2)
	assert.Equal(t, Added, events[0].Kind)
	assert.Equal(t, "static/db0", events[0].Key)
	assert.Equal(t, "postgres", events[0].Backend.TargetDatabase)

	assert.Equal(t, "static/db1/custom_db", events[1].Key)
	assert.Equal(t, "custom_db", events[1].Backend.TargetDatabase)
}

func TestStaticBlocksUntilCanceled(t *testing.T) {
	s := &Static{Entries: nil, Port: 5432, Database: "postgres"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, make(chan Event)) }()

	select {
	case <-done:
		t.Fatal("Run returned before context was canceled")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
