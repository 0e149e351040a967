package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case e := <-sub:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBrokerBroadcast(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	first := b.Subscribe()
	second := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(NewEvent(EventUpgradeStarted, SeverityInfo, "upgrading story").With("component", "consensus"))

	for _, sub := range []Subscriber{first, second} {
		e := receive(t, sub)
		assert.Equal(t, EventUpgradeStarted, e.Type)
		assert.Equal(t, "consensus", e.Metadata["component"])
		assert.NotEmpty(t, e.ID)
	}
}

func TestPublishFillsDefaults(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Publish(&Event{Type: EventReleaseFound})

	e := receive(t, sub)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())
}

func TestUnsubscribe(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe()

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)

	_, open := <-sub
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestPublishAfterStop(t *testing.T) {
	b := NewBroker()
	b.Start()
	b.Stop()
	b.Stop()

	done := make(chan struct{})
	go func() {
		// Fill past the buffer; every call must return.
		for i := 0; i < 200; i++ {
			b.Publish(NewEvent(EventHealthChanged, SeverityWarning, "x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.Fail(t, "publish blocked after stop")
	}
}

func TestRecentKeepsNewestFirst(t *testing.T) {
	b := NewBroker()
	b.historySize = 3
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	for _, msg := range []string{"one", "two", "three", "four"} {
		b.Publish(NewEvent(EventReleaseFound, SeverityInfo, msg))
		receive(t, sub)
	}

	recent := b.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "four", recent[0].Message)
	assert.Equal(t, "two", recent[2].Message)

	recent = b.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "four", recent[0].Message)
}

func TestFullSubscriberCountsDrops(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	slow := b.Subscribe()
	for i := 0; i < subscriberSize+5; i++ {
		b.Publish(NewEvent(EventIssueDetected, SeverityWarning, "low peers"))
	}

	require.Eventually(t, func() bool { return b.Dropped() == 5 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, slow, subscriberSize)
}

func TestSeverityAtLeast(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityWarning))
	assert.True(t, SeverityWarning.AtLeast(SeverityWarning))
	assert.False(t, SeverityInfo.AtLeast(SeverityWarning))
	assert.True(t, SeverityInfo.AtLeast(""))
}
