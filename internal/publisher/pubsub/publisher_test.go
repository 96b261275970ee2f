package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/stretchr/testify/require"
)

func TestPublishEncodesPayload(t *testing.T) {
	t.Parallel()

	var sent *pubsub.Message
	p := &Publisher{send: func(_ context.Context, msg *pubsub.Message) (string, error) {
		sent = msg
		return "msg-1", nil
	}}

	id, err := p.Publish(context.Background(), "crawl-complete", map[string]any{"job_id": "job-1", "email_count": 2})
	require.NoError(t, err)
	require.Equal(t, "msg-1", id)

	require.NotNil(t, sent)
	require.Equal(t, "application/json", sent.Attributes["content_type"])
	require.Equal(t, "crawl-complete", sent.Attributes["topic"])
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(sent.Data, &decoded))
	require.Equal(t, "job-1", decoded["job_id"])
	require.InDelta(t, 2, decoded["email_count"], 0)
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "t", "x")
	require.ErrorContains(t, err, "not configured")

	p := &Publisher{send: func(context.Context, *pubsub.Message) (string, error) {
		return "", errors.New("deadline")
	}}
	_, err = p.Publish(context.Background(), "t", "x")
	require.ErrorContains(t, err, "publish message: deadline")

	_, err = p.Publish(context.Background(), "t", func() {})
	require.ErrorContains(t, err, "marshal payload")
}

func TestCloseStopsPublisher(t *testing.T) {
	t.Parallel()

	stopped := false
	p := &Publisher{stop: func() { stopped = true }}
	p.Close()
	require.True(t, stopped)
	New(nil).Close()
}

func TestCarrierRoundTrip(t *testing.T) {
	t.Parallel()

	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc-def-01")
	require.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
