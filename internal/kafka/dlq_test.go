package kafka

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDeadLetter(t *testing.T) {
	t.Run("captures bus coordinates and error", func(t *testing.T) {
		msg := Message{
			Topic:     "support.tickets.v1",
			Partition: 3,
			Offset:    42,
			Value:     []byte(`{"broken":`),
		}

		record := NewDeadLetter(msg, errors.New("unexpected end of JSON input"))

		assert.Equal(t, "support.tickets.v1", record.FailedTopic)
		assert.Equal(t, 3, record.Partition)
		assert.EqualValues(t, 42, record.Offset)
		assert.Equal(t, "unexpected end of JSON input", record.Error)
		require.NotNil(t, record.Payload)
		assert.Equal(t, `{"broken":`, *record.Payload)

		ts, err := time.Parse(time.RFC3339, record.TS)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().UTC(), ts, time.Minute)
	})

	t.Run("empty payload becomes null", func(t *testing.T) {
		record := NewDeadLetter(Message{Topic: "t"}, errors.New("empty payload"))

		assert.Nil(t, record.Payload)

		encoded, err := json.Marshal(record)
		require.NoError(t, err)
		assert.Contains(t, string(encoded), `"payload":null`)
	})

	t.Run("invalid UTF-8 is replaced, not dropped", func(t *testing.T) {
		// A run of invalid bytes collapses to a single replacement rune.
		msg := Message{Value: []byte{'o', 'k', 0xff, 0xfe, '!'}}

		record := NewDeadLetter(msg, errors.New("not json"))

		require.NotNil(t, record.Payload)
		assert.Equal(t, "ok�!", *record.Payload)
	})

	t.Run("wire keys are snake_case", func(t *testing.T) {
		record := NewDeadLetter(Message{Topic: "in", Value: []byte("x")}, errors.New("boom"))

		encoded, err := json.Marshal(record)
		require.NoError(t, err)

		var keys map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(encoded, &keys))

		for _, key := range []string{"failed_topic", "partition", "offset", "error", "payload", "ts"} {
			assert.Contains(t, keys, key)
		}
		assert.Len(t, keys, 6)
	})
}
