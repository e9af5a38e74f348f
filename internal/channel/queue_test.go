package channel

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"pm-assistant/internal/protocol"
)

func msg(i int) protocol.OutboundMessage {
	return protocol.OutboundMessage{Type: protocol.TypeQuery, Payload: fmt.Sprintf("m-%d", i)}
}

func TestQueue_DrainPreservesOrder(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 5; i++ {
		q.Enqueue(msg(i))
	}
	assert.Equal(t, 5, q.Len())

	var got []interface{}
	n := q.DrainInto(func(m protocol.OutboundMessage) {
		got = append(got, m.Payload)
	})

	assert.Equal(t, 5, n)
	assert.Equal(t, []interface{}{"m-0", "m-1", "m-2", "m-3", "m-4"}, got)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_DrainEmptyIsNoop(t *testing.T) {
	q := NewQueue()
	calls := 0
	assert.Equal(t, 0, q.DrainInto(func(protocol.OutboundMessage) { calls++ }))
	assert.Equal(t, 0, calls)
}

func TestQueue_DrainTwiceSendsOnce(t *testing.T) {
	q := NewQueue()
	q.Enqueue(msg(1))

	calls := 0
	send := func(protocol.OutboundMessage) { calls++ }
	q.DrainInto(send)
	q.DrainInto(send)
	assert.Equal(t, 1, calls)
}

func TestQueue_EnqueueDuringDrainWaits(t *testing.T) {
	q := NewQueue()
	q.Enqueue(msg(1))
	q.Enqueue(msg(2))

	var sent []interface{}
	q.DrainInto(func(m protocol.OutboundMessage) {
		sent = append(sent, m.Payload)
		if m.Payload == "m-1" {
			q.Enqueue(msg(3))
		}
	})

	assert.Equal(t, []interface{}{"m-1", "m-2"}, sent)
	assert.Equal(t, 1, q.Len())

	sent = nil
	q.DrainInto(func(m protocol.OutboundMessage) { sent = append(sent, m.Payload) })
	assert.Equal(t, []interface{}{"m-3"}, sent)
}
