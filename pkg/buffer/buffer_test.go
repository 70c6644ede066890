package buffer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neilopet/mcpmon/pkg/jsonrpc"
)

func msgWithID(n int) jsonrpc.Message {
	id, _ := json.Marshal(n)
	return jsonrpc.Message{JSONRPC: "2.0", ID: id, Method: "tools/call"}
}

func TestAppendThenDrainPreservesFIFOOrder(t *testing.T) {
	b := New(0, 0)
	b.Append(msgWithID(1))
	b.Append(msgWithID(2))
	b.Append(msgWithID(3))

	out, dropped := b.Drain()
	require.Len(t, out, 3)
	assert.Equal(t, 0, dropped)
	assert.JSONEq(t, `1`, string(out[0].ID))
	assert.JSONEq(t, `2`, string(out[1].ID))
	assert.JSONEq(t, `3`, string(out[2].ID))
}

func TestDrainEmptiesBuffer(t *testing.T) {
	b := New(0, 0)
	b.Append(msgWithID(1))
	b.Drain()
	assert.Equal(t, 0, b.Len())
}

func TestOverflowDropsOldest(t *testing.T) {
	b := New(2, 0)
	b.Append(msgWithID(1))
	b.Append(msgWithID(2))
	b.Append(msgWithID(3)) // exceeds capacity of 2, drops id 1

	out, dropped := b.Drain()
	require.Len(t, out, 2)
	assert.Equal(t, 1, dropped)
	assert.JSONEq(t, `2`, string(out[0].ID))
	assert.JSONEq(t, `3`, string(out[1].ID))
}

func TestDroppedCountResetsAfterDrain(t *testing.T) {
	b := New(1, 0)
	b.Append(msgWithID(1))
	b.Append(msgWithID(2))

	_, dropped := b.Drain()
	assert.Equal(t, 1, dropped)

	b.Append(msgWithID(3))
	_, dropped2 := b.Drain()
	assert.Equal(t, 0, dropped2)
}

func TestExactlyAtCapacityNoDrop(t *testing.T) {
	b := New(2, 0)
	b.Append(msgWithID(1))
	b.Append(msgWithID(2))

	out, dropped := b.Drain()
	require.Len(t, out, 2)
	assert.Equal(t, 0, dropped)
}
