package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeClientMessage(t *testing.T) {
	assert := assert.New(t)

	// Case 0: subscribe
	{
		decoded, err := DecodeClientMessage(
			[]byte(`{"action":"subscribe","routes":["Tunis Marseille","Tunis Genoa"]}`),
		)
		assert.Nil(err)
		request, ok := decoded.(SubscribeRequest)
		assert.True(ok)
		assert.Equal([]string{"Tunis Marseille", "Tunis Genoa"}, request.Routes)
	}

	// Case 1: unsubscribe
	{
		decoded, err := DecodeClientMessage(
			[]byte(`{"action":"unsubscribe","routes":["Tunis Marseille"]}`),
		)
		assert.Nil(err)
		request, ok := decoded.(UnsubscribeRequest)
		assert.True(ok)
		assert.Equal([]string{"Tunis Marseille"}, request.Routes)
	}

	// Case 2: ping, routes ignored
	{
		decoded, err := DecodeClientMessage([]byte(`{"action":"ping","routes":["noise"]}`))
		assert.Nil(err)
		_, ok := decoded.(PingRequest)
		assert.True(ok)
	}

	// Case 3: stats
	{
		decoded, err := DecodeClientMessage([]byte(`{"action":"stats"}`))
		assert.Nil(err)
		_, ok := decoded.(StatsRequest)
		assert.True(ok)
	}

	// Case 4: well-formed message with unrecognized action
	{
		decoded, err := DecodeClientMessage([]byte(`{"action":"dance"}`))
		assert.Nil(err)
		request, ok := decoded.(UnknownRequest)
		assert.True(ok)
		assert.Equal("dance", request.Action)
	}

	// Case 5: missing action decodes as unknown
	{
		decoded, err := DecodeClientMessage([]byte(`{"routes":["Tunis Marseille"]}`))
		assert.Nil(err)
		request, ok := decoded.(UnknownRequest)
		assert.True(ok)
		assert.Empty(request.Action)
	}

	// Case 6: malformed JSON is an error, not a request
	{
		decoded, err := DecodeClientMessage([]byte(`{not json`))
		assert.NotNil(err)
		assert.Nil(decoded)
	}
}
