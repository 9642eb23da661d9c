package notify

import (
	"encoding/json"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

func TestFormatters(t *testing.T) {
	require.Equal(t, "12,500 units", FormatUnits(12500))
	require.Equal(t, "70 units", FormatUnits(70))
	require.Equal(t, "3,250.00", FormatAmount(3250))
}

func TestEventTaskRoundTrip(t *testing.T) {
	event := Event{
		Type:    EventPaymentDue,
		Subject: "Payment due on sale SALE-1",
		Body:    "1,000.00 outstanding of 3,250.00 total",
		Meta:    map[string]any{"sale_id": float64(7)},
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	decoded, err := DecodeEvent(asynq.NewTask(TaskTypeDispatch, payload))
	require.NoError(t, err)
	require.Equal(t, event, decoded)

	_, err = DecodeEvent(asynq.NewTask(TaskTypeDispatch, []byte("{")))
	require.Error(t, err)
}
