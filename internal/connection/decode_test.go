package connection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame_Tick(t *testing.T) {
	now := time.Now()
	ev, err := decodeFrame([]byte(`{"msg_type":"tick","req_id":7,"tick":{"symbol":"frxEURUSD","quote":1.0855,"epoch":1705320000,"id":"abc-123"},"subscription":{"id":"abc-123"}}`), now)
	require.NoError(t, err)

	tick, ok := ev.(TickEvent)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "frxEURUSD", tick.Symbol)
	assert.Equal(t, "1.0855", tick.Quote.String())
	assert.Equal(t, int64(1705320000), tick.Epoch)
	assert.Equal(t, "abc-123", tick.StreamID)
	assert.Equal(t, int64(7), tick.ReqID)
	assert.Equal(t, now, tick.ReceivedAt)
}

func TestDecodeFrame_TickStreamIDFromSubscription(t *testing.T) {
	ev, err := decodeFrame([]byte(`{"msg_type":"tick","tick":{"symbol":"R_100","quote":"612.34"},"subscription":{"id":"sub-9"}}`), time.Now())
	require.NoError(t, err)
	tick := ev.(TickEvent)
	assert.Equal(t, "sub-9", tick.StreamID)
	assert.Equal(t, "612.34", tick.Quote.String())
}

func TestDecodeFrame_Authorize(t *testing.T) {
	ev, err := decodeFrame([]byte(`{"msg_type":"authorize","authorize":{"loginid":"CR123","currency":"USD","balance":10000.5}}`), time.Now())
	require.NoError(t, err)

	auth := ev.(AuthorizedEvent)
	assert.Equal(t, "CR123", auth.LoginID)
	assert.Equal(t, "USD", auth.Currency)
	assert.Equal(t, "10000.5", auth.Balance.String())
}

func TestDecodeFrame_Error(t *testing.T) {
	ev, err := decodeFrame([]byte(`{"msg_type":"authorize","error":{"code":"InvalidToken","message":"The token is invalid."}}`), time.Now())
	require.NoError(t, err)

	e := ev.(ErrorEvent)
	assert.Equal(t, "authorize", e.Op)
	assert.Equal(t, "InvalidToken", e.Code)
}

func TestDecodeFrame_ActiveSymbols(t *testing.T) {
	data := `{"msg_type":"active_symbols","active_symbols":[
		{"symbol":"frxEURUSD","display_name":"EUR/USD","market":"forex","exchange_is_open":1,"is_trading_suspended":0},
		{"symbol":"R_100","display_name":"Volatility 100 Index","market":"synthetic_index","exchange_is_open":1,"is_trading_suspended":1},
		{"symbol":""}
	]}`
	ev, err := decodeFrame([]byte(data), time.Now())
	require.NoError(t, err)

	dir := ev.(DirectoryEvent)
	require.Len(t, dir.Symbols, 2)
	assert.Equal(t, "EUR/USD", dir.Symbols[0].DisplayName)
	assert.True(t, dir.Symbols[0].IsOpen)
	assert.False(t, dir.Symbols[1].IsOpen)
}

func TestDecodeFrame_Buy(t *testing.T) {
	ev, err := decodeFrame([]byte(`{"msg_type":"buy","req_id":12,"buy":{"contract_id":98765,"buy_price":10,"payout":19.5,"balance_after":990,"start_time":1705320000}}`), time.Now())
	require.NoError(t, err)

	res := ev.(OrderResultEvent)
	assert.Equal(t, int64(12), res.ReqID)
	assert.Equal(t, int64(98765), res.ContractID)
	assert.Equal(t, "19.5", res.Payout.String())
}

func TestDecodeFrame_ContractUpdate(t *testing.T) {
	ev, err := decodeFrame([]byte(`{"msg_type":"proposal_open_contract","proposal_open_contract":{"contract_id":98765,"is_sold":1,"status":"won","exit_tick":1.086,"sell_price":19.5,"profit":9.5}}`), time.Now())
	require.NoError(t, err)

	upd := ev.(ContractUpdateEvent)
	assert.True(t, upd.Sold)
	assert.Equal(t, "9.5", upd.Profit.String())

	ev, err = decodeFrame([]byte(`{"msg_type":"proposal_open_contract","proposal_open_contract":{}}`), time.Now())
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestDecodeFrame_Ignored(t *testing.T) {
	for _, frame := range []string{
		`{"msg_type":"forget","forget":1}`,
		`{"msg_type":"ping","ping":"pong"}`,
		`{"msg_type":"website_status","website_status":{}}`,
	} {
		ev, err := decodeFrame([]byte(frame), time.Now())
		assert.NoError(t, err, frame)
		assert.Nil(t, ev, frame)
	}
}

func TestDecodeFrame_Malformed(t *testing.T) {
	for _, frame := range []string{
		`not json`,
		`{}`,
		`{"msg_type":"tick","tick":{"quote":1}}`,
		`{"msg_type":"tick","tick":{"symbol":"R_100","quote":"abc"}}`,
		`{"msg_type":"buy"}`,
	} {
		_, err := decodeFrame([]byte(frame), time.Now())
		var perr *ProtocolError
		assert.ErrorAs(t, err, &perr, frame)
	}
}
