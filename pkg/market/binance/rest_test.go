package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetKlinesParsesRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[
			[1700000000000,"100.0","101.5","99.5","101.0","12.5",1700003599999,"1262.5",42,"6.0","606.0","0"],
			[1700003600000,"101.0","103.0","100.5","102.5","8.0",1700007199999,"820.0",30,"4.0","410.0","0"],
			[1]
		]`))
	}))
	defer srv.Close()

	c := NewClient(false, 0)
	c.BaseURL = srv.URL

	klines, err := c.GetKlines(context.Background(), "BTCUSDT", "1h", 2, 0, 0)
	require.NoError(t, err)
	require.Len(t, klines, 2)
	assert.Equal(t, "BTCUSDT", klines[0].Symbol)
	assert.Equal(t, 101.5, klines[0].High)
	assert.Equal(t, 102.5, klines[1].Close)
	assert.Equal(t, 42, klines[0].NumberOfTrades)
}

func TestGetKlinesStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"code":-1003}`))
	}))
	defer srv.Close()

	c := NewClient(false, 5)
	c.BaseURL = srv.URL

	_, err := c.GetKlines(context.Background(), "BTCUSDT", "1m", 10, 0, 0)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.True(t, se.Temporary())
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
}
