package http

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPClient_Defaults(t *testing.T) {
	client := NewHTTPClient()

	assert.Equal(t, 30*time.Second, client.Timeout)
	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 20, transport.MaxIdleConns)
	assert.Equal(t, 5, transport.MaxIdleConnsPerHost)
	assert.Equal(t, 90*time.Second, transport.IdleConnTimeout)
}

func TestNewHTTPClient_Options(t *testing.T) {
	client := NewHTTPClient(WithTimeout(5*time.Second), WithMaxIdleConnsPerHost(2))

	assert.Equal(t, 5*time.Second, client.Timeout)
	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 2, transport.MaxIdleConnsPerHost)
}

func TestWithTimeout_IgnoresNonPositive(t *testing.T) {
	assert.Equal(t, 30*time.Second, NewHTTPClientWithTimeout(0).Timeout)
	assert.Equal(t, 10*time.Second, NewHTTPClientWithTimeout(10*time.Second).Timeout)
}
