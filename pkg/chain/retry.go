package chain

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/hexlayer-labs/tradecore/internal/metrics"
)

const (
	maxAttempts  = 3
	initialDelay = 400 * time.Millisecond
)

// permanentMarkers are substrings of node error messages that indicate the
// request itself is bad. Retrying these wastes the budget and can double-spend
// a nonce, so they surface immediately.
var permanentMarkers = []string{
	"execution reverted",
	"revert",
	"insufficient funds",
	"nonce too low",
	"replacement transaction underpriced",
	"already known",
	"invalid sender",
	"intrinsic gas too low",
	"exceeds block gas limit",
	"invalid argument",
	"method not found",
}

// isTransient classifies an RPC failure as retryable (network trouble) or
// permanent (malformed request, contract revert).
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return false
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Anything else from the transport layer (connection resets, 5xx from
	// load-balanced RPC providers, rate limits) is worth one more try.
	return true
}

// withRetry runs fn up to maxAttempts times with exponential backoff on
// transient failures. Permanent failures return immediately.
func withRetry(ctx context.Context, chainName, op string, fn func() error) error {
	var err error
	delay := initialDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		metrics.RPCRetriesTotal.WithLabelValues(chainName, op).Inc()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return errors.Join(ErrUnavailable, err)
}
