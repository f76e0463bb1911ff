package agent

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/wreckit-dev/wreckit/internal/werr"
)

// classifyAPIError maps an SDK transport error onto the agent error
// taxonomy. Providers disagree on error shapes, so after the typed checks
// this falls back to message sniffing.
func classifyAPIError(err error, provider string) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return werr.Wrap(werr.KindAgent, err, "%s request timed out", provider).
			WithSub(werr.SubTimeout)
	case errors.Is(err, context.Canceled):
		return werr.Wrap(werr.KindInterrupted, err, "%s request canceled", provider)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return werr.Wrap(werr.KindAgent, err, "%s network failure", provider).
			WithSub(werr.SubNetwork)
	}

	msg := strings.ToLower(err.Error())
	sub := werr.SubOther
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") || strings.Contains(msg, "quota"):
		sub = werr.SubRateLimit
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "authentication"):
		sub = werr.SubAuth
	case strings.Contains(msg, "context length") || strings.Contains(msg, "context window") ||
		strings.Contains(msg, "maximum context") || strings.Contains(msg, "prompt is too long"):
		sub = werr.SubContextWindow
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "connection reset") || strings.Contains(msg, "eof"):
		sub = werr.SubNetwork
	}
	return werr.Wrap(werr.KindAgent, err, "%s request failed", provider).WithSub(sub)
}
