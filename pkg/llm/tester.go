package llm

import (
	"context"
	"fmt"
	"time"
)

// ProbeResult reports whether one backend answered a minimal request.
type ProbeResult struct {
	Name           string    `json:"name"`
	Model          string    `json:"model,omitempty"`
	Success        bool      `json:"success"`
	Message        string    `json:"message"`
	ErrorType      ErrorType `json:"error_type,omitempty"`
	ResponseTimeMs int64     `json:"response_time_ms"`
}

// ProbeCompleter sends a one-word prompt to c.
func ProbeCompleter(ctx context.Context, name string, c Completer, timeout time.Duration) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	_, err := c.Complete(ctx, "Reply with the single word ok.", "ok")
	return probeResult(name, c.Model(), start, err)
}

// ProbeEmbedder embeds a short text with e.
func ProbeEmbedder(ctx context.Context, name string, e Embedder, timeout time.Duration) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	vec, err := e.Embed(ctx, "ventas")
	if err == nil && len(vec) == 0 {
		err = NewError(ErrorTypeEmpty, "embedding returned no vector", false, nil)
	}
	return probeResult(name, "", start, err)
}

func probeResult(name, model string, start time.Time, err error) ProbeResult {
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		classified := ClassifyError(err)
		return ProbeResult{
			Name:           name,
			Model:          model,
			Message:        fmt.Sprintf("%s: %s", name, classified.Message),
			ErrorType:      classified.Type,
			ResponseTimeMs: elapsed,
		}
	}
	return ProbeResult{
		Name:           name,
		Model:          model,
		Success:        true,
		Message:        fmt.Sprintf("%s reachable (%dms)", name, elapsed),
		ResponseTimeMs: elapsed,
	}
}
