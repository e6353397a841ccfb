// Package mchan contains helpers for common channel operations
// that must respect context cancellation.
//
// Bounded channels are the only inter-task handoff mechanism in mosaic,
// so a full channel applies backpressure to the sender
// rather than aborting the sending task.
// A send only gives up when the context is canceled,
// which is logged for diagnostic purposes.
package mchan

import (
	"context"
	"log/slog"
)

// SendC selects between ctx being canceled or sending v to out.
// It reports whether the send succeeded,
// logging a debug message if ctx was canceled first.
func SendC[T any](ctx context.Context, log *slog.Logger, out chan<- T, purpose string, v T) bool {
	select {
	case <-ctx.Done():
		log.Debug(
			"Context canceled while attempting to send",
			"purpose", purpose,
			"cause", context.Cause(ctx),
		)
		return false
	case out <- v:
		return true
	}
}

// RecvC selects between ctx being canceled or receiving from in.
// It reports whether the receive succeeded,
// logging a debug message if ctx was canceled first.
func RecvC[T any](ctx context.Context, log *slog.Logger, in <-chan T, purpose string) (T, bool) {
	select {
	case <-ctx.Done():
		log.Debug(
			"Context canceled while attempting to receive",
			"purpose", purpose,
			"cause", context.Cause(ctx),
		)
		var zero T
		return zero, false
	case v := <-in:
		return v, true
	}
}

// ReqResp performs a blocking send of reqValue to reqChan,
// then performs a blocking receive from respChan.
// Both operations quit early if ctx is canceled.
func ReqResp[TReq, TResp any](
	ctx context.Context,
	log *slog.Logger,
	reqChan chan<- TReq, reqValue TReq,
	respChan <-chan TResp,
	purpose string,
) (TResp, bool) {
	if !SendC(ctx, log, reqChan, purpose, reqValue) {
		var zero TResp
		return zero, false
	}

	return RecvC(ctx, log, respChan, purpose)
}
