package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	logx "patchbell/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

// Middleware wraps a command handler.
type Middleware func(next HandlerFunc) HandlerFunc

// wrap applies mws so the first one runs outermost.
func wrap(h HandlerFunc, mws ...Middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// slowCommand is the duration above which a successful command logs at info.
const slowCommand = time.Second

func withDeadline(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// recoverPanics turns a handler panic into an error so the chat gets the
// generic failure reply.
func recoverPanics(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) (err error) {
		defer func() {
			if r := recover(); r != nil {
				req.Logger.Error("command panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				err = fmt.Errorf("%s: panic: %v", req.Command, r)
			}
		}()
		return next(ctx, req)
	}
}

// logCommand records who ran what. The game argument is logged as the
// source key so subscription churn can be grepped per game.
func logCommand(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		start := time.Now()
		err := next(ctx, req)
		took := time.Since(start)

		fields := []logx.Field{
			logx.String("subscriber", req.SubscriberID()),
			logx.Int64("from_id", req.FromID),
			logx.Duration("took", took),
		}
		if len(req.Args) > 0 {
			fields = append(fields, logx.String("source", strings.ToLower(req.Args[0])))
		}
		switch {
		case err != nil:
			req.Logger.Warn("command failed", append(fields, logx.Err(err))...)
		case took >= slowCommand:
			req.Logger.Info("command slow", fields...)
		default:
			req.Logger.Debug("command done", fields...)
		}
		return err
	}
}
