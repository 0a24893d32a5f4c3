package main

import (
	"context"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ragstudio/internal/app"
	"github.com/GriffinCanCode/ragstudio/internal/domain/session"
)

const replyTimeout = 2 * time.Minute

// cliUser is the focus key of the terminal user.
const cliUser = "cli"

func converse(ctx context.Context, rt *app.App, logger *zap.Logger, opts options) error {
	console := newConsole(os.Stdout)

	if opts.history {
		return browse(ctx, rt, console, opts.scope)
	}

	live, err := rt.Sessions.LiveSession(opts.scope, opts.sessionID)
	if err != nil {
		return err
	}
	if err := rt.Sessions.Focus(cliUser, opts.scope); err != nil {
		logger.Debug("Focus not recorded", zap.Error(err))
	}

	if err := showTranscript(ctx, live, console); err != nil {
		return err
	}

	if opts.message == "" {
		return nil
	}

	replies := make(chan session.Message, 1)
	unsubscribe := live.Subscribe(session.MessageAdded, func(n session.Notification) {
		if n.Message == nil || n.Message.Role == "user" {
			return
		}
		select {
		case replies <- *n.Message:
		default:
		}
	})
	defer unsubscribe()

	if err := live.Connect(ctx); err != nil {
		logger.Warn("Continuing without push channel", zap.Error(err))
	}

	sent, err := live.SendMessage(ctx, opts.message)
	if err != nil {
		return err
	}
	console.message(sent)

	if !live.ChannelOpen() {
		live.Flush()
		return nil
	}

	select {
	case reply := <-replies:
		console.message(reply)
	case <-time.After(replyTimeout):
		console.printf("no reply within %s\n", replyTimeout)
	case <-ctx.Done():
	}
	live.Flush()
	return nil
}

func browse(ctx context.Context, rt *app.App, console *console, scope string) error {
	hist, err := rt.Sessions.HistorySession(scope)
	if err != nil {
		return err
	}

	sessions, err := hist.LoadAllSessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		console.printf("no sessions in %s\n", scope)
		return nil
	}
	for _, s := range sessions {
		console.printf("%s  %-30s  %3d messages  %s\n",
			s.ID, s.Title, s.MessageCount, s.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

type transcript interface {
	Load(ctx context.Context) error
	Messages() []session.Message
}

// showTranscript prints the loaded log. A failed fetch is reported and
// the conversation goes on with whatever the session holds locally.
func showTranscript(ctx context.Context, live transcript, console *console) error {
	if err := live.Load(ctx); err != nil {
		var loadErr *session.LoadError
		if !errors.As(err, &loadErr) {
			return err
		}
		console.printf("could not load transcript: %v\n", err)
	}
	for _, msg := range live.Messages() {
		console.message(msg)
	}
	return nil
}
