package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/npezzotti/go-estate-chat/internal/auth"
	"github.com/npezzotti/go-estate-chat/internal/session"
	"github.com/spf13/cobra"
)

var errSessionEnded = errors.New("session ended: reconnect attempts exhausted")

func NewWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print session events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return watch(ctx, e, cmd.OutOrStdout())
		},
	}
}

// watch prints session events to out until ctx ends or the session gives
// up reconnecting.
func watch(ctx context.Context, e *env, out io.Writer) error {
	var mu sync.Mutex
	printf := func(format string, a ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, format, a...)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var ch *session.Channel
	ch = session.New(auth.NewTokenStore(e.cfg.Token), session.Config{
		URL:        e.cfg.SessionURL,
		MaxRetries: e.cfg.SessionMaxRetries,
		RetryDelay: e.cfg.SessionRetryDelay,
		Logger:     e.log,
		Stats:      e.stats,
		OnState: func(s session.State) {
			printf("session %s\n", s)
			if s == session.StateClosed && !ch.ReconnectPending() {
				cancel(errSessionEnded)
			}
		},
	})
	defer ch.Disconnect()

	ch.SubscribeUnreadCount(session.NewListener(func(ev session.UnreadCountEvent) {
		printf("unread %d\n", ev.Count)
	}))
	ch.SubscribeRoomListUpdate(session.NewListener(func(session.RoomListUpdateEvent) {
		printf("room list updated\n")
	}))
	ch.SubscribeNotifications(session.NewListener(func(ev session.NotificationEvent) {
		printf("notification %s\n", ev.Payload)
	}))

	if err := ch.Connect(ctx); errors.Is(err, session.ErrNoCredential) {
		return err
	} else if err != nil {
		// the reconnect policy owns dial failures
		e.log.Println("watch: connect:", err)
	}

	<-ctx.Done()
	if cause := context.Cause(ctx); errors.Is(cause, errSessionEnded) {
		return cause
	}
	return nil
}
