package command

import (
	"fmt"
	"io"

	"github.com/npezzotti/go-estate-chat/internal/api"
	"github.com/npezzotti/go-estate-chat/internal/auth"
	"github.com/npezzotti/go-estate-chat/internal/room"
	"github.com/npezzotti/go-estate-chat/internal/session"
	"github.com/npezzotti/go-estate-chat/internal/stompws"
	"github.com/npezzotti/go-estate-chat/internal/tui"
	"github.com/spf13/cobra"
)

func NewRoomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room <room-id>",
		Short: "Open a chat room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// the terminal belongs to the view, so logs are dropped
			// unless --log-file is given
			e, err := newEnv(cmd, io.Discard)
			if err != nil {
				return err
			}
			defer e.Close()

			withSession, _ := cmd.Flags().GetBool("session")

			opts, cleanup, err := roomOptions(e, args[0], withSession)
			if err != nil {
				return err
			}
			defer cleanup()

			return tui.Run(opts)
		},
	}

	cmd.Flags().Bool("session", true, "show the unread count from the session channel")

	return cmd
}

// roomOptions builds the view's dependencies. cleanup ends the session
// channel if one was created.
func roomOptions(e *env, roomId string, withSession bool) (tui.Options, func(), error) {
	store := auth.NewTokenStore(e.cfg.Token)
	token, ok := store.Token()
	if !ok {
		return tui.Options{}, nil, fmt.Errorf("no usable token, run %s login", AppName)
	}
	identity, err := store.Identity()
	if err != nil {
		return tui.Options{}, nil, fmt.Errorf("token identity: %w", err)
	}

	client := api.NewClient(e.cfg.APIBaseURL, store, nil, e.log)

	opts := tui.Options{
		RoomId:   roomId,
		Identity: identity,
		Token:    token,
		Rooms:    client,
		History:  client.HistoryFunc(roomId),
		Dial: room.StompDialer(stompws.Config{
			URL:               e.cfg.StompURL,
			HeartbeatOutgoing: e.cfg.HeartbeatOutgoing,
			HeartbeatIncoming: e.cfg.HeartbeatIncoming,
			Logger:            e.log,
		}),
		PageSize:         e.cfg.PageSize,
		NearTopThreshold: e.cfg.NearTopThreshold,
		ReconnectDelay:   e.cfg.RoomReconnectDelay,
		Logger:           e.log,
		Stats:            e.stats,
	}

	if !withSession {
		return opts, func() {}, nil
	}

	// the view connects it once its listeners are in place
	ch := session.New(store, session.Config{
		URL:        e.cfg.SessionURL,
		MaxRetries: e.cfg.SessionMaxRetries,
		RetryDelay: e.cfg.SessionRetryDelay,
		Logger:     e.log,
		Stats:      e.stats,
	})
	opts.Session = ch

	return opts, ch.Disconnect, nil
}
