package cli

import (
	"context"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/mcoot/basequiz/internal/model"
)

func newChatCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Room chat commands",
	}

	cmd.AddCommand(newChatSendCmd(e))
	cmd.AddCommand(newChatTailCmd(e))

	return cmd
}

func newChatSendCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "send <code> <text>...",
		Short: "Post a message to a room's chat",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := e.identity(); err != nil {
				return err
			}
			msg, err := e.app.Chat.Send(cmd.Context(), model.RoomID(args[0]), strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			e.outputTo(cmd.OutOrStdout()).Print(newChatLine(msg))
			return nil
		},
	}
}

func newChatTailCmd(e *env) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "tail <code>",
		Short: "Show a room's latest messages",
		Long: `Show the latest --chat-limit messages of a room, oldest first.

With --follow, keep printing new messages until interrupted. A signed-in user
is shown online meanwhile, and a player of the room is marked connected; both
go back to disconnected when the command exits.

Press Ctrl+C to stop following.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			room := model.RoomID(args[0])
			if !follow {
				msgs, err := e.app.Chat.Recent(cmd.Context(), room)
				if err != nil {
					return err
				}
				lines := make([]ChatLine, 0, len(msgs))
				for _, m := range msgs {
					lines = append(lines, newChatLine(m))
				}
				e.outputTo(cmd.OutOrStdout()).Print(lines)
				return nil
			}
			return e.followChat(cmd.Context(), cmd, room)
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new messages")

	return cmd
}

// followChat prints every message of the feed once, in feed order, until ctx ends
func (e *env) followChat(ctx context.Context, cmd *cobra.Command, room model.RoomID) error {
	if id, err := e.identity(); err == nil {
		stopTracking := e.app.Presence.Track()
		defer stopTracking()
		// Hooks are lost when the store drops this peer, so each reconnect re-tracks
		stopMembership := e.app.Store.WatchConnected(func(online bool) {
			if online {
				e.trackMembership(ctx, room, id.UID)
			}
		})
		defer stopMembership()
	}

	out := e.outputTo(cmd.OutOrStdout())
	var (
		mu   sync.Mutex
		seen = make(map[model.MessageID]bool)
	)
	unsubscribe, err := e.app.Chat.Subscribe(ctx, room, func(msgs []model.ChatMessage) {
		mu.Lock()
		defer mu.Unlock()
		for _, m := range msgs {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			out.Print(newChatLine(m))
		}
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	<-ctx.Done()
	return nil
}

// trackMembership marks uid connected in room while this peer is up, if they
// are one of its players
func (e *env) trackMembership(ctx context.Context, room model.RoomID, uid model.UserID) {
	r, err := e.app.Rooms.Get(ctx, room)
	if err != nil {
		return
	}
	if p, ok := r.Players[uid]; !ok || p.Kicked {
		return
	}
	if err := e.app.Rooms.TrackConnection(ctx, room); err != nil {
		e.logger.Warn("failed to track room connection", "room", room, "error", err)
	}
}
