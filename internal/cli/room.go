package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mcoot/basequiz/internal/model"
)

func newRoomCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room",
		Short: "Room commands",
	}

	cmd.AddCommand(newRoomCreateCmd(e))
	cmd.AddCommand(newRoomGetCmd(e))
	cmd.AddCommand(newRoomListCmd(e))
	cmd.AddCommand(newRoomJoinCmd(e))
	cmd.AddCommand(newRoomLeaveCmd(e))
	cmd.AddCommand(newRoomKickCmd(e))
	cmd.AddCommand(newRoomStatusCmd(e))

	return cmd
}

func newRoomCreateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a room and join it as host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := e.identity(); err != nil {
				return err
			}
			room, err := e.app.Rooms.Create(cmd.Context())
			if err != nil {
				return err
			}
			e.outputTo(cmd.OutOrStdout()).Print(newRoom(room))
			return nil
		},
	}
}

func newRoomGetCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "get <code>",
		Short: "Show a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			room, err := e.app.Rooms.Get(cmd.Context(), model.RoomID(args[0]))
			if err != nil {
				return err
			}
			e.outputTo(cmd.OutOrStdout()).Print(newRoom(room))
			return nil
		},
	}
}

func newRoomListCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every room",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rooms, err := e.app.Rooms.List(cmd.Context())
			if err != nil {
				return err
			}
			out := make([]Room, 0, len(rooms))
			for _, r := range rooms {
				out = append(out, newRoom(r))
			}
			sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
			e.outputTo(cmd.OutOrStdout()).Print(out)
			return nil
		},
	}
}

func newRoomJoinCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "join <code>",
		Short: "Join a waiting room, or rejoin one you left",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.roomAction(cmd, args[0], "Joined room %s", func(id model.RoomID) error {
				return e.app.Rooms.Join(cmd.Context(), id)
			})
		},
	}
}

func newRoomLeaveCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "leave <code>",
		Short: "Leave a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.roomAction(cmd, args[0], "Left room %s", func(id model.RoomID) error {
				return e.app.Rooms.Leave(cmd.Context(), id)
			})
		},
	}
}

func newRoomKickCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "kick <code> <uid>",
		Short: "Kick a player (host only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := model.UserID(args[1])
			return e.roomAction(cmd, args[0], "Kicked "+args[1]+" from room %s", func(id model.RoomID) error {
				return e.app.Rooms.Kick(cmd.Context(), id, target)
			})
		},
	}
}

func newRoomStatusCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:       "status <code> <playing|finished>",
		Short:     "Advance a room's status",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(model.RoomStatusPlaying), string(model.RoomStatusFinished)},
		RunE: func(cmd *cobra.Command, args []string) error {
			next := model.RoomStatus(args[1])
			return e.roomAction(cmd, args[0], "Room %s is now "+args[1], func(id model.RoomID) error {
				return e.app.Rooms.SetStatus(cmd.Context(), id, next)
			})
		},
	}
}

// roomAction runs an acting-user operation on a room and confirms it
func (e *env) roomAction(cmd *cobra.Command, code, confirm string, fn func(model.RoomID) error) error {
	if _, err := e.identity(); err != nil {
		return err
	}
	id := model.RoomID(code)
	if err := fn(id); err != nil {
		return err
	}
	e.outputTo(cmd.OutOrStdout()).PrintMessage(fmt.Sprintf(confirm, id))
	return nil
}
