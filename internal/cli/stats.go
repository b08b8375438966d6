package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcoot/basequiz/internal/model"
)

func newStatsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Game result and statistics commands",
	}

	cmd.AddCommand(newStatsRecordCmd(e))
	cmd.AddCommand(newStatsShowCmd(e))
	cmd.AddCommand(newStatsHistoryCmd(e))

	return cmd
}

func newStatsRecordCmd(e *env) *cobra.Command {
	var (
		score    int
		duration time.Duration
		mode     string
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a finished game for the signed-in user",
		Long: `Record a finished game: append it to the user's history, fold it into
their stats and, for registered users with --mode, promote it to that mode's
leaderboard if it beats their best score.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := e.identity()
			if err != nil {
				return err
			}
			if score < 0 {
				return errors.New("--score must not be negative")
			}
			result := model.GameResult{
				Score:      score,
				Duration:   duration.Milliseconds(),
				GameModeID: model.GameModeID(mode),
			}
			if err := e.app.Stats.RecordResult(cmd.Context(), result); err != nil {
				return err
			}
			stats, err := e.app.Stats.Stats(cmd.Context(), id.UID)
			if err != nil {
				return err
			}
			e.outputTo(cmd.OutOrStdout()).Print(newStats(id.UID, stats))
			return nil
		},
	}

	cmd.Flags().IntVar(&score, "score", 0, "Final score (required)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "How long the game took")
	cmd.Flags().StringVar(&mode, "mode", "", "Game mode whose leaderboard the score competes on")
	_ = cmd.MarkFlagRequired("score")

	return cmd
}

func newStatsShowCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "show [uid]",
		Short: "Show a user's aggregate stats",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := e.targetUser(args)
			if err != nil {
				return err
			}
			stats, err := e.app.Stats.Stats(cmd.Context(), uid)
			if err != nil {
				return err
			}
			e.outputTo(cmd.OutOrStdout()).Print(newStats(uid, stats))
			return nil
		},
	}
}

func newStatsHistoryCmd(e *env) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [uid]",
		Short: "Show a user's most recent games, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := e.targetUser(args)
			if err != nil {
				return err
			}
			entries, err := e.app.Stats.History(cmd.Context(), uid, limit)
			if err != nil {
				return err
			}
			out := make([]HistoryEntry, 0, len(entries))
			for _, h := range entries {
				out = append(out, HistoryEntry{
					Score:          h.Score,
					DurationMillis: h.Duration,
					Mode:           string(h.GameModeID),
					Timestamp:      h.Timestamp,
				})
			}
			e.outputTo(cmd.OutOrStdout()).Print(out)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Number of games to show")

	return cmd
}

func newLeaderboardCmd(e *env) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "leaderboard <mode>",
		Short: "Show a game mode's leaderboard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := e.app.Stats.Leaderboard(cmd.Context(), model.GameModeID(args[0]), limit)
			if err != nil {
				return err
			}
			out := make([]LeaderboardRow, 0, len(entries))
			for i, entry := range entries {
				out = append(out, LeaderboardRow{
					Rank:        i + 1,
					UID:         string(entry.UID),
					DisplayName: entry.DisplayName,
					Score:       entry.Score,
					Timestamp:   entry.Timestamp,
				})
			}
			e.outputTo(cmd.OutOrStdout()).Print(out)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Number of entries to show")

	return cmd
}
