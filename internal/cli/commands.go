package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var recommendCmd = &cobra.Command{
	Use:   "recommend <volunteer-id>",
	Short: "List the best open opportunities for a volunteer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		volunteerID, err := parseID("volunteer", args[0])
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		e, err := openEnv(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		results, err := e.engine.FindMatchingOpportunities(cmd.Context(), volunteerID, limit)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return writeJSON(e.out, results)
		}
		renderMatches(e.out, results)
		return nil
	},
}

var candidatesCmd = &cobra.Command{
	Use:   "candidates <opportunity-id>",
	Short: "List volunteers who fit an opportunity and have not applied",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		oppID, err := parseID("opportunity", args[0])
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		e, err := openEnv(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		matches, err := e.engine.FindMatchingVolunteers(cmd.Context(), oppID, limit)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return writeJSON(e.out, matches)
		}
		renderCandidates(e.out, matches)
		return nil
	},
}

var explainCmd = &cobra.Command{
	Use:   "explain <volunteer-id> <opportunity-id>",
	Short: "Break a match score down by factor",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		volunteerID, err := parseID("volunteer", args[0])
		if err != nil {
			return err
		}
		oppID, err := parseID("opportunity", args[1])
		if err != nil {
			return err
		}

		e, err := openEnv(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		ex, err := e.engine.GetMatchExplanation(cmd.Context(), volunteerID, oppID)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return writeJSON(e.out, ex)
		}
		renderExplanation(e.out, *ex)
		return nil
	},
}

var notifyCmd = &cobra.Command{
	Use:   "notify <opportunity-id>",
	Short: "Queue match notifications for an opportunity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		oppID, err := parseID("opportunity", args[0])
		if err != nil {
			return err
		}

		e, err := openEnv(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		queued, err := e.engine.SendMatchingNotifications(cmd.Context(), oppID)
		if err != nil {
			return err
		}
		e.log.Info("notifications queued", zap.String("opportunity_id", oppID.String()), zap.Int("queued", queued))
		if jsonOutput() {
			return writeJSON(e.out, map[string]int{"queued": queued})
		}
		fmt.Fprintf(e.out, "queued %d notification(s)\n", queued)
		return nil
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Show notification queue counts and recent jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		e, err := openEnv(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		stats, err := e.queue.Stats(cmd.Context())
		if err != nil {
			return err
		}
		recent, err := e.queue.Recent(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return writeJSON(e.out, map[string]any{"counts": stats, "recent": recent})
		}
		renderJobs(e.out, stats, recent)
		return nil
	},
}

func init() {
	recommendCmd.Flags().IntP("limit", "l", 0, "maximum results (0 uses the policy default)")
	candidatesCmd.Flags().IntP("limit", "l", 0, "maximum results (0 uses the policy default)")
	jobsCmd.Flags().IntP("limit", "l", 20, "recent jobs to show")

	rootCmd.AddCommand(recommendCmd, candidatesCmd, explainCmd, notifyCmd, jobsCmd)
}

func parseID(what, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s id %q: %w", what, raw, err)
	}
	return id, nil
}
