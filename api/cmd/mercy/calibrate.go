package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	calibrateAddr  string
	calibrateToken string
)

// newCalibrateCmd is the supplemented calibrate workflow from SPEC_FULL.md:
// a thin wrapper around a running instance's /detect endpoint, useful when
// tuning the reference template image or NAVIGATE_DELAY_MS (§9's open
// question never given an operator-facing interface by the distilled spec).
func newCalibrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Run best-match detection against the current screenshot and print the score",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(calibrateAddr, calibrateToken)

			st, err := client.status()
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}

			result, err := client.detect()
			if err != nil {
				return fmt.Errorf("detect: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "phase:     %s (kingdom %d)\n", st.Phase, st.CurrentKingdom)
			fmt.Fprintf(out, "found:     %t\n", result.Found)
			fmt.Fprintf(out, "threshold: %.4f\n", result.Threshold)
			fmt.Fprintf(out, "score:     %.4f\n", result.Score)
			fmt.Fprintf(out, "pixel:     (%d, %d)\n", result.PixelX, result.PixelY)
			fmt.Fprintf(out, "game dx:   %.2f\n", result.GameDX)
			fmt.Fprintf(out, "game dy:   %.2f\n", result.GameDY)
			return nil
		},
	}

	cmd.Flags().StringVar(&calibrateAddr, "addr", "http://localhost:8080", "Address of a running mercy serve instance")
	cmd.Flags().StringVar(&calibrateToken, "token", "", "Auth token for the running instance (env AUTH_TOKEN)")
	return cmd
}
