package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vereinskasse/vereinskasse/internal/platform/db"
	"github.com/vereinskasse/vereinskasse/internal/review"
	"github.com/vereinskasse/vereinskasse/jobs"
)

// ErrIntegrityViolations is returned when finalized periods hold unlocked
// transactions so the command exits non-zero.
var ErrIntegrityViolations = errors.New("integrity: finalized periods with unlocked transactions")

func newIntegrityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "integrity",
		Short: "Verify every finalized period has locked all its reviewed transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := db.New(cmd.Context(), cfg.PGDSN)
			if err != nil {
				return err
			}
			defer pool.Close()

			service := review.NewService(review.NewRepository(pool), nil)
			job := jobs.NewLockIntegrityJob(service, slog.Default(), nil)
			violations, err := job.Run(cmd.Context())
			if err != nil {
				return err
			}
			return reportViolations(cmd.OutOrStdout(), violations)
		},
	}
}

func reportViolations(out io.Writer, violations []review.LockViolation) error {
	if len(violations) == 0 {
		fmt.Fprintln(out, "all finalized periods are locked")
		return nil
	}
	for _, v := range violations {
		fmt.Fprintf(out, "period %d (%s): %d unlocked transactions\n", v.PeriodID, v.PeriodName, v.Unlocked)
	}
	return ErrIntegrityViolations
}
