package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"reserva/internal/audit"
	"reserva/internal/model"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		out  string
		from string
		to   string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the submission journal to an Excel workbook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			start, end, err := exportRange(from, to, cfg.Location())
			if err != nil {
				return err
			}
			if out == "" {
				out = audit.GenerateFilename(time.Now().In(cfg.Location()))
			}

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			w := audit.NewExcelizeWriter()
			defer w.Close()
			n, err := a.journal.Export(cmd.Context(), w, start, end)
			if err != nil {
				return err
			}
			if err := w.SaveToFile(out); err != nil {
				return fmt.Errorf("save %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d entries to %s\n", n, out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default submissions_YYYY-MM.xlsx)")
	cmd.Flags().StringVar(&from, "from", "", "first day to include (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last day to include (YYYY-MM-DD)")
	return cmd
}

// exportRange turns inclusive day bounds into [start, end). Empty bounds stay open.
func exportRange(from, to string, loc *time.Location) (time.Time, time.Time, error) {
	var start, end time.Time
	if from != "" {
		d, err := model.ParseDate(from)
		if err != nil {
			return start, end, fmt.Errorf("--from: %w", err)
		}
		start = d.Time(loc)
	}
	if to != "" {
		d, err := model.ParseDate(to)
		if err != nil {
			return start, end, fmt.Errorf("--to: %w", err)
		}
		end = d.AddDays(1).Time(loc)
	}
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		return start, end, fmt.Errorf("--to is before --from")
	}
	return start, end, nil
}
