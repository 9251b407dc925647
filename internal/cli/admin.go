package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/recstore/internal/mirror"
)

// MirrorOptions holds flags for the mirror command.
type MirrorOptions struct {
	*RootOptions
	Out string
}

// MirrorResult reports a written mirror.
type MirrorResult struct {
	Path   string        `json:"path"`
	Counts mirror.Counts `json:"counts"`
}

// NewMirrorCommand creates the mirror command.
func NewMirrorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MirrorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Write the index to a SQLite file for reporting",
		Long: `Write the whole index (documents, document_versions, pdf_exports) to a
SQLite database for external reporting tools.

The mirror is read-only output: the snapshot stays the source of truth and
the file is replaced on every run.

Example:
  recstore mirror --out reports/recstore.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMirror(opts, cmd)
		},
	}
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "path of the SQLite file to write (required)")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func runMirror(opts *MirrorOptions, cmd *cobra.Command) error {
	sess, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer sess.close()

	ctx := commandContext(cmd)
	state, err := sess.store.State(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read index", err)
	}
	counts, err := mirror.Export(ctx, opts.Out, state)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to write mirror", err)
	}
	sess.logger.Info("mirror written", "path", opts.Out, "documents", counts.Documents)

	if opts.Format == "json" {
		return sess.out.JSON(MirrorResult{Path: opts.Out, Counts: counts}, "")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s: %d documents, %d versions, %d exports\n",
		opts.Out, counts.Documents, counts.Versions, counts.Exports)
	return nil
}

// NewOrphansCommand creates the orphans command.
func NewOrphansCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "orphans",
		Short: "List blob files no version references",
		Long: `List payload files under the records directory that no version row
references. They are left behind by saves that failed after writing the
payload. Nothing is deleted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrphans(rootOpts, cmd)
		},
	}
}

func runOrphans(opts *RootOptions, cmd *cobra.Command) error {
	sess, err := openSession(opts, cmd)
	if err != nil {
		return err
	}
	defer sess.close()

	orphans, err := sess.store.Orphans(commandContext(cmd))
	if err != nil {
		return storeFailure("orphan scan failed", err)
	}
	if opts.Format == "json" {
		return sess.out.JSON(orphans, "")
	}

	w := cmd.OutOrStdout()
	if len(orphans) == 0 {
		fmt.Fprintln(w, "No orphan blobs")
		return nil
	}
	for _, ref := range orphans {
		fmt.Fprintln(w, ref)
	}
	return nil
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stats",
		Short:         "Summarize documents per template and status",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(rootOpts, cmd)
		},
	}
}

func runStats(opts *RootOptions, cmd *cobra.Command) error {
	sess, err := openSession(opts, cmd)
	if err != nil {
		return err
	}
	defer sess.close()

	stats, err := sess.store.Stats(commandContext(cmd))
	if err != nil {
		return storeFailure("stats failed", err)
	}
	if opts.Format == "json" {
		return sess.out.JSON(stats, "")
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Store %s: %d documents, %d versions, %d exports\n",
		stats.StoreID, stats.Totals.Documents, stats.Totals.Versions, stats.Totals.Exports)
	rows := make([][]string, 0, len(stats.Templates))
	for _, t := range stats.Templates {
		parts := make([]string, 0, len(t.ByStatus))
		for _, sc := range t.ByStatus {
			parts = append(parts, fmt.Sprintf("%s %d", sc.Status, sc.Count))
		}
		rows = append(rows, []string{t.TemplateID, strconv.Itoa(t.Documents), strings.Join(parts, ", "), formatTime(t.LastUpdatedAt)})
	}
	renderTable(w, []string{"TEMPLATE", "DOCUMENTS", "BY STATUS", "LAST UPDATED"}, rows, "No documents")
	return nil
}

// NewRecoveryCommand creates the recovery command.
func NewRecoveryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recovery",
		Short: "Report whether the snapshot needed recovery",
		Long: `Report how the snapshot was loaded. When the snapshot could not be read
it is moved aside, the store starts empty and this command exits 1 with
the quarantined path so an operator can restore it.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecovery(rootOpts, cmd)
		},
	}
}

func runRecovery(opts *RootOptions, cmd *cobra.Command) error {
	sess, err := openSession(opts, cmd)
	if err != nil {
		return err
	}
	defer sess.close()

	report := sess.store.Recovery()
	if opts.Format == "json" {
		if err := sess.out.JSON(report, ""); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		st := newStyles(w)
		switch {
		case report.RecoveryNeeded:
			fmt.Fprintln(w, st.warn.Render("Recovery needed"))
			fmt.Fprintf(w, "Reason:      %s\n", report.Reason)
			fmt.Fprintf(w, "Quarantined: %s\n", report.QuarantinedPath)
		case report.Fresh:
			fmt.Fprintln(w, "No snapshot yet; store is empty")
		default:
			fmt.Fprintf(w, "Snapshot OK (format %d)\n", report.Format)
		}
	}
	if report.RecoveryNeeded {
		e := NewExitError(ExitFailure, "snapshot was quarantined; store started empty")
		e.Reported = true
		return e
	}
	return nil
}
