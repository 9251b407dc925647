package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/recstore/internal/diff"
)

// DiffOptions holds flags for the diff command.
type DiffOptions struct {
	*RootOptions
	recordRef
	From        int
	To          int
	ChangedOnly bool
}

// DiffResult is the JSON shape of a comparison.
type DiffResult struct {
	TemplateID string           `json:"template_id"`
	RecordID   string           `json:"record_id"`
	From       int              `json:"from"`
	To         int              `json:"to"`
	Stats      diff.Stats       `json:"stats"`
	Fields     []diff.FieldDiff `json:"fields"`
}

// NewDiffCommand creates the diff command.
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DiffOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Compare two versions of a record",
		Long: `Compare two versions of a record field by field.

Changed fields are listed first, then the rest, each group ordered by field
label. Labels come from the template catalog under <data>/templates.

Examples:
  recstore diff -t complaint_record_v1 -r CR-2025-0001 --from 1 --to 2
  recstore diff -t complaint_record_v1 -r CR-2025-0001 --from 1 --to 2 --changed-only`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(opts, cmd)
		},
	}
	opts.bind(cmd)
	cmd.Flags().IntVar(&opts.From, "from", 0, "older version (required)")
	_ = cmd.MarkFlagRequired("from")
	cmd.Flags().IntVar(&opts.To, "to", 0, "newer version (required)")
	_ = cmd.MarkFlagRequired("to")
	cmd.Flags().BoolVar(&opts.ChangedOnly, "changed-only", false, "list only changed fields")
	return cmd
}

func runDiff(opts *DiffOptions, cmd *cobra.Command) error {
	if opts.From < 1 || opts.To < 1 {
		return NewExitError(ExitCommandError, "--from and --to must be version numbers starting at 1")
	}

	sess, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer sess.close()

	diffs, err := sess.store.DiffVersions(commandContext(cmd), opts.TemplateID, opts.RecordID, opts.From, opts.To)
	if err != nil {
		return storeFailure("diff failed", err)
	}

	result := DiffResult{
		TemplateID: opts.TemplateID,
		RecordID:   opts.RecordID,
		From:       opts.From,
		To:         opts.To,
		Stats:      diff.Summary(diffs),
		Fields:     diffs,
	}
	if opts.ChangedOnly {
		result.Fields = diff.ChangedOnly(diffs)
	}

	if opts.Format == "json" {
		return sess.out.JSON(result, "")
	}
	outputDiffText(cmd.OutOrStdout(), result)
	return nil
}

// outputDiffText renders one line per field. Changed fields are marked
// with "*" and show old → new.
func outputDiffText(w io.Writer, r DiffResult) {
	st := newStyles(w)

	fmt.Fprintf(w, "%s/%s v%d → v%d: %d of %d fields changed\n",
		r.TemplateID, r.RecordID, r.From, r.To, r.Stats.Changed, r.Stats.Total)
	for _, d := range r.Fields {
		label := d.Label
		if label != d.Field {
			label = fmt.Sprintf("%s (%s)", d.Label, d.Field)
		}
		if d.Changed {
			fmt.Fprintf(w, "%s %s: %s → %s\n", st.changed.Render("*"), label, quoteText(d.OldText), quoteText(d.NewText))
			continue
		}
		fmt.Fprintf(w, "  %s: %s\n", label, st.muted.Render(quoteText(d.NewText)))
	}
}

func quoteText(s string) string {
	if s == "" {
		return `""`
	}
	return s
}
