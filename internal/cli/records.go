package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/recstore/internal/index"
	"github.com/roach88/recstore/internal/payload"
	"github.com/roach88/recstore/internal/store"
)

// recordRef identifies one record by template and record id.
type recordRef struct {
	TemplateID string
	RecordID   string
}

func (r *recordRef) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&r.TemplateID, "template", "t", "", "template id (required)")
	_ = cmd.MarkFlagRequired("template")
	cmd.Flags().StringVarP(&r.RecordID, "record", "r", "", "record id (required)")
	_ = cmd.MarkFlagRequired("record")
}

// SaveOptions holds flags for the save command.
type SaveOptions struct {
	*RootOptions
	recordRef
	Author string
	File   string
}

// NewSaveCommand creates the save command.
func NewSaveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SaveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Save a new version of a record",
		Long: `Save a new version of a record.

The payload is a JSON object of field id to value, read from --file or
stdin. The first save creates the record at version 1; each later save
appends the next version.

Examples:
  recstore save -t complaint_record_v1 -r CR-2025-0001 -f record.json
  echo '{"status":"完了"}' | recstore save -t complaint_record_v1 -r CR-2025-0001 --author tanaka`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSave(opts, cmd)
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVar(&opts.Author, "author", "", "author of this version (defaults to the configured author)")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "-", "payload JSON file, or - for stdin")

	return cmd
}

func runSave(opts *SaveOptions, cmd *cobra.Command) error {
	data, err := readPayload(opts.File, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read payload", err)
	}

	sess, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer sess.close()

	res, err := sess.store.SaveRecord(commandContext(cmd), store.SaveRequest{
		TemplateID: opts.TemplateID,
		RecordID:   opts.RecordID,
		Author:     opts.Author,
		Data:       data,
	})
	if err != nil {
		return storeFailure("save failed", err)
	}

	if opts.Format == "json" {
		return sess.out.JSON(res, res.OperationID)
	}
	verb := "Updated"
	if res.Created {
		verb = "Created"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s/%s v%d (%s)\n", verb, opts.TemplateID, opts.RecordID, res.Version, res.BlobRef)
	return nil
}

func readPayload(path string, stdin io.Reader) (payload.Object, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	return payload.Parse(raw)
}

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	recordRef
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current state of a record",
		Long: `Show the current state of a record: latest version, status and the
display fields taken from the latest payload.

Example:
  recstore show -t complaint_record_v1 -r CR-2025-0001`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts, cmd)
		},
	}
	opts.bind(cmd)
	return cmd
}

func runShow(opts *ShowOptions, cmd *cobra.Command) error {
	sess, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer sess.close()

	doc, err := sess.store.GetDocument(commandContext(cmd), opts.TemplateID, opts.RecordID)
	if err != nil {
		return storeFailure("show failed", err)
	}
	if opts.Format == "json" {
		return sess.out.JSON(doc, "")
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Record:     %s\n", doc.RecordID)
	fmt.Fprintf(w, "Template:   %s\n", doc.TemplateID)
	fmt.Fprintf(w, "Title:      %s\n", orDash(doc.Title))
	fmt.Fprintf(w, "Status:     %s\n", orDash(doc.Status))
	fmt.Fprintf(w, "Version:    %d\n", doc.LatestVersion)
	fmt.Fprintf(w, "Created:    %s\n", formatTime(doc.CreatedAt))
	fmt.Fprintf(w, "Updated:    %s\n", formatTime(doc.UpdatedAt))
	if doc.ProductName != "" {
		fmt.Fprintf(w, "Product:    %s\n", doc.ProductName)
	}
	if doc.ComplaintDate != "" {
		fmt.Fprintf(w, "Received:   %s\n", doc.ComplaintDate)
	}
	if doc.DueDate != "" {
		fmt.Fprintf(w, "Due:        %s\n", doc.DueDate)
	}
	if doc.SourceRecordID != "" {
		fmt.Fprintf(w, "Source:     %s\n", doc.SourceRecordID)
	}
	return nil
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	TemplateID string
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the records of a template",
		Long: `List the records of a template, most recently updated first.

Example:
  recstore list -t complaint_record_v1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd)
		},
	}
	cmd.Flags().StringVarP(&opts.TemplateID, "template", "t", "", "template id (required)")
	_ = cmd.MarkFlagRequired("template")
	return cmd
}

func runList(opts *ListOptions, cmd *cobra.Command) error {
	sess, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer sess.close()

	docs, err := sess.store.ListDocuments(commandContext(cmd), opts.TemplateID)
	if err != nil {
		return storeFailure("list failed", err)
	}
	if opts.Format == "json" {
		return sess.out.JSON(docs, "")
	}

	rows := make([][]string, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, []string{d.RecordID, orDash(d.Title), orDash(d.Status), "v" + strconv.Itoa(d.LatestVersion), formatTime(d.UpdatedAt)})
	}
	renderTable(cmd.OutOrStdout(), []string{"RECORD", "TITLE", "STATUS", "VERSION", "UPDATED"}, rows,
		fmt.Sprintf("No records for template %s", opts.TemplateID))
	return nil
}

// VersionsOptions holds flags for the versions command.
type VersionsOptions struct {
	*RootOptions
	recordRef
}

// NewVersionsCommand creates the versions command.
func NewVersionsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VersionsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List the version history of a record",
		Long: `List the version history of a record, newest first.

Example:
  recstore versions -t complaint_record_v1 -r CR-2025-0001`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersions(opts, cmd)
		},
	}
	opts.bind(cmd)
	return cmd
}

func runVersions(opts *VersionsOptions, cmd *cobra.Command) error {
	sess, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer sess.close()

	versions, err := sess.store.ListVersions(commandContext(cmd), opts.TemplateID, opts.RecordID)
	if err != nil {
		return storeFailure("versions failed", err)
	}
	if opts.Format == "json" {
		return sess.out.JSON(versions, "")
	}
	renderTable(cmd.OutOrStdout(), []string{"VERSION", "STATUS", "SAVED", "BY", "FILE"}, versionRows(versions), "No versions")
	return nil
}

func versionRows(versions []index.Version) [][]string {
	rows := make([][]string, 0, len(versions))
	for _, v := range versions {
		rows = append(rows, []string{"v" + strconv.Itoa(v.Version), orDash(v.Status), formatTime(v.CreatedAt), v.CreatedBy, v.BlobRef})
	}
	return rows
}

// PayloadOptions holds flags for the payload command.
type PayloadOptions struct {
	*RootOptions
	recordRef
	Version  int
	DataOnly bool
}

// NewPayloadCommand creates the payload command.
func NewPayloadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PayloadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "payload",
		Short: "Print the stored payload of a version",
		Long: `Print the stored payload of a version as JSON.

Version 0 (the default) selects the latest version.

Examples:
  recstore payload -t complaint_record_v1 -r CR-2025-0001
  recstore payload -t complaint_record_v1 -r CR-2025-0001 --version 1 --data-only`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPayload(opts, cmd)
		},
	}
	opts.bind(cmd)
	cmd.Flags().IntVar(&opts.Version, "version", 0, "version to read (0 = latest)")
	cmd.Flags().BoolVar(&opts.DataOnly, "data-only", false, "print only the field data, without meta")
	return cmd
}

func runPayload(opts *PayloadOptions, cmd *cobra.Command) error {
	sess, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer sess.close()

	b, err := sess.store.GetVersionPayload(commandContext(cmd), opts.TemplateID, opts.RecordID, opts.Version)
	if err != nil {
		return storeFailure("payload failed", err)
	}

	var v any = b
	if opts.DataOnly {
		v = b.Data
	}
	if opts.Format == "json" {
		return sess.out.JSON(v, "")
	}
	return writeJSONValue(cmd.OutOrStdout(), v)
}
