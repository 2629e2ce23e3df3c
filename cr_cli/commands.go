package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/niczy/changerequest/internal/models"
	changerequestservice "github.com/niczy/changerequest/internal/services/changerequest"
)

// version picks the version to send: an explicit flag wins over the cache.
func (c *CLI) version(id string, explicit int64) int64 {
	if explicit > 0 || c.versions == nil {
		return explicit
	}
	v, ok, err := c.versions.Lookup(id)
	if err != nil || !ok {
		return 0
	}
	return v
}

func (c *CLI) remember(cr *models.ChangeRequest) {
	if c.versions == nil || cr == nil {
		return
	}
	if cr.Status.IsTerminal() {
		_ = c.versions.Forget(cr.ID)
		return
	}
	_ = c.versions.Store(cr.ID, cr.Version)
}

func printChangeRequest(w io.Writer, cr *models.ChangeRequest) {
	fmt.Fprintf(w, "Change request %s (version %d)\n", cr.ID, cr.Version)
	fmt.Fprintf(w, "  Title:   %s\n", cr.Title)
	fmt.Fprintf(w, "  Status:  %s\n", cr.Status)
	fmt.Fprintf(w, "  Authors: %s\n", strings.Join(cr.Authors, ", "))
	if len(cr.Approvers) > 0 {
		fmt.Fprintf(w, "  Approvers: %s\n", strings.Join(cr.Approvers, ", "))
	}
	for _, target := range cr.TargetDocuments() {
		fc, ok := cr.LatestFileChangeFor(target)
		if !ok {
			continue
		}
		fmt.Fprintf(w, "  File: %s (revision %d, based on version %d)\n", target, fc.Revision, fc.PreviousVersion)
	}
	for _, r := range cr.Reviews {
		verdict := "rejected"
		if r.Approved {
			verdict = "approved"
		}
		validity := ""
		if !r.Valid {
			validity = " [invalidated]"
		}
		fmt.Fprintf(w, "  Review %s: %s by %s%s\n", r.ID, verdict, r.Author, validity)
	}
}

// readLines loads a document body from path, or stdin when path is "-".
func readLines(path string, stdin io.Reader) ([]string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return []string{}, nil
	}
	return strings.Split(text, "\n"), nil
}

// parseDecision parses ref=original|current|proposed|custom:path.
func parseDecision(raw string) (models.ConflictDecision, error) {
	ref, kind, ok := strings.Cut(raw, "=")
	if !ok || ref == "" {
		return models.ConflictDecision{}, fmt.Errorf("invalid decision %q, expected ref=type", raw)
	}
	decision := models.ConflictDecision{Reference: ref}
	switch {
	case kind == string(models.DecisionOriginal), kind == string(models.DecisionCurrent), kind == string(models.DecisionProposed):
		decision.Type = models.DecisionType(kind)
	case strings.HasPrefix(kind, string(models.DecisionCustom)+":"):
		lines, err := readLines(strings.TrimPrefix(kind, string(models.DecisionCustom)+":"), os.Stdin)
		if err != nil {
			return models.ConflictDecision{}, fmt.Errorf("failed to read custom lines for %s: %w", ref, err)
		}
		decision.Type = models.DecisionCustom
		decision.Custom = lines
	default:
		return models.ConflictDecision{}, fmt.Errorf("unknown decision type %q for %s", kind, ref)
	}
	return decision, nil
}

func parseChoice(raw string) (models.ResolutionChoice, error) {
	switch raw {
	case "", "none":
		return models.ResolutionNone, nil
	case "mine", string(models.ResolutionChangeRequestVersion):
		return models.ResolutionChangeRequestVersion, nil
	case "theirs", string(models.ResolutionCurrentVersion):
		return models.ResolutionCurrentVersion, nil
	}
	return "", fmt.Errorf("unknown choice %q, expected none, mine or theirs", raw)
}

func newCreateCmd(cli *CLI) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a draft change request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cli.requestContext()
			defer cancel()

			cr, err := cli.client.CreateChangeRequest(ctx, args[0], description)
			if err != nil {
				return fmt.Errorf("failed to create change request: %w", err)
			}
			cli.remember(cr)
			fmt.Fprintf(cli.out, "Created change request %s\n", cr.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "change request description")
	return cmd
}

func newShowCmd(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a change request and refresh the cached version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cli.requestContext()
			defer cancel()

			cr, err := cli.client.GetChangeRequest(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to get change request: %w", err)
			}
			cli.remember(cr)
			printChangeRequest(cli.out, cr)
			return nil
		},
	}
}

func newAddFileCmd(cli *CLI) *cobra.Command {
	var (
		file            string
		previousVersion int64
		version         int64
	)
	cmd := &cobra.Command{
		Use:   "add-file <id> <target>",
		Short: "Propose new content for a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := readLines(file, cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", file, err)
			}
			ctx, cancel := cli.requestContext()
			defer cancel()

			resp, err := cli.client.AddFileChange(ctx, &changerequestservice.AddFileChangeRequest{
				ChangeRequestID: args[0],
				Version:         cli.version(args[0], version),
				Target:          args[1],
				PreviousVersion: previousVersion,
				Lines:           lines,
			})
			if err != nil {
				return fmt.Errorf("failed to add file change: %w", err)
			}
			cli.remember(resp.ChangeRequest)
			if !resp.Allowed {
				return fmt.Errorf("not allowed to edit change request %s", args[0])
			}
			fmt.Fprintf(cli.out, "Added revision %d of %s\n", resp.FileChange.Revision, args[1])
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "file holding the proposed content, - for stdin")
	cmd.Flags().Int64Var(&previousVersion, "base", 0, "document version the change is based on")
	cmd.Flags().Int64Var(&version, "version", 0, "expected change request version (defaults to the cached one)")
	return cmd
}

func newStatusCmd(cli *CLI) *cobra.Command {
	var version int64
	cmd := &cobra.Command{
		Use:   "status <id> <draft|ready_for_review|closed>",
		Short: "Change the status of a change request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cli.requestContext()
			defer cancel()

			resp, err := cli.client.SetStatus(ctx, &changerequestservice.SetStatusRequest{
				ChangeRequestID: args[0],
				Version:         cli.version(args[0], version),
				Status:          models.Status(args[1]),
			})
			if err != nil {
				return fmt.Errorf("failed to set status: %w", err)
			}
			cli.remember(resp.ChangeRequest)
			if !resp.Allowed {
				return fmt.Errorf("cannot move change request %s from %s to %s", args[0], resp.ChangeRequest.Status, args[1])
			}
			fmt.Fprintf(cli.out, "Change request %s is now %s\n", args[0], resp.ChangeRequest.Status)
			return nil
		},
	}
	cmd.Flags().Int64Var(&version, "version", 0, "expected change request version (defaults to the cached one)")
	return cmd
}

func newReviewCmd(cli *CLI) *cobra.Command {
	var (
		reject  bool
		comment string
		version int64
	)
	cmd := &cobra.Command{
		Use:   "review <id>",
		Short: "Approve or reject a change request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cli.requestContext()
			defer cancel()

			resp, err := cli.client.AddReview(ctx, &changerequestservice.AddReviewRequest{
				ChangeRequestID: args[0],
				Version:         cli.version(args[0], version),
				Approved:        !reject,
				Comment:         comment,
			})
			if err != nil {
				return fmt.Errorf("failed to add review: %w", err)
			}
			if !resp.Allowed {
				return fmt.Errorf("not allowed to review change request %s", args[0])
			}
			if cli.versions != nil {
				_ = cli.versions.Forget(args[0])
			}
			fmt.Fprintf(cli.out, "Added review %s\n", resp.Review.ID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reject, "reject", false, "reject instead of approve")
	cmd.Flags().StringVarP(&comment, "comment", "m", "", "review comment")
	cmd.Flags().Int64Var(&version, "version", 0, "expected change request version (defaults to the cached one)")
	return cmd
}

func newValidityCmd(cli *CLI) *cobra.Command {
	var (
		invalid bool
		version int64
	)
	cmd := &cobra.Command{
		Use:   "validity <review-id>",
		Short: "Mark a review valid or invalid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cli.requestContext()
			defer cancel()

			resp, err := cli.client.SetReviewValidity(ctx, &changerequestservice.SetReviewValidityRequest{
				ReviewID: args[0],
				Version:  version,
				Valid:    !invalid,
			})
			if err != nil {
				return fmt.Errorf("failed to set review validity: %w", err)
			}
			if !resp.Allowed {
				return fmt.Errorf("not allowed to edit review %s", args[0])
			}
			fmt.Fprintf(cli.out, "Review %s valid=%t\n", args[0], resp.Review.Valid)
			return nil
		},
	}
	cmd.Flags().BoolVar(&invalid, "invalid", false, "invalidate instead of validate")
	cmd.Flags().Int64Var(&version, "version", 0, "expected review version")
	return cmd
}

func newCanMergeCmd(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "can-merge <id>",
		Short: "Report whether a change request is mergeable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cli.requestContext()
			defer cancel()

			resp, err := cli.client.CanBeMerged(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to check mergeability: %w", err)
			}
			fmt.Fprintf(cli.out, "Mergeable: %t\nAuthorized: %t\nStrategy: %s\n", resp.Mergeable, resp.Authorized, resp.Strategy)
			return nil
		},
	}
}

func newMergeCmd(cli *CLI) *cobra.Command {
	var version int64
	cmd := &cobra.Command{
		Use:   "merge <id>",
		Short: "Merge a change request into its documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cli.requestContext()
			defer cancel()

			resp, err := cli.client.Merge(ctx, &changerequestservice.MergeRequest{
				ChangeRequestID: args[0],
				Version:         cli.version(args[0], version),
			})
			if err != nil {
				return fmt.Errorf("failed to merge: %w", err)
			}
			cli.remember(resp.ChangeRequest)
			if !resp.Merged {
				return fmt.Errorf("change request %s cannot be merged", args[0])
			}
			fmt.Fprintf(cli.out, "Merged change request %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().Int64Var(&version, "version", 0, "expected change request version (defaults to the cached one)")
	return cmd
}

func newMergeResultCmd(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "merge-result <id> <target>",
		Short: "Show the three-way merge of a document and its conflicts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cli.requestContext()
			defer cancel()

			resp, err := cli.client.GetMergeResult(ctx, args[0], args[1])
			if err != nil {
				return fmt.Errorf("failed to get merge result: %w", err)
			}
			fmt.Fprintf(cli.out, "Current version: %d\n", resp.CurrentVersion)
			if resp.Clean {
				fmt.Fprintln(cli.out, "Clean merge:")
				for _, line := range resp.Merged {
					fmt.Fprintf(cli.out, "  %s\n", line)
				}
				return nil
			}
			fmt.Fprintf(cli.out, "%d conflict(s):\n", len(resp.Conflicts))
			for _, c := range resp.Conflicts {
				fmt.Fprintf(cli.out, "  %s\n", c.Reference)
				fmt.Fprintf(cli.out, "    original: %s\n", strings.Join(c.Original, " | "))
				fmt.Fprintf(cli.out, "    current:  %s\n", strings.Join(c.Current, " | "))
				fmt.Fprintf(cli.out, "    proposed: %s\n", strings.Join(c.Proposed, " | "))
			}
			return nil
		},
	}
}

func newFixCmd(cli *CLI) *cobra.Command {
	var (
		choice    string
		decisions []string
		version   int64
	)
	cmd := &cobra.Command{
		Use:   "fix <id> <target>",
		Short: "Resolve the conflicts of a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolution, err := parseChoice(choice)
			if err != nil {
				return err
			}
			parsed := make([]models.ConflictDecision, 0, len(decisions))
			for _, raw := range decisions {
				d, err := parseDecision(raw)
				if err != nil {
					return err
				}
				parsed = append(parsed, d)
			}
			ctx, cancel := cli.requestContext()
			defer cancel()

			resp, err := cli.client.FixConflicts(ctx, &changerequestservice.FixConflictsRequest{
				ChangeRequestID: args[0],
				Version:         cli.version(args[0], version),
				Target:          args[1],
				Choice:          resolution,
				Decisions:       parsed,
			})
			if err != nil {
				return fmt.Errorf("failed to fix conflicts: %w", err)
			}
			cli.remember(resp.ChangeRequest)
			if !resp.Fixed {
				return fmt.Errorf("conflicts in %s were not resolved", args[1])
			}
			fmt.Fprintf(cli.out, "Resolved conflicts in %s\n", args[1])
			return nil
		},
	}
	cmd.Flags().StringVar(&choice, "choice", "none", "fallback for undecided conflicts: none, mine or theirs")
	cmd.Flags().StringArrayVar(&decisions, "decide", nil, "decision as ref=original|current|proposed|custom:path (repeatable)")
	cmd.Flags().Int64Var(&version, "version", 0, "expected change request version (defaults to the cached one)")
	return cmd
}

func newDocCmd(cli *CLI) *cobra.Command {
	doc := &cobra.Command{
		Use:   "doc",
		Short: "Read and write documents directly",
	}

	get := &cobra.Command{
		Use:   "get <reference>",
		Short: "Print the current version of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cli.requestContext()
			defer cancel()

			d, err := cli.client.GetDocument(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to get document: %w", err)
			}
			fmt.Fprintf(cli.out, "# %s version %d\n", d.Reference, d.Version)
			for _, line := range d.Lines {
				fmt.Fprintln(cli.out, line)
			}
			return nil
		},
	}

	var (
		file     string
		expected int64
	)
	save := &cobra.Command{
		Use:   "save <reference>",
		Short: "Write a new version of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := readLines(file, cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", file, err)
			}
			ctx, cancel := cli.requestContext()
			defer cancel()

			d, err := cli.client.SaveDocument(ctx, args[0], expected, lines)
			if err != nil {
				return fmt.Errorf("failed to save document: %w", err)
			}
			fmt.Fprintf(cli.out, "Saved %s version %d\n", d.Reference, d.Version)
			return nil
		},
	}
	save.Flags().StringVarP(&file, "file", "f", "-", "file holding the content, - for stdin")
	save.Flags().Int64Var(&expected, "expected-version", 0, "current version being replaced, 0 for a new document")

	doc.AddCommand(get, save)
	return doc
}
