package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"submitline/internal/app"
	"submitline/internal/domain"
	"submitline/internal/engine/auth"
	"submitline/internal/events"
)

func submissionCmd() *cobra.Command {
	sub := &cobra.Command{Use: "submission", Aliases: []string{"sub"}, Short: "Create and inspect submissions"}
	sub.AddCommand(submissionCreateCmd())
	sub.AddCommand(submissionShowCmd())
	sub.AddCommand(submissionLogCmd())
	sub.AddCommand(submissionListCmd())
	return sub
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid submission id %q", arg)
	}
	return id, nil
}

func submissionCreateCmd() *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a submission",
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := currentAgent()
			if err != nil {
				return err
			}
			drafts := []events.Draft{events.NewDraft(agent, &events.CreateSubmission{})}
			if title != "" {
				drafts = append(drafts, events.NewDraft(agent, &events.SetTitle{Title: title}))
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				s, _, err := w.Engine.Save(ctx, 0, drafts...)
				if err != nil {
					return err
				}
				return printJSONOrText(s, func() { printSubmission(s) })
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "initial title")
	return cmd
}

func submissionShowCmd() *cobra.Command {
	var fast bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show the state of a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				var s *domain.Submission
				if fast {
					s, err = w.Engine.LoadFast(ctx, id)
				} else {
					s, _, err = w.Engine.Load(ctx, id)
				}
				if err != nil {
					return err
				}
				return printJSONOrText(s, func() { printSubmission(s) })
			})
		},
	}
	cmd.Flags().BoolVar(&fast, "fast", false, "read the stored snapshot without replaying events")
	return cmd
}

func submissionLogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log <id>",
		Short: "Show the event history of a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				_, history, err := w.Engine.Load(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrText(history, func() { printEvents(history) })
			})
		},
	}
	return cmd
}

func submissionListCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List submissions owned by an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := currentAgent()
			if err != nil {
				return err
			}
			if owner != "" {
				agent = domain.User(owner, "")
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				items, err := w.Engine.List(ctx, agent)
				if err != nil {
					return err
				}
				return printJSONOrText(items, func() {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"ID", "Version", "Status", "Title", "Updated"})
					for _, s := range items {
						tw.AppendRow(table.Row{s.AggregateID, s.Version, s.Status, s.Metadata.Title, s.Updated.Format(time.RFC3339)})
					}
					tw.Render()
				})
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "native id of the owning user (defaults to the acting agent)")
	return cmd
}

func eventCmd() *cobra.Command {
	ev := &cobra.Command{Use: "event", Short: "Apply events and list event types"}
	ev.AddCommand(eventApplyCmd())
	ev.AddCommand(eventTypesCmd())
	return ev
}

func eventApplyCmd() *cobra.Command {
	var typ, data, created string
	cmd := &cobra.Command{
		Use:   "apply <id>",
		Short: "Apply one event to a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			agent, err := currentAgent()
			if err != nil {
				return err
			}
			payload, err := events.ParsePayload(events.Type(typ), []byte(data))
			if err != nil {
				return err
			}
			d := events.NewDraft(agent, payload)
			d.AggregateID = id
			if created != "" {
				t, err := time.Parse(time.RFC3339Nano, created)
				if err != nil {
					return fmt.Errorf("invalid --created: %w", err)
				}
				d.Created = t
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				s, _, err := w.Engine.Save(ctx, id, d)
				if err != nil {
					return err
				}
				return printJSONOrText(s, func() { printSubmission(s) })
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "event type, see 'sl event types'")
	cmd.Flags().StringVar(&data, "data", "", "event data as a JSON object")
	cmd.Flags().StringVar(&created, "created", "", "pin the event time (RFC 3339) so a retry is deduplicated")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func eventTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List event types",
		RunE: func(cmd *cobra.Command, args []string) error {
			type row struct {
				Type   events.Type `json:"type"`
				Family events.Type `json:"family"`
				Scope  string      `json:"scope"`
			}
			var rows []row
			for _, t := range events.Types() {
				rows = append(rows, row{Type: t, Family: t.Family(), Scope: auth.Scope(t)})
			}
			return printJSONOrText(rows, func() {
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Type", "Family", "Scope"})
				for _, r := range rows {
					tw.AppendRow(table.Row{r.Type, r.Family, r.Scope})
				}
				tw.Render()
			})
		},
	}
}

func printSubmission(s *domain.Submission) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRows([]table.Row{
		{"ID", s.AggregateID},
		{"Version", s.Version},
		{"Status", s.Status},
		{"Owner", s.Owner.String()},
		{"Title", s.Metadata.Title},
		{"Authors", s.Metadata.AuthorsDisplay},
		{"Primary", s.PrimaryCategory()},
		{"Secondary", strings.Join(s.SecondaryCategories(), " ")},
		{"Published", s.PublishedID},
		{"Holds", len(s.Holds)},
		{"Flags", len(s.Flags)},
		{"Proposals", len(s.Proposals)},
		{"Requests", len(s.UserRequests)},
		{"Updated", s.Updated.Format(time.RFC3339)},
	})
	tw.Render()
}

func printEvents(history []*events.Event) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Created", "Type", "Creator", "Committed", "Event ID"})
	for _, ev := range history {
		tw.AppendRow(table.Row{ev.Created.Format(time.RFC3339Nano), ev.Type(), ev.Creator.String(), ev.Committed, ev.MustID()})
	}
	tw.Render()
}
