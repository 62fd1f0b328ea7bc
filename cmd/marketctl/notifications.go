package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lorrc/marketplace-realtime/internal/client/api"
	"github.com/lorrc/marketplace-realtime/internal/client/notifications"
)

func newNotificationsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notif"},
		Short:   "List, watch and mark notifications",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			return a.requireSession()
		},
	}
	cmd.AddCommand(
		newNotificationsListCmd(a),
		newNotificationsWatchCmd(a),
		newNotificationsReadCmd(a),
	)
	return cmd
}

func newNotificationsListCmd(a *app) *cobra.Command {
	var limit, offset int
	var unreadOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print one page of notifications, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			page, err := a.client.ListNotifications(a.ctx(cmd), limit, offset)
			if err != nil {
				return explain("list notifications", err)
			}
			items := page.Data
			if unreadOnly {
				items = unread(items)
			}
			printNotifications(a.out, items)
			fmt.Fprintf(a.out, "%d shown, %d total\n", len(items), page.Count)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "Page offset")
	cmd.Flags().BoolVar(&unreadOnly, "unread", false, "Only show unread notifications")
	return cmd
}

func newNotificationsWatchCmd(a *app) *cobra.Command {
	var pageSize int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Mirror notifications live until interrupted",
		Long: `Mirror notifications live until interrupted.

While watching, lines typed on stdin mark notifications as read:
  read all          every unread notification in the mirror
  read <id>...      the given notifications`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			mirror := notifications.NewMirror(a.client, notifications.Options{
				PageSize: pageSize,
				Logger:   a.logger,
			})
			if err := mirror.Start(ctx, a.cfg.Language); err != nil {
				return explain("start notifications", err)
			}
			defer mirror.Close()

			printNotifications(a.out, mirror.Items())
			fmt.Fprintf(a.out, "-- %d unread, watching (Ctrl-C to stop)\n", mirror.UnreadCount())

			prompts := readLines(ctx, cmd.InOrStdin())
			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-prompts:
					if !ok {
						prompts = nil
						continue
					}
					if err := markFromPrompt(ctx, mirror, line); err != nil {
						fmt.Fprintln(a.errOut, explain("mark read", err))
					}
				case u := <-mirror.Updates():
					switch u.Kind {
					case notifications.Added:
						printNotification(a.out, *u.Notification)
						fmt.Fprintf(a.out, "-- %d unread\n", mirror.UnreadCount())
					case notifications.MarkedRead:
						fmt.Fprintf(a.out, "-- marked read: %d, %d unread\n", len(u.IDs), mirror.UnreadCount())
					}
				}
			}
		},
	}
	cmd.Flags().IntVar(&pageSize, "page-size", 50, "Notifications fetched on start")
	return cmd
}

// readLines feeds non-empty lines of r to the returned channel, which is
// closed at EOF.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// markFromPrompt runs one "read ..." line against the mirror. The mirror
// patches its own state once the server acknowledges.
func markFromPrompt(ctx context.Context, mirror *notifications.Mirror, line string) error {
	fields := strings.Fields(line)
	if fields[0] != "read" || len(fields) < 2 {
		return fmt.Errorf("unknown command %q; try \"read all\" or \"read <id>...\"", line)
	}
	ids := fields[1:]
	switch {
	case len(ids) == 1 && ids[0] == "all":
		ids = nil
		for _, n := range unread(mirror.Items()) {
			ids = append(ids, n.NotificationID)
		}
		if len(ids) == 0 {
			return nil
		}
		return mirror.MarkAllAsRead(ctx, ids)
	case len(ids) == 1:
		return mirror.MarkSingleAsRead(ctx, ids[0])
	default:
		return mirror.MarkAllAsRead(ctx, ids)
	}
}

func newNotificationsReadCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "read [notification-id...]",
		Short: "Mark notifications as read",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := a.ctx(cmd)
			ids := args
			if all {
				if len(args) > 0 {
					return errors.New("--all takes no notification ids")
				}
				page, err := a.client.ListNotifications(ctx, 100, 0)
				if err != nil {
					return explain("list notifications", err)
				}
				for _, n := range unread(page.Data) {
					ids = append(ids, n.NotificationID)
				}
			}
			if len(ids) == 0 {
				if all {
					fmt.Fprintln(a.out, "Nothing to mark")
					return nil
				}
				return errors.New("give notification ids or --all")
			}

			if len(ids) == 1 && !all {
				n, err := a.client.MarkNotificationRead(ctx, ids[0])
				if err != nil {
					return explain("mark read", err)
				}
				fmt.Fprintf(a.out, "Marked %s as read\n", n.NotificationID)
				return nil
			}
			updated, err := a.client.MarkNotificationsRead(ctx, ids)
			if err != nil {
				return explain("mark read", err)
			}
			fmt.Fprintf(a.out, "Marked %d of %d as read\n", len(updated), len(ids))
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Mark every unread notification on the first page")
	return cmd
}

func unread(items []api.Notification) []api.Notification {
	var out []api.Notification
	for _, n := range items {
		if !n.IsRead {
			out = append(out, n)
		}
	}
	return out
}

func printNotifications(w io.Writer, items []api.Notification) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, n := range items {
		writeNotificationRow(tw, n)
	}
	_ = tw.Flush()
}

func printNotification(w io.Writer, n api.Notification) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	writeNotificationRow(tw, n)
	_ = tw.Flush()
}

func writeNotificationRow(w io.Writer, n api.Notification) {
	mark := "*"
	if n.IsRead {
		mark = " "
	}
	from := "system"
	if n.Sender != nil && n.Sender.Name != "" {
		from = n.Sender.Name
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", mark, n.NotificationID, from, n.Title, n.Content)
}
