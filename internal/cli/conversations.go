// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-desk/internal/model"
	"github.com/jeranaias/rigrun-desk/internal/storage"
)

func newConversationsCommand(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv", "history"},
		Short:   "Manage saved chat conversations",
	}

	// run opens only what conversation commands need.
	run := func(cmd *cobra.Command, fn func(*storage.ConversationStore) error) error {
		app, err := openApp(cmd.Context(), global, needs{conversations: true, noSelect: true})
		if err != nil {
			return err
		}
		defer app.Close()
		return fn(app.Conversations)
	}

	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved conversations, newest first",
		Args:    exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(store *storage.ConversationStore) error {
				metas, err := store.List()
				if err != nil {
					return err
				}
				printConversations(cmd.OutOrStdout(), metas)
				return nil
			})
		},
	}

	search := &cobra.Command{
		Use:   "search QUERY",
		Short: "Find conversations by title or message text",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(store *storage.ConversationStore) error {
				metas, err := store.Search(args[0])
				if err != nil {
					return err
				}
				printConversations(cmd.OutOrStdout(), metas)
				return nil
			})
		},
	}

	var raw bool
	show := &cobra.Command{
		Use:   "show CONVERSATION",
		Short: "Print a conversation (id or list index)",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(store *storage.ConversationStore) error {
				c, err := loadConversation(store, args[0])
				if err != nil {
					return err
				}
				md := storage.ExportMarkdown(c)
				w := cmd.OutOrStdout()
				if raw || !isTerminalWriter(w) {
					_, err = io.WriteString(w, md)
					return err
				}
				_, err = io.WriteString(w, renderMarkdown(md))
				return err
			})
		},
	}
	show.Flags().BoolVar(&raw, "raw", false, "print markdown without rendering")

	rm := &cobra.Command{
		Use:     "rm CONVERSATION",
		Aliases: []string{"delete"},
		Short:   "Delete a conversation (id or list index)",
		Args:    exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(store *storage.ConversationStore) error {
				c, err := loadConversation(store, args[0])
				if err != nil {
					return err
				}
				if err := store.Delete(c.ID); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Deleted ")+c.GetTitle())
				return nil
			})
		},
	}

	clearAll := &cobra.Command{
		Use:   "clear",
		Short: "Delete every saved conversation",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(store *storage.ConversationStore) error {
				if err := store.Clear(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Deleted all conversations"))
				return nil
			})
		},
	}

	cmd.AddCommand(list, search, show, rm, clearAll)
	return cmd
}

func printConversations(w io.Writer, metas []model.ConversationMeta) {
	if len(metas) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No conversations."))
		return
	}
	for i, m := range metas {
		fmt.Fprintf(w, "%s %s %s %s %s\n",
			column(strconv.Itoa(i+1), 4),
			column(m.Title, 40),
			column(m.Model, 22),
			column(strconv.Itoa(m.MessageCount)+" msgs", 9),
			DimStyle.Render(m.UpdatedAt.Local().Format("2006-01-02 15:04")))
	}
}
