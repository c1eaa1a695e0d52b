package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"dmchat/attachments"
	"dmchat/chat"
	"dmchat/models"
	"dmchat/presence"
)

// offlineService runs the chat core without any live sessions, so messages
// created from the CLI start as sent.
func offlineService(e *env) (*chat.Service, error) {
	blobs, err := attachments.NewStore(e.cfg.UploadsDir, e.store)
	if err != nil {
		return nil, err
	}
	return chat.NewService(chat.Config{
		Store:       e.store,
		Presence:    presence.NewSessions(),
		Attachments: blobs,
		Logger:      e.log,
	})
}

func newSendCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "send <from> <to> <text>",
		Short: "Create a message",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.close()

			svc, err := offlineService(e)
			if err != nil {
				return err
			}
			msg, err := svc.CreateMessage(cmd.Context(), chat.NewMessage{
				SenderID:   args[0],
				ReceiverID: args[1],
				Content:    args[2],
				Kind:       models.MessageKind(kind),
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), msg)
		},
	}
	cmd.Flags().StringVar(&kind, "type", string(models.KindText), "message type (text, image, audio)")
	return cmd
}

func newThreadCmd() *cobra.Command {
	var markRead bool
	cmd := &cobra.Command{
		Use:   "thread <self> <other>",
		Short: "Print the messages between two users",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.close()

			svc, err := offlineService(e)
			if err != nil {
				return err
			}
			if !markRead {
				messages, err := svc.ListThread(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), messages)
			}
			result, err := svc.MarkThreadRead(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			e.log.Info().Int64("updated", result.Updated).Msg("thread marked read")
			return printJSON(cmd.OutOrStdout(), result.Messages)
		},
	}
	cmd.Flags().BoolVar(&markRead, "mark-read", false, "mark messages addressed to <self> as read")
	return cmd
}

func newInboxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inbox <user>",
		Short: "Print a user's conversations, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.close()

			svc, err := offlineService(e)
			if err != nil {
				return err
			}
			inbox, err := svc.BuildInbox(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), inbox)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
