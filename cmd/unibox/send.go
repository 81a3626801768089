package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/memohai/unibox/internal/message"
)

type sendOptions struct {
	apiURL         string
	workspaceID    string
	conversationID string
	clientID       string
	channel        string
	subject        string
	attachments    []string
	timeout        time.Duration
	asJSON         bool
}

func newSendCommand() *cobra.Command {
	var opts sendOptions
	cmd := &cobra.Command{
		Use:   "send [text...]",
		Short: "Send an outbound message with a client-generated id",
		Long: "send posts a message under a client id (a fresh uuid unless --id is given). " +
			"Repeating the command with the same id returns the existing message instead of sending twice.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromOptions(opts.apiURL, opts.timeout)
			if err != nil {
				return err
			}
			in, err := buildSendInput(opts, args)
			if err != nil {
				return err
			}
			view, err := client.Send(context.Background(), opts.workspaceID, opts.conversationID, in)
			if err != nil {
				return err
			}
			if opts.asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s via %s\n", view.ID, view.Status, view.Channel)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.apiURL, "api-url", "", "API server base URL (default derived from server.addr)")
	flags.StringVarP(&opts.workspaceID, "workspace", "w", "", "Workspace id")
	flags.StringVarP(&opts.conversationID, "conversation", "c", "", "Conversation id")
	flags.StringVar(&opts.clientID, "id", "", "Client message id (uuid); reuse it to retry safely")
	flags.StringVar(&opts.channel, "channel", "", "Channel to send on (default: the conversation's last channel)")
	flags.StringVar(&opts.subject, "subject", "", "Subject line for email")
	flags.StringSliceVar(&opts.attachments, "attachment", nil, "Attachment id to include (repeatable)")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "HTTP request timeout")
	flags.BoolVar(&opts.asJSON, "json", false, "Print the stored message as JSON")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("conversation")
	return cmd
}

func buildSendInput(opts sendOptions, args []string) (message.SendInput, error) {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" && len(opts.attachments) == 0 {
		return message.SendInput{}, errors.New("message text is required")
	}
	id := strings.TrimSpace(opts.clientID)
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		return message.SendInput{}, fmt.Errorf("--id must be a uuid: %w", err)
	}
	return message.SendInput{
		ClientMessageID: id,
		Channel:         strings.TrimSpace(opts.channel),
		Text:            text,
		Subject:         strings.TrimSpace(opts.subject),
		AttachmentIDs:   opts.attachments,
	}, nil
}
