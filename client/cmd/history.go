package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yegram/yegram/client/internal/chat"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <peer-id|@username>",
	Short: "print the conversation with a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore(st)

		id, err := st.ResolveAlias(args[0])
		if err != nil {
			return err
		}
		messages, err := st.History(id)
		if err != nil {
			return err
		}
		if historyLimit > 0 && len(messages) > historyLimit {
			messages = messages[len(messages)-historyLimit:]
		}
		for _, msg := range messages {
			cmd.Println(formatMessage(msg))
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "number of most recent messages to print, 0 prints all")
}

func formatMessage(msg chat.Message) string {
	direction := "<"
	if msg.Outgoing {
		direction = ">"
	}
	line := fmt.Sprintf("%s %s %s", time.UnixMilli(msg.Timestamp).Format("2006-01-02 15:04:05"), direction, msg.Content)
	if msg.Outgoing && msg.Status != "" {
		line += " [" + msg.Status + "]"
	}
	return line
}
