package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yegram/yegram/client/internal/store"
)

var (
	peerName     string
	peerUsername string
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "manage the known peers",
}

var rosterAddCmd = &cobra.Command{
	Use:   "add <peer-id>",
	Short: "add a peer to the roster or update it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore(st)

		record := store.PeerRecord{ID: args[0], Name: peerName, Username: peerUsername}
		if existing, err := st.Peer(args[0]); err == nil {
			record = *existing
			if cmd.Flags().Changed("name") {
				record.Name = peerName
			}
			if cmd.Flags().Changed("username") {
				record.Username = peerUsername
			}
		}

		if err := st.SavePeer(record); err != nil {
			return err
		}
		cmd.Printf("Saved %s\n", record.DisplayName())
		return nil
	},
}

var rosterListCmd = &cobra.Command{
	Use:   "list",
	Short: "list the known peers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore(st)

		peers, err := st.Roster()
		if err != nil {
			return err
		}
		if len(peers) == 0 {
			cmd.Println("No peers")
			return nil
		}
		for _, p := range peers {
			cmd.Println(formatPeer(p))
		}
		return nil
	},
}

var rosterRemoveCmd = &cobra.Command{
	Use:   "remove <peer-id|@username>",
	Short: "remove a peer from the roster",
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
		if err := st.RemovePeer(id); err != nil {
			return err
		}
		cmd.Printf("Removed %s\n", id)
		return nil
	},
}

func init() {
	rosterAddCmd.Flags().StringVar(&peerName, "name", "", "display name of the peer")
	rosterAddCmd.Flags().StringVar(&peerUsername, "username", "", "@username of the peer")
}

func formatPeer(p store.PeerRecord) string {
	line := p.ID
	if p.Username != "" {
		line += " @" + p.Username
	}
	if p.Name != "" {
		line += fmt.Sprintf(" (%s)", p.Name)
	}
	if p.LastSeen > 0 {
		line += " last seen " + time.UnixMilli(p.LastSeen).Format(time.RFC3339)
	}
	return line
}
