package cmd

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yegram/yegram/client/internal/store"
)

var (
	identityName     string
	identityUsername string
	forceInit        bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "create the local Yegram identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if identityName == "" {
			return fmt.Errorf("a name is required, use --name")
		}

		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore(st)

		existing, err := st.Identity()
		switch {
		case err == nil && !forceInit:
			return fmt.Errorf("identity %s already exists, use --force to replace it", existing.ID)
		case err != nil && !errors.Is(err, store.ErrNoIdentity):
			return err
		}

		identity := store.NewIdentity(identityName, identityUsername, time.Now())
		if err := st.SaveIdentity(identity); err != nil {
			return fmt.Errorf("save identity: %v", err)
		}

		cmd.Printf("Created identity %s\n", identity.ID)
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "print the local Yegram identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore(st)

		identity, err := st.Identity()
		if err != nil {
			return err
		}

		cmd.Printf("ID:       %s\n", identity.ID)
		cmd.Printf("Name:     %s\n", identity.Name)
		if identity.Username != "" {
			cmd.Printf("Username: @%s\n", identity.Username)
		}
		cmd.Printf("Created:  %s\n", time.UnixMilli(identity.Created).Format(time.RFC3339))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "drop the local Yegram identity, keeping the roster and the history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore(st)

		if err := st.Logout(); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("logout: %v", err)
		}
		cmd.Println("Logged out")
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&identityName, "name", "", "display name announced to peers")
	initCmd.Flags().StringVar(&identityUsername, "username", "", "optional @username announced to peers")
	initCmd.Flags().BoolVar(&forceInit, "force", false, "replace an existing identity")
}

func closeStore(st *store.Store) {
	if err := st.Close(); err != nil {
		log.Warnf("failed closing store: %v", err)
	}
}
