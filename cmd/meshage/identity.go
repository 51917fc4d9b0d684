package main

import (
	"errors"
	"fmt"

	"github.com/shahidanowar/Meshage/internal/core"
	"github.com/shahidanowar/Meshage/internal/store"
	"github.com/spf13/cobra"
)

var confirmReset bool

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Inspect or reset this installation's persistent identity",
}

var identityShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the persistent identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		id, err := st.GetPersistentIdentity()
		if errors.Is(err, store.ErrNoIdentity) {
			fmt.Println("No identity yet; one is created on first start.")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("ID:      %s\nName:    %s\nPubKey:  %s\nToken:   %s\n", id.ID, id.DisplayName, id.PubKey, core.BuildIdentity(id.DisplayName, id.ID))
		return nil
	},
}

var identityResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the persistent identity; friends will no longer recognise this device",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !confirmReset {
			return errors.New("refusing to reset without --yes")
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.ResetIdentity(); err != nil {
			return fmt.Errorf("failed to reset identity: %w", err)
		}
		fmt.Println("Identity reset. A new one is created on next start.")
		return nil
	},
}

var friendsCmd = &cobra.Command{
	Use:   "friends",
	Short: "Manage friends",
}

var friendsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List friends and pending requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		friends, err := st.GetFriends()
		if err != nil {
			return err
		}
		pending, err := st.GetPendingRequests()
		if err != nil {
			return err
		}
		if len(friends) == 0 {
			fmt.Println("No friends yet.")
		}
		for _, f := range friends {
			fmt.Printf("%-20s %s  last seen %s via %s\n", f.DisplayName, f.PersistentID, f.LastSeen.Format("2006-01-02 15:04"), f.LastKnownEndpoint)
		}
		for _, r := range pending {
			fmt.Printf("%-20s %s  pending (%s)\n", r.DisplayName, r.PersistentID, r.Direction)
		}
		return nil
	},
}

var friendsRemoveCmd = &cobra.Command{
	Use:   "remove <persistent-id>",
	Short: "Remove a friend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		return st.RemoveFriend(args[0])
	},
}

func init() {
	identityResetCmd.Flags().BoolVar(&confirmReset, "yes", false, "Confirm the reset")
	identityCmd.AddCommand(identityShowCmd, identityResetCmd)
	friendsCmd.AddCommand(friendsListCmd, friendsRemoveCmd)
	rootCmd.AddCommand(identityCmd, friendsCmd)
}
