package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pingme/pingme/auth"
	"github.com/pingme/pingme/config"
	"github.com/pingme/pingme/globals"
	"github.com/pingme/pingme/persistence"
	"github.com/pingme/pingme/types"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// A very simple CLI tool for the administration of pingme users and rooms.
// User accounts are only ever created here; the server has no signup
// endpoint.

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")

	persister persistence.Persister
)

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	if globalConfig.LogLevel != "" {
		globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
	}

	persister, err = persistence.NewPersister(globalConfig)
	if err != nil {
		panic(err)
	}
	defer persister.Close()

	rootCmd := &cobra.Command{Use: "pingme-admin"}
	rootCmd.PersistentFlags().AddFlagSet(pflag.CommandLine)

	userCmd := &cobra.Command{Use: "user", Short: "manage users"}
	userCmd.AddCommand(userCreateCmd(), userListCmd())

	roomCmd := &cobra.Command{Use: "room", Short: "manage rooms"}
	roomCmd.AddCommand(roomCreateCmd(), roomListCmd(), roomTransferCmd())

	rootCmd.AddCommand(userCmd, roomCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func userCreateCmd() *cobra.Command {
	var email, name, password string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "create a user account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" || name == "" || password == "" {
				return fmt.Errorf("email, name and password are required")
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			user := &types.User{
				Id:           uuid.NewString(),
				Email:        email,
				Name:         name,
				PasswordHash: hash,
				IsActive:     true,
				CreatedAt:    time.Now(),
			}
			if err := persister.StoreUser(user); err != nil {
				return err
			}
			fmt.Printf("created user %s (%s)\n", user.Id, user.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "e-mail address (unique)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&password, "password", "", "password")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list user accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := persister.GetUsers()
			if err != nil {
				return err
			}
			for _, user := range users {
				fmt.Printf("%s\t%s\t%s\n", user.Id, user.Email, user.Name)
			}
			return nil
		},
	}
}

func roomCreateCmd() *cobra.Command {
	var name, ownerEmail string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "create a room",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || ownerEmail == "" {
				return fmt.Errorf("name and owner are required")
			}
			owner, err := persister.GetUserByEmail(ownerEmail)
			if err != nil {
				return err
			}
			room := &types.Room{
				Id:        uuid.NewString(),
				Name:      name,
				OwnerId:   &owner.Id,
				CreatedAt: time.Now(),
			}
			if err := persister.StoreRoom(room); err != nil {
				return err
			}
			_, err = persister.CreateMembership(&types.Membership{
				RoomId:   room.Id,
				UserId:   owner.Id,
				IsAdmin:  true,
				JoinedAt: time.Now(),
			})
			if err != nil {
				return err
			}
			fmt.Printf("created room %s (%s)\n", room.Id, room.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "room name")
	cmd.Flags().StringVar(&ownerEmail, "owner", "", "owner e-mail")
	return cmd
}

func roomListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list rooms",
		RunE: func(cmd *cobra.Command, args []string) error {
			rooms, err := persister.GetRooms()
			if err != nil {
				return err
			}
			for _, room := range rooms {
				owner := "-"
				if room.OwnerId != nil {
					owner = *room.OwnerId
				}
				fmt.Printf("%s\t%s\towner=%s\n", room.Id, room.Name, owner)
			}
			return nil
		},
	}
}

func roomTransferCmd() *cobra.Command {
	var roomId, ownerEmail string
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "transfer room ownership",
		RunE: func(cmd *cobra.Command, args []string) error {
			if roomId == "" || ownerEmail == "" {
				return fmt.Errorf("room and owner are required")
			}
			room := &types.Room{Id: roomId}
			if err := persister.GetRoom(room); err != nil {
				return err
			}
			newOwner, err := persister.GetUserByEmail(ownerEmail)
			if err != nil {
				return err
			}
			// the admin tool bypasses the owner-only check so orphaned
			// rooms (deleted owner account) can be reassigned
			if err := persister.TransferOwnership(room.Id, newOwner.Id); err != nil {
				return err
			}
			fmt.Printf("room %s now owned by %s\n", room.Id, newOwner.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&roomId, "room", "", "room id")
	cmd.Flags().StringVar(&ownerEmail, "owner", "", "new owner e-mail")
	return cmd
}
