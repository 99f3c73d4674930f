package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tcriess/lightspeed-sync/auth"
	"github.com/tcriess/lightspeed-sync/config"
	"github.com/tcriess/lightspeed-sync/globals"
	"github.com/tcriess/lightspeed-sync/persistence"
	"github.com/tcriess/lightspeed-sync/room"
	"github.com/tcriess/lightspeed-sync/types"
)

// A very simple CLI tool for the administration of lightspeed-sync rooms and
// tokens. It operates directly on the shared state store, so it needs the
// redis address of the running service.

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
)

func main() {
	log.SetFlags(0)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	go func() {
		<-c
		log.Fatal("interrupted!")
	}()

	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)

	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}

	globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))

	if globalConfig.RedisConfig.Addr == "" {
		panic("no redis address configured, nothing to administrate")
	}
	store := persistence.NewRedisStore(globalConfig.RedisConfig)
	defer store.Close()

	authenticator, err := auth.NewAuthenticator(globalConfig.AuthConfig)
	if err != nil {
		panic(err)
	}
	registry := room.NewRegistry(store, authenticator, globalConfig.StoreConfig.RoomTTL)
	ctx := context.Background()

	var cmdShow = &cobra.Command{
		Use:   "show",
		Short: "Show rooms or codes",
		Long:  `show is for printing room or code mapping information.`,
		Args:  cobra.MinimumNArgs(0),
	}
	var cmdShowRooms = &cobra.Command{
		Use:   "rooms",
		Short: "Show rooms",
		Long:  `show rooms lists all registered rooms, newest first.`,
		Args:  cobra.MinimumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			rooms, err := registry.ListAll(ctx)
			if err != nil {
				globals.AppLogger.Error("could not get rooms", "error", err)
				return
			}
			r, err := json.Marshal(rooms)
			if err != nil {
				globals.AppLogger.Error("could not marshal rooms", "error", err)
				return
			}
			fmt.Println(string(r))
		},
	}
	var cmdShowRoom = &cobra.Command{
		Use:   "room [room id]",
		Short: "Show room",
		Long:  `show room prints detail information about the room with the given id.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			rm, err := registry.GetRoom(ctx, args[0])
			if err != nil {
				globals.AppLogger.Error("could not get room", "error", err)
				return
			}
			r, err := json.Marshal(rm)
			if err != nil {
				globals.AppLogger.Error("could not marshal room", "error", err)
				return
			}
			fmt.Println(string(r))
		},
	}
	var cmdShowCode = &cobra.Command{
		Use:   "code [room code]",
		Short: "Show code mapping",
		Long:  `show code prints the room id and host behind the given room code.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			mapping, err := registry.ResolveCode(ctx, args[0])
			if err != nil {
				globals.AppLogger.Error("could not resolve code", "error", err)
				return
			}
			m, err := json.Marshal(mapping)
			if err != nil {
				globals.AppLogger.Error("could not marshal mapping", "error", err)
				return
			}
			fmt.Println(string(m))
		},
	}
	var cmdCreate = &cobra.Command{
		Use:   "create",
		Short: "Create a room",
		Long:  `create is for registering a new room.`,
		Args:  cobra.MinimumNArgs(0),
	}
	var createCode string
	var cmdCreateRoom = &cobra.Command{
		Use:   "room [host user id]",
		Short: "Create room",
		Long:  `create room registers a room with the given host as its only member. The room code is generated unless --code is set.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			code := createCode
			if code == "" {
				code = room.GenerateCode()
			}
			roomId := uuid.NewString()
			err := registry.Register(ctx, roomId, code, args[0])
			if err != nil {
				globals.AppLogger.Error("could not register room", "error", err)
				return
			}
			out, _ := json.Marshal(map[string]string{"roomId": roomId, "code": code})
			fmt.Println(string(out))
		},
	}
	cmdCreateRoom.Flags().StringVar(&createCode, "code", "", "room code (generated if empty)")
	var cmdDelete = &cobra.Command{
		Use:   "delete",
		Short: "Delete a room",
		Long:  `delete removes a room and its codes.`,
		Args:  cobra.MinimumNArgs(0),
	}
	var cmdDeleteRoom = &cobra.Command{
		Use:   "room [room id]",
		Short: "Delete room",
		Long:  `delete room removes the room with the given id and every code pointing at it. Connected clients are not disconnected, use the service API for that.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			err := registry.DeleteRoom(ctx, args[0])
			if err != nil {
				globals.AppLogger.Error("could not delete room", "error", err)
				return
			}
		},
	}
	var tokenRole string
	var cmdToken = &cobra.Command{
		Use:   "token [room id] [user id]",
		Short: "Issue a room token",
		Long:  `token issues a signed room token for the given member.`,
		Args:  cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			role := types.Role(tokenRole)
			if !role.Valid() {
				globals.AppLogger.Error("invalid role", "role", tokenRole)
				return
			}
			token, expiresAt, err := registry.IssueRoleToken(ctx, args[1], args[0], role)
			if err != nil {
				globals.AppLogger.Error("could not issue token", "error", err)
				return
			}
			out, _ := json.Marshal(map[string]string{"token": token, "expiresAt": expiresAt.Format("2006-01-02T15:04:05Z07:00")})
			fmt.Println(string(out))
		},
	}
	cmdToken.Flags().StringVar(&tokenRole, "role", string(types.RoleGuest), "token role (host or guest)")

	var rootCmd = &cobra.Command{Use: "lightspeed-sync-admin"}
	rootCmd.AddCommand(cmdShow)
	rootCmd.AddCommand(cmdCreate)
	rootCmd.AddCommand(cmdDelete)
	rootCmd.AddCommand(cmdToken)
	cmdShow.AddCommand(cmdShowRooms, cmdShowRoom, cmdShowCode)
	cmdCreate.AddCommand(cmdCreateRoom)
	cmdDelete.AddCommand(cmdDeleteRoom)
	rootCmd.Execute()
}
