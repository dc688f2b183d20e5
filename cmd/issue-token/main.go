// issue-token mints a bearer token for a bot shard or dashboard session.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/guildkit/guild-tickets/internal/auth"
	"github.com/guildkit/guild-tickets/internal/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var identity auth.Identity
	var ttlMinutes int

	flagSet := pflag.NewFlagSet("issue-token", pflag.ContinueOnError)
	flagSet.StringVar(&identity.UserID, "user", "", "user id the token acts as (required)")
	flagSet.StringVar(&identity.GuildID, "guild", "", `guild id the token is scoped to, or "*" for every guild (required)`)
	flagSet.StringVar(&identity.Username, "username", "", "display name recorded on audit entries")
	flagSet.StringVar(&identity.Avatar, "avatar", "", "avatar URL recorded on audit entries")
	flagSet.IntVar(&ttlMinutes, "ttl", 0, "token lifetime in minutes (default AUTH_ACCESS_TOKEN_TTL_MINUTES)")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		fmt.Fprintln(os.Stderr, "usage: issue-token --user ID --guild ID [flags]")
		flagSet.PrintDefaults()
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if ttlMinutes <= 0 {
		ttlMinutes = cfg.Auth.AccessTokenTTLMinutes
	}

	token, expiresAt, err := auth.NewTokenManager(cfg.Auth.JWTSecret, ttlMinutes).GenerateToken(identity)
	if err != nil {
		return err
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
	return nil
}
