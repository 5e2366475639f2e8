// ldapauth-verify performs one credential verification round trip against a
// configured directory, optionally resolving the local user through a
// PostgreSQL store. It exists to smoke-test a deployment's configuration.
//
// The secret is read from the LDAPAUTH_SECRET environment variable or, when
// unset, from the first line of stdin.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/isometry/ldapauth"
	"github.com/isometry/ldapauth/store/postgres"
)

func main() {
	var (
		configPath = flag.String("config", "ldapauth.toml", "path to the TOML configuration file")
		login      = flag.String("login", "", "login identifier to verify")
		dsn        = flag.String("db", "", "PostgreSQL DSN; when set the local user is resolved as well")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	if *debug {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	if *login == "" {
		log.Fatal().Msg("-login is required")
	}

	secret := os.Getenv("LDAPAUTH_SECRET")
	if secret == "" {
		fmt.Fprint(os.Stderr, "secret: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			log.Fatal().Err(err).Msg("failed to read secret")
		}
		secret = strings.TrimRight(line, "\r\n")
	}

	cfg, err := ldapauth.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load configuration")
	}
	cfg.Logger = log

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	dir, err := ldapauth.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open directory")
	}
	defer dir.Close()

	if err := dir.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("directory is unreachable")
	}

	credentials := map[string]string{
		cfg.LoginKey:    *login,
		cfg.PasswordKey: secret,
	}

	if *dsn == "" {
		verifyOnly(ctx, log, cfg, dir, credentials)
		return
	}

	db, err := postgres.Open(ctx, *dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	provider, err := ldapauth.NewProvider(cfg, dir,
		postgres.NewUserRepository(db, cfg.LoginKey),
		postgres.NewRoleRepository(db),
		ldapauth.WithLogger(log))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build provider")
	}

	user, err := provider.RetrieveByCredentials(ctx, credentials)
	if err != nil {
		log.Fatal().Err(err).Msg("credential verification failed")
	}
	if user == nil {
		log.Warn().Str("login", *login).Msg("authentication rejected")
		os.Exit(1)
	}

	log.Info().
		Str("login", *login).
		Str("user_id", user.ID).
		Int("fields", len(user.Fields)).
		Msg("authentication succeeded")
}

// verifyOnly checks the credentials against the directory without touching
// any local store.
func verifyOnly(ctx context.Context, log zerolog.Logger, cfg *ldapauth.Config, dir ldapauth.DirectoryConn, credentials map[string]string) {
	dn, err := dir.LookupDN(ctx, credentials[cfg.LoginKey])
	if err != nil {
		log.Fatal().Err(err).Msg("login identifier lookup failed")
	}

	ok, err := dir.Bind(ctx, dn, credentials[cfg.PasswordKey])
	if err != nil {
		log.Fatal().Err(err).Msg("credential verification failed")
	}
	if !ok {
		log.Warn().Str("dn", dn).Msg("authentication rejected")
		os.Exit(1)
	}

	log.Info().Str("dn", dn).Msg("authentication succeeded")
}
