package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	flag "github.com/spf13/pflag"

	"github.com/emx-mail/mail2news/pkgs/config"
	"github.com/emx-mail/mail2news/pkgs/mail"
	"github.com/emx-mail/mail2news/pkgs/news"
	"github.com/emx-mail/mail2news/pkgs/repo"
)

// handleInit writes an example settings file, refusing to overwrite an
// existing one.
func handleInit(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("settings file %s already exists", configPath)
	}
	if err := config.Save(configPath, config.Example()); err != nil {
		return err
	}
	fmt.Printf("Wrote example settings to %s\n", configPath)
	fmt.Println("Edit the mailbox credentials and repository path before running.")
	return nil
}

// handleRun processes the mailbox once.
func handleRun(configPath string, logger *log.Logger) error {
	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	repository, err := repo.OpenSQLite(settings.Repository.Path, settings.Repository.Version)
	if err != nil {
		return err
	}
	defer repository.Close()

	var relay news.Relay
	if settings.RelayConfigured() {
		relay = mail.NewRelayClient(settings.Relay)
	}
	notifier := news.NewNotifier(relay, logger)

	pipeline := news.NewPipeline(settings, repository, notifier, logger)
	return pipeline.RunOnce(context.Background())
}

// handleSettings prints the effective settings with passwords redacted.
func handleSettings(configPath string) error {
	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if settings.Mailbox.Password != "" {
		settings.Mailbox.Password = "********"
	}
	if settings.Relay.Password != "" {
		settings.Relay.Password = "********"
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// handleSpace manages spaces in the content repository.
func handleSpace(configPath string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: space add|list")
	}
	switch args[0] {
	case "add":
	case "list":
		return listSpaces(configPath)
	default:
		return fmt.Errorf("unknown space command '%s'", args[0])
	}

	fs := flag.NewFlagSet("space add", flag.ExitOnError)
	personal := fs.Bool("personal", false, "Create a personal space")
	owner := fs.String("owner", "", "Owning username (personal spaces)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("usage: space add <key> <name> [--personal --owner <user>]")
	}

	repository, err := openRepository(configPath)
	if err != nil {
		return err
	}
	defer repository.Close()

	space := repo.Space{
		Key:      fs.Arg(0),
		Name:     fs.Arg(1),
		Personal: *personal,
		Owner:    *owner,
	}
	if err := repository.CreateSpace(context.Background(), space); err != nil {
		return err
	}
	fmt.Printf("Created space %s (%s)\n", space.Key, space.Name)
	return nil
}

func listSpaces(configPath string) error {
	repository, err := openRepository(configPath)
	if err != nil {
		return err
	}
	defer repository.Close()

	spaces, err := repository.ListSpaces(context.Background())
	if err != nil {
		return err
	}
	if len(spaces) == 0 {
		fmt.Println("No spaces")
		return nil
	}

	for _, s := range spaces {
		kind := "shared"
		if s.Personal {
			kind = "personal, owner " + s.Owner
		}
		fmt.Printf("%-12s  %-30s  (%s)\n", s.Key, s.Name, kind)
	}
	return nil
}

// handleUser manages user accounts in the content repository.
func handleUser(configPath string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: user add|list")
	}
	switch args[0] {
	case "add":
	case "list":
		return listUsers(configPath)
	default:
		return fmt.Errorf("unknown user command '%s'", args[0])
	}
	if len(args) < 3 {
		return fmt.Errorf("usage: user add <name> <email>")
	}

	repository, err := openRepository(configPath)
	if err != nil {
		return err
	}
	defer repository.Close()

	user := repo.User{Name: args[1], Email: args[2]}
	if err := repository.CreateUser(context.Background(), user); err != nil {
		return err
	}
	fmt.Printf("Created user %s <%s>\n", user.Name, user.Email)
	return nil
}

func listUsers(configPath string) error {
	repository, err := openRepository(configPath)
	if err != nil {
		return err
	}
	defer repository.Close()

	users, err := repository.ListUsers(context.Background())
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Println("No users")
		return nil
	}

	for _, u := range users {
		fmt.Printf("%-20s  %s\n", u.Name, u.Email)
	}
	return nil
}

// handlePosts lists the posts of a space, newest first.
func handlePosts(configPath string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: posts <space-key>")
	}

	repository, err := openRepository(configPath)
	if err != nil {
		return err
	}
	defer repository.Close()

	posts, err := repository.ListPosts(context.Background(), args[0])
	if err != nil {
		return err
	}
	if len(posts) == 0 {
		fmt.Printf("No posts in space %s\n", args[0])
		return nil
	}

	for _, p := range posts {
		fmt.Printf("%s  %-30s  by %s\n", p.CreatedAt.Format("2006-01-02 15:04"), p.Title, p.Creator)
	}
	return nil
}

func openRepository(configPath string) (*repo.SQLiteRepository, error) {
	settings, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if settings.Repository.Path == "" {
		return nil, fmt.Errorf("repository path is not configured")
	}
	return repo.OpenSQLite(settings.Repository.Path, settings.Repository.Version)
}
