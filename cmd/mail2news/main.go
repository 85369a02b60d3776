package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	flag "github.com/spf13/pflag"
)

const version = "1.0.0"

// app holds global options parsed from the command line
type app struct {
	configPath string
	verbose    bool
}

func main() {
	a := &app{}

	// Global flags
	flag.StringVar(&a.configPath, "config", "mail2news.json", "Path to the settings file")
	flag.BoolVarP(&a.verbose, "verbose", "v", false, "Verbose output")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Printf("mail2news v%s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "mail2news"})
	if a.verbose {
		logger.SetLevel(log.DebugLevel)
	}

	cmd := args[0]
	cmdArgs := args[1:]

	// "init" doesn't need settings loaded
	if cmd == "init" {
		if err := handleInit(a.configPath); err != nil {
			fatal("init: %v", err)
		}
		return
	}

	switch cmd {
	case "run":
		if err := handleRun(a.configPath, logger); err != nil {
			fatal("run: %v", err)
		}
	case "settings":
		if err := handleSettings(a.configPath); err != nil {
			fatal("settings: %v", err)
		}
	case "space":
		if err := handleSpace(a.configPath, cmdArgs); err != nil {
			fatal("space: %v", err)
		}
	case "user":
		if err := handleUser(a.configPath, cmdArgs); err != nil {
			fatal("user: %v", err)
		}
	case "posts":
		if err := handlePosts(a.configPath, cmdArgs); err != nil {
			fatal("posts: %v", err)
		}
	case "help":
		printUsage()
		os.Exit(0)
	default:
		fatal("unknown command '%s'", cmd)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `mail2news v%s - Publish mailbox messages as posts

Usage:
  mail2news [global options] <command> [command options]

Commands:
  run        Process the mailbox once, publishing each message as a post
  init       Write an example settings file
  settings   Print the effective settings (passwords redacted)
  space      Manage spaces: space add <key> <name> [--personal --owner <user>] | space list
  user       Manage users: user add <name> <email> | user list
  posts      List posts: posts <space-key>
  help       Show this help

Global Options:
  --config <path>    Path to the settings file (default: mail2news.json)
  -v, --verbose      Verbose output
  --version          Show version information

Examples:
  mail2news init
  mail2news space add eng "Engineering News"
  mail2news space add jdoe "John Doe" --personal --owner jdoe
  mail2news user add jdoe jdoe@example.com
  mail2news -v run
  mail2news posts eng
`, version)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
