package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/willowmail/willow/credential"
)

// AdminConfig holds the minimal configuration needed for admin operations
type AdminConfig struct {
	CredAPI CredAPIConfig `toml:"credapi"`
}

// CredAPIConfig points at the running willow credential API
type CredAPIConfig struct {
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
}

func newDefaultAdminConfig() AdminConfig {
	return AdminConfig{
		CredAPI: CredAPIConfig{
			URL: "http://127.0.0.1:8980",
		},
	}
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "create-user":
		handleCreateUser()
	case "update-user":
		handleUpdateUser()
	case "delete-user":
		handleDeleteUser()
	case "user-exists":
		handleUserExists()
	case "authenticate":
		handleAuthenticate()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`WILLOW Admin Tool

Usage:
  willow-admin <command> [options]

Commands:
  create-user   Create a new user
  update-user   Change an existing user's password
  delete-user   Delete a user
  user-exists   Check whether a user exists
  authenticate  Verify a username/password pair
  help          Show this help message

Examples:
  willow-admin create-user --username alice --password secret
  willow-admin update-user --username alice --password newsecret
  willow-admin delete-user --username alice
  willow-admin user-exists --username alice
  willow-admin create-user --config /path/to/willow-admin.toml --username alice --password secret

Use 'willow-admin <command> --help' for more information about a command.
`)
}

// adminFlags declares the flags shared by every subcommand and returns
// the parse helper that resolves the client from config plus overrides.
type adminFlags struct {
	fs         *flag.FlagSet
	configPath *string
	apiURL     *string
	apiKey     *string
	username   *string
	password   *string
}

func newAdminFlags(command string, needPassword bool) *adminFlags {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	af := &adminFlags{
		fs:         fs,
		configPath: fs.String("config", "willow-admin.toml", "Path to TOML configuration file"),
		apiURL:     fs.String("url", "", "Credential API base URL (overrides config)"),
		apiKey:     fs.String("apikey", "", "Credential API key (overrides config)"),
		username:   fs.String("username", "", "Username (required)"),
	}
	if needPassword {
		af.password = fs.String("password", "", "Password (required)")
	}
	return af
}

func (af *adminFlags) parse() *credential.Client {
	if err := af.fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}

	if *af.username == "" {
		fmt.Printf("Error: --username is required\n\n")
		af.fs.Usage()
		os.Exit(1)
	}
	if af.password != nil && *af.password == "" {
		fmt.Printf("Error: --password is required\n\n")
		af.fs.Usage()
		os.Exit(1)
	}

	cfg := newDefaultAdminConfig()
	if _, err := toml.DecodeFile(*af.configPath, &cfg); err != nil {
		if os.IsNotExist(err) {
			if isFlagSet(af.fs, "config") {
				log.Fatalf("ERROR: specified configuration file '%s' not found: %v", *af.configPath, err)
			}
		} else {
			log.Fatalf("FATAL: error parsing configuration file '%s': %v", *af.configPath, err)
		}
	}

	if isFlagSet(af.fs, "url") {
		cfg.CredAPI.URL = *af.apiURL
	}
	if isFlagSet(af.fs, "apikey") {
		cfg.CredAPI.APIKey = *af.apiKey
	}

	if cfg.CredAPI.APIKey == "" {
		log.Fatalf("ERROR: credential API key is required (set credapi.api_key in %s or pass --apikey)", *af.configPath)
	}

	return credential.NewClient(cfg.CredAPI.URL, cfg.CredAPI.APIKey)
}

func isFlagSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func handleCreateUser() {
	af := newAdminFlags("create-user", true)
	client := af.parse()

	created, err := client.CreateUser(context.Background(), *af.username, *af.password)
	if err != nil {
		log.Fatalf("Failed to create user: %v", err)
	}
	if !created {
		log.Fatalf("User '%s' already exists", *af.username)
	}
	fmt.Printf("Successfully created user '%s'\n", *af.username)
}

func handleUpdateUser() {
	af := newAdminFlags("update-user", true)
	client := af.parse()

	updated, err := client.UpdateUser(context.Background(), *af.username, *af.password)
	if err != nil {
		log.Fatalf("Failed to update user: %v", err)
	}
	if !updated {
		log.Fatalf("User '%s' does not exist", *af.username)
	}
	fmt.Printf("Successfully updated password for user '%s'\n", *af.username)
}

func handleDeleteUser() {
	af := newAdminFlags("delete-user", false)
	client := af.parse()

	deleted, err := client.DeleteUser(context.Background(), *af.username)
	if err != nil {
		log.Fatalf("Failed to delete user: %v", err)
	}
	if !deleted {
		log.Fatalf("User '%s' does not exist", *af.username)
	}
	fmt.Printf("Successfully deleted user '%s'\n", *af.username)
}

func handleUserExists() {
	af := newAdminFlags("user-exists", false)
	client := af.parse()

	exists, err := client.UserExists(context.Background(), *af.username)
	if err != nil {
		log.Fatalf("Failed to check user: %v", err)
	}
	if exists {
		fmt.Printf("User '%s' exists\n", *af.username)
	} else {
		fmt.Printf("User '%s' does not exist\n", *af.username)
		os.Exit(1)
	}
}

func handleAuthenticate() {
	af := newAdminFlags("authenticate", true)
	client := af.parse()

	ok, err := client.Authenticate(context.Background(), *af.username, *af.password)
	if err != nil {
		log.Fatalf("Failed to authenticate: %v", err)
	}
	if ok {
		fmt.Printf("Authentication succeeded for user '%s'\n", *af.username)
	} else {
		fmt.Printf("Authentication failed for user '%s'\n", *af.username)
		os.Exit(1)
	}
}
