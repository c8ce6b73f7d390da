package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ndanilov/piivault/internal/agent"
	"github.com/ndanilov/piivault/internal/models"
)

const grantPollInterval = 10 * time.Second

var (
	version   string
	buildDate string
)

// unlock prompts for the password unless a persisted KEK already
// yields a usable status.
func unlock(ctx context.Context, a *agent.Agent) (agent.Status, error) {
	status, err := a.Refresh(ctx)
	if err != nil {
		return status, err
	}
	if status != agent.StatusNoLocalSecret {
		return status, nil
	}
	password, err := agent.PromptPassword("Password: ")
	if err != nil {
		return status, err
	}
	return a.Unlock(ctx, password)
}

// watchGrant prints a notice when a pending grant lands.
func watchGrant(ctx context.Context, a *agent.Agent) {
	if a.Status() != agent.StatusPendingAccess {
		return
	}
	fmt.Println("Waiting for an admin to grant access...")
	agent.StartGrantPoll(ctx, a, grantPollInterval, func(s agent.Status) {
		fmt.Printf("\nKey status changed: %s\npiivault> ", s)
	})
}

// repl runs the interactive shell loop, accepting key-management and
// encryption commands.
func repl(ctx context.Context, a *agent.Agent) {
	status, err := unlock(ctx, a)
	if err != nil {
		fmt.Println("unlock failed:", err)
	} else {
		fmt.Println("Key status:", status)
	}
	watchGrant(ctx, a)

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("piivault> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "help":
			fmt.Println("Available commands: help, status, setup, bootstrap, grant <username>, encrypt, decrypt, passwd, reset <username>, create <username> <role>, disable <username>, logout, exit")
		case "status":
			status, err := a.Refresh(ctx)
			if err != nil {
				fmt.Println("refresh failed:", err)
				continue
			}
			fmt.Println("Key status:", status)
		case "setup":
			password, err := agent.PromptPassword("Password: ")
			if err != nil {
				fmt.Println(err)
				continue
			}
			status, err := a.Setup(ctx, password)
			if err != nil {
				fmt.Println("setup failed:", err)
				continue
			}
			fmt.Println("Key status:", status)
			watchGrant(ctx, a)
		case "bootstrap":
			password, err := agent.PromptPassword("Password: ")
			if err != nil {
				fmt.Println(err)
				continue
			}
			status, err := a.Bootstrap(ctx, password)
			if err != nil {
				fmt.Println("bootstrap failed:", err)
				continue
			}
			fmt.Println("Key status:", status)
		case "grant":
			if len(args) < 2 {
				fmt.Println("Usage: grant <username>")
				continue
			}
			if err := a.Grant(ctx, args[1]); err != nil {
				fmt.Println("grant failed:", err)
				continue
			}
			fmt.Println("Access granted to", args[1])
		case "encrypt":
			plain, err := agent.PromptLine("Enter data to protect: ")
			if err != nil {
				fmt.Println(err)
				continue
			}
			ct, err := a.Encrypt([]byte(plain))
			if err != nil {
				fmt.Println("encrypt failed:", err)
				continue
			}
			fmt.Println(base64.StdEncoding.EncodeToString(ct))
		case "decrypt":
			encoded, err := agent.PromptLine("Enter protected data (base64): ")
			if err != nil {
				fmt.Println(err)
				continue
			}
			ct, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				fmt.Println("invalid base64:", err)
				continue
			}
			pt, err := a.Decrypt(ct)
			if err != nil {
				fmt.Println("decrypt failed:", err)
				continue
			}
			fmt.Println(string(pt))
		case "passwd":
			current, err := agent.PromptPassword("Current password: ")
			if err != nil {
				fmt.Println(err)
				continue
			}
			next, err := agent.PromptPassword("New password: ")
			if err != nil {
				fmt.Println(err)
				continue
			}
			if err := a.ChangePassword(ctx, current, next); err != nil {
				fmt.Println("password change failed:", err)
				continue
			}
			fmt.Println("Password changed")
		case "reset":
			if len(args) < 2 {
				fmt.Println("Usage: reset <username>")
				continue
			}
			if err := a.Reset(ctx, args[1]); err != nil {
				fmt.Println("reset failed:", err)
				continue
			}
			fmt.Println("Key record reset for", args[1])
		case "create":
			if len(args) < 3 {
				fmt.Println("Usage: create <username> <admin|user|viewer>")
				continue
			}
			password, err := agent.PromptPassword("Initial password: ")
			if err != nil {
				fmt.Println(err)
				continue
			}
			id, err := a.CreateIdentity(ctx, args[1], password, models.Role(args[2]))
			if err != nil {
				fmt.Println("create failed:", err)
				continue
			}
			fmt.Printf("Created %s (%s)\n", id.Username, id.Role)
		case "disable":
			if len(args) < 2 {
				fmt.Println("Usage: disable <username>")
				continue
			}
			if err := a.Disable(ctx, args[1]); err != nil {
				fmt.Println("disable failed:", err)
				continue
			}
			fmt.Println("Disabled", args[1])
		case "logout":
			if err := a.Logout(); err != nil {
				fmt.Println("logout failed:", err)
				continue
			}
			fmt.Println("Secrets wiped")
		case "exit":
			fmt.Println("Bye")
			return
		default:
			fmt.Println("Unknown command. Type 'help' for a list of commands.")
		}
	}
}

// main parses command-line flags and dispatches to the register or
// shell commands.
func main() {
	var (
		cmd      string
		baseURL  string
		certFile string
		keyFile  string
		caFile   string
		username string
		policy   string
		cacheDir string
		showVer  bool
	)

	flag.StringVar(&cmd, "cmd", "", "command: register | shell")
	flag.StringVar(&baseURL, "url", "https://localhost:8443", "server base URL")
	flag.StringVar(&certFile, "cert", "client.crt", "path to client cert")
	flag.StringVar(&keyFile, "key", "client.key", "path to client key")
	flag.StringVar(&caFile, "ca", "certs/ca.crt", "path to CA cert")
	flag.StringVar(&username, "user", "", "username")
	flag.StringVar(&policy, "kek-cache", string(agent.PolicySession), "kek cache policy: session | persist")
	flag.StringVar(&cacheDir, "cache-dir", ".", "directory for the persisted kek cache")
	flag.BoolVar(&showVer, "version", false, "show build version and date")
	flag.Parse()

	if showVer {
		fmt.Printf("piivault Client\nVersion: %s\nBuild Date: %s\n", version, buildDate)
		return
	}

	switch cmd {
	case "register":
		if username == "" {
			log.Fatal("please provide -user=username")
		}
		password, err := agent.PromptPassword("Password: ")
		if err != nil {
			log.Fatal(err)
		}
		if err := agent.Register(baseURL, username, password, caFile, certFile, keyFile); err != nil {
			log.Fatal(err)
		}
		fmt.Println("Registration successful. Certificate and key saved.")
	case "shell":
		if username == "" {
			log.Fatal("please provide -user=username")
		}
		cachePolicy := agent.CachePolicy(policy)
		if !cachePolicy.Valid() {
			log.Fatalf("unknown kek cache policy: %s", policy)
		}
		api, err := agent.NewClient(baseURL, certFile, keyFile, caFile)
		if err != nil {
			log.Fatal(err)
		}
		var cache *agent.KEKCache
		if cachePolicy == agent.PolicyPersist {
			cache = agent.NewKEKCache(cacheDir)
		}
		a := agent.New(api, username, cache)
		if _, err := a.Login(context.Background()); err != nil {
			log.Fatal(err)
		}

		repl(context.Background(), a)
	default:
		log.Fatalf("unknown command: %s", cmd)
	}
}
