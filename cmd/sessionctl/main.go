// Command sessionctl inspects and manages locally persisted session state.
//
// Usage:
//
//	sessionctl [-state-dir DIR] inspect           # dump the persisted tree
//	sessionctl [-state-dir DIR] validate THREAD   # ask the backend about a thread
//	sessionctl [-state-dir DIR] clear             # wipe both storage tiers
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/instrulink/sessionkit/internal/httpclient"
	"github.com/instrulink/sessionkit/internal/infrastructure/config"
	"github.com/instrulink/sessionkit/internal/logging"
	"github.com/instrulink/sessionkit/internal/orchestration"
	"github.com/instrulink/sessionkit/internal/persistence"
	"github.com/instrulink/sessionkit/internal/session"
	"github.com/instrulink/sessionkit/internal/shared/paths"
	"github.com/spf13/afero"
)

func main() {
	cfg := config.LoadOrDefault()
	stateDir := flag.String("state-dir", cfg.Persistence.StateDir, "Durable state directory")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: sessionctl [-state-dir DIR] inspect|validate THREAD|clear")
		os.Exit(2)
	}
	cfg.Persistence.StateDir = *stateDir

	log, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "sessionctl: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logging.Logger, args []string) error {
	fs := afero.NewOsFs()
	stateDir := paths.ResolveStateDir(cfg.Persistence.StateDir)
	primary, err := persistence.NewFileRecordStore(fs, stateDir, session.Namespace)
	if err != nil {
		return err
	}
	backup, err := persistence.NewFileKVStore(fs, stateDir, session.Namespace)
	if err != nil {
		return err
	}
	store := session.NewStore(primary, backup, session.Options{}, log, nil)

	switch args[0] {
	case "inspect":
		return inspect(store)
	case "validate":
		if len(args) < 2 {
			return fmt.Errorf("validate needs a main thread id")
		}
		return validate(cfg, log, args[1])
	case "clear":
		store.ClearPersisted()
		fmt.Println("cleared")
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func inspect(store *session.Store) error {
	sess := store.PeekPersisted()
	if sess == nil {
		fmt.Println("no persisted session")
		return nil
	}
	out, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func validate(cfg *config.Config, log *logging.Logger, threadID string) error {
	client := httpclient.New(cfg.API)
	lifecycle := orchestration.NewLifecycle(client, cfg.Session.HeartbeatInterval, log, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := lifecycle.ValidateSession(ctx, threadID)
	if err != nil {
		return err
	}
	if result.Valid {
		fmt.Println("valid")
	} else {
		fmt.Printf("invalid: %s\n", result.Reason)
	}
	return nil
}
