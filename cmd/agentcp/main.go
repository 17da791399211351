// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

// Agentcp is the operational CLI for the AgentCP SDK: create and list
// local agent identities, and run an agent online for smoke testing a
// deployment.
//
// Usage:
//
//	agentcp create-aid --aid alice.aid.net --password-file pw.txt
//	agentcp list-aids
//	agentcp online --aid alice.aid.net --password-file pw.txt
//	agentcp export --aid alice.aid.net --out alice.bundle --passphrase-file pp.txt
//
// Configuration comes from the file named by AGENTCP_CONFIG, or
// --config.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/agentcp-foundation/agentcp/agent"
	"github.com/agentcp-foundation/agentcp/identity"
	"github.com/agentcp-foundation/agentcp/lib/config"
	"github.com/agentcp-foundation/agentcp/lib/ref"
	"github.com/agentcp-foundation/agentcp/messaging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		return fmt.Errorf("usage: agentcp <create-aid|list-aids|online|export|import> [flags]")
	}
	command := os.Args[1]

	flags := pflag.NewFlagSet(command, pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to agentcp.yaml (default: $AGENTCP_CONFIG)")
	aidFlag := flags.String("aid", "", "agent identifier (e.g. alice.aid.net)")
	passwordFile := flags.String("password-file", "", "file holding the key password, or - for stdin")
	passphraseFile := flags.String("passphrase-file", "", "file holding the bundle passphrase")
	outPath := flags.String("out", "", "output path (export)")
	inPath := flags.String("in", "", "input path (import)")
	if err := flags.Parse(os.Args[2:]); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	orchestrator := agent.New(cfg, agent.Options{Logger: logger})

	switch command {
	case "create-aid":
		password, err := readSecretFile(*passwordFile)
		if err != nil {
			return err
		}
		if err := orchestrator.Initialize(); err != nil {
			return err
		}
		created, err := orchestrator.CreateAID(context.Background(), *aidFlag, password)
		if err != nil {
			return err
		}
		fmt.Printf("created %s\n", created.AID())
		return nil

	case "list-aids":
		aids, err := orchestrator.ListAIDs()
		if err != nil {
			return err
		}
		for _, aid := range aids {
			fmt.Println(aid)
		}
		return nil

	case "online":
		password, err := readSecretFile(*passwordFile)
		if err != nil {
			return err
		}
		if err := orchestrator.Initialize(); err != nil {
			return err
		}
		return runOnline(orchestrator, *aidFlag, password, logger)

	case "export":
		passphrase, err := readSecretFile(*passphraseFile)
		if err != nil {
			return err
		}
		aid, err := ref.ParseAID(*aidFlag)
		if err != nil {
			return err
		}
		if *outPath == "" {
			return fmt.Errorf("--out is required")
		}
		if err := identity.ExportBundle(cfg.StoragePath, aid, passphrase, *outPath); err != nil {
			return err
		}
		fmt.Printf("exported %s to %s\n", aid, *outPath)
		return nil

	case "import":
		passphrase, err := readSecretFile(*passphraseFile)
		if err != nil {
			return err
		}
		if *inPath == "" {
			return fmt.Errorf("--in is required")
		}
		aid, err := identity.ImportBundle(cfg.StoragePath, *inPath, passphrase)
		if err != nil {
			return err
		}
		fmt.Printf("imported %s\n", aid)
		return nil

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("AGENTCP_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

// readSecretFile reads a secret from a file or stdin ("-"). Trailing
// newlines are stripped so `echo password > file` works.
func readSecretFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("a secret file flag is required (use - for stdin)")
	}
	var data []byte
	var err error
	if path == "-" {
		data, err = os.ReadFile("/dev/stdin")
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// runOnline brings the agent online, prints inbound messages, and
// stays up until interrupted.
func runOnline(orchestrator *agent.AgentCP, aidFlag, password string, logger *slog.Logger) error {
	loaded, err := orchestrator.LoadAID(aidFlag, password)
	if err != nil {
		return err
	}
	loaded.SetStateHandler(func(oldState, newState agent.State) {
		logger.Info("state change", "from", oldState.String(), "to", newState.String())
	})
	loaded.SetMessageHandler(func(message messaging.Message) {
		for _, block := range message.Blocks {
			fmt.Printf("[%s] %s: %s\n", message.SessionID, message.Sender, block.Content)
		}
	})
	loaded.SetInviteHandler(func(sessionID, inviter string) {
		logger.Info("invited to session", "session_id", sessionID, "inviter", inviter)
	})

	if err := loaded.GoOnline(context.Background()); err != nil {
		return err
	}
	defer orchestrator.Shutdown()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	return nil
}
