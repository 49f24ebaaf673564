package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mafzaal/d365fo-client-go/infrastructure/config"
	"github.com/mafzaal/d365fo-client-go/internal/core"
	"github.com/mafzaal/d365fo-client-go/internal/profile"
)

func main() {
	profileName := flag.String("profile", "", "named profile to load (defaults to the profile store's default)")
	envFile := flag.String("env-file", "", "optional .env file consulted when no profile store entry resolves")
	flag.Parse()

	ctx := context.Background()

	cfg, err := resolveConfig(*profileName, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve config: %v\n", err)
		os.Exit(1)
	}

	client, err := core.Open(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "d365fo-client",
		Version: "0.1.0",
	}, nil)

	if err := registerTools(server, client); err != nil {
		fmt.Fprintf(os.Stderr, "register tools: %v\n", err)
		os.Exit(1)
	}

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		fmt.Fprintf(os.Stderr, "mcp server: %v\n", err)
		os.Exit(1)
	}
}

func resolveConfig(profileName, envFile string) (*config.ClientConfig, error) {
	store, err := profile.NewStore(profile.DefaultDir())
	if err == nil {
		reg := profile.NewRegistry(store)
		if cfg, err := reg.Resolve(profileName); err == nil {
			return cfg, nil
		} else if profileName != "" {
			return nil, err
		}
	}
	return config.Load(envFile)
}
