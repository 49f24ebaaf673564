package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mafzaal/d365fo-client-go/infrastructure/config"
	coreerrors "github.com/mafzaal/d365fo-client-go/infrastructure/errors"
	"github.com/mafzaal/d365fo-client-go/internal/core"
	"github.com/mafzaal/d365fo-client-go/internal/profile"
)

var (
	flagProfile string
	flagEnvFile string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "d365fo-client",
		Short:         "D365 Finance & Operations metadata cache client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagProfile, "profile", "", "named profile to use (default: the configured default profile)")
	root.PersistentFlags().StringVar(&flagEnvFile, "env-file", "", "optional .env file to load when no --profile is given")

	root.AddCommand(
		newSyncCmd(),
		newEntityCmd(),
		newActionCmd(),
		newEnumCmd(),
		newSearchCmd(),
		newLabelCmd(),
		newEnvCmd(),
		newProfileCmd(),
	)
	return root
}

// resolveConfig prefers a named/default profile; when --profile is
// empty and no default profile resolves, it falls back to environment
// variables (optionally via --env-file).
func resolveConfig() (*config.ClientConfig, error) {
	store, err := profile.NewStore(profile.DefaultDir())
	if err != nil {
		return nil, err
	}
	reg := profile.NewRegistry(store)
	if cfg, err := reg.Resolve(flagProfile); err == nil {
		return cfg, nil
	} else if flagProfile != "" {
		return nil, err
	}
	return config.Load(flagEnvFile)
}

func openClient(ctx context.Context) (*core.Client, error) {
	cfg, err := resolveConfig()
	if err != nil {
		return nil, err
	}
	return core.Open(ctx, cfg)
}

func printJSON(v any) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: encode output: %v\n", err)
		return
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(pretty.String())
}

// cliError prints a CoreError as {code, message} JSON (or a plain
// message for any other error) to stderr and returns a sentinel so the
// caller's RunE triggers a non-zero exit without cobra re-printing it.
func cliError(err error) error {
	if ce, ok := coreerrors.As(err); ok {
		payload := struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}{Code: string(ce.Kind), Message: ce.Message}
		raw, _ := json.Marshal(payload)
		fmt.Fprintln(os.Stderr, string(raw))
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return errSilent
}

// errSilent signals that the error was already printed by cliError.
var errSilent = fmt.Errorf("")

// optionalBool parses a tri-state "", "true", "false" flag value into
// a *bool, nil meaning the filter was not supplied.
func optionalBool(s string) (*bool, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil, fmt.Errorf("invalid boolean value %q", s)
	}
	return &v, nil
}
