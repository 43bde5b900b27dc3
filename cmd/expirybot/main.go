package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type cli struct {
	cfgPath string
	out     io.Writer
}

func newRootCmd() *cobra.Command {
	c := &cli{out: os.Stdout}
	root := &cobra.Command{
		Use:           "expirybot",
		Short:         "Expiring stock and inactive customer notifications over WhatsApp",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.cfgPath, "config", "./config.yaml", "path to config (.json, .yaml, .yml)")
	root.SetOut(c.out)

	root.AddCommand(
		serveCmd(c),
		runCmd(c),
		sendCmd(c),
		testCmd(c),
		statusCmd(c),
		migrateCmd(c),
	)
	return root
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
