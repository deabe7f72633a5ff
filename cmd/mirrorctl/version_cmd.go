package main

import (
	"fmt"
	"io"
	"runtime"

	"github.com/openmined/mirrorctl/internal/version"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	rootCmd.AddCommand(newVersionCmd())
}

type versionReport struct {
	App       string `yaml:"app"`
	Version   string `yaml:"version"`
	Revision  string `yaml:"revision"`
	BuildDate string `yaml:"build_date"`
	Go        string `yaml:"go"`
	Platform  string `yaml:"platform"`
}

func newVersionCmd() *cobra.Command {
	var short, asYAML bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print mirrorctl version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printVersion(cmd.OutOrStdout(), short, asYAML)
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "print only version and revision")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print build details as YAML")
	cmd.MarkFlagsMutuallyExclusive("short", "yaml")
	return cmd
}

func printVersion(w io.Writer, short, asYAML bool) error {
	switch {
	case short:
		_, err := fmt.Fprintln(w, version.Short())
		return err
	case asYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(versionReport{
			App:       version.AppName,
			Version:   version.Version,
			Revision:  version.Revision,
			BuildDate: version.BuildDate,
			Go:        runtime.Version(),
			Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		}); err != nil {
			return fmt.Errorf("encode version: %w", err)
		}
		return enc.Close()
	default:
		_, err := fmt.Fprintln(w, version.DetailedWithApp())
		return err
	}
}
