package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/cpuid/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const version = "v0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and CPU features",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion(cmd.OutOrStdout())
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd, configCmd)
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "isopose %s\n", version)
	fmt.Fprintf(w, "cpu: %s (%s)\n", cpuid.CPU.BrandName, cpuid.CPU.VendorString)
	fmt.Fprintf(w, "cores: %d physical, %d logical\n", cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores)
	fmt.Fprintf(w, "features: %s\n", strings.Join(cpuid.CPU.FeatureSet(), " "))
}
