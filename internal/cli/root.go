package cli

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"

	"github.com/quotaguard/tokenquota/internal/config"
	"github.com/spf13/cobra"
)

// GlobalFlags are the persistent flags shared by every subcommand.
type GlobalFlags struct {
	Config  string
	Verbose bool
	JSON    bool
}

var globalFlags GlobalFlags

// GetGlobalFlags returns the parsed persistent flags.
func GetGlobalFlags() GlobalFlags {
	return globalFlags
}

// RootCmd is the tokenquota command. Subcommands register themselves in InitRoot.
var RootCmd = &cobra.Command{
	Use:   "tokenquota",
	Short: "Per-identity LLM token and cost quotas",
	Long: `tokenquota tracks LLM token and cost consumption per identity over
one or more trailing time windows, answers whether an identity may make
another request, and notifies when usage crosses configured thresholds.

Run "tokenquota serve" for the HTTP API. The other commands operate on
the configured storage backend directly.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// InitRoot registers the persistent flags and the version command.
func InitRoot() {
	flags := RootCmd.PersistentFlags()
	flags.StringVar(&globalFlags.Config, "config", config.PathFromEnv(), "Path to configuration file")
	flags.BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable verbose output")
	flags.BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format")

	RootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := GetVersionInfo()
		if globalFlags.JSON {
			return writeJSON(cmd.OutOrStdout(), info)
		}
		info.print(cmd.OutOrStdout())
		return nil
	},
}

// Set at link time with -ldflags "-X".
var (
	version   = "0.1.0"
	buildDate = "unknown"
)

// VersionInfo describes the running binary.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	BuildDate string `json:"build_date"`
}

// GetVersionInfo combines the link-time version with the VCS revision
// recorded by the Go toolchain, when present.
func GetVersionInfo() VersionInfo {
	info := VersionInfo{
		Version:   version,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		BuildDate: buildDate,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" {
				info.Commit = s.Value
			}
		}
	}
	return info
}

func (v VersionInfo) print(w io.Writer) {
	fmt.Fprintln(w, "tokenquota Version:", v.Version)
	if v.Commit != "" {
		fmt.Fprintln(w, "Commit:", v.Commit)
	}
	fmt.Fprintln(w, "Go Version:", v.GoVersion)
	fmt.Fprintf(w, "OS/Arch: %s/%s\n", v.OS, v.Arch)
	fmt.Fprintln(w, "Build Date:", v.BuildDate)
}
