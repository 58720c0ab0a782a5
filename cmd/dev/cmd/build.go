package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/gophertribe/devtool/build"
)

const (
	binary  = "dist/spectral"
	mainPkg = "./cmd/spectral"
	// image used for cross builds; cgo is required by the HID bridge
	builderImage = "gophertribe/gobuild:1.25-bookworm"
)

func BuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the spectral CLI into " + binary,
		Long: `Build the spectral CLI. Host builds run go build directly with cgo enabled
(the MCP2221 bridge links hidapi). Builds for another os/arch, e.g. an arm64
single board computer, run inside the builder container which calls this
command again with --cross-os and --cross-arch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			targetOS := cmd.Flag("os").Value.String()
			targetArch := cmd.Flag("arch").Value.String()
			version := cmd.Flag("version").Value.String()
			crossOS := cmd.Flag("cross-os").Value.String()
			crossArch := cmd.Flag("cross-arch").Value.String()

			if targetOS != runtime.GOOS || targetArch != runtime.GOARCH {
				noCache, err := cmd.Flags().GetBool("no-cache")
				if err != nil {
					return fmt.Errorf("could not get no-cache flag: %w", err)
				}
				return build.Docker(cmd.Context(), fmt.Sprintf("./dev-%s-%s", targetOS, targetArch),
					[]string{"build", "--version", version, "--cross-os", crossOS, "--cross-arch", crossArch},
					build.DockerBuildOpts{NoCache: noCache, Image: builderImage})
			}
			if crossOS != "" && crossArch != "" {
				targetOS, targetArch = crossOS, crossArch
			}
			return build.GoBuild(binary, mainPkg, build.GoBuildOpts{
				Version:       version,
				InjectVersion: true,
				ConfigPackage: "main",
				EnableCgo:     true,
				Arch:          targetArch,
				OS:            targetOS,
			})
		},
	}
	cmd.Flags().Bool("no-cache", false, "rebuild the builder container without cache")
	cmd.Flags().String("version", "latest", "version injected into the binary")
	cmd.Flags().String("os", runtime.GOOS, "target os; anything but the host builds in a container")
	cmd.Flags().String("arch", runtime.GOARCH, "target arch; anything but the host builds in a container")
	cmd.Flags().String("cross-os", "", "os passed to go build inside the container")
	cmd.Flags().String("cross-arch", "", "arch passed to go build inside the container")
	return cmd
}
