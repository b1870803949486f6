package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/libxzr/vbmeta-disable-verification/pkg/vbmeta"
)

func newRootCmd() *cobra.Command {
	inv := &invocation{}
	cmd := &cobra.Command{
		Use:   "vbmeta-disable-verification [flags] <vbmeta-image>",
		Short: "Disable Android Verified Boot checks in a vbmeta image",
		Long: `Patches the flags of a vbmeta image in place to disable dm-verity and/or
dm-verification. If no options are provided, both flags will be set.

Originally written by LibXZR <i@xzr.moe>, remade by zjw2017.`,
		// Tokens are walked by invocation.parse, unknown ones name the image.
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return inv.run(cmd, args)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	inv.bindFlags(cmd.Flags())
	return cmd
}

func (inv *invocation) run(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if err := inv.parse(cmd.Flags(), args); err != nil {
		fmt.Fprintln(out, "Error: Only one vbmeta image can be specified.")
		if herr := cmd.Help(); herr != nil {
			return multierror.Append(err, herr)
		}
		return err
	}
	if inv.help || inv.image == "" {
		return cmd.Help()
	}
	if inv.verbose {
		enableVerboseLogging()
	}

	mask := inv.mask()
	slog.Debug("Patching...", "image", inv.image, "flags", mask)
	res, err := vbmeta.PatchFile(inv.image, mask)
	if err != nil {
		slog.Debug("Patching failed", "err", err)
		fmt.Fprintln(out, "Error: "+describeFailure(inv.image, err))
		return err
	}
	slog.Debug("Done!", "old", res.Old, "new", res.New)

	fmt.Fprintf(out, "Successfully disabled verification on vbmeta image: %s.\n", inv.image)
	fmt.Fprintf(out, "Disabled flags: %s\n", mask)
	return nil
}

// describeFailure turns a PatchFile error into the line shown to the user.
// Seek, read and write failures all share one message.
func describeFailure(image string, err error) string {
	switch {
	case errors.Is(err, vbmeta.ErrAccess):
		return fmt.Sprintf("Unable to access '%s'.", image)
	case errors.Is(err, vbmeta.ErrNotVBMeta):
		return fmt.Sprintf("'%s' is not a valid vbmeta image.", image)
	}
	return "Failed when patching the vbmeta image"
}

func enableVerboseLogging() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
	if err := flag.Set("v", "1"); err != nil {
		slog.Warn("Could not raise glog verbosity", "err", err)
	}
}

func init() {
	// glog would otherwise write log files to the temp directory.
	if err := flag.Set("logtostderr", "true"); err != nil {
		panic(fmt.Sprintf("could not configure glog: %v", err))
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
