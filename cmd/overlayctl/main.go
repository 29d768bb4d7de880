// Command overlayctl inspects an overlay composed of two on-disk
// directories: a writable upper directory and a read-only base directory.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/absfs/overlayfs"
)

func main() {
	if err := fang.Execute(context.Background(), newRootCmd()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "overlayctl",
		Short: "Inspect an overlay of a writable directory over a read-only base",
		Long: `overlayctl composes a writable directory over a read-only base directory
and inspects the merged view, including the effect of the persisted
deletion log on the writable side.

WRITABLE is the directory receiving all mutations.
BASE is the directory providing original, untouched content.`,
	}

	rootCmd.PersistentFlags().String("config", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(newLsCmd())
	rootCmd.AddCommand(newStatCmd())
	rootCmd.AddCommand(newLogCmd())
	return rootCmd
}

// newOverlay builds and initializes the overlay from command-line layers.
func newOverlay(cmd *cobra.Command, writableDir, baseDir string) (*overlayfs.FileSystem, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := overlayfs.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	logger := zerolog.Nop()
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		logger = zerolog.New(out).With().Timestamp().Logger().Level(zerolog.DebugLevel)
	}

	upper := overlayfs.FromAfero(afero.NewBasePathFs(afero.NewOsFs(), writableDir))
	base := overlayfs.FromAfero(
		afero.NewBasePathFs(afero.NewOsFs(), baseDir),
		overlayfs.AsReadOnly(),
	)

	opts := append(cfg.Options(), overlayfs.WithLogger(logger))
	ofs, err := overlayfs.New(upper, base, opts...)
	if err != nil {
		return nil, err
	}
	if err := ofs.Initialize(); err != nil {
		return nil, err
	}
	return ofs, nil
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls WRITABLE BASE PATH",
		Short: "List the merged view of a directory",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ofs, err := newOverlay(cmd, args[0], args[1])
			if err != nil {
				return err
			}
			defer ofs.Close()

			entries, err := ofs.ReadDir(args[2])
			if err != nil {
				return err
			}
			for _, fi := range entries {
				fmt.Printf("%s %8d  %s\n", fi.Mode(), fi.Size(), fi.Name())
			}
			return nil
		},
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat WRITABLE BASE PATH",
		Short: "Print the merged stat record for a path",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ofs, err := newOverlay(cmd, args[0], args[1])
			if err != nil {
				return err
			}
			defer ofs.Close()

			info, err := ofs.Stat(args[2])
			if err != nil {
				return err
			}
			fmt.Printf("name:  %s\n", info.Name())
			fmt.Printf("mode:  %s\n", info.Mode())
			fmt.Printf("size:  %d\n", info.Size())
			fmt.Printf("mtime: %s\n", info.ModTime().Format(time.RFC3339))
			return nil
		},
	}
}

func newLogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log WRITABLE BASE",
		Short: "Replay the deletion log and print the hidden paths",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ofs, err := newOverlay(cmd, args[0], args[1])
			if err != nil {
				return err
			}
			defer ofs.Close()

			hidden := ofs.HiddenPaths()
			sort.Strings(hidden)
			for _, name := range hidden {
				fmt.Println(name)
			}
			return nil
		},
	}
}
