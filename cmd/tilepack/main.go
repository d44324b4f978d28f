// tilepack is a CLI utility for building and inspecting MBTiles terrain archives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/Faultbox/midgard-globe/internal/logger"
	"github.com/Faultbox/midgard-globe/internal/provider/ellipsoid"
	"github.com/Faultbox/midgard-globe/internal/provider/mbtiles"
	"github.com/Faultbox/midgard-globe/internal/tilepack"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "pack":
		cmdPack(args)
	case "synth":
		cmdSynth(args)
	case "info":
		cmdInfo(args)
	case "verify", "check":
		cmdVerify(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`tilepack - quantized-mesh terrain archive utility

Usage:
  tilepack <command> [options]

Commands:
  pack <dir> <out.mbtiles>            Pack a layer.json tile directory
  synth [-grid N] <out.mbtiles> <lvl> Generate ellipsoid terrain down to a level
  info <file.mbtiles>                 Show archive metadata
  verify <file.mbtiles>               Decode every available tile

Examples:
  tilepack pack ./terrain world.mbtiles
  tilepack synth -grid 33 ellipsoid.mbtiles 6
  tilepack info world.mbtiles`)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func openStore(path string) *mbtiles.Store {
	store, err := mbtiles.Open(path)
	if err != nil {
		fail(err)
	}
	return store
}

func cmdPack(args []string) {
	fs := flag.NewFlagSet("pack", flag.ExitOnError)
	verbose := fs.Bool("v", false, "Log progress")
	fs.Parse(args)

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: tilepack pack <dir> <out.mbtiles>")
		os.Exit(1)
	}
	if *verbose {
		_ = logger.Init(logger.DefaultOptions(""))
		defer logger.Sync()
	}

	store := openStore(fs.Arg(1))
	defer store.Close()

	sum, err := tilepack.Pack(context.Background(), fs.Arg(0), store)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Packed %d tiles (levels %d-%d) into %s\n", sum.Tiles, sum.MinLevel, sum.MaxLevel, fs.Arg(1))
	for _, s := range sum.Skipped {
		fmt.Fprintf(os.Stderr, "skipped %s\n", s)
	}
}

func cmdSynth(args []string) {
	fs := flag.NewFlagSet("synth", flag.ExitOnError)
	grid := fs.Int("grid", ellipsoid.DefaultOptions().GridSize, "Vertices along each tile edge")
	fs.Parse(args)

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: tilepack synth [-grid N] <out.mbtiles> <level>")
		os.Exit(1)
	}
	level, err := strconv.Atoi(fs.Arg(1))
	if err != nil {
		fail(fmt.Errorf("level %q: %w", fs.Arg(1), err))
	}
	if *grid < 2 {
		fail(fmt.Errorf("grid size %d is below 2", *grid))
	}

	store := openStore(fs.Arg(0))
	defer store.Close()

	p := ellipsoid.New(ellipsoid.Options{MaxLevel: max(level, ellipsoid.DefaultOptions().MaxLevel), GridSize: *grid})
	sum, err := tilepack.Synth(context.Background(), p, level, store)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Generated %d tiles (levels 0-%d) into %s\n", sum.Tiles, sum.MaxLevel, fs.Arg(0))
}

func cmdInfo(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: tilepack info <file.mbtiles>")
		os.Exit(1)
	}
	if _, err := os.Stat(args[0]); err != nil {
		fail(err)
	}

	store := openStore(args[0])
	defer store.Close()

	info, err := tilepack.Inspect(context.Background(), store)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Archive: %s\n", args[0])
	fmt.Printf("Tiles:   %d\n", info.Tiles)
	fmt.Println()
	fmt.Println("Metadata:")
	for _, kv := range info.Metadata {
		if kv[0] == mbtiles.MetaLayer {
			fmt.Printf("  %-10s (%d bytes)\n", kv[0], len(kv[1]))
			continue
		}
		fmt.Printf("  %-10s %s\n", kv[0], kv[1])
	}
}

func cmdVerify(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: tilepack verify <file.mbtiles>")
		os.Exit(1)
	}
	if _, err := os.Stat(args[0]); err != nil {
		fail(err)
	}

	store := openStore(args[0])
	defer store.Close()

	n, err := tilepack.Verify(context.Background(), store)
	if err != nil {
		fail(err)
	}
	fmt.Printf("%d tiles decoded\n", n)
}
