package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/jaennil/guide_helper/backend/tilecache/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
	"github.com/spf13/cobra"
)

type InspectResult struct {
	Path     string            `json:"path"`
	Metadata map[string]string `json:"metadata"`
	Tiles    int64             `json:"tiles"`
	Images   int64             `json:"images"`
	Tile     *TileResult       `json:"tile,omitempty"`
}

type TileResult struct {
	Address string `json:"address"`
	Found   bool   `json:"found"`
	Size    int    `json:"size,omitempty"`
}

func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	var tileFlag string

	cmd := &cobra.Command{
		Use:   "inspect <file.mbtiles>",
		Short: "Print metadata and counters of an MBTiles file",
		Long: `Print the metadata table and tile counts of an existing MBTiles file.

With --tile z/x/y the file is also looked up for that tile (XYZ addressing).`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, args[0], tileFlag, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&tileFlag, "tile", "", "look up a single tile, e.g. 14/9876/5432")

	return cmd
}

func runInspect(opts *RootOptions, path, tileFlag string, w io.Writer) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("cannot inspect %s: %w", path, err)
	}

	var addr *tile.Address
	if tileFlag != "" {
		a, err := parseAddress(tileFlag)
		if err != nil {
			return err
		}
		addr = &a
	}

	store, err := cache.OpenMBTilesReadOnly(path, logger.NewNoop())
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()

	meta, err := store.Metadata(ctx)
	if err != nil {
		return err
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}

	result := InspectResult{
		Path:     path,
		Metadata: meta,
		Tiles:    stats.Tiles,
		Images:   stats.Images,
	}

	if addr != nil {
		data, ok, err := store.Get(ctx, *addr)
		if err != nil {
			return err
		}
		result.Tile = &TileResult{Address: addr.String(), Found: ok, Size: len(data)}
	}

	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	writeInspectText(w, result)
	return nil
}

func writeInspectText(w io.Writer, r InspectResult) {
	fmt.Fprintf(w, "file:   %s\n", r.Path)
	fmt.Fprintf(w, "tiles:  %d\n", r.Tiles)
	fmt.Fprintf(w, "images: %d\n", r.Images)

	keys := make([]string, 0, len(r.Metadata))
	for k := range r.Metadata {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	fmt.Fprintln(w, "metadata:")
	for _, k := range keys {
		fmt.Fprintf(w, "  %s = %s\n", k, r.Metadata[k])
	}

	if r.Tile != nil {
		if r.Tile.Found {
			fmt.Fprintf(w, "tile %s: %d bytes\n", r.Tile.Address, r.Tile.Size)
		} else {
			fmt.Fprintf(w, "tile %s: not found\n", r.Tile.Address)
		}
	}
}

func parseAddress(s string) (tile.Address, error) {
	var z, x, y uint32
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return tile.Address{}, fmt.Errorf("invalid tile %q: expected z/x/y", s)
	}
	if _, err := fmt.Sscanf(s, "%d/%d/%d", &z, &x, &y); err != nil {
		return tile.Address{}, fmt.Errorf("invalid tile %q: %w", s, err)
	}

	addr := tile.NewAddress(z, x, y)
	if !addr.Valid() {
		return tile.Address{}, fmt.Errorf("invalid tile %q: outside of the zoom level grid", s)
	}

	return addr, nil
}
