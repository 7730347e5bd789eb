// zoneconv assembles legacy flat map text files into a zone YAML
// document. The input directory holds one <layer>.txt per layer (rows
// of glyphs, one row per line); ragged rows are padded to the widest
// row with the layer's blank glyph.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/thornvale/server/internal/store"
	"github.com/thornvale/server/internal/world"
)

// blankGlyph is what pads short rows, per layer.
var blankGlyph = map[world.LayerName]byte{
	world.LayerGround: '.',
}

func main() {
	if len(os.Args) < 4 {
		fmt.Fprintln(os.Stderr, "Usage: zoneconv <zone-name> <maps-dir> <output.yaml>")
		os.Exit(1)
	}
	zone, dir, outPath := os.Args[1], os.Args[2], os.Args[3]

	doc := &store.ZoneDoc{
		Zone:   zone,
		Layers: make(map[string]*store.LayerDoc),
	}
	for _, name := range world.Layers() {
		ld, err := readLayer(filepath.Join(dir, string(name)+".txt"), name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			os.Exit(1)
		}
		doc.Layers[string(name)] = ld
		fmt.Printf("  %s: %dx%d\n", name, ld.Width, ld.Height)
	}
	if len(doc.Layers) == 0 {
		fmt.Fprintf(os.Stderr, "no layer files found under %s\n", dir)
		os.Exit(1)
	}

	raw, err := yaml.Marshal(doc)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	header := fmt.Sprintf("# Zone %s, generated by zoneconv from %s\n", zone, dir)
	if err := os.WriteFile(outPath, append([]byte(header), raw...), 0o644); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %d layers to %s\n", len(doc.Layers), outPath)
}

func readLayer(path string, name world.LayerName) (*store.LayerDoc, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []string
	width := 0
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 1024*1024)
	scanner.Buffer(buf, len(buf))
	for scanner.Scan() {
		row := strings.TrimRight(scanner.Text(), "\r")
		rows = append(rows, row)
		if len(row) > width {
			width = len(row)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// Drop trailing empty lines, keep interior ones as blank rows.
	for len(rows) > 0 && rows[len(rows)-1] == "" {
		rows = rows[:len(rows)-1]
	}
	if len(rows) == 0 || width == 0 {
		return nil, fmt.Errorf("empty map file %s", path)
	}

	blank := blankGlyph[name]
	if blank == 0 {
		blank = ' '
	}
	for i, row := range rows {
		if len(row) < width {
			rows[i] = row + strings.Repeat(string(blank), width-len(row))
		}
	}

	return &store.LayerDoc{
		Width:  width,
		Height: len(rows),
		Map:    rows,
	}, nil
}
