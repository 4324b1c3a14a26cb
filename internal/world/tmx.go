package world

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Tiled stores flip flags in the top bits of a gid.
const gidFlagMask = 0x0FFFFFFF

type tmxMap struct {
	XMLName  xml.Name     `xml:"map"`
	Width    int          `xml:"width,attr"`
	Height   int          `xml:"height,attr"`
	Tilesets []tmxTileset `xml:"tileset"`
	Layers   []tmxLayer   `xml:"layer"`
}

type tmxTileset struct {
	FirstGID int `xml:"firstgid,attr"`
}

type tmxLayer struct {
	Name string  `xml:"name,attr"`
	Data tmxData `xml:"data"`
}

type tmxData struct {
	Encoding    string    `xml:"encoding,attr"`
	Compression string    `xml:"compression,attr"`
	Text        string    `xml:",chardata"`
	Tiles       []tmxTile `xml:"tile"`
}

type tmxTile struct {
	GID uint32 `xml:"gid,attr"`
}

// ParseTMX reads a Tiled map. The first tile layer becomes the ground layer
// and the second the decal layer.
func ParseTMX(r io.Reader) ([][]Tile, [][]*Tile, error) {
	var m tmxMap
	if err := xml.NewDecoder(r).Decode(&m); err != nil {
		return nil, nil, fmt.Errorf("decode tmx: %w", err)
	}
	if m.Width <= 0 || m.Height <= 0 {
		return nil, nil, fmt.Errorf("tmx: invalid size %dx%d", m.Width, m.Height)
	}
	if len(m.Layers) < 2 {
		return nil, nil, fmt.Errorf("tmx: need ground and decal layers, got %d", len(m.Layers))
	}

	firstGIDs := make([]int, 0, len(m.Tilesets))
	for _, ts := range m.Tilesets {
		firstGIDs = append(firstGIDs, ts.FirstGID)
	}
	sort.Ints(firstGIDs)

	groundGIDs, err := layerGIDs(m.Layers[0].Data, m.Width*m.Height)
	if err != nil {
		return nil, nil, fmt.Errorf("layer %q: %w", m.Layers[0].Name, err)
	}
	decalGIDs, err := layerGIDs(m.Layers[1].Data, m.Width*m.Height)
	if err != nil {
		return nil, nil, fmt.Errorf("layer %q: %w", m.Layers[1].Name, err)
	}

	ground := make([][]Tile, m.Height)
	decal := make([][]*Tile, m.Height)
	for row := 0; row < m.Height; row++ {
		ground[row] = make([]Tile, m.Width)
		decal[row] = make([]*Tile, m.Width)
		for col := 0; col < m.Width; col++ {
			i := row*m.Width + col
			if t, ok := resolveTile(groundGIDs[i], firstGIDs); ok {
				ground[row][col] = t
			}
			if t, ok := resolveTile(decalGIDs[i], firstGIDs); ok {
				decal[row][col] = &t
			}
		}
	}
	return ground, decal, nil
}

func resolveTile(raw uint32, firstGIDs []int) (Tile, bool) {
	gid := int(raw & gidFlagMask)
	if gid == 0 {
		return Tile{}, false
	}
	first := 1
	for _, f := range firstGIDs {
		if f > gid {
			break
		}
		first = f
	}
	return Tile{ID: gid - first, GID: gid}, true
}

func layerGIDs(d tmxData, want int) ([]uint32, error) {
	var gids []uint32
	switch d.Encoding {
	case "csv":
		for _, field := range strings.Split(d.Text, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			v, err := strconv.ParseUint(field, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("csv gid %q: %w", field, err)
			}
			gids = append(gids, uint32(v))
		}
	case "base64":
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(d.Text))
		if err != nil {
			return nil, fmt.Errorf("base64: %w", err)
		}
		raw, err = decompress(raw, d.Compression)
		if err != nil {
			return nil, err
		}
		if len(raw)%4 != 0 {
			return nil, fmt.Errorf("base64 payload length %d not a multiple of 4", len(raw))
		}
		for i := 0; i < len(raw); i += 4 {
			gids = append(gids, binary.LittleEndian.Uint32(raw[i:]))
		}
	case "":
		for _, t := range d.Tiles {
			gids = append(gids, t.GID)
		}
	default:
		return nil, fmt.Errorf("unsupported encoding %q", d.Encoding)
	}

	if len(gids) != want {
		return nil, fmt.Errorf("got %d tiles, want %d", len(gids), want)
	}
	return gids, nil
}

func decompress(raw []byte, compression string) ([]byte, error) {
	var (
		rc  io.ReadCloser
		err error
	)
	switch compression {
	case "":
		return raw, nil
	case "zlib":
		rc, err = zlib.NewReader(bytes.NewReader(raw))
	case "gzip":
		rc, err = gzip.NewReader(bytes.NewReader(raw))
	default:
		return nil, fmt.Errorf("unsupported compression %q", compression)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", compression, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
