package crazyflie

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/roman-kulish/lightseeker/internal/crtp"
)

const (
	tocChannel crtp.Channel = 0

	tocCmdItem byte = 0x02
	tocCmdInfo byte = 0x03
)

// TOCEntry describes one log variable or parameter exposed by the firmware
type TOCEntry struct {
	ID    uint16 `json:"id"`
	Type  uint8  `json:"type"`
	Group string `json:"group"`
	Name  string `json:"name"`
}

// FullName returns "group.name"
func (e TOCEntry) FullName() string {
	return e.Group + "." + e.Name
}

// TOC is a firmware table of contents
type TOC struct {
	CRC     uint32     `json:"crc"`
	Entries []TOCEntry `json:"entries"`

	byName map[string]TOCEntry
}

func newTOC(crc uint32, entries []TOCEntry) *TOC {
	t := TOC{CRC: crc, Entries: entries}
	t.index()
	return &t
}

func (t *TOC) index() {
	sort.Slice(t.Entries, func(i, j int) bool { return t.Entries[i].ID < t.Entries[j].ID })

	t.byName = make(map[string]TOCEntry, len(t.Entries))
	for _, e := range t.Entries {
		t.byName[e.FullName()] = e
	}
}

// Lookup finds an entry by its "group.name"
func (t *TOC) Lookup(name string) (TOCEntry, error) {
	e, ok := t.byName[name]
	if !ok {
		return TOCEntry{}, fmt.Errorf("%w: %s", ErrUnknownVariable, name)
	}
	return e, nil
}

// Len returns the number of entries
func (t *TOC) Len() int {
	return len(t.Entries)
}

func (cf *Crazyflie) fetchTOC(ctx context.Context, port crtp.Port) (*TOC, error) {
	resp, err := cf.request(ctx, crtp.NewPacket(port, tocChannel, tocCmdInfo), 1)
	if err != nil {
		return nil, fmt.Errorf("requesting TOC info: %w", err)
	}
	if len(resp.Data) < 7 {
		return nil, NewProtocolError(port, "short TOC info response: %d bytes", len(resp.Data))
	}

	count := binary.LittleEndian.Uint16(resp.Data[1:3])
	crc := binary.LittleEndian.Uint32(resp.Data[3:7])

	if toc, ok := cf.loadCachedTOC(port, crc); ok {
		cf.logger.Debug("using cached TOC", slog.String("port", port.String()), slog.Int("entries", toc.Len()))
		return toc, nil
	}

	entries := make([]TOCEntry, 0, count)
	for id := uint16(0); id < count; id++ {
		req := crtp.NewPacket(port, tocChannel, tocCmdItem, byte(id), byte(id>>8))

		resp, err = cf.request(ctx, req, 3)
		if err != nil {
			return nil, fmt.Errorf("requesting TOC item %d: %w", id, err)
		}

		entry, err := parseTOCItem(port, resp.Data)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	toc := newTOC(crc, entries)
	cf.storeCachedTOC(port, toc)

	return toc, nil
}

// parseTOCItem decodes [cmd, id lo, id hi, type, group\0, name\0]
func parseTOCItem(port crtp.Port, data []byte) (TOCEntry, error) {
	if len(data) < 6 {
		return TOCEntry{}, NewProtocolError(port, "short TOC item response: %d bytes", len(data))
	}

	parts := bytes.SplitN(data[4:], []byte{0}, 3)
	if len(parts) < 2 {
		return TOCEntry{}, NewProtocolError(port, "malformed TOC item name")
	}

	return TOCEntry{
		ID:    binary.LittleEndian.Uint16(data[1:3]),
		Type:  data[3],
		Group: string(parts[0]),
		Name:  string(parts[1]),
	}, nil
}

func (cf *Crazyflie) cachePath(port crtp.Port, crc uint32) string {
	return filepath.Join(cf.cacheDir, fmt.Sprintf("%s-%08X.json", port, crc))
}

func (cf *Crazyflie) loadCachedTOC(port crtp.Port, crc uint32) (*TOC, bool) {
	if cf.cacheDir == "" {
		return nil, false
	}

	p, err := os.ReadFile(cf.cachePath(port, crc))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			cf.logger.Warn(fmt.Sprintf("reading TOC cache: %s", err.Error()))
		}
		return nil, false
	}

	var toc TOC
	if err = json.Unmarshal(p, &toc); err != nil || toc.CRC != crc {
		cf.logger.Warn("ignoring corrupt TOC cache", slog.String("port", port.String()))
		return nil, false
	}

	toc.index()
	return &toc, true
}

func (cf *Crazyflie) storeCachedTOC(port crtp.Port, toc *TOC) {
	if cf.cacheDir == "" {
		return
	}

	p, err := json.Marshal(toc)
	if err != nil {
		cf.logger.Warn(fmt.Sprintf("marshaling TOC cache: %s", err.Error()))
		return
	}

	if err = os.MkdirAll(cf.cacheDir, 0o755); err != nil {
		cf.logger.Warn(fmt.Sprintf("creating TOC cache directory: %s", err.Error()))
		return
	}

	if err = os.WriteFile(cf.cachePath(port, toc.CRC), p, 0o644); err != nil {
		cf.logger.Warn(fmt.Sprintf("writing TOC cache: %s", err.Error()))
	}
}
