// ABOUTME: Zone file regeneration: base template plus one A line per active host.
// ABOUTME: Writes atomically, then runs a bounded reload command for the external nameserver.

package radd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// defaultReloadTimeout bounds the external reload command so a hung
// nameserver cannot stall the update response indefinitely.
const defaultReloadTimeout = 5 * time.Second

// minZoneColumn is the name column width used when no records exist.
const minZoneColumn = 32

// ZoneWriter regenerates a zone file from the active record set after each
// successful update. The zone write and the record mutation are deliberately
// not transactional: a failed write or reload is reported, but the record
// stays committed.
type ZoneWriter struct {
	basePath      string
	zonePath      string
	reloadCmd     []string
	reloadTimeout time.Duration
}

// NewZoneWriter creates a writer that concatenates the base template at
// basePath with generated host lines and writes the result to zonePath.
// reloadCmd may be empty when no nameserver reload is wanted.
func NewZoneWriter(basePath, zonePath string, reloadCmd []string, reloadTimeout time.Duration) *ZoneWriter {
	if reloadTimeout <= 0 {
		reloadTimeout = defaultReloadTimeout
	}
	return &ZoneWriter{
		basePath:      basePath,
		zonePath:      zonePath,
		reloadCmd:     reloadCmd,
		reloadTimeout: reloadTimeout,
	}
}

// Sync regenerates the zone file for the given active records and signals the
// nameserver to reload. Records must already be sorted for deterministic
// output; Store.ActiveRecords guarantees that.
func (z *ZoneWriter) Sync(ctx context.Context, records []Record) error {
	body, err := z.render(records)
	if err != nil {
		return err
	}
	if err := z.writeAtomic(body); err != nil {
		return err
	}
	return z.signalReload(ctx)
}

func (z *ZoneWriter) render(records []Record) (string, error) {
	base, err := os.ReadFile(z.basePath)
	if err != nil {
		return "", fmt.Errorf("reading zone base %s: %w", z.basePath, err)
	}

	width := minZoneColumn
	for _, r := range records {
		if len(r.Name) > width {
			width = len(r.Name)
		}
	}

	var b strings.Builder
	b.Write(base)
	b.WriteString("\n; BEGIN radd dynamic hosts\n")
	for _, r := range records {
		fmt.Fprintf(&b, "%-*s    IN    A    %s\n", width, r.Name, r.IP)
	}
	return b.String(), nil
}

func (z *ZoneWriter) writeAtomic(body string) error {
	dir := filepath.Dir(z.zonePath)
	tmp, err := os.CreateTemp(dir, "radd-*.zone.tmp")
	if err != nil {
		return fmt.Errorf("creating temp zone file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp zone file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp zone file: %w", err)
	}
	if err := os.Rename(tmpName, z.zonePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp zone to %s: %w", z.zonePath, err)
	}

	zoneWriteCount.WithLabelValues("write").Inc()
	return nil
}

func (z *ZoneWriter) signalReload(ctx context.Context) error {
	if len(z.reloadCmd) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, z.reloadTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, z.reloadCmd[0], z.reloadCmd[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		zoneWriteCount.WithLabelValues("reload_error").Inc()
		return fmt.Errorf("reloading nameserver (%s): %w: %s", z.reloadCmd[0], err, strings.TrimSpace(string(out)))
	}
	zoneWriteCount.WithLabelValues("reload").Inc()
	return nil
}
