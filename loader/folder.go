package loader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gigapi/gigapi-ingestwatch/core"
	"github.com/gigapi/gigapi-ingestwatch/records"
	"github.com/spf13/afero"
)

// DayFolder reads listings from a directory holding files.json and files_last_weekday.json
type DayFolder struct {
	Fs  afero.Fs
	Dir string
}

// NewDayFolder returns a DayFolder on the OS filesystem
func NewDayFolder(dir string) *DayFolder {
	return &DayFolder{Fs: afero.NewOsFs(), Dir: dir}
}

func (d *DayFolder) Today(ctx context.Context, sourceID string) ([]records.FileRecord, error) {
	return d.read(ctx, TodayListing, sourceID)
}

func (d *DayFolder) LastWeekday(ctx context.Context, sourceID string) ([]records.FileRecord, error) {
	return d.read(ctx, LastWeekdayListing, sourceID)
}

// Sources lists the source ids present in either listing
func (d *DayFolder) Sources(ctx context.Context) ([]string, error) {
	today, err := d.decode(ctx, TodayListing)
	if err != nil {
		return nil, err
	}
	last, err := d.decode(ctx, LastWeekdayListing)
	if err != nil {
		return nil, err
	}
	return SourceIDs(today, last), nil
}

func (d *DayFolder) read(ctx context.Context, name, sourceID string) ([]records.FileRecord, error) {
	all, err := d.decode(ctx, name)
	if err != nil {
		return nil, err
	}
	recs := all[sourceID]
	core.Debugf(ctx, "Loaded %d records for source %s from %s", len(recs), sourceID, name)
	return recs, nil
}

func (d *DayFolder) decode(ctx context.Context, name string) (map[string][]records.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := filepath.Join(d.Dir, name)
	f, err := openFile(d.Fs, p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	res, err := DecodeListing(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return res, nil
}

// DocFolder reads <source_id>_native.md documents from a directory
type DocFolder struct {
	Fs  afero.Fs
	Dir string
}

// NewDocFolder returns a DocFolder on the OS filesystem
func NewDocFolder(dir string) *DocFolder {
	return &DocFolder{Fs: afero.NewOsFs(), Dir: dir}
}

func (d *DocFolder) Documentation(ctx context.Context, sourceID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f, err := openFile(d.Fs, filepath.Join(d.Dir, DocName(sourceID)))
	if err != nil {
		return "", err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("failed to read documentation: %w", err)
	}
	return string(b), nil
}

func openFile(fs afero.Fs, p string) (afero.File, error) {
	f, err := fs.Open(p)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", core.ErrNotFound, p)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", p, err)
	}
	return f, nil
}
