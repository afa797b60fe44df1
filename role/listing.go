package role

import (
	"os"
	"time"

	"github.com/gocarina/gocsv"
)

// dirEntryRow is one row of the CSV table a List request answers with.
type dirEntryRow struct {
	Name    string `csv:"name"`
	Size    int64  `csv:"size"`
	IsDir   bool   `csv:"is_dir"`
	ModTime string `csv:"mod_time"`
}

// marshalDirListing reads dir and CSV-encodes its entries.
func marshalDirListing(dir string) ([]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	rows := make([]*dirEntryRow, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		rows = append(rows, &dirEntryRow{
			Name:    e.Name(),
			Size:    info.Size(),
			IsDir:   e.IsDir(),
			ModTime: info.ModTime().UTC().Format(time.RFC3339),
		})
	}
	return gocsv.MarshalBytes(&rows)
}

// unmarshalDirListing decodes a CSV table produced by marshalDirListing.
func unmarshalDirListing(payload []byte) ([]dirEntryRow, error) {
	var rows []dirEntryRow
	if err := gocsv.UnmarshalBytes(payload, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
