package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// LegacyTableDatasets are earlier table names still accepted by report
// consumers, in lookup order after the canonical one.
var LegacyTableDatasets = []string{"nasdaq100_pe_peg", "stock_pe_peg"}

// Locate returns the first existing CSV table for runDate in dir, trying
// datasets in order. With no datasets it tries DefaultTableDataset followed
// by LegacyTableDatasets.
func Locate(fsys afero.Fs, dir string, runDate time.Time, datasets ...string) (string, error) {
	if len(datasets) == 0 {
		datasets = append([]string{DefaultTableDataset}, LegacyTableDatasets...)
	}
	for _, ds := range datasets {
		path := filepath.Join(dir, TableFileName(ds, runDate, FormatCSV))
		ok, err := afero.Exists(fsys, path)
		if err != nil {
			return "", err
		}
		if ok {
			return path, nil
		}
	}
	return "", fmt.Errorf("no table for %s in %s: %w", runDate.Format(DateLayout), dir, os.ErrNotExist)
}
