package persist

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/spf13/afero"

	"pegcrawler/internal/aggregate"
	"pegcrawler/internal/normalize"
	"pegcrawler/internal/snapshot"
)

// Format selects the table encoding.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// DateLayout is the date used in file names and the table's date column.
const DateLayout = "2006-01-02"

// Default dataset names.
const (
	DefaultTableDataset   = "nasdaq100_real_data"
	DefaultArchiveDataset = "nasdaq100_real"
)

// utf8BOM lets spreadsheet tools detect UTF-8 in non-ASCII company names.
const utf8BOM = "\ufeff"

// ErrFatal marks an artifact that could not be written at all.
var ErrFatal = errors.New("persistence failed")

// Labels selects the CSV header language.
type Labels string

const (
	// LabelsKorean is the header the report consumer reads columns by.
	LabelsKorean  Labels = "ko"
	LabelsEnglish Labels = "en"
)

// headers holds the fixed column order of the table per label set.
var headers = map[Labels][]string{
	LabelsKorean:  {"날짜", "종목명", "티커", "산업군", "현재가격", "Trailing P/E", "Forward P/E", "PEG Ratio"},
	LabelsEnglish: {"Date", "Company", "Ticker", "Industry", "Price", "Trailing P/E", "Forward P/E", "PEG Ratio"},
}

// Header returns the CSV header for labels.
func Header(labels Labels) []string {
	return slices.Clone(headers[labels])
}

// ParseLabels converts a config string into Labels. Empty means Korean.
func ParseLabels(s string) (Labels, error) {
	switch l := Labels(strings.ToLower(strings.TrimSpace(s))); l {
	case LabelsKorean, LabelsEnglish:
		return l, nil
	case "":
		return LabelsKorean, nil
	default:
		return "", fmt.Errorf("unsupported table labels %q (ko, en)", s)
	}
}

// ParseFormat converts a config string into a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatParquet:
		return f, nil
	case "":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported table format %q (csv, parquet)", s)
	}
}

// Options configures a Writer.
type Options struct {
	Dir            string
	TableDataset   string
	ArchiveDataset string
	Format         Format
	Labels         Labels
	Logger         *slog.Logger
}

// Paths reports where each artifact went.
type Paths struct {
	Table          string
	Archive        string
	TableSkipped   bool
	ArchiveSkipped bool
	// TableRenamed is set when the canonical table path was not writable
	// and the alternate name was used.
	TableRenamed bool
}

// Writer persists a RunResult as a table and a raw snapshot archive.
type Writer struct {
	fs             afero.Fs
	dir            string
	tableDataset   string
	archiveDataset string
	format         Format
	labels         Labels
	logger         *slog.Logger
	suffix         func() int
}

// NewWriter creates a Writer on fsys.
func NewWriter(fsys afero.Fs, opts Options) (*Writer, error) {
	if fsys == nil {
		return nil, errors.New("filesystem is required")
	}
	format, err := ParseFormat(string(opts.Format))
	if err != nil {
		return nil, err
	}
	labels, err := ParseLabels(string(opts.Labels))
	if err != nil {
		return nil, err
	}
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.TableDataset == "" {
		opts.TableDataset = DefaultTableDataset
	}
	if opts.ArchiveDataset == "" {
		opts.ArchiveDataset = DefaultArchiveDataset
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Writer{
		fs:             fsys,
		dir:            opts.Dir,
		tableDataset:   opts.TableDataset,
		archiveDataset: opts.ArchiveDataset,
		format:         format,
		labels:         labels,
		logger:         opts.Logger,
		suffix:         func() int { return 1000 + rand.IntN(9000) },
	}, nil
}

// TablePath returns the canonical table path for runDate.
func (w *Writer) TablePath(runDate time.Time) string {
	return filepath.Join(w.dir, TableFileName(w.tableDataset, runDate, w.format))
}

// ArchivePath returns the archive path for runDate.
func (w *Writer) ArchivePath(runDate time.Time) string {
	name := fmt.Sprintf("%s_unified_%s.json", w.archiveDataset, runDate.Format(DateLayout))
	return filepath.Join(w.dir, name)
}

// TableFileName returns "<dataset>_<YYYY-MM-DD>.<ext>".
func TableFileName(dataset string, runDate time.Time, format Format) string {
	return fmt.Sprintf("%s_%s.%s", dataset, runDate.Format(DateLayout), format)
}

// Write persists both artifacts. An empty record set or archive is skipped
// and reported in Paths, not treated as an error. A failure on one artifact
// does not stop the other; errors are joined and wrap ErrFatal.
func (w *Writer) Write(result *aggregate.RunResult, runDate time.Time) (Paths, error) {
	var paths Paths
	if err := w.fs.MkdirAll(w.dir, 0o755); err != nil {
		return paths, fmt.Errorf("%w: create output directory %s: %w", ErrFatal, w.dir, err)
	}

	var errs []error
	if err := w.writeTable(&paths, result.Records(), runDate); err != nil {
		errs = append(errs, err)
	}
	if err := w.writeArchive(&paths, result.Archive(), runDate); err != nil {
		errs = append(errs, err)
	}
	return paths, errors.Join(errs...)
}

func (w *Writer) writeTable(paths *Paths, records []normalize.Record, runDate time.Time) error {
	if len(records) == 0 {
		paths.TableSkipped = true
		w.logger.Warn("no records collected, table not written")
		return nil
	}

	data, err := w.encodeTable(records)
	if err != nil {
		return fmt.Errorf("%w: encode table: %w", ErrFatal, err)
	}

	path := w.TablePath(runDate)
	err = w.writeFile(path, data)
	if errors.Is(err, fs.ErrPermission) {
		alt := w.alternatePath(path)
		w.logger.Warn("table path not writable, using alternate name",
			"path", path,
			"alternate", alt,
			"error", err)
		paths.TableRenamed = true
		path, err = alt, w.writeFile(alt, data)
	}
	if err != nil {
		return fmt.Errorf("%w: write table %s: %w", ErrFatal, path, err)
	}

	paths.Table = path
	w.logger.Info("table written", "path", path, "rows", len(records), "format", w.format)
	return nil
}

// alternatePath inserts a random four-digit suffix before the extension.
func (w *Writer) alternatePath(path string) string {
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(path, ext), w.suffix(), ext)
}

func (w *Writer) writeArchive(paths *Paths, archive map[string]snapshot.Raw, runDate time.Time) error {
	if len(archive) == 0 {
		paths.ArchiveSkipped = true
		w.logger.Warn("no snapshots fetched, archive not written")
		return nil
	}

	clean := make(map[string]any, len(archive))
	for ticker, raw := range archive {
		clean[ticker] = finite(map[string]any(raw))
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	// Map keys are emitted sorted, so ticker and field order are stable.
	if err := enc.Encode(clean); err != nil {
		return fmt.Errorf("%w: encode archive: %w", ErrFatal, err)
	}

	path := w.ArchivePath(runDate)
	if err := w.writeFile(path, buf.Bytes()); err != nil {
		return fmt.Errorf("%w: write archive %s: %w", ErrFatal, path, err)
	}

	paths.Archive = path
	w.logger.Info("archive written", "path", path, "tickers", len(archive))
	return nil
}

// finite returns v with NaN and infinite floats replaced by nil, recursing
// into nested objects and lists. encoding/json rejects non-finite numbers.
func finite(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case float32:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil
		}
		return x
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = finite(e)
		}
		return out
	case snapshot.Raw:
		return finite(map[string]any(x))
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = finite(e)
		}
		return out
	default:
		return v
	}
}

func (w *Writer) writeFile(path string, data []byte) error {
	f, err := w.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (w *Writer) encodeTable(records []normalize.Record) ([]byte, error) {
	switch w.format {
	case FormatParquet:
		return encodeParquet(records)
	default:
		return encodeCSV(records, headers[w.labels])
	}
}

func encodeCSV(records []normalize.Record, header []string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(utf8BOM)

	cw := csv.NewWriter(&buf)
	if err := cw.Write(header); err != nil {
		return nil, err
	}
	for _, r := range records {
		if err := cw.Write([]string{
			r.RunDate.Format(DateLayout),
			r.CompanyName,
			r.Ticker,
			r.Industry,
			floatStr(r.CurrentPrice),
			floatStr(r.TrailingPE),
			floatStr(r.ForwardPE),
			floatStr(r.PEGRatio),
		}); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	return buf.Bytes(), cw.Error()
}

// floatStr renders an optional value; absent values are empty cells.
func floatStr(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

// TableRow is the parquet row layout, in table column order.
type TableRow struct {
	Date       string   `parquet:"date"`
	Company    string   `parquet:"company"`
	Ticker     string   `parquet:"ticker"`
	Industry   string   `parquet:"industry"`
	Price      *float64 `parquet:"price,optional"`
	TrailingPE *float64 `parquet:"trailing_pe,optional"`
	ForwardPE  *float64 `parquet:"forward_pe,optional"`
	PEGRatio   *float64 `parquet:"peg_ratio,optional"`
}

func encodeParquet(records []normalize.Record) ([]byte, error) {
	rows := make([]TableRow, len(records))
	for i, r := range records {
		rows[i] = TableRow{
			Date:       r.RunDate.Format(DateLayout),
			Company:    r.CompanyName,
			Ticker:     r.Ticker,
			Industry:   r.Industry,
			Price:      r.CurrentPrice,
			TrailingPE: r.TrailingPE,
			ForwardPE:  r.ForwardPE,
			PEGRatio:   r.PEGRatio,
		}
	}
	var buf bytes.Buffer
	if err := parquet.Write(&buf, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
