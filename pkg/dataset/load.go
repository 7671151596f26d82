package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const defaultS3MaxTries = 5

// LoaderConfig configures dataset ingestion.
type LoaderConfig struct {
	Logger  *slog.Logger
	Options Options

	// S3 is used for s3:// sources. When nil a client is built from S3Env on first use.
	S3       ObjectGetter
	S3Env    S3Config
	MaxTries uint
}

func (cfg *LoaderConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = defaultS3MaxTries
	}
	return nil
}

type Loader struct {
	log *slog.Logger
	cfg *LoaderConfig
}

func NewLoader(cfg *LoaderConfig) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Loader{log: cfg.Logger, cfg: cfg}, nil
}

// Load reads a dataset from a local path or s3:// URI. A local file that does not
// exist yields an empty dataset.
func (l *Loader) Load(ctx context.Context, source string) (*Dataset, error) {
	if source == "" {
		l.log.Warn("dataset: no source configured, using empty dataset")
		return Empty(), nil
	}

	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(source, "s3://") {
		client := l.cfg.S3
		if client == nil {
			client, err = NewS3Client(ctx, l.cfg.S3Env)
			if err != nil {
				return nil, err
			}
		}
		data, err = FetchS3(ctx, l.log, client, source, l.cfg.MaxTries)
		if err != nil {
			return nil, err
		}
	} else {
		data, err = os.ReadFile(source)
		if errors.Is(err, fs.ErrNotExist) {
			l.log.Warn("dataset: file not found, using empty dataset", "path", source)
			return Empty(), nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", source, err)
		}
	}

	ds, err := Read(source, bytes.NewReader(data), l.cfg.Options)
	if err != nil {
		return nil, err
	}
	l.log.Info("dataset: loaded", "source", source, "rows", ds.Len(), "columns", len(ds.Columns))
	return ds, nil
}

// Read parses r according to the extension of name.
func Read(name string, r io.Reader, opts Options) (*Dataset, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".csv", ".txt", "":
		return ReadCSV(r, opts)
	case ".xlsx", ".xlsm":
		return ReadXLSX(r, opts)
	default:
		return nil, fmt.Errorf("unsupported dataset format %q", ext)
	}
}
