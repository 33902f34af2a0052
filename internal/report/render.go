package report

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"gopkg.in/yaml.v3"
)

// Format is the text encoding of a rendered report.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Compression wraps the rendered text.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionXZ   Compression = "xz"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json", "":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported report format %q (json, yaml)", s)
	}
}

// ParseCompression validates a compression name.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return CompressionNone, nil
	case "zstd", "zst":
		return CompressionZstd, nil
	case "xz":
		return CompressionXZ, nil
	default:
		return "", fmt.Errorf("unsupported report compression %q (none, zstd, xz)", s)
	}
}

// FromPath infers format and compression from an output file name such as
// "enums.yaml.zst". ok is false when the name carries no format extension.
func FromPath(path string) (format Format, compression Compression, ok bool) {
	name := strings.ToLower(filepath.Base(path))
	compression = CompressionNone
	switch {
	case strings.HasSuffix(name, ".zst"):
		compression = CompressionZstd
		name = strings.TrimSuffix(name, ".zst")
	case strings.HasSuffix(name, ".xz"):
		compression = CompressionXZ
		name = strings.TrimSuffix(name, ".xz")
	}
	switch filepath.Ext(name) {
	case ".json":
		return FormatJSON, compression, true
	case ".yaml", ".yml":
		return FormatYAML, compression, true
	}
	return FormatJSON, compression, false
}

// Write renders r to w.
func Write(w io.Writer, r *Report, format Format, compression Compression) error {
	switch compression {
	case CompressionNone, "":
		return encode(w, r, format)
	case CompressionZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("creating zstd writer: %w", err)
		}
		if err := encode(zw, r, format); err != nil {
			_ = zw.Close()
			return err
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("closing zstd writer: %w", err)
		}
		return nil
	case CompressionXZ:
		xw, err := xz.NewWriter(w)
		if err != nil {
			return fmt.Errorf("creating xz writer: %w", err)
		}
		if err := encode(xw, r, format); err != nil {
			_ = xw.Close()
			return err
		}
		if err := xw.Close(); err != nil {
			return fmt.Errorf("closing xz writer: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported report compression %q", compression)
	}
}

func encode(w io.Writer, r *Report, format Format) error {
	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encoding report as json: %w", err)
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encoding report as yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encoding report as yaml: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}
}
