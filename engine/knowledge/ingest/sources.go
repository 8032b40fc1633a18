package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"

	"github.com/pagewise/pagewise/engine/knowledge"
	"github.com/pagewise/pagewise/pkg/logger"
)

const MaxDocumentSizeBytes = 16 * 1024 * 1024

var pdfExtractor = extractPDF

// FileIDFromBytes derives a file id from content, for callers that have no
// stable id of their own.
func FileIDFromBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ExpandPaths resolves each argument as a doublestar glob and returns the
// matching regular files, sorted and without duplicates. Arguments without
// glob syntax must name an existing file.
func ExpandPaths(ctx context.Context, patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, raw := range patterns {
		pattern := strings.TrimSpace(raw)
		if pattern == "" {
			continue
		}
		matches, err := doublestar.FilepathGlob(filepath.Clean(pattern), doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("ingest: glob %q failed: %w", pattern, err)
		}
		if len(matches) == 0 {
			if !hasGlobMeta(pattern) {
				return nil, fmt.Errorf("ingest: file %q does not exist", pattern)
			}
			logger.FromContext(ctx).Warn("Ingestion glob returned no files", "pattern", pattern)
			continue
		}
		for _, m := range matches {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	slices.Sort(out)
	return out, nil
}

func hasGlobMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

// LoadFile reads a text or PDF file into a Document. When fileID is empty the
// sha256 of the raw bytes is used.
func LoadFile(ctx context.Context, path, fileID string) (Document, error) {
	data, err := readLimited(path)
	if err != nil {
		return Document{}, err
	}
	if fileID == "" {
		fileID = FileIDFromBytes(data)
	}
	mime := mimetype.Detect(data)
	var text string
	switch {
	case mime.Is("application/pdf"):
		text, err = pdfExtractor(ctx, path)
		if err != nil {
			return Document{}, fmt.Errorf("ingest: extract pdf %q: %w", path, err)
		}
	case isTextMIME(mime):
		text, err = decodeText(data, mime.String())
		if err != nil {
			return Document{}, fmt.Errorf("ingest: decode %q: %w", path, err)
		}
	default:
		return Document{}, knowledge.Invalid("load", "file %q has unsupported content type %s", path, mime.String())
	}
	logger.FromContext(ctx).Debug(
		"Document loaded",
		"path", path,
		"file_id", fileID,
		"content_type", mime.String(),
		"bytes", len(data),
	)
	return Document{FileID: fileID, Text: strings.TrimSpace(normalizeText(text))}, nil
}

func readLimited(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: open %q: %w", path, err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("ingest: stat %q: %w", path, err)
	}
	if info.Size() > MaxDocumentSizeBytes {
		return nil, knowledge.Invalid("load", "file %q exceeds maximum size of %d bytes", path, MaxDocumentSizeBytes)
	}
	data, err := io.ReadAll(io.LimitReader(file, MaxDocumentSizeBytes+1))
	if err != nil {
		return nil, fmt.Errorf("ingest: read %q: %w", path, err)
	}
	if len(data) > MaxDocumentSizeBytes {
		return nil, knowledge.Invalid(
			"load",
			"file %q changed while reading and exceeded %d bytes",
			path,
			MaxDocumentSizeBytes,
		)
	}
	return data, nil
}

func isTextMIME(mime *mimetype.MIME) bool {
	for m := mime; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

func decodeText(data []byte, contentType string) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	enc, name, _ := charset.DetermineEncoding(data, contentType)
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), enc.NewDecoder()))
	if err != nil {
		return "", fmt.Errorf("transcode from %s: %w", name, err)
	}
	if !utf8.Valid(decoded) {
		return "", errors.New("transcoded result invalid utf-8")
	}
	return string(decoded), nil
}

func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

func extractPDF(_ context.Context, path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	if _, err := io.Copy(&buf, io.LimitReader(plain, MaxDocumentSizeBytes)); err != nil {
		return "", err
	}
	return buf.String(), nil
}
