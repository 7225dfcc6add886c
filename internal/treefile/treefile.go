// Package treefile persists generated trees so a model can be reused across
// runs. A tree file is a plain-text JSON header line followed by the
// gzip-compressed JSON tree. Plain JSON trees are accepted on read.
package treefile

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nvandessel/rulesim/internal/dagtree"
)

// Format version constants.
const (
	FormatJSON       = 1
	FormatCompressed = 2
)

// MaxDecompressedSize caps the decompressed payload (200MB).
const MaxDecompressedSize = 200 * 1024 * 1024

// ErrCorrupt reports a tree file whose contents fail verification.
var ErrCorrupt = errors.New("corrupt tree file")

// Header is the first line of a compressed tree file.
type Header struct {
	Version   int              `json:"version"`
	CreatedAt time.Time        `json:"created_at"`
	Checksum  string           `json:"checksum"`
	Topology  dagtree.Topology `json:"topology"`
	NodeCount int              `json:"node_count"`
	LeafCount int              `json:"leaf_count"`
}

// Write saves tree to path, creating parent directories.
func Write(path string, tree *dagtree.Tree) error {
	if err := dagtree.Validate(tree); err != nil {
		return err
	}

	payload, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("marshaling tree: %w", err)
	}

	var compressed bytes.Buffer
	gzw, err := gzip.NewWriterLevel(&compressed, gzip.DefaultCompression)
	if err != nil {
		return fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gzw.Write(payload); err != nil {
		return fmt.Errorf("compressing tree: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return fmt.Errorf("closing gzip writer: %w", err)
	}

	header := Header{
		Version:   FormatCompressed,
		CreatedAt: time.Now().UTC(),
		Checksum:  checksum(compressed.Bytes()),
		Topology:  tree.Topology,
		NodeCount: tree.Len(),
		LeafCount: tree.LeafCount(),
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshaling header: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	w.Write(headerBytes)
	w.WriteByte('\n')
	w.Write(compressed.Bytes())
	if err := w.Flush(); err != nil {
		return fmt.Errorf("writing tree file: %w", err)
	}
	return f.Close()
}

// Read loads and validates a tree from path.
func Read(path string) (*dagtree.Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	first, err := reader.ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading header line: %w", err)
	}

	var payload []byte
	header, herr := parseHeader(first)
	switch {
	case herr == nil:
		compressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("reading compressed payload: %w", err)
		}
		if got := checksum(compressed); got != header.Checksum {
			return nil, fmt.Errorf("%w: checksum mismatch: expected %s, got %s", ErrCorrupt, header.Checksum, got)
		}
		payload, err = decompress(compressed)
		if err != nil {
			return nil, err
		}
	case len(bytes.TrimSpace(first)) > 0 && bytes.TrimSpace(first)[0] == '{':
		rest, err := io.ReadAll(io.LimitReader(reader, MaxDecompressedSize))
		if err != nil {
			return nil, fmt.Errorf("reading tree: %w", err)
		}
		payload = append(first, rest...)
	default:
		return nil, fmt.Errorf("%w: unrecognized format", ErrCorrupt)
	}

	var tree dagtree.Tree
	if err := json.Unmarshal(payload, &tree); err != nil {
		return nil, fmt.Errorf("%w: parsing tree: %v", ErrCorrupt, err)
	}
	if err := dagtree.Validate(&tree); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return &tree, nil
}

// ReadHeader reads only the header line of a compressed tree file.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	first, err := bufio.NewReader(f).ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading header line: %w", err)
	}
	return parseHeader(first)
}

// DetectFormat reports whether path holds a compressed or plain JSON tree.
func DetectFormat(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	first, err := bufio.NewReader(f).ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("reading first line: %w", err)
	}
	if _, err := parseHeader(first); err == nil {
		return FormatCompressed, nil
	}
	if line := bytes.TrimSpace(first); len(line) > 0 && line[0] == '{' {
		return FormatJSON, nil
	}
	return 0, fmt.Errorf("%w: unrecognized format", ErrCorrupt)
}

func parseHeader(line []byte) (*Header, error) {
	var header Header
	if err := json.Unmarshal(bytes.TrimSpace(line), &header); err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}
	if header.Version != FormatCompressed {
		return nil, fmt.Errorf("expected format %d, got version %d", FormatCompressed, header.Version)
	}
	return &header, nil
}

func decompress(data []byte) ([]byte, error) {
	gzr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: creating gzip reader: %v", ErrCorrupt, err)
	}
	defer gzr.Close()

	out, err := io.ReadAll(io.LimitReader(gzr, MaxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: decompressing payload: %v", ErrCorrupt, err)
	}
	if int64(len(out)) > MaxDecompressedSize {
		return nil, fmt.Errorf("decompressed payload exceeds maximum size of %d bytes", MaxDecompressedSize)
	}
	return out, nil
}

func checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}
