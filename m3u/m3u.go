package m3u

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/charmap"
)

var (
	invalidPathChars = regexp.MustCompile(`[\\/:*?"<>|]`)
	leadingTrackNum  = regexp.MustCompile(`^\d+\s*[-_.]\s*`)
)

// Entry is one playable line of an m3u file, reduced to the fields the
// enrichment pipeline needs.
type Entry struct {
	Artist string
	Title  string
}

// ParseTrackLine splits a "Artist - Title" label on the first " - "
// only, so dashes inside the title survive. Lines without a separator
// keep the whole text as the title under an unknown artist.
func ParseTrackLine(text string) (artist, title string) {
	parts := strings.SplitN(text, " - ", 2)
	if len(parts) == 2 {
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	}
	return "Unknown", strings.TrimSpace(text)
}

// InferFromPath derives artist and title from a media file path. The
// filename loses its extension and any leading track number; when it
// carries no "Artist - Title" separator the artist falls back to the
// grandparent directory, the usual artist/album/track layout.
func InferFromPath(p string) (artist, title string) {
	parts := strings.Split(strings.ReplaceAll(p, "\\", "/"), "/")
	filename := parts[len(parts)-1]
	if dot := strings.LastIndex(filename, "."); dot > 0 {
		filename = filename[:dot]
	}
	clean := strings.TrimSpace(leadingTrackNum.ReplaceAllString(filename, ""))

	if strings.Contains(clean, " - ") {
		return ParseTrackLine(clean)
	}
	if len(parts) >= 3 {
		return parts[len(parts)-3], clean
	}
	return "Unknown Artist", clean
}

// ReadLines returns the playable lines of an m3u stream, skipping
// blanks and comments. Files that are not valid UTF-8 are re-decoded as
// Latin-1, the encoding legacy players wrote.
func ReadLines(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(data) {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return nil, err
		}
		data = decoded
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// Read parses an m3u stream into entries, treating each playable line
// as an "Artist - Title" label.
func Read(r io.Reader) ([]Entry, error) {
	lines, err := ReadLines(r)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(lines))
	for _, line := range lines {
		artist, title := ParseTrackLine(line)
		entries = append(entries, Entry{Artist: artist, Title: title})
	}
	return entries, nil
}

// ReadFile parses the m3u file at path.
func ReadFile(p string) ([]Entry, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Write emits an m3u document with the standard header.
func Write(w io.Writer, lines []string) error {
	if _, err := io.WriteString(w, "#EXTM3U\n"); err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile writes the lines to a uniquely named playlist file under
// dir, or the system temp directory when dir is empty, and returns the
// full path.
func WriteFile(dir string, lines []string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	p := filepath.Join(dir, fmt.Sprintf("suggest_%s.m3u", uuid.New().String()))

	f, err := os.Create(p)
	if err != nil {
		return "", err
	}
	if err := Write(f, lines); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return p, nil
}

// ProposedPath suggests where a missing track would live under the
// music library root, with filename-unsafe characters replaced.
func ProposedPath(root, artist, album, title string) string {
	return path.Join(
		root,
		sanitizeComponent(artist, "Unknown Artist"),
		sanitizeComponent(album, "Unknown Album"),
		sanitizeComponent(title, "Unknown Title")+".mp3",
	)
}

func sanitizeComponent(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	sanitized := invalidPathChars.ReplaceAllString(value, "_")
	if sanitized == "" {
		return fallback
	}
	return sanitized
}
