// Package progress persists per-genre title/URL resolution state in a flat
// text file.
//
// The file is a sequence of genre blocks:
//
//	file  := block*
//	block := "GENRE=" name "\n" entry* "----" "\n"
//	entry := title "\n" | title "->" url "\n"
//
// A block ends at a line that is exactly "----". A title must be non-empty,
// must not contain "->" or a line break, and must not be "----" itself; see
// ValidTitle. The encoder does not check this.
package progress

import (
	"bytes"
	"fmt"
	"strings"
)

const (
	genrePrefix    = "GENRE="
	urlDelimiter   = "->"
	terminatorLine = "----"
)

// TitleEntry is one catalog title. URL is empty until the title is resolved.
type TitleEntry struct {
	Title string
	URL   string
}

func (e TitleEntry) Resolved() bool {
	return e.URL != ""
}

// GenreRecord is the ordered title list of one genre.
type GenreRecord struct {
	Genre   string
	Entries []TitleEntry
	// Sealed is false only for a trailing block whose terminator was never
	// written, which happens when a run dies while seeding that genre.
	Sealed bool
}

// Counts returns the number of entries and how many of them carry a URL.
func (r GenreRecord) Counts() (total, resolved int) {
	for _, e := range r.Entries {
		if e.Resolved() {
			resolved++
		}
	}
	return len(r.Entries), resolved
}

// SyntaxError reports a block that does not start with a GENRE= header.
type SyntaxError struct {
	Block int
	Line  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("progress block %d: expected %q header, got %q", e.Block, genrePrefix, e.Line)
}

func encodeHeader(genre string) string {
	return genrePrefix + genre + "\n"
}

func encodeEntry(e TitleEntry) string {
	if e.Resolved() {
		return e.Title + urlDelimiter + e.URL + "\n"
	}
	return e.Title + "\n"
}

// ValidTitle reports whether title can be stored and read back unchanged.
func ValidTitle(title string) bool {
	return title != "" &&
		title != terminatorLine &&
		!strings.Contains(title, urlDelimiter) &&
		!strings.ContainsAny(title, "\r\n")
}

// Encode serializes records. A trailing record with Sealed false is written
// without its terminator so it still reads back as interrupted.
func Encode(records []GenreRecord) []byte {
	var buf bytes.Buffer
	for i, r := range records {
		buf.WriteString(encodeHeader(r.Genre))
		for _, e := range r.Entries {
			buf.WriteString(encodeEntry(e))
		}
		if r.Sealed || i < len(records)-1 {
			buf.WriteString(terminatorLine + "\n")
		}
	}
	return buf.Bytes()
}

// Parse decodes the progress file format. A trailing block without a
// terminator is returned with Sealed set to false.
func Parse(data []byte) ([]GenreRecord, error) {
	records := []GenreRecord{}
	var open *GenreRecord
	block := 0

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")

		if line == terminatorLine {
			if open != nil {
				open.Sealed = true
				records = append(records, *open)
				open = nil
			}
			block++
			continue
		}

		if open == nil {
			if strings.TrimSpace(line) == "" {
				continue
			}
			genre, ok := strings.CutPrefix(line, genrePrefix)
			if !ok {
				return nil, &SyntaxError{Block: block, Line: line}
			}
			open = &GenreRecord{Genre: genre, Entries: []TitleEntry{}}
			continue
		}

		title, url, _ := strings.Cut(line, urlDelimiter)
		if title == "" {
			continue
		}
		open.Entries = append(open.Entries, TitleEntry{Title: title, URL: url})
	}

	if open != nil {
		records = append(records, *open)
	}
	return records, nil
}
