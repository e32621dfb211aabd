package postprocess

import (
	"archive/zip"
	"encoding/xml"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"bookbag/internal/language"
	"bookbag/internal/store"
	"bookbag/internal/textutil"
)

// Metadata is what could be learned about a book from its files.
type Metadata struct {
	Title       string
	Author      string
	ISBN        string
	Language    string
	Series      string
	SeriesIndex string
}

// fill copies fields of other into empty fields of m.
func (m *Metadata) fill(other Metadata) {
	if m.Title == "" {
		m.Title = other.Title
	}
	if m.Author == "" {
		m.Author = other.Author
	}
	if m.ISBN == "" {
		m.ISBN = other.ISBN
	}
	if m.Language == "" {
		m.Language = other.Language
	}
	if m.Series == "" {
		m.Series = other.Series
		m.SeriesIndex = other.SeriesIndex
	}
}

func (m Metadata) complete() bool {
	return m.Title != "" && m.Author != ""
}

// Extract gathers metadata for the primary payload file: an OPF manifest in
// the folder first, then tags inside the file, then the file name.
func Extract(files []File, primary File) Metadata {
	var meta Metadata
	for _, f := range files {
		if f.Ext == "opf" {
			if opf, err := readOPFFile(f.Path); err == nil {
				meta.fill(opf)
			}
			break
		}
	}
	if !meta.complete() {
		switch primary.Ext {
		case "epub":
			if embedded, err := readEPUB(primary.Path); err == nil {
				meta.fill(embedded)
			}
		case "mp3":
			if tags, err := readID3File(primary.Path); err == nil {
				meta.fill(tags)
			}
		}
	}
	if !meta.complete() {
		meta.fill(FromFileName(primary.Name))
	}
	meta.ISBN = store.NormalizeISBN(meta.ISBN)
	return meta
}

var (
	titleAuthorPattern = regexp.MustCompile(`^(.+?)\s*\(([^)]+)\)\s*$`)
	isbnPattern        = regexp.MustCompile(`\b(97[89]\d{10}|\d{9}[\dXx])\b`)
	bracketPattern     = regexp.MustCompile(`\s*[\[{][^\]}]*[\]}]\s*`)
)

// FromFileName guesses author and title from "Author - Title",
// "Title (Author)" or "Author_Title" file names. Anything else is taken as
// the title.
func FromFileName(name string) Metadata {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	var meta Metadata
	if isbn := isbnPattern.FindString(stem); isbn != "" {
		meta.ISBN = isbn
		stem = strings.TrimSpace(strings.Replace(stem, isbn, "", 1))
	}
	stem = strings.TrimSpace(bracketPattern.ReplaceAllString(stem, " "))
	switch {
	case strings.Contains(stem, " - "):
		author, title, _ := strings.Cut(stem, " - ")
		meta.Author, meta.Title = strings.TrimSpace(author), strings.TrimSpace(title)
	case titleAuthorPattern.MatchString(stem):
		parts := titleAuthorPattern.FindStringSubmatch(stem)
		meta.Title, meta.Author = strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2])
	case strings.Contains(stem, "_"):
		author, title, _ := strings.Cut(stem, "_")
		meta.Author = strings.TrimSpace(strings.ReplaceAll(author, "_", " "))
		meta.Title = strings.TrimSpace(strings.ReplaceAll(title, "_", " "))
	default:
		meta.Title = strings.TrimSpace(strings.ReplaceAll(stem, "_", " "))
	}
	if textutil.IsUpperOrLower(meta.Title) {
		meta.Title = textutil.TitleCase(strings.ToLower(meta.Title))
	}
	if textutil.IsUpperOrLower(meta.Author) {
		meta.Author = textutil.TitleCase(strings.ToLower(meta.Author))
	}
	return meta
}

type opfPackage struct {
	Metadata struct {
		Titles      []string        `xml:"title"`
		Creators    []string        `xml:"creator"`
		Languages   []string        `xml:"language"`
		Identifiers []opfIdentifier `xml:"identifier"`
		Metas       []opfMeta       `xml:"meta"`
	} `xml:"metadata"`
}

type opfIdentifier struct {
	Scheme string `xml:"scheme,attr"`
	Value  string `xml:",chardata"`
}

type opfMeta struct {
	Name    string `xml:"name,attr"`
	Content string `xml:"content,attr"`
}

func readOPFFile(path string) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, err
	}
	defer f.Close()
	return parseOPF(f)
}

func parseOPF(r io.Reader) (Metadata, error) {
	var pkg opfPackage
	if err := xml.NewDecoder(r).Decode(&pkg); err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	md := pkg.Metadata
	if len(md.Titles) > 0 {
		meta.Title = strings.TrimSpace(md.Titles[0])
	}
	if len(md.Creators) > 0 {
		meta.Author = strings.TrimSpace(md.Creators[0])
	}
	if len(md.Languages) > 0 {
		meta.Language = language.Normalize(md.Languages[0])
	}
	for _, id := range md.Identifiers {
		value := strings.TrimSpace(id.Value)
		lower := strings.ToLower(value)
		if strings.EqualFold(id.Scheme, "isbn") || strings.HasPrefix(lower, "isbn:") || strings.HasPrefix(lower, "urn:isbn:") {
			meta.ISBN = value[strings.LastIndex(value, ":")+1:]
			break
		}
	}
	for _, m := range md.Metas {
		name := strings.ToLower(m.Name)
		switch {
		case strings.Contains(name, "series_index") || strings.Contains(name, "series-index"):
			meta.SeriesIndex = m.Content
		case strings.Contains(name, "series"):
			meta.Series = m.Content
		}
	}
	return meta, nil
}

type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

func readEPUB(path string) (Metadata, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return Metadata{}, err
	}
	defer archive.Close()

	var container epubContainer
	if err := decodeZipXML(&archive.Reader, "META-INF/container.xml", &container); err != nil {
		return Metadata{}, err
	}
	if len(container.Rootfiles) == 0 {
		return Metadata{}, os.ErrNotExist
	}
	rc, err := archive.Open(container.Rootfiles[0].FullPath)
	if err != nil {
		return Metadata{}, err
	}
	defer rc.Close()
	return parseOPF(rc)
}

func decodeZipXML(archive *zip.Reader, name string, v any) error {
	rc, err := archive.Open(name)
	if err != nil {
		return err
	}
	defer rc.Close()
	return xml.NewDecoder(rc).Decode(v)
}

// opfDocument is the sidecar written next to organized ebooks.
type opfDocument struct {
	XMLName  xml.Name    `xml:"package"`
	Xmlns    string      `xml:"xmlns,attr"`
	Version  string      `xml:"version,attr"`
	UniqueID string      `xml:"unique-identifier,attr"`
	Metadata opfMetadata `xml:"metadata"`
}

type opfMetadata struct {
	DC          string        `xml:"xmlns:dc,attr"`
	OPF         string        `xml:"xmlns:opf,attr"`
	Title       string        `xml:"dc:title"`
	Creator     opfCreator    `xml:"dc:creator"`
	Language    string        `xml:"dc:language,omitempty"`
	Identifiers []opfIdentOut `xml:"dc:identifier"`
	Metas       []opfMeta     `xml:"meta"`
}

type opfCreator struct {
	Role  string `xml:"opf:role,attr"`
	Value string `xml:",chardata"`
}

type opfIdentOut struct {
	ID     string `xml:"id,attr,omitempty"`
	Scheme string `xml:"opf:scheme,attr"`
	Value  string `xml:",chardata"`
}

func renderOPF(item *store.CatalogItem, meta Metadata) ([]byte, error) {
	doc := opfDocument{
		Xmlns:    "http://www.idpf.org/2007/opf",
		Version:  "2.0",
		UniqueID: "bookbag_id",
		Metadata: opfMetadata{
			DC:       "http://purl.org/dc/elements/1.1/",
			OPF:      "http://www.idpf.org/2007/opf",
			Title:    item.Title,
			Creator:  opfCreator{Role: "aut", Value: item.AuthorName},
			Language: firstNonEmpty(item.Language, meta.Language),
			Identifiers: []opfIdentOut{
				{ID: "bookbag_id", Scheme: "bookbag", Value: item.ID},
			},
		},
	}
	if isbn := firstNonEmpty(item.ISBN, meta.ISBN); isbn != "" {
		doc.Metadata.Identifiers = append(doc.Metadata.Identifiers, opfIdentOut{Scheme: "ISBN", Value: isbn})
	}
	if meta.Series != "" {
		doc.Metadata.Metas = append(doc.Metadata.Metas, opfMeta{Name: "calibre:series", Content: meta.Series})
		if meta.SeriesIndex != "" {
			doc.Metadata.Metas = append(doc.Metadata.Metas, opfMeta{Name: "calibre:series_index", Content: meta.SeriesIndex})
		}
	}
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), append(body, '\n')...), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
