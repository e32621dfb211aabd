package postprocess

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"bookbag/internal/config"
	"bookbag/internal/store"
)

// FileType is the classification of one file in a download.
type FileType string

const (
	TypeEbook     FileType = "ebook"
	TypeAudiobook FileType = "audiobook"
	TypeMagazine  FileType = "magazine"
	TypeArchive   FileType = "archive"
	TypeImage     FileType = "image"
	TypeMetadata  FileType = "metadata"
	TypeUnknown   FileType = "unknown"
)

var (
	archiveExtensions   = extensionSet("zip", "rar", "tar", "gz", "bz2", "7z", "cbz", "cbr")
	imageExtensions     = extensionSet("jpg", "jpeg", "png", "gif", "bmp", "webp")
	metadataExtensions  = extensionSet("opf", "nfo")
	companionExtensions = extensionSet("txt", "nfo", "info", "url", "sfv", "opf")
)

// File is one regular file found in a download or library folder.
type File struct {
	Path string
	Name string
	// Ext is lowercase without the leading dot.
	Ext  string
	Type FileType
	Size int64
}

// Companion reports whether the file is descriptive text shipped alongside
// the payload rather than part of it.
func (f File) Companion() bool {
	_, ok := companionExtensions[f.Ext]
	return ok
}

// Payload is the classified content of a folder.
type Payload struct {
	Dir   string
	Files []File
	// InProgress counts files with skipped (partial download) extensions.
	InProgress int
}

// Detector classifies files by extension using the configured lists.
type Detector struct {
	ebook    map[string]struct{}
	audio    map[string]struct{}
	magazine map[string]struct{}
	banned   map[string]struct{}
	skipped  map[string]struct{}
}

// NewDetector builds a Detector from the filetypes section.
func NewDetector(cfg *config.Config) *Detector {
	ft := cfg.FileTypes
	return &Detector{
		ebook:    extensionSet(ft.EbookTypes...),
		audio:    extensionSet(ft.AudioTypes...),
		magazine: extensionSet(ft.MagazineTypes...),
		banned:   extensionSet(ft.BannedExtensions...),
		skipped:  extensionSet(ft.SkippedExtensions...),
	}
}

// Classify returns the type of path. Extension comparison is case-insensitive.
func (d *Detector) Classify(path string) FileType {
	ext := extensionOf(path)
	switch {
	case has(d.ebook, ext):
		return TypeEbook
	case has(d.audio, ext):
		return TypeAudiobook
	case has(d.magazine, ext):
		return TypeMagazine
	case has(archiveExtensions, ext):
		return TypeArchive
	case has(imageExtensions, ext):
		return TypeImage
	case has(metadataExtensions, ext):
		return TypeMetadata
	}
	return TypeUnknown
}

// Wanted reports whether f is a payload file for kind.
func (d *Detector) Wanted(f File, kind store.Kind) bool {
	switch kind {
	case store.KindAudio:
		return has(d.audio, f.Ext)
	case store.KindMagazine:
		return has(d.magazine, f.Ext)
	default:
		return has(d.ebook, f.Ext)
	}
}

// Banned reports whether f carries a banned extension.
func (d *Detector) Banned(f File) bool {
	return has(d.banned, f.Ext)
}

// Scan walks dir recursively and classifies every regular file. Hidden files
// are ignored; files with skipped extensions are counted but not listed.
func (d *Detector) Scan(dir string) (*Payload, error) {
	payload := &Payload{Dir: dir}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		file, ok := d.fileFor(dir, info)
		if ok {
			payload.Dir = filepath.Dir(dir)
			payload.Files = append(payload.Files, file)
		} else if has(d.skipped, extensionOf(dir)) {
			payload.InProgress++
		}
		return payload, nil
	}
	err = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") && path != dir {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		if has(d.skipped, extensionOf(name)) {
			payload.InProgress++
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		if file, ok := d.fileFor(path, info); ok {
			payload.Files = append(payload.Files, file)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(payload.Files, func(i, j int) bool { return naturalLess(payload.Files[i].Path, payload.Files[j].Path) })
	return payload, nil
}

func (d *Detector) fileFor(path string, info fs.FileInfo) (File, bool) {
	if !info.Mode().IsRegular() {
		return File{}, false
	}
	ext := extensionOf(path)
	if has(d.skipped, ext) {
		return File{}, false
	}
	return File{
		Path: path,
		Name: filepath.Base(path),
		Ext:  ext,
		Type: d.Classify(path),
		Size: info.Size(),
	}, true
}

// Extensions returns the sorted unique dotted extensions of files.
func Extensions(files []File) []string {
	seen := make(map[string]struct{}, len(files))
	out := make([]string, 0, len(files))
	for _, f := range files {
		ext := "." + f.Ext
		if f.Ext == "" {
			ext = "(none)"
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

func extensionOf(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

func extensionSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(v), "."))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

func has(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}

// naturalLess orders "Part 2" before "Part 10".
func naturalLess(a, b string) bool {
	a, b = strings.ToLower(a), strings.ToLower(b)
	for a != "" && b != "" {
		da, db := isDigit(a[0]), isDigit(b[0])
		if da && db {
			na, ra := leadingNumber(a)
			nb, rb := leadingNumber(b)
			if na != nb {
				return numLess(na, nb)
			}
			a, b = ra, rb
			continue
		}
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func leadingNumber(s string) (string, string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return strings.TrimLeft(s[:i], "0"), s[i:]
}

func numLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
