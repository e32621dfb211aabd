package postprocess

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"bookbag/internal/config"
	"bookbag/internal/fileutil"
	"bookbag/internal/store"
	"bookbag/internal/textutil"
)

var (
	placeholderPattern = regexp.MustCompile(`\$([A-Za-z]+)`)
	doubleDashPattern  = regexp.MustCompile(`\s*-\s*-\s*`)
	emptyParenPattern  = regexp.MustCompile(`\(\s*\)|\[\s*\]`)
)

// renderName expands $Var placeholders in a single path segment. Unknown
// placeholders render empty and dangling separators are tidied away.
func renderName(pattern string, vars map[string]string) string {
	out := placeholderPattern.ReplaceAllStringFunc(pattern, func(token string) string {
		return vars[token[1:]]
	})
	out = emptyParenPattern.ReplaceAllString(out, "")
	out = strings.Join(strings.Fields(out), " ")
	out = doubleDashPattern.ReplaceAllString(out, " - ")
	out = strings.Trim(out, " -")
	return textutil.SanitizeFileName(out)
}

// renderFolder expands a folder template segment by segment so a slash in an
// author or title never creates an extra directory level.
func renderFolder(pattern string, vars map[string]string) string {
	var segments []string
	for _, segment := range strings.Split(filepath.ToSlash(pattern), "/") {
		if name := renderName(segment, vars); name != "" {
			segments = append(segments, name)
		}
	}
	return filepath.Join(segments...)
}

func templateVars(item *store.CatalogItem, meta Metadata) map[string]string {
	author := firstNonEmpty(item.AuthorName, meta.Author, "Unknown")
	title := firstNonEmpty(item.Title, meta.Title, "Unknown")
	return map[string]string{
		"Author":    author,
		"Title":     title,
		"Subtitle":  item.Subtitle,
		"Series":    meta.Series,
		"SeriesNum": meta.SeriesIndex,
		"ISBN":      firstNonEmpty(item.ISBN, meta.ISBN),
		"Language":  firstNonEmpty(item.Language, meta.Language),
	}
}

type placement struct {
	source File
	target string
}

// layout is where a payload lands in the library.
type layout struct {
	folder     string
	placements []placement
	// primary is the path recorded on the catalog item.
	primary string
}

func planLayout(cfg *config.Config, item *store.CatalogItem, kind store.Kind, meta Metadata, files []File) layout {
	folderPattern, filePattern := cfg.Postprocess.EbookDestFolder, cfg.Postprocess.EbookDestFile
	if kind == store.KindAudio {
		folderPattern, filePattern = cfg.Postprocess.AudioDestFolder, cfg.Postprocess.AudioDestFile
	}
	vars := templateVars(item, meta)
	root := cfg.LibraryDir(string(kind))
	folder := filepath.Join(root, renderFolder(folderPattern, vars))

	out := layout{folder: folder}
	total := len(files)
	for i, f := range files {
		vars["Part"] = fmt.Sprintf("%0*d", len(strconv.Itoa(total)), i+1)
		vars["Total"] = strconv.Itoa(total)
		name := renderName(filePattern, vars)
		if name == "" {
			name = strings.TrimSuffix(f.Name, filepath.Ext(f.Name))
		}
		out.placements = append(out.placements, placement{source: f, target: filepath.Join(folder, name+"."+f.Ext)})
	}
	if kind == store.KindAudio {
		out.primary = folder
	} else if len(out.placements) > 0 {
		out.primary = out.placements[preferredIndex(cfg.FileTypes.EbookTypes, files)].target
	}
	return out
}

// preferredIndex picks the file whose extension comes first in the
// configured list.
func preferredIndex(order []string, files []File) int {
	best, bestRank := 0, len(order)
	for i, f := range files {
		for rank, ext := range order {
			if f.Ext == ext && rank < bestRank {
				best, bestRank = i, rank
			}
		}
	}
	return best
}

type transferMode int

const (
	transferMove transferMode = iota
	transferCopy
)

// place moves or copies every planned file into the library and returns the
// final layout with collision-free targets.
func place(cfg *config.Config, plan layout, mode transferMode) (layout, error) {
	filePerm, err := config.ParsePerm(cfg.Postprocess.FilePerm)
	if err != nil {
		return plan, err
	}
	dirPerm, err := config.ParsePerm(cfg.Postprocess.DirPerm)
	if err != nil {
		return plan, err
	}
	if err := os.MkdirAll(plan.folder, dirPerm); err != nil {
		return plan, fmt.Errorf("create library folder: %w", err)
	}
	_ = os.Chmod(plan.folder, dirPerm)

	done := plan
	done.placements = make([]placement, 0, len(plan.placements))
	for _, p := range plan.placements {
		target := fileutil.UniquePath(p.target)
		var err error
		if mode == transferCopy {
			err = fileutil.Copy(p.source.Path, target, filePerm, dirPerm)
		} else {
			err = fileutil.Move(p.source.Path, target, filePerm, dirPerm)
		}
		if err != nil {
			return done, fmt.Errorf("place %s: %w", p.source.Name, err)
		}
		if plan.primary == p.target {
			done.primary = target
		}
		done.placements = append(done.placements, placement{source: p.source, target: target})
	}
	return done, nil
}

// writeOPF writes a sidecar manifest next to the primary ebook unless one
// already exists.
func writeOPF(cfg *config.Config, primary string, item *store.CatalogItem, meta Metadata) (string, error) {
	path := strings.TrimSuffix(primary, filepath.Ext(primary)) + ".opf"
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	body, err := renderOPF(item, meta)
	if err != nil {
		return "", err
	}
	perm, err := config.ParsePerm(cfg.Postprocess.FilePerm)
	if err != nil {
		return "", err
	}
	if err := fileutil.WriteFileAtomic(path, body, perm); err != nil {
		return "", err
	}
	return path, nil
}

// cleanupSource removes what is left of a moved download. Only folders
// strictly inside the download directory are touched.
func cleanupSource(downloadDir, dir string) bool {
	downloadDir = filepath.Clean(downloadDir)
	dir = filepath.Clean(dir)
	if downloadDir == "." || dir == downloadDir || !strings.HasPrefix(dir, downloadDir+string(filepath.Separator)) {
		return false
	}
	if err := os.RemoveAll(dir); err != nil {
		return false
	}
	fileutil.RemoveEmptyDirs(filepath.Dir(dir), downloadDir)
	return true
}
