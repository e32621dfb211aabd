package postprocess

import (
	"fmt"
	"strings"

	"bookbag/internal/config"
	"bookbag/internal/scorer"
	"bookbag/internal/store"
)

// maxListedExtensions bounds the extensions named in a failure message.
const maxListedExtensions = 5

type verdict struct {
	status  Status
	message string
	files   []File
}

// validate decides whether payload holds usable files of kind. Companion
// files never count against a download. term is the catalog search term;
// reject words it contains are not applied.
func validate(cfg *config.Config, d *Detector, payload *Payload, kind store.Kind, term string) verdict {
	policy := scorer.PolicyFor(cfg, kind, 0)
	var wanted, other, mismatched []File
	for _, f := range payload.Files {
		if f.Companion() {
			other = append(other, f)
			continue
		}
		if d.Banned(f) {
			return verdict{
				status:  StatusRejected,
				message: fmt.Sprintf("Rejected download in %s: %s has banned extension .%s", payload.Dir, f.Name, f.Ext),
			}
		}
		if word := scorer.RejectWordIn(term, strings.TrimSuffix(f.Name, "."+f.Ext), policy); word != "" {
			return verdict{
				status:  StatusRejected,
				message: fmt.Sprintf("Rejected download in %s: %s contains banned word %q", payload.Dir, f.Name, word),
			}
		}
		switch {
		case d.Wanted(f, kind):
			wanted = append(wanted, f)
		case otherKind(d, f, kind):
			mismatched = append(mismatched, f)
		default:
			other = append(other, f)
		}
	}
	if len(wanted) > 0 {
		return verdict{status: StatusProcessed, files: wanted}
	}
	if len(mismatched) > 0 {
		return verdict{
			status: StatusTypeMismatch,
			message: fmt.Sprintf("No valid %s files found in %s. Found %s files instead: %s",
				kind.Label(), payload.Dir, mismatchLabel(kind), listExtensions(mismatched)),
		}
	}
	return verdict{
		status:  StatusUnsupported,
		message: unsupportedMessage(kind, payload.Dir, other),
	}
}

// otherKind reports whether f belongs to the opposite book medium: audio in a
// text download or text in an audio download.
func otherKind(d *Detector, f File, kind store.Kind) bool {
	if kind == store.KindAudio {
		return d.Wanted(f, store.KindEbook)
	}
	return d.Wanted(f, store.KindAudio)
}

func mismatchLabel(kind store.Kind) string {
	if kind == store.KindAudio {
		return store.KindEbook.Label()
	}
	return store.KindAudio.Label()
}

func unsupportedMessage(kind store.Kind, dir string, files []File) string {
	return fmt.Sprintf("No valid %s files found in %s. Found unsupported types: %s", kind.Label(), dir, listExtensions(files))
}

func listExtensions(files []File) string {
	exts := Extensions(files)
	if len(exts) == 0 {
		return "none"
	}
	if len(exts) > maxListedExtensions {
		return strings.Join(exts[:maxListedExtensions], ", ") + " (and more)"
	}
	return strings.Join(exts, ", ")
}
