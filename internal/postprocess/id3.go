package postprocess

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"strings"
	"unicode/utf16"

	"bookbag/internal/language"
)

var errNoID3 = errors.New("no id3v2 tag")

func readID3File(path string) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, err
	}
	defer f.Close()
	return readID3(f)
}

// readID3 reads the text frames of an ID3v2.3 or v2.4 tag. The album names
// the book; the track title is used only when there is no album.
func readID3(r io.Reader) (Metadata, error) {
	header := make([]byte, 10)
	if _, err := io.ReadFull(r, header); err != nil {
		return Metadata{}, err
	}
	if string(header[:3]) != "ID3" {
		return Metadata{}, errNoID3
	}
	version := header[3]
	if version != 3 && version != 4 {
		return Metadata{}, errNoID3
	}
	size := syncsafe(header[6:10])
	tag := make([]byte, size)
	if _, err := io.ReadFull(r, tag); err != nil {
		return Metadata{}, err
	}
	if header[5]&0x40 != 0 && len(tag) >= 4 {
		ext := int(binary.BigEndian.Uint32(tag[:4]))
		if version == 4 {
			ext = syncsafe(tag[:4])
		} else {
			ext += 4
		}
		if ext > len(tag) {
			return Metadata{}, errNoID3
		}
		tag = tag[ext:]
	}

	frames := map[string]string{}
	for len(tag) >= 10 && tag[0] != 0 {
		id := string(tag[:4])
		frameSize := int(binary.BigEndian.Uint32(tag[4:8]))
		if version == 4 {
			frameSize = syncsafe(tag[4:8])
		}
		if frameSize <= 0 || 10+frameSize > len(tag) {
			break
		}
		if strings.HasPrefix(id, "T") {
			frames[id] = decodeTextFrame(tag[10 : 10+frameSize])
		}
		tag = tag[10+frameSize:]
	}

	meta := Metadata{
		Title:    frames["TALB"],
		Author:   firstNonEmpty(frames["TPE1"], frames["TPE2"], frames["TCOM"]),
		Language: language.Normalize(frames["TLAN"]),
	}
	if meta.Title == "" {
		meta.Title = frames["TIT2"]
	}
	return meta, nil
}

func syncsafe(b []byte) int {
	return int(b[0]&0x7f)<<21 | int(b[1]&0x7f)<<14 | int(b[2]&0x7f)<<7 | int(b[3]&0x7f)
}

func decodeTextFrame(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	encoding, body := data[0], data[1:]
	var text string
	switch encoding {
	case 0:
		runes := make([]rune, len(body))
		for i, c := range body {
			runes[i] = rune(c)
		}
		text = string(runes)
	case 1, 2:
		text = decodeUTF16(body, encoding == 2)
	default:
		text = string(body)
	}
	// Multiple values are NUL separated; keep the first.
	if i := strings.IndexRune(text, 0); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

func decodeUTF16(body []byte, bigEndian bool) string {
	if len(body) >= 2 {
		switch {
		case bytes.HasPrefix(body, []byte{0xff, 0xfe}):
			body, bigEndian = body[2:], false
		case bytes.HasPrefix(body, []byte{0xfe, 0xff}):
			body, bigEndian = body[2:], true
		}
	}
	units := make([]uint16, 0, len(body)/2)
	for i := 0; i+1 < len(body); i += 2 {
		if bigEndian {
			units = append(units, binary.BigEndian.Uint16(body[i:]))
		} else {
			units = append(units, binary.LittleEndian.Uint16(body[i:]))
		}
	}
	return string(utf16.Decode(units))
}
