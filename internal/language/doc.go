// Package language normalizes the language codes found in catalog items, OPF
// dc:language elements and ID3 TLAN frames to ISO 639-1.
package language
