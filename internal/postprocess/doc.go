// Package postprocess turns finished downloads into library files.
//
// A download folder is classified by extension, validated against the media
// kind that was requested, matched to a catalog item and moved or copied into
// the library using the destination templates. Rejected payloads fail the
// wanted entry and trigger a replacement search. The same classifier and
// matcher back the library scan, which links existing files to catalog items
// and records the rest for manual matching.
package postprocess
