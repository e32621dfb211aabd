// Package acquisition drives catalog items through the download lifecycle.
//
// An item's media kind moves Wanted -> Snatched -> Processed or Failed. The
// Machine searches providers for Wanted items, submits the best acceptable
// result to a download client, polls clients for Snatched entries, and hands
// completed downloads to postprocessing. Searches that find nothing back off
// exponentially per item and kind.
//
// Every transition for one item runs under that item's lock, shared with the
// postprocess engine, so a sweep and an operator command never interleave on
// the same item.
package acquisition
