// Package downloader adapts external download clients to one contract.
//
// Usenet clients (SABnzbd, NZBGet) accept NZB URLs; torrent clients
// (qBittorrent, Transmission, Deluge) accept magnets, torrent URLs or raw
// torrent bytes; blackhole clients drop the payload into a watch directory
// and the direct client fetches a file straight into the download directory.
//
// Every adapter built by FromConfig is wrapped in a circuit breaker so a
// back-end that keeps timing out is skipped for a while instead of being
// hammered on every reconcile cycle. Validate never touches the network.
package downloader
