// Package assets resolves the public client bundle served by the SPA stage.
//
// A bundle is an fs.FS plus the metadata needed to report what is being
// served. It comes from a local directory or from a gzipped tarball in S3
// whose SHA-256 is pinned by an SSM parameter. The Manager holds the active
// bundle behind an atomic pointer so the Watcher can swap releases while
// requests are in flight.
package assets
