// Package crx decodes browser extension packages: the CRX container header,
// the ZIP payload inside it, and the manifest the payload carries. All
// functions operate on fully buffered in-memory bytes and are safe against
// hostile input (truncated headers, oversized length fields, zip bombs,
// path-traversal entry names).
package crx
