// ABOUTME: Root heapscan package providing version information and package documentation
// ABOUTME: The scanning engine itself lives in the gc package

// Package heapscan is the object-graph scanning engine of a mark-sweep
// collector for a managed-language heap. The mirror package models objects
// and classes, heap holds spaces and mark bitmaps, gc scans objects and
// drives marking, and snapshot loads heaps described in JSON or YAML.
package heapscan

// Version is the semantic version of heapscan
const Version = "0.1.0-dev"
