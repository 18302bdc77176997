// Package storage fetches source recordings from wherever the queue row
// points: a local path, an HTTP URL, or an S3 object. The Resolver picks the
// adapter from the locator scheme so callers never branch on storage details.
package storage
