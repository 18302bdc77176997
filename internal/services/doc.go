// Package services defines the sentinel errors and context helpers shared by
// the remote-service clients and pipeline stages.
package services
