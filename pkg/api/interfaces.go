// Package api provides interfaces for dependency injection
package api

import (
	"context"

	"github.com/ssargent/mcapkit/pkg/catalog"
	"github.com/ssargent/mcapkit/pkg/reader"
)

// FileCatalog defines the catalog operations the server needs
type FileCatalog interface {
	Add(path string, opts reader.Options) (*catalog.Entry, error)
	Get(id string) (*catalog.Entry, error)
	List() ([]*catalog.Entry, error)
	FindByTopic(topic string) ([]*catalog.Entry, error)
	Remove(id string) error
}

// ServerStarter defines the interface for starting the API server
type ServerStarter interface {
	// StartServer serves until ctx is done or the listener fails
	StartServer(ctx context.Context, files FileCatalog, config ServerConfig) error
}

// ServerFactory creates server instances
type ServerFactory interface {
	// CreateServerStarter creates a server starter
	CreateServerStarter() ServerStarter
}
