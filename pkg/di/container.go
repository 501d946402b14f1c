// Package di provides dependency injection container
package di

import (
	"github.com/sirupsen/logrus"

	"github.com/ssargent/mcapkit/pkg/api" //nolint:depguard
	"github.com/ssargent/mcapkit/pkg/catalog"
)

// CatalogOpener opens the catalog stored in dir
type CatalogOpener func(dir string, logger logrus.FieldLogger) (*catalog.Catalog, error)

// Container holds all the dependencies for the application
type Container struct {
	serverFactory api.ServerFactory
	openCatalog   CatalogOpener
}

// NewContainer creates a new dependency injection container
func NewContainer() *Container {
	return &Container{
		serverFactory: api.NewServerFactory(),
		openCatalog:   catalog.Open,
	}
}

// GetServerFactory returns the server factory
func (c *Container) GetServerFactory() api.ServerFactory {
	return c.serverFactory
}

// SetServerFactory allows overriding the server factory (for testing)
func (c *Container) SetServerFactory(factory api.ServerFactory) {
	c.serverFactory = factory
}

// OpenCatalog opens the catalog with the configured opener
func (c *Container) OpenCatalog(dir string, logger logrus.FieldLogger) (*catalog.Catalog, error) {
	return c.openCatalog(dir, logger)
}

// SetCatalogOpener allows overriding how catalogs are opened (for testing)
func (c *Container) SetCatalogOpener(open CatalogOpener) {
	c.openCatalog = open
}
