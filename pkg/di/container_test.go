package di

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/mcapkit/pkg/api"
	"github.com/ssargent/mcapkit/pkg/catalog"
)

type stubStarter struct{ called bool }

func (s *stubStarter) StartServer(context.Context, api.FileCatalog, api.ServerConfig) error {
	s.called = true
	return nil
}

type stubFactory struct{ starter *stubStarter }

func (f stubFactory) CreateServerStarter() api.ServerStarter { return f.starter }

func TestNewContainer(t *testing.T) {
	c := NewContainer()
	assert.IsType(t, &api.DefaultServerFactory{}, c.GetServerFactory())

	cat, err := c.OpenCatalog(filepath.Join(t.TempDir(), "catalog"), nil)
	require.NoError(t, err)
	assert.NoError(t, cat.Close())
}

func TestOverrides(t *testing.T) {
	c := NewContainer()

	starter := &stubStarter{}
	c.SetServerFactory(stubFactory{starter: starter})
	require.NoError(t, c.GetServerFactory().CreateServerStarter().StartServer(context.Background(), nil, api.ServerConfig{}))
	assert.True(t, starter.called)

	boom := errors.New("boom")
	c.SetCatalogOpener(func(string, logrus.FieldLogger) (*catalog.Catalog, error) { return nil, boom })
	_, err := c.OpenCatalog("ignored", nil)
	assert.ErrorIs(t, err, boom)
}
