package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/mattjoyce/tapemaint/internal/catalogue"
	"github.com/mattjoyce/tapemaint/internal/config"
	"github.com/mattjoyce/tapemaint/internal/objectstore"
	"github.com/mattjoyce/tapemaint/internal/schedstore"
	"github.com/mattjoyce/tapemaint/internal/storage"
)

// backends holds the three collaborator stores. Paths that resolve to the
// same file share one connection pool.
type backends struct {
	catalogue *catalogue.Catalogue
	sched     *schedstore.Store
	objects   *objectstore.Store
	dbs       []*sql.DB
}

func openBackends(ctx context.Context, cfg *config.Config, schedOpts ...schedstore.Option) (*backends, error) {
	b := cfg.Backends
	type target struct {
		path   string
		schema storage.Schema
	}
	targets := []target{
		{b.CataloguePath, catalogue.Schema},
		{b.SchedulerPath, schedstore.Schema},
		{b.ObjectStorePath, objectstore.Schema},
	}

	var order []string
	schemas := make(map[string][]storage.Schema)
	for _, t := range targets {
		key := filepath.Clean(t.path)
		if _, seen := schemas[key]; !seen {
			order = append(order, key)
		}
		schemas[key] = append(schemas[key], t.schema)
	}

	out := &backends{}
	byPath := make(map[string]*sql.DB, len(order))
	for _, path := range order {
		db, err := storage.OpenSQLite(ctx, path, schemas[path]...)
		if err != nil {
			_ = out.Close()
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		byPath[path] = db
		out.dbs = append(out.dbs, db)
	}

	out.catalogue = catalogue.New(byPath[filepath.Clean(b.CataloguePath)])
	out.sched = schedstore.New(byPath[filepath.Clean(b.SchedulerPath)], schedOpts...)
	out.objects = objectstore.New(byPath[filepath.Clean(b.ObjectStorePath)])
	return out, nil
}

// Ping checks every backend answers.
func (b *backends) Ping(ctx context.Context) error {
	if err := b.catalogue.Ping(ctx); err != nil {
		return fmt.Errorf("catalogue: %w", err)
	}
	if err := b.sched.Ping(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := b.objects.Ping(ctx); err != nil {
		return fmt.Errorf("object store: %w", err)
	}
	return nil
}

func (b *backends) Close() error {
	var errs []error
	for _, db := range b.dbs {
		errs = append(errs, db.Close())
	}
	return errors.Join(errs...)
}
