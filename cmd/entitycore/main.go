// Command entitycore is a small operator tool over the entity store: it opens
// the storage backend selected by the ENTITYCORE_* environment variables and
// lists entity types or dumps entities as JSON lines.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"entitycore/internal/core"
	"entitycore/pkg/domain"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "entitycore:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out *os.File) error {
	fs := flag.NewFlagSet("entitycore", flag.ContinueOnError)
	var (
		environment = fs.String("environment", "", "storage environment (default environment when empty)")
		entityType  = fs.String("type", "", "dump entities of this type instead of listing types")
		namespace   = fs.String("namespace", "", "restrict the dump to one namespace")
		counts      = fs.Bool("counts", false, "include entity counts in the type listing")
		max         = fs.Int("max", 0, "cap the number of dumped entities (0 = no cap)")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	envs, err := core.OpenEnvironments(ctx)
	if err != nil {
		return err
	}
	store := core.NewEntityStore(envs)
	defer func() { _ = store.Close() }()

	if *entityType == "" {
		return listTypes(ctx, store, *environment, *counts, out)
	}
	return dumpEntities(ctx, store, *environment, *entityType, *namespace, *max, out)
}

func listTypes(ctx context.Context, store *core.EntityStore, environment string, counts bool, out *os.File) error {
	types, err := store.GetEntityTypes(ctx, environment, counts)
	if err != nil {
		return err
	}
	for _, info := range types {
		if counts {
			fmt.Fprintf(out, "%s\t%d\n", info.Name, info.Count)
			continue
		}
		fmt.Fprintln(out, info.Name)
	}
	return nil
}

func dumpEntities(ctx context.Context, store *core.EntityStore, environment, entityType, namespace string, max int, out *os.File) error {
	entities, err := store.GetEntities(ctx, &domain.Entity{
		Environment: environment,
		Type:        entityType,
		Namespace:   namespace,
	}, core.QueryOptions{Max: max})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for _, e := range entities {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}
