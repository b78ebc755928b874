package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// FinalizeRebuild promotes a staged rebuild index to live, or discards it.
//
// On success the staged index picks up the union of the active indices'
// current aliases, the canonical aliases, and the parent aliases for the
// entity type. After the first promotion the canonical name is an alias on
// the previously promoted rebuild index, so the move runs as a single
// atomic alias update that attaches every alias to the staged index and
// detaches it from the outgoing generation; readers never observe the
// canonical alias on two generations at once. The outgoing indices and any
// leftover rebuild indices of the same type are then deleted by concrete
// name. Indices of other entity types are never touched.
// On failure only the staged index is deleted.
func FinalizeRebuild(ctx context.Context, client Client, log *slog.Logger, entityType, stagedIndex string, success bool) error {
	if !success {
		return discardStaged(ctx, client, log, entityType, stagedIndex)
	}
	extras := append(CanonicalAliases(entityType), ParentAliases(entityType)...)
	return promoteStaged(ctx, client, log, entityType, IndexName(entityType), stagedIndex, extras)
}

// PromoteIndex promotes a staged rebuild of a standalone index, such as
// the vector index, to its canonical name. Same alias handover semantics
// as FinalizeRebuild, with the canonical name as the only implied alias.
func PromoteIndex(ctx context.Context, client Client, log *slog.Logger, canonical, stagedIndex string, success bool) error {
	if !success {
		return discardStaged(ctx, client, log, canonical, stagedIndex)
	}
	return promoteStaged(ctx, client, log, canonical, canonical, stagedIndex, []string{canonical})
}

func discardStaged(ctx context.Context, client Client, log *slog.Logger, label, stagedIndex string) error {
	log.Warn("discarding staged index after failed rebuild",
		"target", label, "index", stagedIndex)
	if err := client.DeleteIndex(ctx, stagedIndex); err != nil {
		return fmt.Errorf("discard staged index %s: %w", stagedIndex, err)
	}
	return nil
}

func promoteStaged(ctx context.Context, client Client, log *slog.Logger, label, canonical, stagedIndex string, extraAliases []string) error {
	active, err := client.IndicesByAlias(ctx, canonical)
	if err != nil {
		return fmt.Errorf("resolve active index for %s: %w", canonical, err)
	}
	originals := make([]string, 0, len(active))
	for _, name := range active {
		if name != stagedIndex {
			originals = append(originals, name)
		}
	}
	sort.Strings(originals)

	// A concrete index under the canonical name means no promotion has
	// happened yet. The canonical alias cannot coexist with an index of
	// the same name, so that index goes away before the aliases go on.
	var legacy bool
	if len(originals) == 0 {
		legacy, err = client.IndexExists(ctx, canonical)
		if err != nil {
			return fmt.Errorf("check original index %s: %w", canonical, err)
		}
	}

	aliases := make(map[string]struct{})
	held := make(map[string][]string, len(originals))
	for _, name := range originals {
		existing, err := client.GetAliases(ctx, name)
		if err != nil {
			return fmt.Errorf("read aliases of %s: %w", name, err)
		}
		sort.Strings(existing)
		held[name] = existing
		for _, a := range existing {
			aliases[a] = struct{}{}
		}
	}
	if legacy {
		existing, err := client.GetAliases(ctx, canonical)
		if err != nil {
			return fmt.Errorf("read aliases of %s: %w", canonical, err)
		}
		for _, a := range existing {
			aliases[a] = struct{}{}
		}
		if err := client.DeleteIndex(ctx, canonical); err != nil {
			return fmt.Errorf("delete original index %s: %w", canonical, err)
		}
	}
	for _, a := range extraAliases {
		aliases[a] = struct{}{}
	}

	names := make([]string, 0, len(aliases))
	for a := range aliases {
		names = append(names, a)
	}
	sort.Strings(names)

	actions := make([]AliasAction, 0, len(names)+len(originals))
	for _, alias := range names {
		actions = append(actions, AliasAction{Add: true, Index: stagedIndex, Alias: alias})
	}
	for _, old := range originals {
		for _, alias := range held[old] {
			actions = append(actions, AliasAction{Index: old, Alias: alias})
		}
	}
	if err := client.UpdateAliases(ctx, actions); err != nil {
		return fmt.Errorf("swap aliases to %s: %w", stagedIndex, err)
	}

	if len(originals) > 0 {
		if err := client.DeleteIndex(ctx, originals...); err != nil {
			return fmt.Errorf("delete original indices %v: %w", originals, err)
		}
	}

	// Clean up rebuild indices abandoned by earlier runs.
	leftovers, err := client.ListIndices(ctx, canonical+"_rebuild_*")
	if err != nil {
		return fmt.Errorf("list rebuild indices for %s: %w", canonical, err)
	}
	var stale []string
	for _, name := range leftovers {
		if name != stagedIndex {
			stale = append(stale, name)
		}
	}
	if len(stale) > 0 {
		if err := client.DeleteIndex(ctx, stale...); err != nil {
			return fmt.Errorf("delete stale rebuild indices: %w", err)
		}
	}

	log.Info("promoted staged index",
		"target", label, "index", stagedIndex, "aliases", len(names), "staleRemoved", len(stale))
	return nil
}
