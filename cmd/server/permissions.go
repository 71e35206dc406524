package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stokerhq/stoker"
)

// permissionsCollection holds one permission snapshot per user, written by the
// permission-management process, read-only here.
const permissionsCollection = "Stoker_Permissions"

type storePermissionsProvider struct {
	store stoker.DocumentStore
}

func newStorePermissionsProvider(store stoker.DocumentStore) stoker.PermissionsProvider {
	return &storePermissionsProvider{store: store}
}

func (p *storePermissionsProvider) Permissions(ctx context.Context, tenant, userID string) (*stoker.StokerPermissions, error) {
	doc, err := p.store.Get(ctx, tenant, stoker.NewDocPath([]string{permissionsCollection}, userID))
	if err != nil {
		return nil, fmt.Errorf("load permissions for %s: %w", userID, err)
	}
	if !doc.Exists {
		return nil, nil
	}
	raw, err := json.Marshal(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("encode permissions for %s: %w", userID, err)
	}
	var perms stoker.StokerPermissions
	if err := json.Unmarshal(raw, &perms); err != nil {
		return nil, fmt.Errorf("decode permissions for %s: %w", userID, err)
	}
	return &perms, nil
}
