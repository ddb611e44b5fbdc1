package redis

import (
	"rental/internal/lock"
	"rental/internal/repository"
)

// Ensure concrete types implement interfaces.
var (
	_ lock.Locker                = (*LockStore)(nil)
	_ repository.AssetRepository = (*CatalogCache)(nil)
)
