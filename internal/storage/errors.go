package storage

import "github.com/pkg/errors"

// errNoDirectLoad is returned by storages whose Package results always
// carry their own DataLoader reference (the local/remote storage that
// actually resolved the package), so LoadData is never invoked on them
// directly.
var errNoDirectLoad = errors.New("storage: this storage does not load data directly")
