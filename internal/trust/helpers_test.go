package trust

import (
	"testing"

	"github.com/Tinlera/Clara-Security/internal/store"
)

func newFileStoreForTrustTest(t *testing.T) (store.Store, error) {
	t.Helper()
	return store.NewFileStore(t.TempDir())
}
