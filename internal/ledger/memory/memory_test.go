package memory_test

import (
	"testing"

	"github.com/aqasim81/migration-ledger/internal/ledger"
	"github.com/aqasim81/migration-ledger/internal/ledger/ledgertest"
	"github.com/aqasim81/migration-ledger/internal/ledger/memory"
)

func TestBackend_conformance(t *testing.T) {
	t.Parallel()

	ledgertest.Run(t, func(_ *testing.T) ledger.Backend {
		return memory.New()
	})
}
