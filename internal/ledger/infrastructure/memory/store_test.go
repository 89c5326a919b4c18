package memory

import (
	"testing"

	"powerwatch/internal/ledger"
	"powerwatch/internal/ledger/ledgertest"
)

func TestMemoryStoreContract(t *testing.T) {
	ledgertest.Run(t, func(*testing.T) ledger.Store { return NewStore() })
}
