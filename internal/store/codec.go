package store

import (
	"encoding/json"
	"fmt"

	"github.com/quotaguard/tokenquota/internal/errors"
	"github.com/quotaguard/tokenquota/internal/models"
)

// encodeLedger is the wire form shared by the SQL and key-value backends.
// A nil ledger encodes as an empty one.
func encodeLedger(ledger *models.Ledger) ([]byte, error) {
	if ledger == nil {
		ledger = models.NewLedger()
	}
	data, err := json.Marshal(ledger)
	if err != nil {
		return nil, fmt.Errorf("encode ledger: %w", err)
	}
	return data, nil
}

func decodeLedger(identity string, data []byte) (*models.Ledger, error) {
	ledger := models.NewLedger()
	if err := json.Unmarshal(data, ledger); err != nil {
		return nil, &errors.ErrLedgerDecode{Identity: identity, Err: err}
	}
	return ledger, nil
}
