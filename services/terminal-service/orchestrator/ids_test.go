package orchestrator_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yashrajoria/pos-terminal/services/terminal-service/orchestrator"
)

func TestIDGenerator(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 6*int(time.Millisecond), time.UTC)
	g := orchestrator.NewIDGenerator(func() time.Time { return fixed })

	assert.Equal(t, "INV-20260102030405006", g.TransactionID())
	// Same clock reading still yields a fresh id.
	assert.Equal(t, "INV-20260102030405007", g.TransactionID())
	assert.Equal(t, "CASHT120260102030405008", g.TellerTransNo("T1"))
}
