package orchestrator

import (
	"fmt"
	"sync"
	"time"
)

// IDGenerator issues slip and teller numbers from the wall clock. Ids from
// one generator are strictly increasing even within a millisecond.
type IDGenerator struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func NewIDGenerator(now func() time.Time) *IDGenerator {
	if now == nil {
		now = time.Now
	}
	return &IDGenerator{now: now}
}

// TransactionID returns INV-YYYYMMDDhhmmssSSS.
func (g *IDGenerator) TransactionID() string {
	return "INV-" + stamp(g.next())
}

// TellerTransNo returns CASH<teller>YYYYMMDDhhmmssSSS.
func (g *IDGenerator) TellerTransNo(tellerCD string) string {
	return "CASH" + tellerCD + stamp(g.next())
}

func (g *IDGenerator) next() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	t := g.now().Truncate(time.Millisecond)
	if !t.After(g.last) {
		t = g.last.Add(time.Millisecond)
	}
	g.last = t
	return t
}

func stamp(t time.Time) string {
	return t.Format("20060102150405") + fmt.Sprintf("%03d", t.Nanosecond()/int(time.Millisecond))
}
