package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/weiawesome/wes-io-live/internal/domain"
)

func TestOnlineIffAtLeastOneConnection(t *testing.T) {
	r := NewRegistry()
	if !r.Add("u1", "c1", domain.StatusOnline, "") {
		t.Fatal("first connection not reported as first")
	}
	if r.Add("u1", "c2", domain.StatusOnline, "") {
		t.Fatal("second connection reported as first")
	}
	if r.Remove("u1", "c1") {
		t.Fatal("removing one of two connections reported as last")
	}
	if !r.IsOnline("u1") {
		t.Fatal("user offline with one connection left")
	}
	if !r.Remove("u1", "c2") {
		t.Fatal("last connection not reported as last")
	}
	if r.IsOnline("u1") || r.Get("u1").Status != domain.StatusOffline {
		t.Fatal("user online with no connections")
	}
	if r.Remove("u1", "c2") {
		t.Fatal("double remove reported as last")
	}
}

func TestStatusKeptAcrossConnections(t *testing.T) {
	r := NewRegistry()
	r.Add("u1", "c1", domain.StatusBusy, "exam week")
	r.Add("u1", "c2", domain.StatusOnline, "")
	p := r.Get("u1")
	if p.Status != domain.StatusBusy || p.CustomStatus != "exam week" || p.Connections != 2 {
		t.Errorf("presence = %+v", p)
	}

	if !r.SetStatus("u1", domain.StatusAway, "brb") {
		t.Fatal("SetStatus on online user failed")
	}
	if p := r.Get("u1"); p.Status != domain.StatusAway || p.CustomStatus != "brb" {
		t.Errorf("presence after update = %+v", p)
	}
	if r.SetStatus("nobody", domain.StatusAway, "") {
		t.Error("SetStatus on offline user succeeded")
	}
}

func TestInvalidInitialStatusFallsBackToOnline(t *testing.T) {
	r := NewRegistry()
	r.Add("u1", "c1", domain.Status("sleeping"), "")
	if got := r.Get("u1").Status; got != domain.StatusOnline {
		t.Errorf("status = %s", got)
	}
}

func TestConcurrentAddRemove(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts, lasts := 0, 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("c%d", i)
			first := r.Add("u1", conn, domain.StatusOnline, "")
			last := r.Remove("u1", conn)
			mu.Lock()
			if first {
				firsts++
			}
			if last {
				lasts++
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	if firsts != lasts {
		t.Errorf("online transitions %d != offline transitions %d", firsts, lasts)
	}
	if r.IsOnline("u1") || r.OnlineCount() != 0 {
		t.Error("user still online after all connections left")
	}
}
