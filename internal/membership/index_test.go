package membership

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/weiawesome/wes-io-live/internal/domain"
)

func TestJoinIsIdempotent(t *testing.T) {
	x := NewIndex()
	if err := x.Open("c1", "u1"); err != nil {
		t.Fatal(err)
	}
	g := domain.GroupRoom("g1")

	added, err := x.Join("c1", g)
	if err != nil || !added {
		t.Fatalf("first join: added=%v err=%v", added, err)
	}
	added, err = x.Join("c1", g)
	if err != nil || added {
		t.Fatalf("second join: added=%v err=%v", added, err)
	}
	if n := x.Size(g); n != 1 {
		t.Errorf("size = %d, want 1", n)
	}
}

func TestJoinUnknownConnection(t *testing.T) {
	x := NewIndex()
	if _, err := x.Join("nope", domain.GroupRoom("g1")); err != ErrConnectionClosed {
		t.Errorf("err = %v, want ErrConnectionClosed", err)
	}
}

func TestJoinAfterCloseRejected(t *testing.T) {
	x := NewIndex()
	x.Open("c1", "u1")
	x.Join("c1", domain.GroupRoom("g1"))
	x.Join("c1", domain.ResourceRoom("t1"))

	rooms := x.Close("c1")
	if len(rooms) != 2 {
		t.Fatalf("closed rooms = %v", rooms)
	}
	if _, err := x.Join("c1", domain.GroupRoom("g2")); err != ErrConnectionClosed {
		t.Errorf("join after close err = %v", err)
	}
	if x.Size(domain.GroupRoom("g1")) != 0 || x.RoomCount() != 0 {
		t.Errorf("rooms not cleaned: count=%d", x.RoomCount())
	}
}

func TestLeave(t *testing.T) {
	x := NewIndex()
	x.Open("c1", "u1")
	x.Open("c2", "u2")
	tr := domain.ResourceRoom("t1")
	x.Join("c1", tr)
	x.Join("c2", tr)

	if !x.Leave("c1", tr) {
		t.Fatal("leave reported not a member")
	}
	if x.Leave("c1", tr) {
		t.Error("second leave reported a member")
	}
	if got := x.Members(tr); len(got) != 1 || got[0] != "c2" {
		t.Errorf("members = %v", got)
	}
	if x.Contains(tr, "c1") {
		t.Error("c1 still contained")
	}
}

func TestJoinViaRequiresSourceRoom(t *testing.T) {
	x := NewIndex()
	x.Open("c1", "u1")
	g, tr := domain.GroupRoom("g1"), domain.ResourceRoom("t1")

	if added, err := x.JoinVia("c1", g, tr); err != nil || added {
		t.Fatalf("join via absent room: added=%v err=%v", added, err)
	}
	x.Join("c1", g)
	if added, err := x.JoinVia("c1", g, tr); err != nil || !added {
		t.Fatalf("join via member room: added=%v err=%v", added, err)
	}
	x.Leave("c1", g)
	x.Leave("c1", tr)
	if added, _ := x.JoinVia("c1", g, tr); added || x.Contains(tr, "c1") {
		t.Error("joined after leaving the source room")
	}
	x.Close("c1")
	if _, err := x.JoinVia("c1", g, tr); err != ErrConnectionClosed {
		t.Errorf("err = %v, want ErrConnectionClosed", err)
	}
}

func TestJoinViaRacingLeaveNeverStrands(t *testing.T) {
	g, tr := domain.GroupRoom("g1"), domain.ResourceRoom("t1")
	for i := 0; i < 200; i++ {
		x := NewIndex()
		x.Open("c1", "u1")
		x.Join("c1", g)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			x.JoinVia("c1", g, tr)
		}()
		go func() {
			defer wg.Done()
			// Revocation: leave the group, then its todo rooms.
			x.Leave("c1", g)
			x.Leave("c1", tr)
		}()
		wg.Wait()

		// A successful JoinVia precedes the group leave, so the todo
		// leave that follows always removes it.
		if x.Contains(tr, "c1") {
			t.Fatalf("iteration %d: stranded in todo room", i)
		}
	}
}

func TestRoomKindsDoNotCollide(t *testing.T) {
	x := NewIndex()
	x.Open("c1", "u1")
	x.Join("c1", domain.GroupRoom("7"))
	if x.Contains(domain.ResourceRoom("7"), "c1") {
		t.Error("group room 7 leaked into todo room 7")
	}
}

// TestConcurrentOperationsKeepIndexConsistent drives random joins, leaves and
// closes from many goroutines and then checks both directions of the index
// agree.
func TestConcurrentOperationsKeepIndexConsistent(t *testing.T) {
	x := NewIndex()
	const conns = 32
	keys := []domain.RoomKey{
		domain.GroupRoom("g1"), domain.GroupRoom("g2"),
		domain.ResourceRoom("t1"), domain.ResourceRoom("t2"),
		domain.InvitationRoom("u1"),
	}
	for i := 0; i < conns; i++ {
		x.Open(fmt.Sprintf("c%d", i), fmt.Sprintf("u%d", i%4))
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for i := 0; i < 2000; i++ {
				id := fmt.Sprintf("c%d", rnd.Intn(conns))
				key := keys[rnd.Intn(len(keys))]
				switch op := rnd.Intn(20); {
				case op == 0:
					x.Close(id)
				case op < 8:
					x.Leave(id, key)
				default:
					x.Join(id, key)
				}
			}
		}(int64(w))
	}
	wg.Wait()

	nonEmpty := 0
	for _, key := range keys {
		members := x.Members(key)
		if len(members) > 0 {
			nonEmpty++
		}
		for _, id := range members {
			if !x.Contains(key, id) {
				t.Errorf("%s lists %s but the connection does not", key, id)
			}
		}
	}
	for i := 0; i < conns; i++ {
		id := fmt.Sprintf("c%d", i)
		for _, key := range x.RoomsOf(id) {
			if !contains(x.Members(key), id) {
				t.Errorf("%s lists %s but the room does not", id, key)
			}
		}
	}
	if x.RoomCount() != nonEmpty {
		t.Errorf("room count = %d, want %d", x.RoomCount(), nonEmpty)
	}
}

func contains(ids []string, id string) bool {
	sort.Strings(ids)
	i := sort.SearchStrings(ids, id)
	return i < len(ids) && ids[i] == id
}
