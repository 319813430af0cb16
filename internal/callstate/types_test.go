package callstate

import "testing"

func TestCohort(t *testing.T) {
	if !Sales.IsValid() || !Customers.IsValid() {
		t.Error("expected both cohorts to be valid")
	}
	if Cohort("admins").IsValid() {
		t.Error("expected an unknown cohort to be invalid")
	}
	if Sales.Opposite() != Customers {
		t.Errorf("Sales.Opposite() = %q, want %q", Sales.Opposite(), Customers)
	}
	if Customers.Opposite() != Sales {
		t.Errorf("Customers.Opposite() = %q, want %q", Customers.Opposite(), Sales)
	}
}

func TestCallSalesUser(t *testing.T) {
	tests := []struct {
		name     string
		call     Call
		want     string
		wantBool bool
	}{
		{
			name:     "caller is sales",
			call:     Call{Caller: "alice", Callee: "bob", CallerGroup: Sales, CalleeGroup: Customers},
			want:     "alice",
			wantBool: true,
		},
		{
			name:     "callee is sales",
			call:     Call{Caller: "bob", Callee: "alice", CallerGroup: Customers, CalleeGroup: Sales},
			want:     "alice",
			wantBool: true,
		},
		{
			name:     "no sales participant",
			call:     Call{Caller: "bob", Callee: "carol", CallerGroup: Customers, CalleeGroup: Customers},
			want:     "",
			wantBool: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.call.SalesUser()
			if got != tt.want || ok != tt.wantBool {
				t.Errorf("SalesUser() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantBool)
			}
		})
	}
}

func TestCallPeer(t *testing.T) {
	c := Call{Caller: "alice", Callee: "bob"}
	if peer, ok := c.Peer("alice"); !ok || peer != "bob" {
		t.Errorf("Peer(alice) = (%q, %v), want (bob, true)", peer, ok)
	}
	if peer, ok := c.Peer("bob"); !ok || peer != "alice" {
		t.Errorf("Peer(bob) = (%q, %v), want (alice, true)", peer, ok)
	}
	if _, ok := c.Peer("carol"); ok {
		t.Error("Peer(carol) should not resolve for a non-participant")
	}
}
