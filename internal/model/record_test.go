package model

import "testing"

func rec(id string, st AttemptState) *DeliveryRecord {
	return &DeliveryRecord{BroadcastID: "b1", RecipientID: id, Channel: ChannelPush, State: st}
}

func TestComputeStatsFold(t *testing.T) {
	t.Parallel()
	records := []*DeliveryRecord{
		rec("r1", StateQueued),
		rec("r2", StateSent),
		rec("r3", StateDelivered),
		rec("r4", StateRead),
		rec("r5", StateAcknowledged),
		rec("r6", StateFailed),
	}
	st := ComputeStats(records)

	if st.Total != 6 {
		t.Fatalf("Total = %d, want 6", st.Total)
	}
	// Everyone past queued counts as sent, failed included.
	if st.Sent != 5 {
		t.Fatalf("Sent = %d, want 5", st.Sent)
	}
	if st.Delivered != 3 {
		t.Fatalf("Delivered = %d, want 3", st.Delivered)
	}
	if st.Read != 2 {
		t.Fatalf("Read = %d, want 2", st.Read)
	}
	if st.Acknowledged != 1 {
		t.Fatalf("Acknowledged = %d, want 1", st.Acknowledged)
	}
	if st.Failed != 1 {
		t.Fatalf("Failed = %d, want 1", st.Failed)
	}
	if st.Pending != 1 {
		t.Fatalf("Pending = %d, want 1", st.Pending)
	}
}

func TestComputeStatsIdentityHolds(t *testing.T) {
	t.Parallel()
	// One recipient per state combination; the identity must hold at every
	// observation point, not only at completion.
	states := []AttemptState{StateQueued, StateSent, StateDelivered, StateRead, StateAcknowledged, StateFailed}
	var records []*DeliveryRecord
	for i, a := range states {
		for j, b := range states {
			records = append(records,
				rec(string(rune('a'+i)), a),
				rec(string(rune('A'+j)), b))
			st := ComputeStats(records)
			if st.Sent != st.Delivered+st.Pending+st.Failed {
				t.Fatalf("identity broken: sent=%d delivered=%d pending=%d failed=%d",
					st.Sent, st.Delivered, st.Pending, st.Failed)
			}
			if st.Acknowledged > st.Delivered {
				t.Fatalf("acknowledged %d > delivered %d", st.Acknowledged, st.Delivered)
			}
		}
	}
}

func TestAttemptStateOrdering(t *testing.T) {
	t.Parallel()
	order := []AttemptState{StateQueued, StateSent, StateDelivered, StateRead, StateAcknowledged}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Fatalf("%s should rank above %s", order[i], order[i-1])
		}
	}
	if StateFailed.Rank() != -1 {
		t.Fatalf("failed rank = %d, want -1", StateFailed.Rank())
	}
	if StateQueued.Terminal() {
		t.Fatal("queued must not be terminal")
	}
	for _, s := range []AttemptState{StateSent, StateDelivered, StateRead, StateAcknowledged, StateFailed} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal for dispatch accounting", s)
		}
	}
}

func TestAllTerminal(t *testing.T) {
	t.Parallel()
	if !AllTerminal([]*DeliveryRecord{rec("a", StateSent), rec("b", StateFailed)}) {
		t.Fatal("sent+failed should be all-terminal")
	}
	if AllTerminal([]*DeliveryRecord{rec("a", StateSent), rec("b", StateQueued)}) {
		t.Fatal("queued record should block completion")
	}
}
