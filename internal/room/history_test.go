package room

import "testing"

func msg(uuid int64, status int, prompt, response, upstreamID string) Message {
	return Message{
		UUID:     uuid,
		Prompt:   prompt,
		Response: response,
		Status:   status,
		DateTime: uuid * 1000,
		Opt:      Options{MessageID: upstreamID},
	}
}

func TestClientView_SoftDeleteStates(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		entries int
	}{
		{"both shown", StatusNormal, 2},
		{"prompt hidden", StatusInversionDeleted, 1},
		{"response hidden", StatusResponseDeleted, 1},
		{"neither shown", StatusInversionDeleted | StatusResponseDeleted, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			view := ClientView([]Message{msg(1, tc.status, "q", "a", "99")})
			if len(view) != tc.entries {
				t.Fatalf("expected %d entries, got %d", tc.entries, len(view))
			}
		})
	}
}

func TestClientView_PromptPrecedesResponse(t *testing.T) {
	view := ClientView([]Message{
		msg(1, StatusNormal, "q1", "a1", "m1"),
		msg(2, StatusNormal, "q2", "a2", "m2"),
	})
	if len(view) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(view))
	}
	if !view[0].Inversion || view[1].Inversion {
		t.Fatalf("prompt half must precede response half")
	}
	if view[0].Text != "q1" || view[1].Text != "a1" || view[2].Text != "q2" || view[3].Text != "a2" {
		t.Fatalf("entries out of order: %+v", view)
	}
	if view[1].Options == nil || view[1].Options.MessageID != "m1" {
		t.Fatalf("response entry missing upstream linkage")
	}
	if view[0].Options != nil {
		t.Fatalf("prompt entry must not carry linkage")
	}
}

func TestLatestLinkage_SkipsDeletedAndUncommitted(t *testing.T) {
	msgs := []Message{
		msg(1, StatusNormal, "q1", "a1", "m1"),
		msg(2, StatusResponseDeleted, "q2", "a2", "m2"),
		msg(3, StatusNormal, "q3", "", ""), // stream never committed
	}
	link := LatestLinkage(msgs)
	if link == nil || link.MessageID != "m1" {
		t.Fatalf("expected linkage to m1, got %+v", link)
	}

	if LatestLinkage(nil) != nil {
		t.Fatalf("fresh thread must have no linkage")
	}
}
