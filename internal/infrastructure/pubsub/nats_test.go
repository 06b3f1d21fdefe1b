package pubsub

import "testing"

func TestSubjectRoundTrip(t *testing.T) {
	t.Parallel()

	subject := subjectFor("support.conversation", "6f1c2d1e-0000-4000-8000-000000000001")
	if subject != "support.conversation.6f1c2d1e-0000-4000-8000-000000000001" {
		t.Fatalf("subjectFor() = %q", subject)
	}
	if got := topicFromSubject("support.conversation", subject); got != "6f1c2d1e-0000-4000-8000-000000000001" {
		t.Fatalf("topicFromSubject() = %q", got)
	}
	if got := topicFromSubject("support.conversation", "other.subject.x"); got != "" {
		t.Fatalf("foreign subject mapped to topic %q", got)
	}
}

func TestEnvelopeID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{name: "envelope", payload: `{"id":"m-1:MessageStatusChanged:read","type":"MessageStatusChanged"}`, want: "m-1:MessageStatusChanged:read"},
		{name: "no id", payload: `{"type":"x"}`, want: ""},
		{name: "not json", payload: `nope`, want: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := envelopeID([]byte(tt.payload)); got != tt.want {
				t.Errorf("envelopeID() = %q, want %q", got, tt.want)
			}
		})
	}
}
