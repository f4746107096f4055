package envelope

import "testing"

func TestBroadcastRoundTripsThroughJSON(t *testing.T) {
	e := Broadcast(TypeDKGMessage, "session-1", 1, 1, []byte{0xde, 0xad, 0xbe, 0xef})
	raw, err := e.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.RecipientIndex != nil {
		t.Errorf("expected a nil recipient on a broadcast envelope, got %v", *got.RecipientIndex)
	}
	if string(got.Data) != string(e.Data) {
		t.Errorf("Data = %x, want %x", got.Data, e.Data)
	}
}

func TestTargetedRoundTripsThroughJSON(t *testing.T) {
	e := Targeted(TypeDKGMessage, "session-1", 1, 2, 2, []byte{0x01, 0x02})
	raw, err := e.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.RecipientIndex == nil || *got.RecipientIndex != 2 {
		t.Fatalf("expected recipient 2, got %v", got.RecipientIndex)
	}
}

func TestUnmarshalRejectsUnknownType(t *testing.T) {
	raw := []byte(`{"type":"not_a_real_type","session_id":"s","sender_index":1,"seq":1,"data":""}`)
	if _, err := Unmarshal(raw); err == nil {
		t.Fatal("expected an error for an unrecognized envelope type")
	}
}

func TestUnmarshalRejectsInvalidHex(t *testing.T) {
	raw := []byte(`{"type":"dkg_message","session_id":"s","sender_index":1,"seq":1,"data":"not-hex"}`)
	if _, err := Unmarshal(raw); err == nil {
		t.Fatal("expected an error for non-hex data")
	}
}

func TestDataFieldIsHexEncodedOnWire(t *testing.T) {
	e := Broadcast(TypeSigningMessage, "session-1", 1, 1, []byte{0xab, 0xcd})
	raw, err := e.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !containsString(string(raw), `"data":"abcd"`) {
		t.Errorf("expected hex-encoded data field in %s", raw)
	}
}

func containsString(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
