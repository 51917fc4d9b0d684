package protocol

import (
	"errors"
	"testing"
)

func TestDecodeClassification(t *testing.T) {
	cases := []struct {
		raw  string
		kind Kind
	}{
		{"hello everyone", KindChat},
		{"DIRECT:B1:hi", KindDirect},
		{"REQUEST:A1:Alice", KindRequest},
		{"ACCEPT:B1:Bob", KindAccept},
		{"CHAT:DIRECT:not really", KindChat},
		{"DIRECTX:m1:A1:0:B1:hi", KindDirect},
		{"REQUESTX:m1:B1:key:A1:Alice", KindRequest},
		{"ACCEPTX::A1::B1:Bob", KindAccept},
		{"CHATX:m1:hi", KindChat},
		{"direct:lowercase is chat", KindChat},
		{"DIRECTLY speaking", KindChat},
	}
	for _, tc := range cases {
		p, err := Decode([]byte(tc.raw))
		if err != nil {
			t.Fatalf("Decode(%q) failed: %v", tc.raw, err)
		}
		if p.Kind() != tc.kind {
			t.Errorf("Decode(%q) kind = %v, want %v", tc.raw, p.Kind(), tc.kind)
		}
	}
}

func TestLegacyForms(t *testing.T) {
	p, err := Decode([]byte("REQUEST:A1:Alice"))
	if err != nil {
		t.Fatal(err)
	}
	req := p.(Request)
	if req.PersistentID != "A1" || req.Name != "Alice" || req.Target != "" {
		t.Errorf("Unexpected request %+v", req)
	}

	p, err = Decode([]byte("DIRECT:B1:hi"))
	if err != nil {
		t.Fatal(err)
	}
	d := p.(Direct)
	if d.Target != "B1" || d.Content != "hi" || d.Sender != "" || d.Sealed {
		t.Errorf("Unexpected direct %+v", d)
	}
}

func TestLegacyRemainderKeepsDelimiters(t *testing.T) {
	p, err := Decode([]byte("DIRECT:B1:meet at 10:30"))
	if err != nil {
		t.Fatal(err)
	}
	if d := p.(Direct); d.Target != "B1" || d.Content != "meet at 10:30" || d.Sender != "" {
		t.Errorf("Unexpected direct %+v", d)
	}

	p, err = Decode([]byte("DIRECT:B1:a:b:c"))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if d := p.(Direct); d.Content != "a:b:c" {
		t.Errorf("Content = %q, want %q", d.Content, "a:b:c")
	}

	p, err = Decode([]byte("REQUEST:A1:Dr: Who"))
	if err != nil {
		t.Fatal(err)
	}
	if req := p.(Request); req.PersistentID != "A1" || req.Name != "Dr: Who" || req.Target != "" {
		t.Errorf("Unexpected request %+v", req)
	}

	p, err = Decode([]byte("ACCEPT:B1:Bob: the builder"))
	if err != nil {
		t.Fatal(err)
	}
	if acc := p.(Accept); acc.Name != "Bob: the builder" {
		t.Errorf("Unexpected accept %+v", acc)
	}
}

func TestPlainFormsStayPlain(t *testing.T) {
	if got := string(Encode(Direct{Target: "B1", Content: "10:30 ok"})); got != "DIRECT:B1:10:30 ok" {
		t.Errorf("Encode direct = %q", got)
	}
	if got := string(Encode(Request{PersistentID: "A1", Name: "Dr: Who"})); got != "REQUEST:A1:Dr: Who" {
		t.Errorf("Encode request = %q", got)
	}
	if got := string(Encode(Accept{PersistentID: "B1", Name: "Bob"})); got != "ACCEPT:B1:Bob" {
		t.Errorf("Encode accept = %q", got)
	}
}

func TestExtendedForms(t *testing.T) {
	cases := []Payload{
		Direct{Target: "B:1", Content: "time is 10:30, 50% done", Sender: "A:1"},
		Direct{ID: "m1", Target: "B1", Content: "c2VhbGVk", Sender: "A1", Sealed: true},
		Request{PersistentID: "A1", Name: "Dr: Who", Target: "B1", PubKey: "abcd"},
		Request{ID: "m2", PersistentID: "A1", Name: "Alice"},
		Accept{PersistentID: "B1", Name: "Bob: 2", Target: "A1"},
		Chat{ID: "m3", Text: "REQUEST:not a request"},
	}
	for _, in := range cases {
		p, err := Decode(Encode(in))
		if err != nil {
			t.Fatalf("Decode(Encode(%+v)) failed: %v", in, err)
		}
		if p != in {
			t.Errorf("Got %+v, want %+v", p, in)
		}
	}
}

func TestWithID(t *testing.T) {
	p := WithID(Chat{Text: "hi"}, "m1")
	if p.MessageID() != "m1" {
		t.Errorf("MessageID = %q", p.MessageID())
	}
	if string(Encode(p)) != "CHATX:m1:hi" {
		t.Errorf("Encode = %q", Encode(p))
	}
	if (Chat{Text: "hi"}).MessageID() != "" {
		t.Error("Expected no id on a plain chat")
	}
}

func TestChatWithReservedPrefix(t *testing.T) {
	text := "ACCEPT:this is just text"
	raw := Encode(Chat{Text: text})
	if string(raw) == text {
		t.Fatal("Expected reserved prefix chat to be tagged")
	}
	p, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if c, ok := p.(Chat); !ok || c.Text != text {
		t.Errorf("Got %#v, want chat %q", p, text)
	}

	if string(Encode(Chat{Text: "plain"})) != "plain" {
		t.Error("Expected plain chat to stay untagged")
	}
}

func TestMalformed(t *testing.T) {
	for _, raw := range []string{
		"DIRECT:",
		"DIRECT:nocontent",
		"DIRECT::content",
		"DIRECTX:m:A1:maybe:B1:hi",
		"DIRECTX:m:A1:1:B1",
		"REQUEST:onlyid",
		"ACCEPT::name",
		"REQUESTX:m:B1:key:A1",
		"ACCEPTX:m:B1:key::Bob",
		string([]byte{0xff, 0xfe}),
	} {
		if _, err := Decode([]byte(raw)); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%q) error = %v, want ErrMalformed", raw, err)
		}
	}
}
