package job

import "testing"

func TestNormalizeLinkStripsQueryAndFragment(t *testing.T) {
	got := NormalizeLink("https://News.Example.com/a/b?utm=1#frag")
	want := "https://news.example.com/a/b"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	j := New("shorts-news", "title", "summary", "https://x/y")
	s, err := j.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := Unmarshal(s)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != j.ID || got.Link != j.Link {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, j)
	}
}

func TestUnmarshalToleratesUnknownFields(t *testing.T) {
	raw := `{"id":"x","channelId":"c","link":"l","stage":"QUEUED","futureField":"ignored"}`
	got, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "x" {
		t.Fatalf("unexpected job: %+v", got)
	}
}
