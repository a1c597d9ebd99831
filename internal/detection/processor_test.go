package detection

import (
	"fmt"
	"image/color"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func types(preds []Prediction) []string {
	out := make([]string, len(preds))
	for i, p := range preds {
		out[i] = p.Type
	}
	return out
}

func TestFilterForDisplayScenario(t *testing.T) {
	p := NewProcessor(DefaultMinConfidence)
	in := []Prediction{
		{Type: "head", Confidence: 0.95},
		{Type: "hardhat", Confidence: 0.9},
		{Type: "person", Confidence: 0.99},
	}
	got := types(p.FilterForDisplay(in))
	if diff := cmp.Diff([]string{"hardhat", "person"}, got); diff != "" {
		t.Fatalf("filtered types mismatch (-want +got):\n%s", diff)
	}
}

func TestFilterDropsBareHeadsAtAnyConfidence(t *testing.T) {
	p := NewProcessor(DefaultMinConfidence)
	for _, typ := range []string{"head", "Head", "bare_head", "HEAD-NO-GEAR"} {
		for _, conf := range []float64{0, 0.5, 0.8, 1} {
			got := p.FilterForDisplay([]Prediction{{Type: typ, Confidence: conf}})
			if len(got) != 0 {
				t.Fatalf("type %q conf %.2f was kept", typ, conf)
			}
		}
	}
}

func TestFilterHeadgearThreshold(t *testing.T) {
	p := NewProcessor(DefaultMinConfidence)
	tests := []struct {
		typ  string
		conf float64
		keep bool
	}{
		{"hardhat", 0.79, false},
		{"hardhat", 0.8, true},
		{"Hard_Hat", 0.95, true},
		{"helmet", 0.5, false},
		{"helmet-head", 0.9, true},
		{"NO-Hardhat", 0.3, false},
		{"vest", 0.1, true},
		{"person", 0.2, true},
		{"gloves", 0.05, true},
	}
	for _, tt := range tests {
		got := p.FilterForDisplay([]Prediction{{Type: tt.typ, Confidence: tt.conf}})
		if (len(got) == 1) != tt.keep {
			t.Fatalf("type %q conf %.2f kept=%v, want %v", tt.typ, tt.conf, len(got) == 1, tt.keep)
		}
	}
}

func TestFilterExtraPredicate(t *testing.T) {
	noPeople := func(p Prediction) bool { return NormalizeType(p.Type) != "person" }
	p := NewProcessor(0.8, noPeople)
	got := types(p.FilterForDisplay([]Prediction{
		{Type: "person", Confidence: 0.9},
		{Type: "vest", Confidence: 0.9},
	}))
	if diff := cmp.Diff([]string{"vest"}, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDefaults(t *testing.T) {
	p := NewProcessor(0)
	event, err := p.Parse([]byte(`{"eventType":"DETECTION","timestamp":"2024-01-01T00:00:00Z"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if event.Predictions == nil || len(event.Predictions) != 0 {
		t.Fatalf("predictions = %#v, want empty", event.Predictions)
	}
	if event.FrameWidth != 640 || event.FrameHeight != 480 {
		t.Fatalf("frame = %dx%d, want 640x480", event.FrameWidth, event.FrameHeight)
	}
}

func TestParseSanitizesPredictions(t *testing.T) {
	p := NewProcessor(0.8)
	raw := `{"eventType":"DETECTION","frameWidth":1280,"frameHeight":720,"predictions":[
		{"type":"vest","confidence":1.4,"boundingBox":{"x":1,"y":2,"width":-5,"height":10}}]}`
	event, err := p.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := Prediction{Type: "vest", Confidence: 1, BoundingBox: BoundingBox{X: 1, Y: 2, Width: 0, Height: 10}}
	if diff := cmp.Diff([]Prediction{want}, event.Predictions); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if event.FrameWidth != 1280 || event.FrameHeight != 720 || event.Count != 1 {
		t.Fatalf("unexpected event header %+v", event)
	}
}

func TestParseOversizedFrameFallsBack(t *testing.T) {
	tests := []struct {
		name  string
		proc  *Processor
		w, h  int
		wantW int
		wantH int
	}{
		{"huge", NewProcessor(0.8), 2000000000, 2000000000, 640, 480},
		{"wide", NewProcessor(0.8), MaxFrameWidth + 1, 720, 640, 480},
		{"at limit", NewProcessor(0.8), MaxFrameWidth, MaxFrameHeight, MaxFrameWidth, MaxFrameHeight},
		{"custom limit", NewProcessor(0.8).WithMaxFrameSize(1920, 1080), 3840, 2160, 640, 480},
		{"within custom", NewProcessor(0.8).WithMaxFrameSize(1920, 1080), 1920, 1080, 1920, 1080},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := fmt.Sprintf(`{"eventType":"DETECTION","frameWidth":%d,"frameHeight":%d,"predictions":[]}`, tt.w, tt.h)
			event, err := tt.proc.Parse([]byte(raw))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if event.FrameWidth != tt.wantW || event.FrameHeight != tt.wantH {
				t.Fatalf("frame = %dx%d, want %dx%d", event.FrameWidth, event.FrameHeight, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestWithMaxFrameSizeCopies(t *testing.T) {
	p := NewProcessor(0.8)
	q := p.WithMaxFrameSize(100, 100)
	if w, h := p.MaxFrameSize(); w != MaxFrameWidth || h != MaxFrameHeight {
		t.Fatalf("original limit changed to %dx%d", w, h)
	}
	if w, h := q.MaxFrameSize(); w != 100 || h != 100 {
		t.Fatalf("copy limit = %dx%d", w, h)
	}
	if q.MinConfidence() != 0.8 {
		t.Fatalf("copy lost threshold: %v", q.MinConfidence())
	}
}

func TestParseMalformed(t *testing.T) {
	p := NewProcessor(0.8)
	if _, err := p.Parse([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestParseViolation(t *testing.T) {
	p := NewProcessor(0.8)
	v, err := p.ParseViolation([]byte(`{"eventType":"PPE_VIOLATION","timestamp":"t",
		"entity":{"personId":"p-1","missing":["hardhat"],"location":"bay 3"},"confidence":0.91}`))
	if err != nil {
		t.Fatalf("ParseViolation: %v", err)
	}
	want := ViolationEvent{
		EventType:  "PPE_VIOLATION",
		Timestamp:  "t",
		Entity:     ViolationEntity{PersonID: "p-1", Missing: []string{"hardhat"}, Location: "bay 3"},
		Confidence: 0.91,
	}
	if diff := cmp.Diff(want, v); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestClassify(t *testing.T) {
	tests := map[string]MessageKind{
		"DETECTION":     KindDetection,
		"ppe_detection": KindDetection,
		"PPE_VIOLATION": KindViolation,
		"":              KindUnknown,
		"HEARTBEAT":     KindUnknown,
	}
	for in, want := range tests {
		if got := Classify(in); got != want {
			t.Fatalf("Classify(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestExtractStatus(t *testing.T) {
	p := NewProcessor(0.8)
	seen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	snap := p.ExtractStatus([]Prediction{
		{Type: "Hard-Hat", Confidence: 0.85},
		{Type: "hardhat", Confidence: 0.9},
		{Type: "gloves", Confidence: 0.4},
		{Type: "person", Confidence: 0.3},
		{Type: "safety_vest", Confidence: 0.95},
		{Type: "no_helmet", Confidence: 0.99},
	}, seen)

	if len(snap) != len(Parts) {
		t.Fatalf("snapshot has %d parts, want %d", len(snap), len(Parts))
	}
	if s := snap[PartHardhat]; !s.Present || s.Confidence != 0.9 || s.LastSeen == nil || !s.LastSeen.Equal(seen) {
		t.Fatalf("hardhat status = %+v", s)
	}
	if snap[PartGloves].Present {
		t.Fatal("gloves below threshold marked present")
	}
	if !snap[PartPerson].Present {
		t.Fatal("person below threshold should still be present")
	}
	if !snap[PartSafetyVest].Present || !snap[PartVest].Present {
		t.Fatal("safety_vest should mark both vest and safety_vest")
	}
	if snap[PartHelmet].Present {
		t.Fatal("violation type marked helmet present")
	}
	if snap[PartHead].LastSeen != nil {
		t.Fatal("absent part has lastSeen")
	}
	if diff := cmp.Diff([]Part{PartHelmet, PartHead, PartGloves, PartHand}, snap.Missing()); diff != "" {
		t.Fatalf("missing mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractStatusIsSnapshot(t *testing.T) {
	p := NewProcessor(0.8)
	now := time.Unix(0, 0)
	p.ExtractStatus([]Prediction{{Type: "vest", Confidence: 0.9}}, now)
	snap := p.ExtractStatus(nil, now)
	for part, s := range snap {
		if s.Present {
			t.Fatalf("part %s carried over from previous batch", part)
		}
	}
}

func TestExtractStatusDeterministic(t *testing.T) {
	p := NewProcessor(0.8)
	now := time.Unix(100, 0)
	batch := []Prediction{{Type: "vest", Confidence: 0.9}, {Type: "person", Confidence: 0.1}}
	if diff := cmp.Diff(p.ExtractStatus(batch, now), p.ExtractStatus(batch, now)); diff != "" {
		t.Fatalf("non-deterministic snapshot:\n%s", diff)
	}
}

func TestAnnotate(t *testing.T) {
	red := color.RGBA{R: 255, A: 255}
	got := Annotate([]Prediction{{Type: "NO_Vest"}, {Type: "vest"}}, func(string) color.RGBA { return red })
	if !got[0].Violation || got[1].Violation {
		t.Fatalf("violation flags = %v, %v", got[0].Violation, got[1].Violation)
	}
	if got[0].Color != red {
		t.Fatalf("color = %v", got[0].Color)
	}
}
