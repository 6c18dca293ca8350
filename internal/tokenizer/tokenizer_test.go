package tokenizer

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWordTokenizerCompositional(t *testing.T) {
	t.Parallel()

	tok := TrainWordTokenizer([]string{"In a hole in the ground"})
	whole, err := tok.Encode("In a hole in the ground")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	prompt, _ := tok.Encode("In a hole in")
	completion, _ := tok.Encode(" the ground")
	joined := append(append([]int(nil), prompt...), completion...)
	if diff := cmp.Diff(whole, joined); diff != "" {
		t.Fatalf("prompt+completion tokens differ (-whole +joined):\n%s", diff)
	}

	text, err := tok.Decode(whole)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if text != "In a hole in the ground" {
		t.Fatalf("decode = %q", text)
	}
}

func TestWordTokenizerUnknownAndSpaces(t *testing.T) {
	t.Parallel()

	tok := NewWordTokenizer([]string{"a", " b"})
	ids, _ := tok.Encode("a  b zzz")
	// "a", " ", " b", " zzz"
	want := []int{2, 1, 3, 1}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	if tok.VocabSize() != 4 {
		t.Fatalf("vocab size = %d, want 4", tok.VocabSize())
	}
}

func TestEncodeBatchPadding(t *testing.T) {
	t.Parallel()

	tok := NewWordTokenizer([]string{"a", " b", " c"})
	tests := []struct {
		name     string
		side     PaddingSide
		wantIDs  [][]int
		wantMask [][]int
	}{
		{
			name:     "right",
			side:     PadRight,
			wantIDs:  [][]int{{2, 3, 4}, {2, 0, 0}},
			wantMask: [][]int{{1, 1, 1}, {1, 0, 0}},
		},
		{
			name:     "left",
			side:     PadLeft,
			wantIDs:  [][]int{{2, 3, 4}, {0, 0, 2}},
			wantMask: [][]int{{1, 1, 1}, {0, 0, 1}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := NewWordTokenizer([]string{"a", " b", " c"})
			local.SetPaddingSide(tt.side)
			b, err := EncodeBatch(local, []string{"a b c", "a"})
			if err != nil {
				t.Fatalf("EncodeBatch: %v", err)
			}
			if diff := cmp.Diff(tt.wantIDs, b.InputIDs); diff != "" {
				t.Fatalf("ids mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantMask, b.AttentionMask); diff != "" {
				t.Fatalf("mask mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]int{3, 1}, b.Lengths()); diff != "" {
				t.Fatalf("lengths mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := EncodeBatch(tok, []string{"a", ""}); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}

func TestBatchRepeatAndTile(t *testing.T) {
	t.Parallel()

	b := &Batch{
		InputIDs:      [][]int{{1, 2}, {3, 0}},
		AttentionMask: [][]int{{1, 1}, {1, 0}},
	}
	rep, err := b.Repeat([]int{2, 1})
	if err != nil {
		t.Fatalf("Repeat: %v", err)
	}
	if diff := cmp.Diff([][]int{{1, 2}, {1, 2}, {3, 0}}, rep.InputIDs); diff != "" {
		t.Fatalf("repeat mismatch (-want +got):\n%s", diff)
	}
	if _, err := b.Repeat([]int{1}); err == nil {
		t.Fatalf("expected error for mismatched counts")
	}

	tiled := b.Tile(2)
	if diff := cmp.Diff([]int{2, 1, 2, 1}, tiled.Lengths()); diff != "" {
		t.Fatalf("tile lengths mismatch (-want +got):\n%s", diff)
	}
}

func TestBPEEncodeDecode(t *testing.T) {
	t.Parallel()

	tok, err := NewBPE([]string{"a", "b", "ab", "Ġ", "Ġab"}, []string{"a b", "Ġ ab"}, -1)
	if err != nil {
		t.Fatalf("NewBPE: %v", err)
	}
	ids, err := tok.Encode("ab ab")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if diff := cmp.Diff([]int{2, 4}, ids); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	text, err := tok.Decode(ids)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if text != "ab ab" {
		t.Fatalf("decode = %q", text)
	}
	if _, err := tok.Encode("c"); err == nil {
		t.Fatalf("expected unknown token error")
	}
}

func TestParseBPE(t *testing.T) {
	t.Parallel()

	data := []byte(`{
		"model":{
			"type":"BPE",
			"vocab":{"<unk>":0,"a":1,"b":2,"ab":3},
			"merges":[["a","b"]],
			"unk_token":"<unk>"
		},
		"padding":{"direction":"Left","pad_id":0}
	}`)
	tok, err := ParseBPE(data)
	if err != nil {
		t.Fatalf("ParseBPE: %v", err)
	}
	ids, _ := tok.Encode("abc")
	if diff := cmp.Diff([]int{3, 0}, ids); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	if tok.PaddingSide() != PadLeft {
		t.Fatalf("padding side = %v, want left", tok.PaddingSide())
	}

	if _, err := ParseBPE([]byte(`{"model":{"type":"WordPiece","vocab":{}}}`)); err == nil {
		t.Fatalf("expected unsupported tokenizer model error")
	}
}
