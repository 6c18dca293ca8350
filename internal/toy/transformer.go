// Package toy provides small, deterministic language models that satisfy the
// inference interfaces. They back the CLI demo backends and the equivalence
// tests between scoring paths.
package toy

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/samcharles93/cappr/internal/errdefs"
	"github.com/samcharles93/cappr/internal/inference"
	"github.com/samcharles93/cappr/internal/tensor"
)

const normEps = 1e-5

// Config describes a Transformer.
type Config struct {
	Vocab        int
	Hidden       int
	Heads        int
	Layers       int
	FFN          int
	MaxPositions int
	Dropout      float32
	Seed         int64
}

func (c Config) withDefaults() Config {
	if c.Hidden == 0 {
		c.Hidden = 16
	}
	if c.Heads == 0 {
		c.Heads = 2
	}
	if c.Layers == 0 {
		c.Layers = 2
	}
	if c.FFN == 0 {
		c.FFN = 4 * c.Hidden
	}
	if c.MaxPositions == 0 {
		c.MaxPositions = 128
	}
	return c
}

type block struct {
	attnNorm []float32
	ffnNorm  []float32
	wq       tensor.Mat // [Hidden x Hidden]
	wk       tensor.Mat
	wv       tensor.Mat
	wo       tensor.Mat
	w1       tensor.Mat // [Hidden x FFN]
	w2       tensor.Mat // [FFN x Hidden]
}

// Transformer is a tiny decoder-only transformer with learned absolute
// position embeddings, pre-norm blocks and multi-head causal attention. It
// returns per-layer keys and values when UseCache is set.
type Transformer struct {
	cfg      Config
	tokEmb   tensor.Mat // [Vocab x Hidden]
	posEmb   tensor.Mat // [MaxPositions x Hidden]
	blocks   []block
	norm     []float32
	out      tensor.Mat // [Hidden x Vocab]
	settings inference.Settings
	rng      *rand.Rand
}

// NewTransformer builds a model with weights drawn from cfg.Seed.
func NewTransformer(cfg Config) (*Transformer, error) {
	cfg = cfg.withDefaults()
	if cfg.Vocab <= 0 {
		return nil, fmt.Errorf("toy transformer: vocab must be positive, got %d", cfg.Vocab)
	}
	if cfg.Hidden%cfg.Heads != 0 {
		return nil, fmt.Errorf("toy transformer: hidden %d not divisible by %d heads", cfg.Hidden, cfg.Heads)
	}
	if cfg.Dropout < 0 || cfg.Dropout >= 1 {
		return nil, fmt.Errorf("toy transformer: dropout %v outside [0, 1)", cfg.Dropout)
	}

	seed := cfg.Seed
	next := func(r, c int, scale float32) tensor.Mat {
		m := tensor.NewMat(r, c)
		seed++
		tensor.FillRand(&m, seed, scale)
		return m
	}
	ones := func(n int) []float32 {
		v := make([]float32, n)
		for i := range v {
			v[i] = 1
		}
		return v
	}

	proj := float32(1 / math.Sqrt(float64(cfg.Hidden)))
	m := &Transformer{
		cfg:    cfg,
		tokEmb: next(cfg.Vocab, cfg.Hidden, 1),
		posEmb: next(cfg.MaxPositions, cfg.Hidden, 0.5),
		norm:   ones(cfg.Hidden),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
	for range cfg.Layers {
		m.blocks = append(m.blocks, block{
			attnNorm: ones(cfg.Hidden),
			ffnNorm:  ones(cfg.Hidden),
			wq:       next(cfg.Hidden, cfg.Hidden, 2*proj),
			wk:       next(cfg.Hidden, cfg.Hidden, 2*proj),
			wv:       next(cfg.Hidden, cfg.Hidden, proj),
			wo:       next(cfg.Hidden, cfg.Hidden, proj),
			w1:       next(cfg.Hidden, cfg.FFN, proj),
			w2:       next(cfg.FFN, cfg.Hidden, float32(1/math.Sqrt(float64(cfg.FFN)))),
		})
	}
	m.out = next(cfg.Hidden, cfg.Vocab, 2*proj)
	return m, nil
}

func (m *Transformer) VocabSize() int { return m.cfg.Vocab }

func (m *Transformer) Settings() inference.Settings { return m.settings }

func (m *Transformer) SetSettings(s inference.Settings) error {
	m.settings = s
	return nil
}

// Forward runs one batched step. Query j of row i attends to every key at or
// before index past+j whose mask entry is 1.
func (m *Transformer) Forward(ctx context.Context, step *inference.Step) (*inference.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	batch, width, err := m.check(step)
	if err != nil {
		return nil, err
	}
	pastLen := step.Past.Len()
	hidden := m.cfg.Hidden

	x := tensor.NewScores(batch, width, hidden)
	for i := range batch {
		for j := range width {
			pos := pastLen + j
			if step.PositionIDs != nil {
				pos = step.PositionIDs[i][j]
			}
			row := x.At(i, j)
			copy(row, m.tokEmb.Row(step.InputIDs[i][j]))
			tensor.Add(row, m.posEmb.Row(pos))
		}
	}

	var state *inference.State
	if m.settings.UseCache {
		state = &inference.State{Layers: make([]inference.LayerState, len(m.blocks))}
	}

	h := make([]float32, hidden)
	attn := make([]float32, hidden)
	o := make([]float32, hidden)
	ff := make([]float32, m.cfg.FFN)
	weights := make([]float32, pastLen+width)
	for li := range m.blocks {
		b := &m.blocks[li]
		q := tensor.NewScores(batch, width, hidden)
		k := tensor.NewScores(batch, width, hidden)
		v := tensor.NewScores(batch, width, hidden)
		for i := range batch {
			for j := range width {
				tensor.RMSNorm(h, x.At(i, j), b.attnNorm, normEps)
				tensor.VecMat(q.At(i, j), h, &b.wq)
				tensor.VecMat(k.At(i, j), h, &b.wk)
				tensor.VecMat(v.At(i, j), h, &b.wv)
			}
		}
		keys, values := k, v
		if step.Past != nil {
			past := step.Past.Layers[li]
			if keys, err = tensor.ConcatPositions(past.Keys, k); err != nil {
				return nil, fmt.Errorf("layer %d keys: %w", li, err)
			}
			if values, err = tensor.ConcatPositions(past.Values, v); err != nil {
				return nil, fmt.Errorf("layer %d values: %w", li, err)
			}
		}
		if state != nil {
			state.Layers[li] = inference.LayerState{Keys: keys, Values: values}
		}

		for i := range batch {
			for j := range width {
				m.attend(attn, q.At(i, j), keys, values, i, pastLen+j, step.AttentionMask[i], weights)
				tensor.VecMat(o, attn, &b.wo)
				m.dropout(o)
				tensor.Add(x.At(i, j), o)

				tensor.RMSNorm(h, x.At(i, j), b.ffnNorm, normEps)
				tensor.VecMat(ff, h, &b.w1)
				tensor.Relu(ff)
				tensor.VecMat(o, ff, &b.w2)
				m.dropout(o)
				tensor.Add(x.At(i, j), o)
			}
		}
	}

	start, positions := 0, width
	if !m.settings.LogitsAll {
		start, positions = width-1, 1
	}
	logits := tensor.NewScores(batch, positions, m.cfg.Vocab)
	for i := range batch {
		for j := start; j < width; j++ {
			tensor.RMSNorm(h, x.At(i, j), m.norm, normEps)
			tensor.VecMat(logits.At(i, j-start), h, &m.out)
		}
	}
	return &inference.Output{Logits: logits, Past: state}, nil
}

func (m *Transformer) check(step *inference.Step) (batch, width int, err error) {
	batch = len(step.InputIDs)
	if batch == 0 {
		return 0, 0, errdefs.InvalidInput("toy transformer: empty batch")
	}
	width = len(step.InputIDs[0])
	if width == 0 {
		return 0, 0, errdefs.InvalidInput("toy transformer: empty sequences")
	}
	pastLen := step.Past.Len()
	if step.Past != nil {
		if len(step.Past.Layers) != len(m.blocks) {
			return 0, 0, errdefs.InvalidInput("toy transformer: past has %d layers, model has %d", len(step.Past.Layers), len(m.blocks))
		}
		if step.Past.Batch() != batch {
			return 0, 0, errdefs.InvalidInput("toy transformer: past batch %d, input batch %d", step.Past.Batch(), batch)
		}
	}
	if len(step.AttentionMask) != batch {
		return 0, 0, errdefs.InvalidInput("toy transformer: %d mask rows for %d inputs", len(step.AttentionMask), batch)
	}
	if step.PositionIDs != nil && len(step.PositionIDs) != batch {
		return 0, 0, errdefs.InvalidInput("toy transformer: %d position rows for %d inputs", len(step.PositionIDs), batch)
	}
	for i, row := range step.InputIDs {
		if len(row) != width {
			return 0, 0, errdefs.InvalidInput("toy transformer: row %d has %d tokens, want %d", i, len(row), width)
		}
		if len(step.AttentionMask[i]) != pastLen+width {
			return 0, 0, errdefs.InvalidInput("toy transformer: mask row %d has %d entries, want %d", i, len(step.AttentionMask[i]), pastLen+width)
		}
		for j, id := range row {
			if id < 0 || id >= m.cfg.Vocab {
				return 0, 0, errdefs.InvalidInput("toy transformer: token id %d out of range", id)
			}
			pos := pastLen + j
			if step.PositionIDs != nil {
				if len(step.PositionIDs[i]) != width {
					return 0, 0, errdefs.InvalidInput("toy transformer: position row %d has %d entries, want %d", i, len(step.PositionIDs[i]), width)
				}
				pos = step.PositionIDs[i][j]
			}
			if pos < 0 || pos >= m.cfg.MaxPositions {
				return 0, 0, errdefs.InvalidInput("toy transformer: position %d outside [0, %d)", pos, m.cfg.MaxPositions)
			}
		}
	}
	return batch, width, nil
}

func (m *Transformer) attend(dst, q []float32, keys, values *tensor.Scores, row, qpos int, mask []int, w []float32) {
	clear(dst)
	dh := m.cfg.Hidden / m.cfg.Heads
	scale := float32(1 / math.Sqrt(float64(dh)))
	for head := range m.cfg.Heads {
		lo, hi := head*dh, (head+1)*dh
		maxv := float32(math.Inf(-1))
		seen := false
		for kp := 0; kp <= qpos; kp++ {
			if mask[kp] == 0 {
				continue
			}
			s := tensor.Dot(q[lo:hi], keys.At(row, kp)[lo:hi]) * scale
			w[kp] = s
			if !seen || s > maxv {
				maxv = s
			}
			seen = true
		}
		if !seen {
			continue
		}
		var sum float64
		for kp := 0; kp <= qpos; kp++ {
			if mask[kp] == 0 {
				continue
			}
			e := math.Exp(float64(w[kp] - maxv))
			w[kp] = float32(e)
			sum += e
		}
		inv := float32(1 / sum)
		for kp := 0; kp <= qpos; kp++ {
			if mask[kp] == 0 {
				continue
			}
			p := w[kp] * inv
			val := values.At(row, kp)[lo:hi]
			for d, vv := range val {
				dst[lo+d] += p * vv
			}
		}
	}
}

func (m *Transformer) dropout(x []float32) {
	if !m.settings.Training || m.cfg.Dropout == 0 {
		return
	}
	keep := 1 - m.cfg.Dropout
	for i := range x {
		if m.rng.Float32() < m.cfg.Dropout {
			x[i] = 0
		} else {
			x[i] /= keep
		}
	}
}
