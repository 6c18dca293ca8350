package remote

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/samcharles93/cappr/internal/errdefs"
	"github.com/samcharles93/cappr/internal/logger"
	"github.com/samcharles93/cappr/internal/tokenizer"
)

// Estimate is the token count and price of one scoring call.
type Estimate struct {
	PromptTokens     int
	CompletionTokens int
	Cost             float64
}

// Total returns the number of billed tokens.
func (e Estimate) Total() int { return e.PromptTokens + e.CompletionTokens }

// Message is the confirmation question shown before the call.
func (e Estimate) Message() string {
	return fmt.Sprintf("This API call will cost about $%s (≤%s tokens). Proceed? (y/n): ", formatCost(e.Cost), groupDigits(e.Total()))
}

// EstimateCost prices sending texts and generating maxTokens tokens for each.
func EstimateCost(tok tokenizer.Tokenizer, texts []string, maxTokens int, pricePer1kPrompt, pricePer1kCompletion float64) (Estimate, error) {
	var e Estimate
	for i, text := range texts {
		n, err := tokenizer.Count(tok, text)
		if err != nil {
			return Estimate{}, fmt.Errorf("tokenize text %d: %w", i, err)
		}
		e.PromptTokens += n
	}
	e.CompletionTokens = len(texts) * maxTokens
	e.Cost = (float64(e.PromptTokens)*pricePer1kPrompt + float64(e.CompletionTokens)*pricePer1kCompletion) / 1000
	return e, nil
}

// formatCost rounds to cents and drops trailing zeros, keeping one decimal.
func formatCost(c float64) string {
	s := strconv.FormatFloat(math.Round(c*100)/100, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// groupDigits writes n with underscores between thousands.
func groupDigits(n int) string {
	s := strconv.Itoa(n)
	if n < 0 {
		return "-" + groupDigits(-n)
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Gate asks the user to confirm a paid call.
type Gate struct {
	In  io.Reader
	Out io.Writer

	mu     sync.Mutex
	reader *bufio.Reader
}

// Confirm writes the estimate's question and reads one line. Any answer but
// "y" returns ErrUserCanceled, as does a non-interactive terminal.
func (g *Gate) Confirm(ctx context.Context, e Estimate) error {
	msg := e.Message()
	logger.FromContext(ctx).Info("confirming remote call", "tokens", e.Total(), "cost", e.Cost)
	if f, ok := g.In.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
		return fmt.Errorf("%w: stdin is not a terminal, cannot ask %q", errdefs.ErrUserCanceled, strings.TrimSpace(msg))
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := io.WriteString(g.Out, msg); err != nil {
		return err
	}
	if g.reader == nil {
		g.reader = bufio.NewReader(g.In)
	}
	line, err := g.reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("read confirmation: %w", err)
	}
	if strings.TrimSpace(line) != "y" {
		return errdefs.ErrUserCanceled
	}
	return nil
}
